package visibility

import (
	"strings"
	"sync"
)

// ClientRule holds one logical client's exact allow-list and wildcard
// patterns. A single trailing '*' in a pattern means "starts with".
type ClientRule struct {
	Assets   []string `yaml:"assets"`
	Patterns []string `yaml:"patterns"`
}

// Filter is the single source of truth for which asset ids a logical
// client may see. It is shared by fan-out filtering and any external
// listing collaborator.
type Filter struct {
	mu      sync.RWMutex
	clients map[string]compiledRule
}

type compiledRule struct {
	exact    map[string]struct{}
	prefixes []string
	literals []string
}

// NewFilter compiles per-client rules into a filter.
func NewFilter(rules map[string]ClientRule) *Filter {
	f := &Filter{clients: make(map[string]compiledRule, len(rules))}
	for clientID, rule := range rules {
		f.clients[clientID] = compileRule(rule)
	}
	return f
}

// Replace swaps in a new rule set, for config reloads.
func (f *Filter) Replace(rules map[string]ClientRule) {
	compiled := make(map[string]compiledRule, len(rules))
	for clientID, rule := range rules {
		compiled[clientID] = compileRule(rule)
	}
	f.mu.Lock()
	f.clients = compiled
	f.mu.Unlock()
}

// Visible reports whether the client may see the asset. Exact allow-list
// entries win; otherwise wildcard prefix patterns are consulted. Unknown
// clients see nothing.
func (f *Filter) Visible(clientID, assetID string) bool {
	if clientID == "" || assetID == "" {
		return false
	}

	f.mu.RLock()
	rule, ok := f.clients[clientID]
	f.mu.RUnlock()
	if !ok {
		return false
	}

	if _, ok := rule.exact[assetID]; ok {
		return true
	}
	for _, prefix := range rule.prefixes {
		if strings.HasPrefix(assetID, prefix) {
			return true
		}
	}
	for _, literal := range rule.literals {
		if assetID == literal {
			return true
		}
	}
	return false
}

// PredicateFor binds the filter to one client for hub subscription.
func (f *Filter) PredicateFor(clientID string) func(assetID string) bool {
	return func(assetID string) bool {
		return f.Visible(clientID, assetID)
	}
}

func compileRule(rule ClientRule) compiledRule {
	compiled := compiledRule{exact: make(map[string]struct{}, len(rule.Assets))}
	for _, asset := range rule.Assets {
		if asset != "" {
			compiled.exact[asset] = struct{}{}
		}
	}
	for _, pattern := range rule.Patterns {
		if pattern == "" {
			continue
		}
		if strings.HasSuffix(pattern, "*") {
			compiled.prefixes = append(compiled.prefixes, strings.TrimSuffix(pattern, "*"))
			continue
		}
		// A pattern without a wildcard degrades to a literal match.
		compiled.literals = append(compiled.literals, pattern)
	}
	return compiled
}
