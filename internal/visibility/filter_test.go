package visibility

import "testing"

func testFilter() *Filter {
	return NewFilter(map[string]ClientRule{
		"acme-logistics": {
			Assets:   []string{"KAGU3331339"},
			Patterns: []string{"SZLU*", "TRIU*"},
		},
		"pattern-only": {
			Patterns: []string{"KAGU*", "SZLU*", "TRIU*"},
		},
		"literal-pattern": {
			Patterns: []string{"MSCU7777777"},
		},
	})
}

func TestVisible(t *testing.T) {
	filter := testFilter()

	cases := []struct {
		name     string
		clientID string
		assetID  string
		want     bool
	}{
		{name: "exact allow-list match without matching pattern", clientID: "acme-logistics", assetID: "KAGU3331339", want: true},
		{name: "prefix pattern match", clientID: "acme-logistics", assetID: "SZLU9990001", want: true},
		{name: "no exact and no pattern", clientID: "pattern-only", assetID: "ZZZZ1", want: false},
		{name: "pattern client sees prefixed asset", clientID: "pattern-only", assetID: "KAGU0000001", want: true},
		{name: "literal pattern matches whole id", clientID: "literal-pattern", assetID: "MSCU7777777", want: true},
		{name: "literal pattern is not a prefix", clientID: "literal-pattern", assetID: "MSCU77777779", want: false},
		{name: "unknown client sees nothing", clientID: "stranger", assetID: "KAGU3331339", want: false},
		{name: "empty client", clientID: "", assetID: "KAGU3331339", want: false},
		{name: "empty asset", clientID: "acme-logistics", assetID: "", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := filter.Visible(tc.clientID, tc.assetID); got != tc.want {
				t.Fatalf("Visible(%q, %q) = %v, want %v", tc.clientID, tc.assetID, got, tc.want)
			}
		})
	}
}

func TestPredicateForBindsClient(t *testing.T) {
	filter := testFilter()
	predicate := filter.PredicateFor("acme-logistics")

	if !predicate("KAGU3331339") {
		t.Fatal("expected predicate to admit allow-listed asset")
	}
	if predicate("ZZZZ1") {
		t.Fatal("expected predicate to reject unmatched asset")
	}
}

func TestReplaceSwapsRules(t *testing.T) {
	filter := testFilter()
	filter.Replace(map[string]ClientRule{
		"acme-logistics": {Assets: []string{"NEWU0000001"}},
	})

	if filter.Visible("acme-logistics", "KAGU3331339") {
		t.Fatal("old rule survived Replace")
	}
	if !filter.Visible("acme-logistics", "NEWU0000001") {
		t.Fatal("new rule not applied")
	}
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
clients:
  acme-logistics:
    assets:
      - KAGU3331339
    patterns:
      - SZLU*
`)
	filter, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !filter.Visible("acme-logistics", "KAGU3331339") {
		t.Fatal("expected exact match from parsed config")
	}
	if !filter.Visible("acme-logistics", "SZLU1230000") {
		t.Fatal("expected pattern match from parsed config")
	}
	if filter.Visible("acme-logistics", "ZZZZ1") {
		t.Fatal("unexpected match")
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("clients: [not a map")); err == nil {
		t.Fatal("expected parse error")
	}
}
