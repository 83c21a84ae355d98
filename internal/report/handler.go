package report

import (
	"errors"
	"log"
	"net/http"
	"time"

	"fleetwatch/internal/presence"
)

// Handler serves fleet presence report downloads.
type Handler struct {
	tracker *presence.Tracker
	logger  *log.Logger
}

// NewHandler constructs a report handler.
func NewHandler(tracker *presence.Tracker, logger *log.Logger) (*Handler, error) {
	if tracker == nil {
		return nil, errors.New("report: nil tracker")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{tracker: tracker, logger: logger}, nil
}

// ServeHTTP renders the snapshot as ?format=xlsx (default) or pdf.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	views := h.tracker.Snapshot()
	now := time.Now().UTC()

	switch r.URL.Query().Get("format") {
	case "pdf":
		payload, err := BuildFleetStatusPDF(views, now)
		if err != nil {
			h.logger.Printf("report: pdf build error: %v", err)
			http.Error(w, "report error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="fleet-status.pdf"`)
		_, _ = w.Write(payload)
	case "", "xlsx":
		payload, err := BuildFleetStatusXLSX(views, now)
		if err != nil {
			h.logger.Printf("report: xlsx build error: %v", err)
			http.Error(w, "report error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="fleet-status.xlsx"`)
		_, _ = w.Write(payload)
	default:
		http.Error(w, "unknown format", http.StatusBadRequest)
	}
}
