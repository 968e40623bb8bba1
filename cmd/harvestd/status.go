package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"docharvest/lib/docstore"
	"docharvest/services/pipeline"
)

type rateLimitStatus struct {
	Credential string    `json:"credential"`
	Endpoint   string    `json:"endpoint"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
}

type status struct {
	Sources    []string          `json:"sources"`
	RateLimits []rateLimitStatus `json:"rate_limits"`
}

func statusHandler(service *pipeline.Service, store docstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := store.ListRateLimits(r.Context())
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to list rate limits", "err", err)
			http.Error(w, "failed to list rate limits", http.StatusInternalServerError)
			return
		}

		out := status{
			Sources:    service.Sources(),
			RateLimits: make([]rateLimitStatus, len(records)),
		}
		for i, r := range records {
			out.RateLimits[i] = rateLimitStatus{
				Credential: r.CredentialID,
				Endpoint:   r.Endpoint,
				Remaining:  r.Remaining,
				ResetAt:    r.ResetAt,
			}
		}

		w.Header().Set("content-type", "application/json")
		err = json.NewEncoder(w).Encode(out)
		if err != nil {
			slog.WarnContext(r.Context(), "failed to write status", "err", err)
		}
	}
}
