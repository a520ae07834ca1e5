package server

import (
	"encoding/json"
	"net/http"

	"github.com/claude/liftlog/internal/vitals"
)

// handleHAEVitals accepts a Health Auto Export push and feeds its heart rate
// and active energy readings into the session summary.
func (s *Server) handleHAEVitals(w http.ResponseWriter, r *http.Request) {
	var payload vitals.HAEPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	samples, result, err := vitals.SamplesFromHAE(payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	for _, smp := range samples {
		if !s.deps.Vitals.Add(smp) {
			result.Accepted--
			result.Skipped++
		}
	}
	s.log.Info("vitals ingested", "received", result.Received, "accepted", result.Accepted)
	writeJSON(w, http.StatusOK, result)
}

// handleVitalsSamples accepts a JSON array of raw samples.
func (s *Server) handleVitalsSamples(w http.ResponseWriter, r *http.Request) {
	var samples []vitals.Sample
	if err := json.NewDecoder(r.Body).Decode(&samples); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	accepted := 0
	for _, smp := range samples {
		if s.deps.Vitals.Add(smp) {
			accepted++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"received": len(samples), "accepted": accepted})
}

func (s *Server) handleVitalsSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Vitals.Summary())
}
