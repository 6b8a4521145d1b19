package server

import (
	"encoding/json"
	"net/http"

	"github.com/yksanjo/agent-identity-hub/internal/storage"
)

func (s *Server) handleCalculateTrust(w http.ResponseWriter, r *http.Request) {
	record, err := s.engine.Calculate(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleTrustHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.History(r.PathValue("id"), intQuery(r.URL.Query().Get("limit"), 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []*storage.TrustScoreRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

func (s *Server) handleDetectAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies, err := s.detector.Detect(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if anomalies == nil {
		anomalies = []*storage.Anomaly{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": anomalies})
}

func (s *Server) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	unresolved := r.URL.Query().Get("unresolved") == "true"
	anomalies, err := s.detector.Anomalies(r.PathValue("id"), unresolved)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if anomalies == nil {
		anomalies = []*storage.Anomaly{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": anomalies})
}

func (s *Server) handleResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuth(w, r) {
		return
	}
	var req struct {
		Resolution string `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Resolution == "" {
		writeError(w, http.StatusBadRequest, "resolution required")
		return
	}
	if err := s.detector.Resolve(r.PathValue("id"), req.Resolution); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
