package server

import (
	"encoding/json"
	"net/http"

	"github.com/yksanjo/agent-identity-hub/internal/attestation"
	"github.com/yksanjo/agent-identity-hub/internal/storage"
)

func (s *Server) handleCreateAttestation(w http.ResponseWriter, r *http.Request) {
	caller := callerDID(w, r)
	if caller == "" {
		return
	}
	var req attestation.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	att, err := s.atts.Create(caller, &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

func (s *Server) handleListAttestations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	atts, err := s.atts.List(q.Get("subject"), q.Get("issuer"),
		storage.AttestationType(q.Get("type")), intQuery(q.Get("limit"), 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attestations": atts})
}

func (s *Server) handleVerifyAttestation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.atts.Verify(r.PathValue("id")))
}

func (s *Server) handleRevokeAttestation(w http.ResponseWriter, r *http.Request) {
	caller := callerDID(w, r)
	if caller == "" {
		return
	}
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	if err := s.atts.Revoke(r.PathValue("id"), caller, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleAttestationChain(w http.ResponseWriter, r *http.Request) {
	chain, err := s.atts.BuildChain(r.PathValue("did"),
		storage.AttestationType(r.URL.Query().Get("type")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (s *Server) handleAttestationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.atts.GetStats(r.PathValue("did"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
