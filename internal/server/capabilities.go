package server

import (
	"encoding/json"
	"net/http"

	"github.com/yksanjo/agent-identity-hub/internal/capability"
)

func (s *Server) handleIssueCapability(w http.ResponseWriter, r *http.Request) {
	caller := callerDID(w, r)
	if caller == "" {
		return
	}
	var req capability.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	res, err := s.caps.Issue(caller, &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleVerifyCapability is the hot path; it is rate-limited per client
// host and never writes.
func (s *Server) handleVerifyCapability(w http.ResponseWriter, r *http.Request) {
	if !s.verifyLimit.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	var req capability.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Token == "" || req.Action == "" || req.Resource == "" {
		writeError(w, http.StatusBadRequest, "token, action and resource are required")
		return
	}
	writeJSON(w, http.StatusOK, s.caps.Verify(&req))
}

func (s *Server) handleListCapabilities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	caps, err := s.caps.List(q.Get("subject"), q.Get("issuer"), intQuery(q.Get("limit"), 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"capabilities": caps})
}

func (s *Server) handleRevokeCapability(w http.ResponseWriter, r *http.Request) {
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
	if err := s.caps.Revoke(r.PathValue("id"), caller, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleDelegateCapability(w http.ResponseWriter, r *http.Request) {
	caller := callerDID(w, r)
	if caller == "" {
		return
	}
	var req capability.DelegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Delegatee == "" {
		writeError(w, http.StatusBadRequest, "delegatee required")
		return
	}
	del, err := s.caps.Delegate(r.PathValue("id"), caller, &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, del)
}

func (s *Server) handleListDelegations(w http.ResponseWriter, r *http.Request) {
	dels, err := s.caps.Delegations(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delegations": dels})
}
