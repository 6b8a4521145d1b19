package server

import (
	"encoding/json"
	"net/http"

	"github.com/yksanjo/agent-identity-hub/internal/identity"
)

func (s *Server) handleListDIDs(w http.ResponseWriter, r *http.Request) {
	dids, err := s.dids.ListLocal()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dids": dids})
}

// handleResolveDID always returns 200 with a resolution envelope; resolution
// failures are reported inside the metadata, matching DID resolution
// conventions rather than HTTP error semantics.
func (s *Server) handleResolveDID(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dids.ResolveDID(r.Context(), r.PathValue("did")))
}

func (s *Server) handleAddVerificationMethod(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuth(w, r) {
		return
	}
	var vm identity.VerificationMethod
	if err := json.NewDecoder(r.Body).Decode(&vm); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	doc, err := s.dids.AddVerificationMethod(r.PathValue("did"), vm)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleAddServiceEndpoint(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuth(w, r) {
		return
	}
	var ep identity.ServiceEndpoint
	if err := json.NewDecoder(r.Body).Decode(&ep); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	doc, err := s.dids.AddServiceEndpoint(r.PathValue("did"), ep)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleVerifyOwnership(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message   string `json:"message"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Message == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "message and signature are required")
		return
	}
	ok, err := s.dids.VerifyOwnership(r.Context(), r.PathValue("did"), []byte(req.Message), req.Signature)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": ok})
}

func (s *Server) handleDeactivateDID(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuth(w, r) {
		return
	}
	if err := s.dids.DeactivateDID(r.PathValue("did")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
