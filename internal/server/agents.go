package server

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/yksanjo/agent-identity-hub/internal/identity"
	"github.com/yksanjo/agent-identity-hub/internal/storage"
)

var validAgentTypes = map[storage.AgentType]bool{
	storage.AgentOrchestrator: true,
	storage.AgentWorker:       true,
	storage.AgentValidator:    true,
	storage.AgentGateway:      true,
	storage.AgentSpecialist:   true,
	storage.AgentUserProxy:    true,
}

var validAgentStatuses = map[storage.AgentStatus]bool{
	storage.AgentActive:    true,
	storage.AgentInactive:  true,
	storage.AgentSuspended: true,
	storage.AgentRevoked:   true,
	storage.AgentPending:   true,
}

// handleCreateAgent creates an agent and its DID atomically. When no public
// key is supplied a keypair is generated and the private key is returned
// once, never stored.
func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string                     `json:"name"`
		Type      storage.AgentType          `json:"type"`
		Method    string                     `json:"method,omitempty"`
		PublicKey string                     `json:"public_key,omitempty"`
		Metadata  map[string]any             `json:"metadata,omitempty"`
		Services  []identity.ServiceEndpoint `json:"services,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if !validAgentTypes[req.Type] {
		writeError(w, http.StatusBadRequest, "invalid agent type")
		return
	}
	if req.Method == "" {
		req.Method = "agent"
	}

	var pub ed25519.PublicKey
	if req.PublicKey != "" {
		raw, err := hex.DecodeString(req.PublicKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			writeError(w, http.StatusBadRequest, "public_key must be valid ed25519 public key hex (64 hex chars)")
			return
		}
		pub = ed25519.PublicKey(raw)
	}

	created, err := s.dids.CreateDID(req.Method, pub, req.Services)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	doc, err := identity.EncodeDocument(created.Document)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	now := time.Now().Unix()
	agent := &storage.Agent{
		ID:           uuid.New().String(),
		DID:          created.DID,
		Name:         req.Name,
		Type:         req.Type,
		PublicKey:    created.PublicKey,
		TrustScore:   0.5,
		Status:       storage.AgentActive,
		Metadata:     req.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActiveAt: now,
	}
	ident := &storage.Identity{
		DID:       created.DID,
		AgentID:   agent.ID,
		Document:  doc,
		CreatedAt: now,
		UpdatedAt: now,
	}
	act := &storage.Activity{
		ID:          uuid.New().String(),
		AgentID:     agent.ID,
		Type:        storage.ActivityAgentCreated,
		Description: "agent registered",
		Timestamp:   now,
	}

	if err := s.db.CreateAgentWithIdentity(agent, ident, act); err != nil {
		writeDomainError(w, err)
		return
	}
	s.dids.Register(created.Document)

	resp := map[string]any{
		"agent":        agent,
		"did_document": created.Document,
	}
	if created.PrivateKey != nil {
		resp["private_key"] = hex.EncodeToString(created.PrivateKey)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.db.GetAgent(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intQuery(q.Get("limit"), 50)
	offset := intQuery(q.Get("offset"), 0)
	agents, err := s.db.ListAgents(
		storage.AgentStatus(q.Get("status")),
		storage.AgentType(q.Get("type")),
		limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// handleUpdateAgent updates name, metadata, and reputation. Status changes
// go through the dedicated admin endpoint.
func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.db.GetAgent(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req struct {
		Name       *string        `json:"name,omitempty"`
		Reputation *int64         `json:"reputation,omitempty"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.Reputation != nil {
		agent.Reputation = *req.Reputation
	}
	if req.Metadata != nil {
		agent.Metadata = req.Metadata
	}
	agent.UpdatedAt = time.Now().Unix()

	if err := s.db.UpdateAgent(agent); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// handleSetAgentStatus applies an administrative status transition.
func (s *Server) handleSetAgentStatus(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuth(w, r) {
		return
	}
	agent, err := s.db.GetAgent(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req struct {
		Status storage.AgentStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if !validAgentStatuses[req.Status] {
		writeError(w, http.StatusBadRequest, "invalid agent status")
		return
	}
	agent.Status = req.Status
	agent.UpdatedAt = time.Now().Unix()
	if err := s.db.UpdateAgent(agent); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuth(w, r) {
		return
	}
	id := r.PathValue("id")
	agent, err := s.db.GetAgent(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.db.DeleteAgent(id); err != nil {
		writeDomainError(w, err)
		return
	}
	s.dids.Evict(agent.DID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Relationships ---

var validRelationshipTypes = map[storage.RelationshipType]bool{
	storage.RelDelegatesTo:      true,
	storage.RelVerifies:         true,
	storage.RelCommunicatesWith: true,
	storage.RelSupervises:       true,
	storage.RelDependsOn:        true,
	storage.RelReplaces:         true,
}

func (s *Server) handleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceAgentID string                   `json:"source_agent_id"`
		TargetAgentID string                   `json:"target_agent_id"`
		Type          storage.RelationshipType `json:"type"`
		TrustLevel    *float64                 `json:"trust_level,omitempty"`
		Permissions   []string                 `json:"permissions,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.SourceAgentID == req.TargetAgentID {
		writeError(w, http.StatusBadRequest, "self-relationship is not allowed")
		return
	}
	if !validRelationshipTypes[req.Type] {
		writeError(w, http.StatusBadRequest, "invalid relationship type")
		return
	}
	if _, err := s.db.GetAgent(req.SourceAgentID); err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := s.db.GetAgent(req.TargetAgentID); err != nil {
		writeDomainError(w, err)
		return
	}

	trustLevel := 0.5
	if req.TrustLevel != nil {
		if *req.TrustLevel < 0 || *req.TrustLevel > 1 {
			writeError(w, http.StatusBadRequest, "trust_level must be in [0,1]")
			return
		}
		trustLevel = *req.TrustLevel
	}

	now := time.Now().Unix()
	rel := &storage.Relationship{
		ID:                uuid.New().String(),
		SourceAgentID:     req.SourceAgentID,
		TargetAgentID:     req.TargetAgentID,
		Type:              req.Type,
		TrustLevel:        trustLevel,
		Permissions:       req.Permissions,
		EstablishedAt:     now,
		LastInteractionAt: now,
	}
	if err := s.db.CreateRelationship(rel); err != nil {
		writeError(w, http.StatusConflict, "create relationship: "+err.Error())
		return
	}

	act := &storage.Activity{
		ID:              uuid.New().String(),
		AgentID:         req.SourceAgentID,
		Type:            storage.ActivityRelationshipEstablished,
		Description:     string(req.Type) + " relationship established",
		Timestamp:       now,
		RelatedAgentIDs: []string{req.TargetAgentID},
	}
	if err := s.db.AppendActivity(act); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

func (s *Server) handleGetRelationship(w http.ResponseWriter, r *http.Request) {
	rel, err := s.db.GetRelationship(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (s *Server) handleListRelationships(w http.ResponseWriter, r *http.Request) {
	rels, err := s.db.ListRelationshipsForAgent(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"relationships": rels})
}

// --- Activity log ---

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r.URL.Query().Get("limit"), 50)
	acts, err := s.db.ListRecentActivities(r.PathValue("id"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": acts})
}

func (s *Server) handleAppendActivity(w http.ResponseWriter, r *http.Request) {
	agent, err := s.db.GetAgent(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req struct {
		Type            storage.ActivityType `json:"type"`
		Description     string               `json:"description"`
		Metadata        map[string]any       `json:"metadata,omitempty"`
		RelatedAgentIDs []string             `json:"related_agent_ids,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type required")
		return
	}

	now := time.Now().Unix()
	act := &storage.Activity{
		ID:              uuid.New().String(),
		AgentID:         agent.ID,
		Type:            req.Type,
		Description:     req.Description,
		Timestamp:       now,
		Metadata:        req.Metadata,
		RelatedAgentIDs: req.RelatedAgentIDs,
	}
	if err := s.db.AppendActivity(act); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.db.TouchAgent(agent.ID, now); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, act)
}

// intQuery parses a positive integer query parameter with a fallback.
func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
