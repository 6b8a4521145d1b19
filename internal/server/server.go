// Package server exposes the identity and trust core over HTTP for the
// routing and dashboard layers.
package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/yksanjo/agent-identity-hub/internal/attestation"
	"github.com/yksanjo/agent-identity-hub/internal/capability"
	"github.com/yksanjo/agent-identity-hub/internal/identity"
	"github.com/yksanjo/agent-identity-hub/internal/ratelimit"
	"github.com/yksanjo/agent-identity-hub/internal/storage"
	"github.com/yksanjo/agent-identity-hub/internal/trust"
)

// Server is the main HTTP server for the identity hub API.
type Server struct {
	db       *storage.DB
	secret   string
	dids     *identity.Service
	caps     *capability.Issuer
	atts     *attestation.Service
	engine   *trust.Engine
	detector *trust.Detector
	events   *EventHub

	verifyLimit *ratelimit.Keyed
	mux         *http.ServeMux
}

// New creates a Server with all routes registered. The trust engine and
// anomaly detector are wired into the event feed.
func New(db *storage.DB, secret string, dids *identity.Service, caps *capability.Issuer,
	atts *attestation.Service, engine *trust.Engine, detector *trust.Detector) *Server {
	s := &Server{
		db:          db,
		secret:      secret,
		dids:        dids,
		caps:        caps,
		atts:        atts,
		engine:      engine,
		detector:    detector,
		events:      NewEventHub(),
		verifyLimit: ratelimit.NewKeyed(120, time.Minute),
		mux:         http.NewServeMux(),
	}
	engine.OnScore = func(agentID string, score float64) {
		s.events.Broadcast("trust_score", map[string]any{"agent_id": agentID, "score": score})
	}
	detector.OnAnomaly = func(a *storage.Anomaly) {
		s.events.Broadcast("anomaly", a)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Agents
	s.mux.HandleFunc("POST /api/agents", s.handleCreateAgent)
	s.mux.HandleFunc("GET /api/agents", s.handleListAgents)
	s.mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	s.mux.HandleFunc("PATCH /api/agents/{id}", s.handleUpdateAgent)
	s.mux.HandleFunc("DELETE /api/agents/{id}", s.handleDeleteAgent)
	s.mux.HandleFunc("POST /api/agents/{id}/status", s.handleSetAgentStatus)

	// Relationships and activity
	s.mux.HandleFunc("POST /api/relationships", s.handleCreateRelationship)
	s.mux.HandleFunc("GET /api/relationships/{id}", s.handleGetRelationship)
	s.mux.HandleFunc("GET /api/agents/{id}/relationships", s.handleListRelationships)
	s.mux.HandleFunc("GET /api/agents/{id}/activities", s.handleListActivities)
	s.mux.HandleFunc("POST /api/agents/{id}/activities", s.handleAppendActivity)

	// Capabilities
	s.mux.HandleFunc("POST /api/capabilities", s.handleIssueCapability)
	s.mux.HandleFunc("POST /api/capabilities/verify", s.handleVerifyCapability)
	s.mux.HandleFunc("GET /api/capabilities", s.handleListCapabilities)
	s.mux.HandleFunc("POST /api/capabilities/{id}/revoke", s.handleRevokeCapability)
	s.mux.HandleFunc("POST /api/capabilities/{id}/delegate", s.handleDelegateCapability)
	s.mux.HandleFunc("GET /api/capabilities/{id}/delegations", s.handleListDelegations)

	// Attestations
	s.mux.HandleFunc("POST /api/attestations", s.handleCreateAttestation)
	s.mux.HandleFunc("GET /api/attestations", s.handleListAttestations)
	s.mux.HandleFunc("GET /api/attestations/{id}/verify", s.handleVerifyAttestation)
	s.mux.HandleFunc("POST /api/attestations/{id}/revoke", s.handleRevokeAttestation)
	s.mux.HandleFunc("GET /api/attestation-chains/{did}", s.handleAttestationChain)
	s.mux.HandleFunc("GET /api/attestation-stats/{did}", s.handleAttestationStats)

	// Trust and anomalies
	s.mux.HandleFunc("POST /api/agents/{id}/trust/calculate", s.handleCalculateTrust)
	s.mux.HandleFunc("GET /api/agents/{id}/trust/history", s.handleTrustHistory)
	s.mux.HandleFunc("POST /api/agents/{id}/anomalies/detect", s.handleDetectAnomalies)
	s.mux.HandleFunc("GET /api/agents/{id}/anomalies", s.handleListAnomalies)
	s.mux.HandleFunc("POST /api/anomalies/{id}/resolve", s.handleResolveAnomaly)

	// DIDs
	s.mux.HandleFunc("GET /api/dids", s.handleListDIDs)
	s.mux.HandleFunc("GET /api/dids/{did}", s.handleResolveDID)
	s.mux.HandleFunc("POST /api/dids/{did}/verification-methods", s.handleAddVerificationMethod)
	s.mux.HandleFunc("POST /api/dids/{did}/services", s.handleAddServiceEndpoint)
	s.mux.HandleFunc("POST /api/dids/{did}/verify-ownership", s.handleVerifyOwnership)
	s.mux.HandleFunc("DELETE /api/dids/{did}", s.handleDeactivateDID)

	// Event feed
	s.mux.HandleFunc("GET /api/events", s.events.HandleWebSocket)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "agent-identity-hub",
	})
}

// adminAuth checks the X-Admin-Secret header against the server secret.
// Returns false (writing a 401) if the header is missing or incorrect.
func (s *Server) adminAuth(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("X-Admin-Secret") != s.secret {
		writeError(w, http.StatusUnauthorized, "invalid admin secret")
		return false
	}
	return true
}

// clientIP returns the requesting client's host, honoring X-Forwarded-For
// when a proxy sits in front. The port is stripped so reconnecting clients
// share one rate-limit bucket.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// callerDID extracts the authenticated caller identity set by the upstream
// auth middleware. Returns "" (writing a 401) when absent.
func callerDID(w http.ResponseWriter, r *http.Request) string {
	did := r.Header.Get("X-Caller-DID")
	if did == "" {
		writeError(w, http.StatusUnauthorized, "missing X-Caller-DID header")
	}
	return did
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError translates typed core errors to transport responses.
// Unexpected internal faults are logged with context and surfaced opaquely.
func writeDomainError(w http.ResponseWriter, err error) {
	var de *identity.DIDError
	var ce *capability.CapabilityError
	var ae *attestation.AttestationError

	switch {
	case errors.As(err, &de):
		writeJSON(w, didStatus(de.Code), map[string]string{"error": de.Message, "code": de.Code})
	case errors.As(err, &ce):
		writeJSON(w, codeStatus(ce.Code), map[string]string{"error": ce.Message, "code": ce.Code})
	case errors.As(err, &ae):
		writeJSON(w, codeStatus(ae.Code), map[string]string{"error": ae.Message, "code": ae.Code})
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "not found")
	default:
		log.Printf("[server] internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func codeStatus(code string) int {
	switch code {
	case capability.CodeNotFound:
		return http.StatusNotFound
	case capability.CodeAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func didStatus(code string) int {
	switch code {
	case identity.CodeNotFound:
		return http.StatusNotFound
	case identity.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
