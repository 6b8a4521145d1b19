// Package capability implements issuance, verification, revocation, and
// delegation of signed capability tokens.
package capability

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yksanjo/agent-identity-hub/internal/crypto"
	"github.com/yksanjo/agent-identity-hub/internal/storage"
)

const (
	defaultExpiresHours = 24
	maxExpiresHours     = 8760 // one year
)

// knownActions is the advisory action vocabulary. Unknown actions are
// accepted and logged, never rejected: capabilities are extensible.
var knownActions = map[string]bool{
	"read":     true,
	"write":    true,
	"execute":  true,
	"delegate": true,
	"admin":    true,
	"attest":   true,
	"resolve":  true,
}

// Issuer issues, verifies, revokes, and delegates capability tokens. An
// in-memory index of active capabilities sits over the durable store; a
// miss falls through to storage.
type Issuer struct {
	db     *storage.DB
	signer *crypto.Signer

	mu     sync.RWMutex
	active map[string]*storage.Capability
}

// NewIssuer creates a capability issuer backed by the given store and
// token-signing key.
func NewIssuer(db *storage.DB, signer *crypto.Signer) *Issuer {
	return &Issuer{
		db:     db,
		signer: signer,
		active: make(map[string]*storage.Capability),
	}
}

// IssueRequest describes a capability grant to create.
type IssueRequest struct {
	Subject        string              `json:"subject"`
	Actions        []string            `json:"actions"`
	Resources      []string            `json:"resources"`
	Conditions     []storage.Condition `json:"conditions,omitempty"`
	ExpiresInHours int                 `json:"expires_in_hours,omitempty"`
}

// IssueResult is returned to the caller of Issue.
type IssueResult struct {
	Token      string              `json:"token"`
	Capability *storage.Capability `json:"capability"`
	ExpiresIn  int64               `json:"expires_in"` // seconds
}

// Issue creates a signed capability token granting actions over resources
// to the subject DID. Both issuer and subject agents must be active.
func (i *Issuer) Issue(issuerDID string, req *IssueRequest) (*IssueResult, error) {
	issuer, err := i.db.GetAgentByDID(issuerDID)
	if err != nil {
		return nil, capErrorf(CodeNotFound, "issuer %s not found", issuerDID)
	}
	if issuer.Status != storage.AgentActive {
		return nil, capErrorf(CodeAuthorization, "issuer %s is not active", issuerDID)
	}
	subject, err := i.db.GetAgentByDID(req.Subject)
	if err != nil {
		return nil, capErrorf(CodeNotFound, "subject %s not found", req.Subject)
	}
	if subject.Status != storage.AgentActive {
		return nil, capErrorf(CodeAuthorization, "subject %s is not active", req.Subject)
	}
	if len(req.Actions) == 0 {
		return nil, capErrorf(CodeValidation, "at least one action is required")
	}
	if len(req.Resources) == 0 {
		return nil, capErrorf(CodeValidation, "at least one resource is required")
	}
	for _, a := range req.Actions {
		if !knownActions[a] {
			log.Printf("[capability] unknown action %q granted to %s", a, req.Subject)
		}
	}

	hours := req.ExpiresInHours
	if hours <= 0 {
		hours = defaultExpiresHours
	}
	if hours > maxExpiresHours {
		hours = maxExpiresHours
	}

	now := time.Now()
	cap := &storage.Capability{
		ID:         uuid.New().String(),
		Subject:    req.Subject,
		Issuer:     issuerDID,
		Actions:    req.Actions,
		Resources:  req.Resources,
		Conditions: req.Conditions,
		NotBefore:  now.Unix(),
		Expiration: now.Add(time.Duration(hours) * time.Hour).Unix(),
		IssuedAt:   now.Unix(),
		Status:     storage.CapabilityActive,
	}

	token, err := signToken(cap, i.signer.PrivateKey())
	if err != nil {
		log.Printf("[capability] sign token for %s: %v", req.Subject, err)
		return nil, err
	}

	if err := i.db.CreateCapability(cap); err != nil {
		log.Printf("[capability] persist capability for %s: %v", req.Subject, err)
		return nil, err
	}

	i.logActivity(subject.ID, storage.ActivityCapabilityGranted,
		"capability granted by "+issuerDID,
		map[string]any{
			"capability_id": cap.ID,
			"actions":       req.Actions,
			"resources":     req.Resources,
		}, []string{issuer.ID})

	i.mu.Lock()
	i.active[cap.ID] = cap
	i.mu.Unlock()

	return &IssueResult{
		Token:      token,
		Capability: cap,
		ExpiresIn:  cap.Expiration - now.Unix(),
	}, nil
}

// VerifyRequest is a capability verification query.
type VerifyRequest struct {
	Token    string         `json:"token"`
	Action   string         `json:"action"`
	Resource string         `json:"resource"`
	Context  map[string]any `json:"context,omitempty"`
}

// VerifyResult reports the outcome of a verification. A negative outcome is
// expressed through Valid=false and Errors, never through a Go error.
type VerifyResult struct {
	Valid          bool                `json:"valid"`
	Capability     *storage.Capability `json:"capability,omitempty"`
	AllowedActions []string            `json:"allowed_actions,omitempty"`
	Errors         []string            `json:"errors,omitempty"`
}

// Verify checks a bearer token against a requested action, resource, and
// context. Read-only and side-effect-free; safe at arbitrary concurrency.
//
// Checks run in order and short-circuit, except condition evaluation, which
// accumulates every failing condition so a caller can fix all violations
// from one round-trip.
func (i *Issuer) Verify(req *VerifyRequest) *VerifyResult {
	claims, err := parseToken(req.Token, i.signer.PublicKey())
	if err != nil {
		return &VerifyResult{Errors: []string{"invalid token"}}
	}

	now := time.Now().Unix()
	cap := i.lookup(claims.ID)
	if cap == nil || cap.Status == storage.CapabilityRevoked || cap.RevokedAt != nil {
		return &VerifyResult{Errors: []string{"capability revoked"}}
	}
	if now >= cap.Expiration {
		return &VerifyResult{Errors: []string{"capability expired"}}
	}
	if now < cap.NotBefore {
		return &VerifyResult{Errors: []string{"capability not yet valid"}}
	}
	if claims.Subject != cap.Subject {
		return &VerifyResult{Errors: []string{"subject mismatch"}}
	}
	if !contains(cap.Actions, req.Action) {
		return &VerifyResult{Errors: []string{"action not permitted"}}
	}
	if !resourceAllowed(cap.Resources, req.Resource) {
		return &VerifyResult{Errors: []string{"resource not permitted"}}
	}

	var failures []string
	for _, c := range cap.Conditions {
		if !evaluateCondition(c, req.Context) {
			failures = append(failures, conditionFailure(c))
		}
	}
	if len(failures) > 0 {
		return &VerifyResult{Errors: failures}
	}

	return &VerifyResult{
		Valid:          true,
		Capability:     cap,
		AllowedActions: cap.Actions,
	}
}

// Revoke marks a capability revoked. Only the original issuer, or a caller
// holding an active admin capability for their own subject DID, may revoke.
// Re-revoking an already-revoked capability is an idempotent no-op.
func (i *Issuer) Revoke(id, revokedBy, reason string) error {
	cap, err := i.db.GetCapability(id)
	if err != nil {
		return capErrorf(CodeNotFound, "capability %s not found", id)
	}

	if revokedBy != cap.Issuer && !i.hasAdminCapability(revokedBy) {
		return capErrorf(CodeAuthorization, "%s may not revoke capability %s", revokedBy, id)
	}

	if err := i.db.RevokeCapability(id, revokedBy, reason, time.Now().Unix()); err != nil {
		log.Printf("[capability] revoke %s: %v", id, err)
		return err
	}

	i.mu.Lock()
	delete(i.active, id)
	i.mu.Unlock()

	if cap.RevokedAt == nil { // only log the first revocation
		if subject, err := i.db.GetAgentByDID(cap.Subject); err == nil {
			i.logActivity(subject.ID, storage.ActivityCapabilityRevoked,
				"capability revoked by "+revokedBy,
				map[string]any{"capability_id": id, "reason": reason}, nil)
		}
	}
	return nil
}

// DelegateRequest describes a capability sub-grant.
type DelegateRequest struct {
	Delegatee      string   `json:"delegatee"`
	Actions        []string `json:"actions,omitempty"`
	Resources      []string `json:"resources,omitempty"`
	ExpiresInHours int      `json:"expires_in_hours,omitempty"`
}

// Delegate records a sub-grant of a capability. The delegator must be the
// capability's subject and the capability must include the delegate action.
//
// Restrictions are recorded as given and default to the parent's own
// actions/resources. Narrowing is not enforced here: verification always
// runs against the original capability, so a wider restriction list grants
// nothing extra.
func (i *Issuer) Delegate(capabilityID, delegator string, req *DelegateRequest) (*storage.Delegation, error) {
	cap, err := i.db.GetCapability(capabilityID)
	if err != nil {
		return nil, capErrorf(CodeNotFound, "capability %s not found", capabilityID)
	}
	if delegator != cap.Subject {
		return nil, capErrorf(CodeAuthorization, "only the capability subject may delegate")
	}
	if !contains(cap.Actions, "delegate") {
		return nil, capErrorf(CodeAuthorization, "capability %s does not grant delegation", capabilityID)
	}
	now := time.Now().Unix()
	if cap.RevokedAt != nil || cap.Status == storage.CapabilityRevoked {
		return nil, capErrorf(CodeAuthorization, "capability %s is revoked", capabilityID)
	}
	if now >= cap.Expiration {
		return nil, capErrorf(CodeAuthorization, "capability %s is expired", capabilityID)
	}

	delegatee, err := i.db.GetAgentByDID(req.Delegatee)
	if err != nil {
		return nil, capErrorf(CodeNotFound, "delegatee %s not found", req.Delegatee)
	}
	if delegatee.Status != storage.AgentActive {
		return nil, capErrorf(CodeAuthorization, "delegatee %s is not active", req.Delegatee)
	}

	actions := req.Actions
	if len(actions) == 0 {
		actions = cap.Actions
	}
	resources := req.Resources
	if len(resources) == 0 {
		resources = cap.Resources
	}

	// A delegation never outlives its parent capability.
	expiration := cap.Expiration
	if req.ExpiresInHours > 0 {
		requested := now + int64(req.ExpiresInHours)*3600
		if requested < expiration {
			expiration = requested
		}
	}

	del := &storage.Delegation{
		ID:           uuid.New().String(),
		CapabilityID: capabilityID,
		Delegator:    delegator,
		Delegatee:    req.Delegatee,
		Actions:      actions,
		Resources:    resources,
		Expiration:   expiration,
		CreatedAt:    now,
	}
	if err := i.db.CreateDelegation(del); err != nil {
		log.Printf("[capability] persist delegation of %s: %v", capabilityID, err)
		return nil, err
	}

	i.logActivity(delegatee.ID, storage.ActivityCapabilityDelegated,
		"capability delegated by "+delegator,
		map[string]any{"capability_id": capabilityID, "delegation_id": del.ID, "actions": actions}, nil)

	return del, nil
}

// List returns capabilities filtered by subject and/or issuer DID.
func (i *Issuer) List(subject, issuer string, limit int) ([]*storage.Capability, error) {
	return i.db.ListCapabilities(subject, issuer, limit)
}

// Delegations returns the delegation records of a capability.
func (i *Issuer) Delegations(capabilityID string) ([]*storage.Delegation, error) {
	return i.db.ListDelegations(capabilityID)
}

// lookup fetches a capability by id from the active index, falling through
// to the store on a miss. Entries observed as no longer active are evicted.
func (i *Issuer) lookup(id string) *storage.Capability {
	i.mu.RLock()
	cap, ok := i.active[id]
	i.mu.RUnlock()
	if ok {
		if cap.RevokedAt == nil && time.Now().Unix() < cap.Expiration {
			return cap
		}
		i.mu.Lock()
		delete(i.active, id)
		i.mu.Unlock()
	}

	cap, err := i.db.GetCapability(id)
	if err != nil {
		return nil
	}
	if cap.Status == storage.CapabilityActive && cap.RevokedAt == nil && time.Now().Unix() < cap.Expiration {
		i.mu.Lock()
		i.active[id] = cap
		i.mu.Unlock()
	}
	return cap
}

// hasAdminCapability reports whether the DID holds an active, non-expired
// capability for itself whose actions include admin.
func (i *Issuer) hasAdminCapability(did string) bool {
	caps, err := i.db.ListCapabilities(did, "", 0)
	if err != nil {
		log.Printf("[capability] list capabilities for %s: %v", did, err)
		return false
	}
	now := time.Now().Unix()
	for _, c := range caps {
		if c.RevokedAt != nil || c.Status == storage.CapabilityRevoked {
			continue
		}
		if now >= c.Expiration {
			continue
		}
		if contains(c.Actions, "admin") {
			return true
		}
	}
	return false
}

// logActivity appends an activity entry, logging rather than failing the
// calling operation if the append cannot be written.
func (i *Issuer) logActivity(agentID string, typ storage.ActivityType, desc string, meta map[string]any, related []string) {
	act := &storage.Activity{
		ID:              uuid.New().String(),
		AgentID:         agentID,
		Type:            typ,
		Description:     desc,
		Timestamp:       time.Now().Unix(),
		Metadata:        meta,
		RelatedAgentIDs: related,
	}
	if err := i.db.AppendActivity(act); err != nil {
		log.Printf("[capability] append activity for %s: %v", agentID, err)
	}
}

// resourceAllowed reports whether a requested resource matches any granted
// resource: exact equality, prefix match on a trailing-* pattern, or the
// bare wildcard.
func resourceAllowed(granted []string, requested string) bool {
	for _, g := range granted {
		if g == "*" || g == requested {
			return true
		}
		if strings.HasSuffix(g, "*") && strings.HasPrefix(requested, strings.TrimSuffix(g, "*")) {
			return true
		}
	}
	return false
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
