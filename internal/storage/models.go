package storage

// AgentType classifies the role an agent plays in the network.
type AgentType string

// Agent types.
const (
	AgentOrchestrator AgentType = "orchestrator"
	AgentWorker       AgentType = "worker"
	AgentValidator    AgentType = "validator"
	AgentGateway      AgentType = "gateway"
	AgentSpecialist   AgentType = "specialist"
	AgentUserProxy    AgentType = "user_proxy"
)

// AgentStatus is the administrative lifecycle state of an agent.
type AgentStatus string

// Agent statuses.
const (
	AgentActive    AgentStatus = "active"
	AgentInactive  AgentStatus = "inactive"
	AgentSuspended AgentStatus = "suspended"
	AgentRevoked   AgentStatus = "revoked"
	AgentPending   AgentStatus = "pending"
)

// CapabilityStatus is the lifecycle state of a capability grant.
// Expiry is inferred from the expiration timestamp at verification time and
// is never persisted as a separate write.
type CapabilityStatus string

// Capability statuses.
const (
	CapabilityActive  CapabilityStatus = "active"
	CapabilityExpired CapabilityStatus = "expired"
	CapabilityRevoked CapabilityStatus = "revoked"
	CapabilityPending CapabilityStatus = "pending"
)

// ConditionType classifies a capability condition.
type ConditionType string

// Condition types.
const (
	ConditionTime          ConditionType = "time"
	ConditionRateLimit     ConditionType = "rate_limit"
	ConditionResourceScope ConditionType = "resource_scope"
	ConditionContext       ConditionType = "context"
)

// ConditionOperator is the comparison applied when evaluating a condition.
type ConditionOperator string

// Condition operators.
const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpContains    ConditionOperator = "contains"
	OpIn          ConditionOperator = "in"
	OpBefore      ConditionOperator = "before"
	OpAfter       ConditionOperator = "after"
)

// AttestationType classifies an attestation.
type AttestationType string

// Attestation types.
const (
	AttIdentityVerification    AttestationType = "identity_verification"
	AttCapabilityAuthorization AttestationType = "capability_authorization"
	AttBehaviorAssertion       AttestationType = "behavior_assertion"
	AttTrustAssertion          AttestationType = "trust_assertion"
	AttCompletionCertificate   AttestationType = "completion_certificate"
	AttMembership              AttestationType = "membership"
	AttCustom                  AttestationType = "custom"
)

// RelationshipType classifies a directed edge between two agents.
type RelationshipType string

// Relationship types.
const (
	RelDelegatesTo      RelationshipType = "delegates_to"
	RelVerifies         RelationshipType = "verifies"
	RelCommunicatesWith RelationshipType = "communicates_with"
	RelSupervises       RelationshipType = "supervises"
	RelDependsOn        RelationshipType = "depends_on"
	RelReplaces         RelationshipType = "replaces"
)

// ActivityType classifies an entry in the append-only activity log.
type ActivityType string

// Activity types.
const (
	ActivityAgentCreated            ActivityType = "agent_created"
	ActivityCapabilityGranted       ActivityType = "capability_granted"
	ActivityCapabilityRevoked       ActivityType = "capability_revoked"
	ActivityCapabilityDelegated     ActivityType = "capability_delegated"
	ActivityAttestationIssued       ActivityType = "attestation_issued"
	ActivityAttestationRevoked      ActivityType = "attestation_revoked"
	ActivityRelationshipEstablished ActivityType = "relationship_established"
	ActivityTrustScoreUpdated       ActivityType = "trust_score_updated"
	ActivityAnomalyDetected         ActivityType = "anomaly_detected"
)

// AnomalyType identifies which heuristic detector produced an anomaly.
type AnomalyType string

// Anomaly types.
const (
	AnomalyUnusualAccess        AnomalyType = "unusual_access_pattern"
	AnomalyTrustManipulation    AnomalyType = "trust_manipulation"
	AnomalyCapabilityEscalation AnomalyType = "capability_escalation"
	AnomalyCollusionPattern     AnomalyType = "collusion_pattern"
	AnomalyBehaviorDeviation    AnomalyType = "behavior_deviation"
)

// Severity grades an anomaly.
type Severity string

// Severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Agent is a machine identity registered with the hub. TrustScore is
// exclusively written by the trust engine.
type Agent struct {
	ID           string         `json:"id"`
	DID          string         `json:"did"`
	Name         string         `json:"name"`
	Type         AgentType      `json:"type"`
	PublicKey    []byte         `json:"public_key"`
	TrustScore   float64        `json:"trust_score"`
	Reputation   int64          `json:"reputation"`
	Status       AgentStatus    `json:"status"`
	Capabilities []string       `json:"capabilities"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	UpdatedAt    int64          `json:"updated_at"`
	LastActiveAt int64          `json:"last_active_at"`
}

// Identity binds a DID to an agent and holds the DID document as opaque JSON.
type Identity struct {
	DID       string `json:"did"`
	AgentID   string `json:"agent_id"`
	Document  []byte `json:"document"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Condition restricts when a capability grant applies.
type Condition struct {
	Type      ConditionType     `json:"type"`
	Parameter string            `json:"parameter"`
	Operator  ConditionOperator `json:"operator"`
	Value     any               `json:"value"`
}

// Capability is a scoped, conditional, expiring grant of actions over
// resources to a subject DID.
type Capability struct {
	ID           string           `json:"id"`
	Subject      string           `json:"subject"`
	Issuer       string           `json:"issuer"`
	Actions      []string         `json:"actions"`
	Resources    []string         `json:"resources"`
	Conditions   []Condition      `json:"conditions,omitempty"`
	NotBefore    int64            `json:"not_before"`
	Expiration   int64            `json:"expiration"`
	IssuedAt     int64            `json:"issued_at"`
	Status       CapabilityStatus `json:"status"`
	RevokedAt    *int64           `json:"revoked_at,omitempty"`
	RevokedBy    string           `json:"revoked_by,omitempty"`
	RevokeReason string           `json:"revoke_reason,omitempty"`
}

// Delegation is a record of a capability sub-grant. It never mutates the
// parent capability.
type Delegation struct {
	ID           string   `json:"id"`
	CapabilityID string   `json:"capability_id"`
	Delegator    string   `json:"delegator"`
	Delegatee    string   `json:"delegatee"`
	Actions      []string `json:"actions"`
	Resources    []string `json:"resources"`
	Expiration   int64    `json:"expiration"`
	CreatedAt    int64    `json:"created_at"`
}

// Claim is a single assertion inside an attestation. Issuer is always the
// attestation's issuer.
type Claim struct {
	Type   string `json:"type"`
	Value  any    `json:"value"`
	Issuer string `json:"issuer"`
}

// Proof is the cryptographic proof attached to an attestation.
type Proof struct {
	Type               string `json:"type"`
	Created            int64  `json:"created"`
	ProofPurpose       string `json:"proof_purpose"`
	VerificationMethod string `json:"verification_method"`
	ProofValue         string `json:"proof_value"`
}

// Attestation is a signed claim by one DID about another. Immutable once
// issued except for the revocation fields, which are set at most once.
type Attestation struct {
	ID           string          `json:"id"`
	Type         AttestationType `json:"type"`
	Issuer       string          `json:"issuer"`
	Subject      string          `json:"subject"`
	Claims       []Claim         `json:"claims"`
	IssuedAt     int64           `json:"issued_at"`
	ExpiresAt    *int64          `json:"expires_at,omitempty"`
	RevokedAt    *int64          `json:"revoked_at,omitempty"`
	RevokedBy    string          `json:"revoked_by,omitempty"`
	RevokeReason string          `json:"revoke_reason,omitempty"`
	Proof        Proof           `json:"proof"`
}

// Relationship is a directed edge in the agent relationship graph,
// unique on (source, target, type).
type Relationship struct {
	ID                string           `json:"id"`
	SourceAgentID     string           `json:"source_agent_id"`
	TargetAgentID     string           `json:"target_agent_id"`
	Type              RelationshipType `json:"type"`
	TrustLevel        float64          `json:"trust_level"`
	Permissions       []string         `json:"permissions,omitempty"`
	EstablishedAt     int64            `json:"established_at"`
	LastInteractionAt int64            `json:"last_interaction_at"`
	InteractionCount  int64            `json:"interaction_count"`
}

// Activity is an append-only event log entry. Never mutated or deleted
// except by cascade on agent deletion.
type Activity struct {
	ID              string         `json:"id"`
	AgentID         string         `json:"agent_id"`
	Type            ActivityType   `json:"type"`
	Description     string         `json:"description"`
	Timestamp       int64          `json:"timestamp"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	RelatedAgentIDs []string       `json:"related_agent_ids,omitempty"`
}

// TrustScoreRecord is an append-only time-series row written by the trust
// engine on every recalculation.
type TrustScoreRecord struct {
	ID           string             `json:"id"`
	AgentID      string             `json:"agent_id"`
	Score        float64            `json:"score"`
	Factors      map[string]float64 `json:"factors"`
	CalculatedAt int64              `json:"calculated_at"`
}

// Anomaly is a heuristic-flagged deviation. Its trust penalty applies until
// it is resolved.
type Anomaly struct {
	ID                string      `json:"id"`
	AgentID           string      `json:"agent_id"`
	Type              AnomalyType `json:"type"`
	Severity          Severity    `json:"severity"`
	Confidence        float64     `json:"confidence"`
	Indicators        []string    `json:"indicators"`
	RecommendedAction string      `json:"recommended_action"`
	DetectedAt        int64       `json:"detected_at"`
	ResolvedAt        *int64      `json:"resolved_at,omitempty"`
	Resolution        string      `json:"resolution,omitempty"`
}
