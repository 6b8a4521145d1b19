// Package attestation implements issuance, verification, revocation, and
// chaining of signed attestations between agents.
package attestation

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/yksanjo/agent-identity-hub/internal/crypto"
	"github.com/yksanjo/agent-identity-hub/internal/storage"
)

// proofType is the proof suite the hub produces.
const proofType = "Ed25519Signature2020"

var validTypes = map[storage.AttestationType]bool{
	storage.AttIdentityVerification:    true,
	storage.AttCapabilityAuthorization: true,
	storage.AttBehaviorAssertion:       true,
	storage.AttTrustAssertion:          true,
	storage.AttCompletionCertificate:   true,
	storage.AttMembership:              true,
	storage.AttCustom:                  true,
}

// Service issues and verifies attestations. Proofs are signed by the hub's
// signer on behalf of issuing agents; the proof's verificationMethod names
// the hub key used.
type Service struct {
	db                 *storage.DB
	signer             *crypto.Signer
	verificationMethod string
}

// NewService creates an attestation service. verificationMethod is the key
// reference recorded in every proof, e.g. "did:agent:<hub>#key-1".
func NewService(db *storage.DB, signer *crypto.Signer, verificationMethod string) *Service {
	return &Service{db: db, signer: signer, verificationMethod: verificationMethod}
}

// CreateRequest describes an attestation to issue.
type CreateRequest struct {
	Subject        string                  `json:"subject"`
	Type           storage.AttestationType `json:"type"`
	Claims         []storage.Claim         `json:"claims"`
	ExpiresInHours int                     `json:"expires_in_hours,omitempty"`
}

// proofPayload is the canonical form over which the proof signature is
// computed. Key order is fixed by canonical JSON serialization.
type proofPayload struct {
	ID       string                  `json:"id"`
	Type     storage.AttestationType `json:"type"`
	Issuer   string                  `json:"issuer"`
	Subject  string                  `json:"subject"`
	Claims   []storage.Claim         `json:"claims"`
	IssuedAt int64                   `json:"issuedAt"`
}

// Create issues an attestation from issuerDID about the request subject.
// The issuer must be active; the subject must exist but need not be active,
// since attestations can document past states.
func (s *Service) Create(issuerDID string, req *CreateRequest) (*storage.Attestation, error) {
	issuer, err := s.db.GetAgentByDID(issuerDID)
	if err != nil {
		return nil, attErrorf(CodeNotFound, "issuer %s not found", issuerDID)
	}
	if issuer.Status != storage.AgentActive {
		return nil, attErrorf(CodeAuthorization, "issuer %s is not active", issuerDID)
	}
	subject, err := s.db.GetAgentByDID(req.Subject)
	if err != nil {
		return nil, attErrorf(CodeNotFound, "subject %s not found", req.Subject)
	}
	if !validTypes[req.Type] {
		return nil, attErrorf(CodeValidation, "unknown attestation type %q", req.Type)
	}
	if len(req.Claims) == 0 {
		return nil, attErrorf(CodeValidation, "at least one claim is required")
	}

	now := time.Now().Unix()
	claims := make([]storage.Claim, len(req.Claims))
	for idx, c := range req.Claims {
		c.Issuer = issuerDID // every claim inherits the attestation issuer
		claims[idx] = c
	}

	att := &storage.Attestation{
		ID:       uuid.New().String(),
		Type:     req.Type,
		Issuer:   issuerDID,
		Subject:  req.Subject,
		Claims:   claims,
		IssuedAt: now,
	}
	if req.ExpiresInHours > 0 {
		exp := now + int64(req.ExpiresInHours)*3600
		att.ExpiresAt = &exp
	}

	proof, err := s.buildProof(att)
	if err != nil {
		log.Printf("[attestation] build proof for %s: %v", att.ID, err)
		return nil, err
	}
	att.Proof = *proof

	if err := s.db.CreateAttestation(att); err != nil {
		log.Printf("[attestation] persist %s: %v", att.ID, err)
		return nil, err
	}

	s.logActivity(subject.ID, storage.ActivityAttestationIssued,
		fmt.Sprintf("%s attestation issued by %s", req.Type, issuerDID),
		map[string]any{"attestation_id": att.ID, "type": string(req.Type)},
		[]string{issuer.ID})

	return att, nil
}

// buildProof signs the SHA3-256 digest of the attestation's canonical
// payload with the hub key.
func (s *Service) buildProof(att *storage.Attestation) (*storage.Proof, error) {
	payload, err := crypto.CanonicalJSON(proofPayload{
		ID:       att.ID,
		Type:     att.Type,
		Issuer:   att.Issuer,
		Subject:  att.Subject,
		Claims:   att.Claims,
		IssuedAt: att.IssuedAt,
	})
	if err != nil {
		return nil, err
	}
	return &storage.Proof{
		Type:               proofType,
		Created:            time.Now().Unix(),
		ProofPurpose:       "assertionMethod",
		VerificationMethod: s.verificationMethod,
		ProofValue:         s.signer.SignDigest(payload),
	}, nil
}

// VerifyResult reports attestation verification. Hard failures set
// Valid=false; soft conditions (issuer or subject no longer resolvable or
// inactive) are warnings only, because an attestation remains valid
// evidence even if its issuer later goes inactive.
type VerifyResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Verify checks an attestation's expiry, revocation, and proof.
func (s *Service) Verify(id string) *VerifyResult {
	att, err := s.db.GetAttestation(id)
	if err != nil {
		return &VerifyResult{Errors: []string{"attestation not found"}}
	}

	res := &VerifyResult{Valid: true}
	now := time.Now().Unix()

	if att.RevokedAt != nil {
		res.Valid = false
		res.Errors = append(res.Errors, "attestation revoked")
	}
	if att.ExpiresAt != nil && now >= *att.ExpiresAt {
		res.Valid = false
		res.Errors = append(res.Errors, "attestation expired")
	}
	if att.Proof.ProofValue == "" {
		res.Valid = false
		res.Errors = append(res.Errors, "attestation has no proof")
	} else {
		payload, err := crypto.CanonicalJSON(proofPayload{
			ID:       att.ID,
			Type:     att.Type,
			Issuer:   att.Issuer,
			Subject:  att.Subject,
			Claims:   att.Claims,
			IssuedAt: att.IssuedAt,
		})
		if err != nil || !s.signer.VerifyDigest(payload, att.Proof.ProofValue) {
			res.Valid = false
			res.Errors = append(res.Errors, "proof verification failed")
		}
	}

	if issuer, err := s.db.GetAgentByDID(att.Issuer); err != nil {
		res.Warnings = append(res.Warnings, "issuer no longer resolvable")
	} else if issuer.Status != storage.AgentActive {
		res.Warnings = append(res.Warnings, "issuer is not active")
	}
	if subject, err := s.db.GetAgentByDID(att.Subject); err != nil {
		res.Warnings = append(res.Warnings, "subject no longer resolvable")
	} else if subject.Status != storage.AgentActive {
		res.Warnings = append(res.Warnings, "subject is not active")
	}

	return res
}

// Revoke records the revocation of an attestation. Only the original issuer
// may revoke. The attestation itself is preserved for the audit trail.
func (s *Service) Revoke(id, revokedBy, reason string) error {
	att, err := s.db.GetAttestation(id)
	if err != nil {
		return attErrorf(CodeNotFound, "attestation %s not found", id)
	}
	if revokedBy != att.Issuer {
		return attErrorf(CodeAuthorization, "only the issuer may revoke attestation %s", id)
	}

	if err := s.db.RevokeAttestation(id, revokedBy, reason, time.Now().Unix()); err != nil {
		log.Printf("[attestation] revoke %s: %v", id, err)
		return err
	}

	if att.RevokedAt == nil { // only log the first revocation
		if subject, err := s.db.GetAgentByDID(att.Subject); err == nil {
			s.logActivity(subject.ID, storage.ActivityAttestationRevoked,
				"attestation revoked by "+revokedBy,
				map[string]any{"attestation_id": id, "reason": reason}, nil)
		}
	}
	return nil
}

// List returns attestations filtered by subject and/or issuer DID and
// optional type.
func (s *Service) List(subject, issuer string, typ storage.AttestationType, limit int) ([]*storage.Attestation, error) {
	return s.db.ListAttestations(subject, issuer, typ, limit)
}

// Stats summarizes the attestations held by a subject.
type Stats struct {
	Total   int                             `json:"total"`
	Valid   int                             `json:"valid"`
	Revoked int                             `json:"revoked"`
	Expired int                             `json:"expired"`
	ByType  map[storage.AttestationType]int `json:"by_type"`
}

// GetStats computes attestation statistics for a subject DID.
func (s *Service) GetStats(subject string) (*Stats, error) {
	atts, err := s.db.ListAttestations(subject, "", "", 0)
	if err != nil {
		return nil, err
	}
	stats := &Stats{ByType: make(map[storage.AttestationType]int)}
	now := time.Now().Unix()
	for _, att := range atts {
		stats.Total++
		stats.ByType[att.Type]++
		switch {
		case att.RevokedAt != nil:
			stats.Revoked++
		case att.ExpiresAt != nil && now >= *att.ExpiresAt:
			stats.Expired++
		default:
			stats.Valid++
		}
	}
	return stats, nil
}

func (s *Service) logActivity(agentID string, typ storage.ActivityType, desc string, meta map[string]any, related []string) {
	act := &storage.Activity{
		ID:              uuid.New().String(),
		AgentID:         agentID,
		Type:            typ,
		Description:     desc,
		Timestamp:       time.Now().Unix(),
		Metadata:        meta,
		RelatedAgentIDs: related,
	}
	if err := s.db.AppendActivity(act); err != nil {
		log.Printf("[attestation] append activity for %s: %v", agentID, err)
	}
}
