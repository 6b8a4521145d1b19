// Package identity implements DID document creation, resolution, mutation,
// and ownership verification for hub-registered agents.
package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/yksanjo/agent-identity-hub/internal/crypto"
)

// Ed25519VerificationKey2020 is the verification-method type for Ed25519
// keys. It is the only signature scheme the hub issues.
const Ed25519VerificationKey2020 = "Ed25519VerificationKey2020"

// Supported DID methods. Anything else is rejected at creation.
var supportedMethods = map[string]bool{
	"agent": true,
	"key":   true,
}

// DIDDocument is the wire-contractual DID document shape. Field names are
// the W3C camelCase form and must round-trip exactly.
type DIDDocument struct {
	ID                 string               `json:"id"`
	Controller         string               `json:"controller,omitempty"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication"`
	AssertionMethod    []string             `json:"assertionMethod,omitempty"`
	Service            []ServiceEndpoint    `json:"service,omitempty"`
	Created            int64                `json:"created"`
	Updated            int64                `json:"updated"`
}

// VerificationMethod binds a public key to a DID.
type VerificationMethod struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Controller   string `json:"controller"`
	PublicKeyHex string `json:"publicKeyHex"`
}

// ServiceEndpoint is a service advertised in a DID document.
type ServiceEndpoint struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// deriveDID builds a DID string from a method and public key. The
// method-specific identifier is the first 16 bytes of the key's SHA3-256
// digest, hex encoded.
func deriveDID(method string, pub ed25519.PublicKey) string {
	digest := crypto.Digest(pub)
	return fmt.Sprintf("did:%s:%s", method, hex.EncodeToString(digest[:16]))
}

// ParseDID splits a DID into method and method-specific identifier. Returns
// an error for strings that are not of the form did:<method>:<identifier>.
func ParseDID(did string) (method, identifier string, err error) {
	parts := strings.SplitN(did, ":", 3)
	if len(parts) != 3 || parts[0] != "did" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("malformed did: %q", did)
	}
	return parts[1], parts[2], nil
}

// verifyEd25519 checks a hex signature over the SHA3-256 digest of message.
func verifyEd25519(pub ed25519.PublicKey, message []byte, sigHex string) bool {
	return crypto.VerifyDigestWithKey(pub, message, sigHex)
}

// primaryKey returns the public key bytes of the document's first
// verification method.
func (doc *DIDDocument) primaryKey() (ed25519.PublicKey, string, error) {
	if len(doc.VerificationMethod) == 0 {
		return nil, "", fmt.Errorf("did document %s has no verification method", doc.ID)
	}
	vm := doc.VerificationMethod[0]
	if vm.Type != Ed25519VerificationKey2020 {
		return nil, "", fmt.Errorf("unsupported verification method type %q", vm.Type)
	}
	raw, err := hex.DecodeString(vm.PublicKeyHex)
	if err != nil {
		return nil, "", fmt.Errorf("decode verification key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, "", fmt.Errorf("verification key length %d, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), vm.Type, nil
}
