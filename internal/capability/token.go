package capability

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/yksanjo/agent-identity-hub/internal/storage"
)

// grantPayload is the capability section of a bearer token. Its shape is
// contractual and must round-trip exactly.
type grantPayload struct {
	Actions    []string            `json:"actions"`
	Resources  []string            `json:"resources"`
	Conditions []storage.Condition `json:"conditions,omitempty"`
}

// tokenClaims is the full bearer-token payload:
// {jti, sub, iss, iat, nbf, exp, capability:{actions,resources,conditions}}.
type tokenClaims struct {
	Capability grantPayload `json:"capability"`
	jwt.RegisteredClaims
}

// signToken serializes a capability into a signed EdDSA bearer token.
// The signature binds subject and issuer; altering either invalidates it.
func signToken(c *storage.Capability, priv ed25519.PrivateKey) (string, error) {
	claims := tokenClaims{
		Capability: grantPayload{
			Actions:    c.Actions,
			Resources:  c.Resources,
			Conditions: c.Conditions,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.ID,
			Subject:   c.Subject,
			Issuer:    c.Issuer,
			IssuedAt:  jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)),
			NotBefore: jwt.NewNumericDate(time.Unix(c.NotBefore, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(c.Expiration, 0)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := tok.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("sign capability token: %w", err)
	}
	return signed, nil
}

// parseToken checks structure and signature only. Expiry and revocation are
// verified against the stored capability record, not the token, so the
// parser skips claims validation.
func parseToken(tokenStr string, pub ed25519.PublicKey) (*tokenClaims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := &tokenClaims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return pub, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse capability token: %w", err)
	}
	return claims, nil
}
