// Package crypto provides Ed25519 signing over canonical SHA3-256 digests
// for DID documents, capability tokens, and attestation proofs.
package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"golang.org/x/crypto/sha3"
)

// Signer signs and verifies canonical digests with a single Ed25519 keypair.
// It is the hub's cryptographic collaborator: services hold a Signer rather
// than raw key material.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner wraps an existing Ed25519 private key.
func NewSigner(priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: %d", len(priv))
	}
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// LoadOrGenerateSigner loads an Ed25519 keypair from path, or generates a
// new one and saves it if the file doesn't exist. The file format is the
// 64-byte Ed25519 private key.
func LoadOrGenerateSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return NewSigner(ed25519.PrivateKey(data))
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	if err := os.WriteFile(path, []byte(priv), 0600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return NewSigner(priv)
}

// PublicKey returns the signer's public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.pub
}

// PrivateKey returns the signer's private key. Used for bearer-token signing
// where the JWT library needs the key directly.
func (s *Signer) PrivateKey() ed25519.PrivateKey {
	return s.priv
}

// SignDigest signs the SHA3-256 digest of msg and returns it hex-encoded.
func (s *Signer) SignDigest(msg []byte) string {
	digest := Digest(msg)
	return hex.EncodeToString(ed25519.Sign(s.priv, digest))
}

// VerifyDigest checks a hex-encoded signature over the SHA3-256 digest of
// msg against the signer's own public key.
func (s *Signer) VerifyDigest(msg []byte, sigHex string) bool {
	return VerifyDigestWithKey(s.pub, msg, sigHex)
}

// VerifyDigestWithKey checks a hex-encoded signature over the SHA3-256
// digest of msg against an arbitrary Ed25519 public key.
func VerifyDigestWithKey(pub ed25519.PublicKey, msg []byte, sigHex string) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, Digest(msg), sig)
}

// Digest returns the SHA3-256 digest of msg.
func Digest(msg []byte) []byte {
	h := sha3.New256()
	h.Write(msg)
	return h.Sum(nil)
}

// CanonicalJSON serializes v with object keys sorted recursively, so that
// two structurally equal values always produce the same bytes. Signatures
// over attestation payloads are computed on this form.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}
	return canonicalize(decoded)
}

// canonicalize re-encodes a decoded JSON value with sorted object keys.
// encoding/json already sorts map keys, but nested objects arrive as
// map[string]any here, so a single re-marshal of the decoded tree suffices
// for maps while arrays keep their order.
func canonicalize(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := canonicalize(t[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		return append(buf, '}'), nil
	case []any:
		buf := []byte{'['}
		for i, e := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			eb, err := canonicalize(e)
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		return append(buf, ']'), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("canonical encode: %w", err)
		}
		return b, nil
	}
}
