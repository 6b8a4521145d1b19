package crypto

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s, err := NewSigner(priv)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestNewSigner_RejectsBadKey(t *testing.T) {
	if _, err := NewSigner([]byte("too short")); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestSignAndVerifyDigest(t *testing.T) {
	s := testSigner(t)
	msg := []byte("attestation payload")

	sig := s.SignDigest(msg)
	if !s.VerifyDigest(msg, sig) {
		t.Fatal("valid signature did not verify")
	}
	if s.VerifyDigest([]byte("tampered"), sig) {
		t.Fatal("signature verified over different message")
	}
	if s.VerifyDigest(msg, "not-hex") {
		t.Fatal("malformed signature verified")
	}

	other := testSigner(t)
	if other.VerifyDigest(msg, sig) {
		t.Fatal("signature verified under a different key")
	}
}

func TestVerifyDigestWithKey_BadKeyLength(t *testing.T) {
	s := testSigner(t)
	sig := s.SignDigest([]byte("msg"))
	if VerifyDigestWithKey([]byte("short"), []byte("msg"), sig) {
		t.Fatal("verification succeeded with invalid public key")
	}
}

func TestLoadOrGenerateSigner_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.key")

	first, err := LoadOrGenerateSigner(path)
	if err != nil {
		t.Fatalf("LoadOrGenerateSigner: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("key file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}

	second, err := LoadOrGenerateSigner(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !first.PublicKey().Equal(second.PublicKey()) {
		t.Fatal("reloaded signer has a different public key")
	}
}

func TestCanonicalJSON_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{
		"b": 1,
		"a": map[string]any{"z": true, "y": []any{"one", "two"}},
	}
	b := map[string]any{
		"a": map[string]any{"y": []any{"one", "two"}, "z": true},
		"b": 1,
	}

	ja, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	jb, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if string(ja) != string(jb) {
		t.Fatalf("canonical forms differ:\n%s\n%s", ja, jb)
	}
	want := `{"a":{"y":["one","two"],"z":true},"b":1}`
	if string(ja) != want {
		t.Errorf("canonical form = %s, want %s", ja, want)
	}
}

func TestCanonicalJSON_StructFields(t *testing.T) {
	type payload struct {
		ID     string `json:"id"`
		Issuer string `json:"issuer"`
	}
	got, err := CanonicalJSON(payload{ID: "att-1", Issuer: "did:agent:x"})
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	want := `{"id":"att-1","issuer":"did:agent:x"}`
	if string(got) != want {
		t.Errorf("canonical form = %s, want %s", got, want)
	}
}

func TestCanonicalJSON_ArrayOrderPreserved(t *testing.T) {
	got, err := CanonicalJSON([]any{"b", "a"})
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if string(got) != `["b","a"]` {
		t.Errorf("array order changed: %s", got)
	}
}
