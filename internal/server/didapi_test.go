package server

import (
	"crypto/ed25519"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/yksanjo/agent-identity-hub/internal/crypto"
)

func TestListAndResolveDIDs(t *testing.T) {
	srv := setupTestServer(t)
	didA := agentField(t, createTestAgent(t, srv, "a"), "did")
	didB := agentField(t, createTestAgent(t, srv, "b"), "did")

	rec := doRequest(t, srv, http.MethodGet, "/api/dids", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	dids := decodeMap(t, rec)["dids"].([]any)
	if len(dids) != 2 {
		t.Fatalf("listed %d DIDs, want 2", len(dids))
	}
	seen := map[any]bool{dids[0]: true, dids[1]: true}
	if !seen[didA] || !seen[didB] {
		t.Errorf("listing %v missing %s or %s", dids, didA, didB)
	}

	// Malformed DIDs resolve to an invalidDid envelope, still 200.
	rec = doRequest(t, srv, http.MethodGet, "/api/dids/not-a-did", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve malformed: status = %d, want 200", rec.Code)
	}
	meta := decodeMap(t, rec)["didResolutionMetadata"].(map[string]any)
	if meta["error"] != "invalidDid" {
		t.Errorf("error = %v, want invalidDid", meta["error"])
	}
}

func TestVerifyOwnership(t *testing.T) {
	srv := setupTestServer(t)
	resp := createTestAgent(t, srv, "owner")
	did := agentField(t, resp, "did")

	privHex := resp["private_key"].(string)
	raw, err := hex.DecodeString(privHex)
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	priv := ed25519.PrivateKey(raw)

	message := "prove it"
	sig := hex.EncodeToString(ed25519.Sign(priv, crypto.Digest([]byte(message))))

	rec := doRequest(t, srv, http.MethodPost, "/api/dids/"+did+"/verify-ownership",
		map[string]any{"message": message, "signature": sig}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if decodeMap(t, rec)["verified"] != true {
		t.Error("valid signature not verified")
	}

	// A different message fails verification.
	rec = doRequest(t, srv, http.MethodPost, "/api/dids/"+did+"/verify-ownership",
		map[string]any{"message": "something else", "signature": sig}, nil)
	if decodeMap(t, rec)["verified"] != false {
		t.Error("signature verified against the wrong message")
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/dids/"+did+"/verify-ownership",
		map[string]any{"message": message}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing signature: status = %d, want 400", rec.Code)
	}
}

func TestDocumentMutations(t *testing.T) {
	srv := setupTestServer(t)
	did := agentField(t, createTestAgent(t, srv, "mutable"), "did")
	admin := map[string]string{"X-Admin-Secret": "test-secret"}

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	rec := doRequest(t, srv, http.MethodPost, "/api/dids/"+did+"/verification-methods",
		map[string]any{"type": "Ed25519VerificationKey2020", "publicKeyHex": hex.EncodeToString(pub)},
		admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("add verification method: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	doc := decodeMap(t, rec)
	vms := doc["verificationMethod"].([]any)
	if len(vms) != 2 {
		t.Fatalf("document has %d verification methods, want 2", len(vms))
	}
	if vms[1].(map[string]any)["id"] != did+"#key-2" {
		t.Errorf("new method id = %v, want %s#key-2", vms[1].(map[string]any)["id"], did)
	}

	ep := map[string]any{"id": did + "#inbox", "type": "MessagingService", "serviceEndpoint": "https://hub.example/inbox"}
	rec = doRequest(t, srv, http.MethodPost, "/api/dids/"+did+"/services", ep, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("add service: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	// Same endpoint id again conflicts.
	rec = doRequest(t, srv, http.MethodPost, "/api/dids/"+did+"/services", ep, admin)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate service: status = %d, want 409", rec.Code)
	}

	// Mutations are admin-only.
	rec = doRequest(t, srv, http.MethodPost, "/api/dids/"+did+"/services", ep, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no secret: status = %d, want 401", rec.Code)
	}
}

func TestDeactivateDID(t *testing.T) {
	srv := setupTestServer(t)
	did := agentField(t, createTestAgent(t, srv, "spent"), "did")
	admin := map[string]string{"X-Admin-Secret": "test-secret"}

	rec := doRequest(t, srv, http.MethodDelete, "/api/dids/"+did, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no secret: status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/dids/"+did, nil, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/dids/"+did, nil, nil)
	meta := decodeMap(t, rec)["didResolutionMetadata"].(map[string]any)
	if meta["error"] != "notFound" {
		t.Errorf("resolution after deactivate = %v, want notFound", meta["error"])
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/dids/"+did, nil, admin)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second deactivate: status = %d, want 404", rec.Code)
	}
}
