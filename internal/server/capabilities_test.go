package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// issueTestCapability issues a capability from issuerDID to subjectDID and
// returns the issue response (token, capability, expires_in).
func issueTestCapability(t *testing.T, srv *Server, issuerDID, subjectDID string, actions, resources []string) map[string]any {
	t.Helper()
	rec := doRequest(t, srv, http.MethodPost, "/api/capabilities", map[string]any{
		"subject":   subjectDID,
		"actions":   actions,
		"resources": resources,
	}, map[string]string{"X-Caller-DID": issuerDID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue capability: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	return decodeMap(t, rec)
}

func TestCapabilityIssueAndVerify(t *testing.T) {
	srv := setupTestServer(t)
	issuer := agentField(t, createTestAgent(t, srv, "issuer"), "did")
	subject := agentField(t, createTestAgent(t, srv, "subject"), "did")

	issued := issueTestCapability(t, srv, issuer, subject,
		[]string{"read", "write"}, []string{"documents/*"})
	token := issued["token"].(string)
	if token == "" {
		t.Fatal("no token in issue response")
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/capabilities/verify", map[string]any{
		"token":    token,
		"action":   "read",
		"resource": "documents/report.txt",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	result := decodeMap(t, rec)
	if result["valid"] != true {
		t.Fatalf("valid = %v, want true; errors = %v", result["valid"], result["errors"])
	}

	// Action outside the grant fails but still returns 200.
	rec = doRequest(t, srv, http.MethodPost, "/api/capabilities/verify", map[string]any{
		"token":    token,
		"action":   "delete",
		"resource": "documents/report.txt",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify denied: status = %d", rec.Code)
	}
	result = decodeMap(t, rec)
	if result["valid"] != false {
		t.Error("out-of-grant action verified")
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/capabilities/verify", map[string]any{
		"token": token, "action": "read",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing resource: status = %d, want 400", rec.Code)
	}
}

func TestCapabilityIssue_Validation(t *testing.T) {
	srv := setupTestServer(t)
	issuer := agentField(t, createTestAgent(t, srv, "issuer"), "did")
	subject := agentField(t, createTestAgent(t, srv, "subject"), "did")

	// No actions.
	rec := doRequest(t, srv, http.MethodPost, "/api/capabilities", map[string]any{
		"subject": subject, "resources": []string{"*"},
	}, map[string]string{"X-Caller-DID": issuer})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no actions: status = %d, want 400; body = %s", rec.Code, rec.Body.String())
	}

	// Unknown subject.
	rec = doRequest(t, srv, http.MethodPost, "/api/capabilities", map[string]any{
		"subject": "did:agent:" + "00000000000000000000000000000000",
		"actions": []string{"read"}, "resources": []string{"*"},
	}, map[string]string{"X-Caller-DID": issuer})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown subject: status = %d, want 404", rec.Code)
	}
}

func TestCapabilityRevoke(t *testing.T) {
	srv := setupTestServer(t)
	issuer := agentField(t, createTestAgent(t, srv, "issuer"), "did")
	subject := agentField(t, createTestAgent(t, srv, "subject"), "did")
	stranger := agentField(t, createTestAgent(t, srv, "stranger"), "did")

	issued := issueTestCapability(t, srv, issuer, subject,
		[]string{"read"}, []string{"*"})
	capID := issued["capability"].(map[string]any)["id"].(string)
	token := issued["token"].(string)

	// Only the issuer (or an admin capability holder) may revoke.
	rec := doRequest(t, srv, http.MethodPost, "/api/capabilities/"+capID+"/revoke",
		nil, map[string]string{"X-Caller-DID": stranger})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stranger revoke: status = %d, want 403; body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/capabilities/"+capID+"/revoke",
		map[string]any{"reason": "compromised"},
		map[string]string{"X-Caller-DID": issuer})
	if rec.Code != http.StatusOK {
		t.Fatalf("issuer revoke: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// The token stops verifying immediately.
	rec = doRequest(t, srv, http.MethodPost, "/api/capabilities/verify", map[string]any{
		"token": token, "action": "read", "resource": "anything",
	}, nil)
	result := decodeMap(t, rec)
	if result["valid"] != false {
		t.Error("revoked token still verifies")
	}

	// Revocation is idempotent.
	rec = doRequest(t, srv, http.MethodPost, "/api/capabilities/"+capID+"/revoke",
		nil, map[string]string{"X-Caller-DID": issuer})
	if rec.Code != http.StatusOK {
		t.Errorf("second revoke: status = %d, want 200", rec.Code)
	}
}

func TestCapabilityDelegate(t *testing.T) {
	srv := setupTestServer(t)
	issuer := agentField(t, createTestAgent(t, srv, "issuer"), "did")
	subject := agentField(t, createTestAgent(t, srv, "subject"), "did")
	delegatee := agentField(t, createTestAgent(t, srv, "delegatee"), "did")

	issued := issueTestCapability(t, srv, issuer, subject,
		[]string{"read", "delegate"}, []string{"reports/*"})
	capID := issued["capability"].(map[string]any)["id"].(string)

	// Only the subject may delegate.
	rec := doRequest(t, srv, http.MethodPost, "/api/capabilities/"+capID+"/delegate",
		map[string]any{"delegatee": delegatee},
		map[string]string{"X-Caller-DID": issuer})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("issuer delegate: status = %d, want 403; body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/capabilities/"+capID+"/delegate",
		map[string]any{"delegatee": delegatee, "actions": []string{"read"}},
		map[string]string{"X-Caller-DID": subject})
	if rec.Code != http.StatusCreated {
		t.Fatalf("delegate: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	del := decodeMap(t, rec)
	if del["delegatee"] != delegatee {
		t.Errorf("delegatee = %v, want %v", del["delegatee"], delegatee)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/capabilities/"+capID+"/delegations", nil, nil)
	dels := decodeMap(t, rec)["delegations"].([]any)
	if len(dels) != 1 {
		t.Errorf("listed %d delegations, want 1", len(dels))
	}
}

func TestVerifyRateLimit_PerHost(t *testing.T) {
	srv := setupTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"token": "x", "action": "read", "resource": "r",
	})

	// Each request arrives on a fresh TCP connection (new ephemeral port);
	// the limit still applies per host.
	limited := false
	for i := 0; i < 130; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/capabilities/verify", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = fmt.Sprintf("10.0.0.1:%d", 20000+i)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("rotating source ports were never rate limited")
	}

	// A different host has its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/api/capabilities/verify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.2:20000"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code == http.StatusTooManyRequests {
		t.Error("distinct host shares the exhausted bucket")
	}

	// So does a proxied client identified by X-Forwarded-For.
	req = httptest.NewRequest(http.MethodPost, "/api/capabilities/verify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.RemoteAddr = "10.0.0.1:20500"
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code == http.StatusTooManyRequests {
		t.Error("forwarded client shares the proxy host's bucket")
	}
}

func TestListCapabilities(t *testing.T) {
	srv := setupTestServer(t)
	issuer := agentField(t, createTestAgent(t, srv, "issuer"), "did")
	subjectA := agentField(t, createTestAgent(t, srv, "subject-a"), "did")
	subjectB := agentField(t, createTestAgent(t, srv, "subject-b"), "did")

	issueTestCapability(t, srv, issuer, subjectA, []string{"read"}, []string{"*"})
	issueTestCapability(t, srv, issuer, subjectB, []string{"read"}, []string{"*"})

	rec := doRequest(t, srv, http.MethodGet, "/api/capabilities?subject="+subjectA, nil, nil)
	caps := decodeMap(t, rec)["capabilities"].([]any)
	if len(caps) != 1 {
		t.Errorf("subject filter listed %d, want 1", len(caps))
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/capabilities?issuer="+issuer, nil, nil)
	caps = decodeMap(t, rec)["capabilities"].([]any)
	if len(caps) != 2 {
		t.Errorf("issuer filter listed %d, want 2", len(caps))
	}
}
