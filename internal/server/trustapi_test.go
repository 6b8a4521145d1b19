package server

import (
	"net/http"
	"testing"
)

func TestCalculateTrustEndpoint(t *testing.T) {
	srv := setupTestServer(t)
	id := agentField(t, createTestAgent(t, srv, "scored"), "id")

	rec := doRequest(t, srv, http.MethodPost, "/api/agents/"+id+"/trust/calculate", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("calculate: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	record := decodeMap(t, rec)
	score, ok := record["score"].(float64)
	if !ok || score < 0 || score > 1 {
		t.Errorf("score = %v, want float in [0,1]", record["score"])
	}
	if _, ok := record["factors"].(map[string]any); !ok {
		t.Error("record has no factors breakdown")
	}

	// The calculation is reflected on the agent itself.
	rec = doRequest(t, srv, http.MethodGet, "/api/agents/"+id, nil, nil)
	agent := decodeMap(t, rec)
	if agent["trust_score"] != score {
		t.Errorf("agent trust_score = %v, want %v", agent["trust_score"], score)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/agents/"+id+"/trust/history", nil, nil)
	history := decodeMap(t, rec)["history"].([]any)
	if len(history) != 1 {
		t.Errorf("history has %d records, want 1", len(history))
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/agents/missing/trust/calculate", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing agent: status = %d, want 404", rec.Code)
	}
}

func TestAnomalyEndpoints(t *testing.T) {
	srv := setupTestServer(t)
	id := agentField(t, createTestAgent(t, srv, "watched"), "id")

	// A clean agent yields an empty JSON array, not null.
	rec := doRequest(t, srv, http.MethodPost, "/api/agents/"+id+"/anomalies/detect", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("detect clean: status = %d", rec.Code)
	}
	empty, ok := decodeMap(t, rec)["anomalies"].([]any)
	if !ok {
		t.Fatal("anomalies did not decode as an array")
	}
	if len(empty) != 0 {
		t.Fatalf("clean agent has %d anomalies, want 0", len(empty))
	}

	// Three rapid trust updates trip the manipulation heuristic.
	for i := 0; i < 3; i++ {
		rec := doRequest(t, srv, http.MethodPost, "/api/agents/"+id+"/activities",
			map[string]any{"type": "trust_score_updated", "description": "bump"}, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("append activity: status = %d", rec.Code)
		}
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/agents/"+id+"/anomalies/detect", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("detect: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	anomalies := decodeMap(t, rec)["anomalies"].([]any)
	if len(anomalies) != 1 {
		t.Fatalf("detected %d anomalies, want 1: %v", len(anomalies), anomalies)
	}
	anomaly := anomalies[0].(map[string]any)
	if anomaly["type"] != "trust_manipulation" {
		t.Errorf("type = %v, want trust_manipulation", anomaly["type"])
	}
	anomalyID := anomaly["id"].(string)

	rec = doRequest(t, srv, http.MethodGet, "/api/agents/"+id+"/anomalies?unresolved=true", nil, nil)
	if got := decodeMap(t, rec)["anomalies"].([]any); len(got) != 1 {
		t.Errorf("unresolved list has %d, want 1", len(got))
	}

	// Resolution is admin-only.
	rec = doRequest(t, srv, http.MethodPost, "/api/anomalies/"+anomalyID+"/resolve",
		map[string]any{"resolution": "false positive"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("resolve without secret: status = %d, want 401", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodPost, "/api/anomalies/"+anomalyID+"/resolve",
		map[string]any{"resolution": "false positive"},
		map[string]string{"X-Admin-Secret": "test-secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/agents/"+id+"/anomalies?unresolved=true", nil, nil)
	if got := decodeMap(t, rec)["anomalies"].([]any); len(got) != 0 {
		t.Errorf("unresolved list has %d after resolve, want 0", len(got))
	}

	// Missing resolution text is rejected.
	rec = doRequest(t, srv, http.MethodPost, "/api/anomalies/"+anomalyID+"/resolve",
		map[string]any{}, map[string]string{"X-Admin-Secret": "test-secret"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty resolution: status = %d, want 400", rec.Code)
	}
}
