//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("CONTEXTD_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func post(t *testing.T, path string, payload any) (int, []byte) {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp.StatusCode, raw
}

func TestSessionTurnRoundTrip(t *testing.T) {
	status, raw := post(t, "/api/sessions/turns", map[string]string{
		"user_id":    "smoke-test",
		"session_id": "smoke-session",
		"role":       "user",
		"content":    "I finished my market research this morning",
	})
	if status != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", status, raw)
	}
}

func TestAggregateAfterTurn(t *testing.T) {
	status, _ := post(t, "/api/sessions/turns", map[string]string{
		"user_id":    "smoke-test",
		"session_id": "smoke-session",
		"role":       "user",
		"content":    "what should I work on next",
	})
	if status != http.StatusCreated {
		t.Fatalf("append status %d", status)
	}

	status, raw := post(t, "/api/context", map[string]string{
		"user_id":      "smoke-test",
		"session_id":   "smoke-session",
		"milestone_id": "M1",
		"query":        "next step",
	})
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", status, raw)
	}

	var agg struct {
		Items       []json.RawMessage `json:"items"`
		TotalTokens int               `json:"total_tokens"`
		Degraded    []string          `json:"degraded"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		t.Fatalf("unmarshal response: %v (body: %s)", err, raw)
	}
	if agg.TotalTokens <= 0 {
		t.Errorf("expected session turns to produce tokens, got %d", agg.TotalTokens)
	}
	t.Logf("items=%d tokens=%d degraded=%v", len(agg.Items), agg.TotalTokens, agg.Degraded)
}

func TestTransitionPrewarm(t *testing.T) {
	status, raw := post(t, "/api/transitions", map[string]string{
		"user_id": "smoke-test",
		"from":    "M1",
		"to":      "M2",
	})
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", status, raw)
	}

	var bundle struct {
		Required  []string `json:"required"`
		Prewarmed bool     `json:"prewarmed"`
	}
	if err := json.Unmarshal(raw, &bundle); err != nil {
		t.Fatalf("unmarshal response: %v (body: %s)", err, raw)
	}
	if len(bundle.Required) == 0 {
		t.Error("expected non-empty dependency set for M2")
	}
	t.Logf("required=%v prewarmed=%v", bundle.Required, bundle.Prewarmed)
}

func TestAggregateRejectsMissingUser(t *testing.T) {
	status, raw := post(t, "/api/context", map[string]string{
		"session_id":   "smoke-session",
		"milestone_id": "M1",
	})
	if status != http.StatusBadRequest {
		t.Errorf("unexpected status %d: %s", status, raw)
	}
}
