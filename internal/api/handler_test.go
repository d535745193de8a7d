package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pathlight/contextd/internal/cache"
	"github.com/pathlight/contextd/internal/embedding"
	"github.com/pathlight/contextd/internal/engine"
	"github.com/pathlight/contextd/internal/journey"
	"github.com/pathlight/contextd/internal/knowledge"
	"github.com/pathlight/contextd/internal/milestone"
	"github.com/pathlight/contextd/internal/session"
	"github.com/pathlight/contextd/internal/vectorstore"
	"go.uber.org/zap"
)

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// stubRetriever serves fixed items for one layer.
type stubRetriever struct {
	layer engine.Layer
	items []engine.ContextItem
}

func (s *stubRetriever) Layer() engine.Layer { return s.layer }

func (s *stubRetriever) Retrieve(ctx context.Context, req engine.Request) ([]engine.ContextItem, error) {
	return s.items, nil
}

// stubSearcher records upserts and returns nothing from search.
type stubSearcher struct {
	upserts int
}

func (s *stubSearcher) Search(ctx context.Context, vector []float32, milestoneID string, limit int, threshold float64) ([]vectorstore.Hit, error) {
	return nil, nil
}

func (s *stubSearcher) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	s.upserts++
	return nil
}

// stubFactWriter records saved facts.
type stubFactWriter struct {
	saved int
}

func (s *stubFactWriter) SaveFact(ctx context.Context, userID string, f journey.Fact) (string, error) {
	s.saved++
	return "fact-1", nil
}

// newTestHandler wires a Handler with in-memory deps (no Postgres/Redis/Qdrant).
func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	logger := zap.NewNop()

	sessions := session.NewMemoryStore(session.Options{MaxTokens: 800, Count: wordCount})
	embedder := embedding.NewHashingProvider(64)

	jour := &stubRetriever{layer: engine.LayerJourney, items: []engine.ContextItem{
		{
			Layer:           engine.LayerJourney,
			Content:         "picked a niche last week",
			SourceTimestamp: time.Now().Add(-48 * time.Hour),
			RelevanceScore:  0.7,
			TokenCount:      5,
		},
	}}
	know := &stubRetriever{layer: engine.LayerKnowledge}

	agg, err := engine.NewAggregator(
		session.NewRetriever(sessions, wordCount),
		jour,
		know,
		cache.NewMemory(time.Minute),
		engine.Options{Budget: engine.DefaultBudget()},
		logger,
	)
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}

	graph, err := milestone.NewGraph([]string{"M0", "M1", "M2"}, map[string][]string{
		"M1": {"M0"},
		"M2": {"M1"},
	})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	resolver := milestone.NewResolver(graph, agg, logger)

	kn := knowledge.NewRetriever(&stubSearcher{}, embedder, wordCount, knowledge.Options{})
	facts := journey.NewIngestor(&stubFactWriter{}, embedder)

	h := NewHandler(agg, sessions, resolver, graph, kn, facts, logger)
	return h, h.Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestAggregateContextEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Seed one session turn, then aggregate.
	resp := postJSON(t, ts, "/api/sessions/turns", map[string]string{
		"user_id":    "u1",
		"session_id": "s1",
		"role":       "user",
		"content":    "what should I do next",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("append status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/context", map[string]string{
		"user_id":      "u1",
		"session_id":   "s1",
		"milestone_id": "M1",
		"query":        "next step",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("aggregate status = %d", resp.StatusCode)
	}

	var agg engine.AggregatedContext
	decodeJSON(t, resp, &agg)
	if agg.TotalTokens <= 0 {
		t.Errorf("total tokens = %d, want positive", agg.TotalTokens)
	}
	if agg.TotalTokens > engine.DefaultBudget().TotalTokens {
		t.Errorf("total tokens %d exceed budget", agg.TotalTokens)
	}

	var hasSession, hasJourney bool
	for _, it := range agg.Items {
		switch it.Layer {
		case engine.LayerSession:
			hasSession = true
		case engine.LayerJourney:
			hasJourney = true
		}
	}
	if !hasSession || !hasJourney {
		t.Errorf("layers missing from payload: session=%v journey=%v", hasSession, hasJourney)
	}
}

func TestAggregateContextInvalidInput(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/context", map[string]string{
		"session_id":   "s1",
		"milestone_id": "M1",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAppendTurnValidation(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/sessions/turns", map[string]string{
		"user_id": "u1",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTransitionEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/transitions", map[string]string{
		"user_id": "u1",
		"from":    "M1",
		"to":      "M2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var bundle milestone.TransitionBundle
	decodeJSON(t, resp, &bundle)
	if !bundle.Prewarmed {
		t.Error("transition not prewarmed")
	}
	if len(bundle.Required) != 2 {
		t.Errorf("required = %v, want [M0 M1]", bundle.Required)
	}
}

func TestTransitionUnknownMilestone(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/transitions", map[string]string{
		"user_id": "u1",
		"to":      "M99",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMilestoneDependenciesEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/milestones/M2/dependencies")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Milestone string   `json:"milestone"`
		Required  []string `json:"required"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Required) != 2 {
		t.Errorf("required = %v, want [M0 M1]", body.Required)
	}

	resp = getJSON(t, ts, "/api/milestones/M99/dependencies")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown milestone status = %d, want 404", resp.StatusCode)
	}
}

func TestIndexKnowledgeEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/knowledge", map[string]string{
		"milestone_id": "M1",
		"content":      "how to run customer interviews",
		"source":       "handbook",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["id"] == "" {
		t.Error("no chunk id returned")
	}
}

func TestAddFactEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/journey/facts", map[string]string{
		"user_id":      "u1",
		"milestone_id": "M1",
		"content":      "decided on a subscription model",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["id"] != "fact-1" {
		t.Errorf("id = %q", body["id"])
	}
}
