package engine

import "time"

// Layer identifies which source produced a piece of context.
type Layer string

const (
	LayerSession   Layer = "session"
	LayerJourney   Layer = "journey"
	LayerKnowledge Layer = "knowledge"
)

// Layers lists all layers in merge order.
var Layers = []Layer{LayerSession, LayerJourney, LayerKnowledge}

// ContextItem is a single retrieved piece of context. Immutable once produced.
type ContextItem struct {
	Layer           Layer     `json:"layer"`
	Content         string    `json:"content"`
	SourceTimestamp time.Time `json:"source_timestamp"`
	RelevanceScore  float64   `json:"relevance_score"` // 0..1
	TokenCount      int       `json:"token_count"`
}

// Budget caps the assembled context size and splits it across layers.
type Budget struct {
	TotalTokens int               `json:"total_tokens"`
	LayerShare  map[Layer]float64 `json:"layer_share"`
}

// shareEpsilon is the tolerance when checking that layer shares sum to 1.0.
const shareEpsilon = 1e-6

// DefaultBudget returns the standard 4000-token budget with the
// 20/50/30 session/journey/knowledge split.
func DefaultBudget() Budget {
	return Budget{
		TotalTokens: 4000,
		LayerShare: map[Layer]float64{
			LayerSession:   0.20,
			LayerJourney:   0.50,
			LayerKnowledge: 0.30,
		},
	}
}

// LayerBudget returns floor(TotalTokens * share) for the given layer.
func (b Budget) LayerBudget(l Layer) int {
	return int(float64(b.TotalTokens) * b.LayerShare[l])
}

// Validate checks the budget invariants: a positive total, non-negative
// shares for known layers only, summing to 1.0 within epsilon.
func (b Budget) Validate() error {
	if b.TotalTokens <= 0 {
		return Configf("budget total must be positive, got %d", b.TotalTokens)
	}
	known := map[Layer]bool{LayerSession: true, LayerJourney: true, LayerKnowledge: true}
	sum := 0.0
	for l, share := range b.LayerShare {
		if !known[l] {
			return Configf("unknown layer %q in budget shares", l)
		}
		if share < 0 {
			return Configf("negative share %f for layer %q", share, l)
		}
		sum += share
	}
	if sum < 1.0-shareEpsilon || sum > 1.0+shareEpsilon {
		return Configf("layer shares must sum to 1.0, got %f", sum)
	}
	return nil
}

// AggregatedContext is the final token-bounded payload for one LLM call.
// It is a value object: built once per request (or served from cache) and
// never mutated afterwards.
type AggregatedContext struct {
	Items       []ContextItem `json:"items"`
	TotalTokens int           `json:"total_tokens"`
	LayerTokens map[Layer]int `json:"layer_tokens"`
	Degraded    []Layer       `json:"degraded"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// IsDegraded reports whether the given layer fell back to empty or stale data.
func (a AggregatedContext) IsDegraded(l Layer) bool {
	for _, d := range a.Degraded {
		if d == l {
			return true
		}
	}
	return false
}

// Request carries the identifiers for one aggregation call.
type Request struct {
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	MilestoneID string `json:"milestone_id"`
	Query       string `json:"query"`
}
