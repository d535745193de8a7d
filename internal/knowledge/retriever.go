// Package knowledge is the reference-corpus layer: similarity search over
// embedded chunks tagged by milestone.
package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pathlight/contextd/internal/engine"
	"github.com/pathlight/contextd/internal/vectorstore"
)

const (
	// DefaultLimit caps how many chunks one retrieval returns.
	DefaultLimit = 10
	// DefaultThreshold is the minimum cosine similarity kept.
	DefaultThreshold = 0.7
)

// Searcher is the filtered nearest-neighbor search the retriever consumes.
// The Qdrant client implements it.
type Searcher interface {
	Search(ctx context.Context, vector []float32, milestoneID string, limit int, threshold float64) ([]vectorstore.Hit, error)
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error
}

// Embedder turns text into vectors, shared with the journey layer.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Options tune retrieval.
type Options struct {
	Limit     int
	Threshold float64
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	return o
}

// Retriever is the knowledge layer. Results come back similarity-sorted by
// the store; this layer converts them into context items and never ranks by
// recency.
type Retriever struct {
	searcher Searcher
	embedder Embedder
	count    func(string) int
	opts     Options
	now      func() time.Time
}

// NewRetriever creates the knowledge layer retriever.
func NewRetriever(searcher Searcher, embedder Embedder, count func(string) int, opts Options) *Retriever {
	return &Retriever{
		searcher: searcher,
		embedder: embedder,
		count:    count,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// Layer implements engine.Retriever.
func (r *Retriever) Layer() engine.Layer {
	return engine.LayerKnowledge
}

// Retrieve embeds the query and returns matching chunks above the
// similarity threshold, best first.
func (r *Retriever) Retrieve(ctx context.Context, req engine.Request) ([]engine.ContextItem, error) {
	if r.searcher == nil {
		return nil, fmt.Errorf("vector store not configured")
	}

	vectors, err := r.embedder.Embed(ctx, []string{req.Query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	hits, err := r.searcher.Search(ctx, vectors[0], req.MilestoneID, r.opts.Limit, r.opts.Threshold)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}

	items := make([]engine.ContextItem, 0, len(hits))
	for _, h := range hits {
		if float64(h.Score) < r.opts.Threshold {
			continue
		}
		content := h.Payload["content"]
		if content == "" {
			continue
		}
		items = append(items, engine.ContextItem{
			Layer:           engine.LayerKnowledge,
			Content:         content,
			SourceTimestamp: indexedAt(h.Payload, r.now()),
			RelevanceScore:  clamp01(float64(h.Score)),
			TokenCount:      r.count(content),
		})
	}
	return items, nil
}

// Index embeds a chunk and upserts it into the corpus under its milestone
// tag. This is the ingestion path the retrieval side searches.
func (r *Retriever) Index(ctx context.Context, milestoneID, content, source string) (string, error) {
	if r.searcher == nil {
		return "", fmt.Errorf("vector store not configured")
	}
	if content == "" {
		return "", fmt.Errorf("%w: content is required", engine.ErrInvalidInput)
	}

	vectors, err := r.embedder.Embed(ctx, []string{content})
	if err != nil {
		return "", fmt.Errorf("embed chunk: %w", err)
	}
	if len(vectors) == 0 {
		return "", fmt.Errorf("empty embedding result")
	}

	id := uuid.New().String()
	payload := map[string]string{
		"content":      content,
		"milestone_id": milestoneID,
		"source":       source,
		"indexed_at":   r.now().UTC().Format(time.RFC3339),
	}
	if err := r.searcher.Upsert(ctx, id, vectors[0], payload); err != nil {
		return "", fmt.Errorf("upsert chunk: %w", err)
	}
	return id, nil
}

func indexedAt(payload map[string]string, fallback time.Time) time.Time {
	if ts, err := time.Parse(time.RFC3339, payload["indexed_at"]); err == nil {
		return ts
	}
	return fallback
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
