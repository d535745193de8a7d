// Package journey retrieves relevance-ranked key facts from the user's
// durable history, restricted to the current milestone and its dependency
// set.
package journey

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pathlight/contextd/internal/engine"
	"go.uber.org/zap"
)

// neutralRelevance is used when there is no query to score against, so
// recency alone decides ordering (pre-warm and first-message calls).
const neutralRelevance = 0.5

// Fact is one stored piece of per-user history. Embeddings are computed at
// write time and stored alongside, so retrieval only embeds the query.
type Fact struct {
	ID          string
	MilestoneID string
	Content     string
	Embedding   []float32
	CreatedAt   time.Time
}

// FactStore fetches stored key facts for a user, restricted to milestones.
type FactStore interface {
	FetchFacts(ctx context.Context, userID string, milestoneIDs []string, query string) ([]Fact, error)
}

// Resolver maps a milestone to the prior milestones whose data feeds it.
type Resolver interface {
	RequiredMilestones(milestoneID string) ([]string, error)
}

// Embedder turns text into vectors, shared with the knowledge layer.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever is the journey layer: dependency resolution, fact fetch,
// relevance times recency scoring, priority-descending order. It returns
// everything; truncation happens centrally in the aggregator.
type Retriever struct {
	facts    FactStore
	resolver Resolver
	embedder Embedder
	count    func(string) int
	logger   *zap.Logger
	now      func() time.Time
}

// NewRetriever creates the journey layer retriever.
func NewRetriever(facts FactStore, resolver Resolver, embedder Embedder, count func(string) int, logger *zap.Logger) *Retriever {
	return &Retriever{
		facts:    facts,
		resolver: resolver,
		embedder: embedder,
		count:    count,
		logger:   logger,
		now:      time.Now,
	}
}

// Layer implements engine.Retriever.
func (r *Retriever) Layer() engine.Layer {
	return engine.LayerJourney
}

// Retrieve returns the user's scored facts for the milestone and its
// dependencies, sorted by priority descending.
func (r *Retriever) Retrieve(ctx context.Context, req engine.Request) ([]engine.ContextItem, error) {
	if r.facts == nil {
		return nil, fmt.Errorf("journey store not configured")
	}

	deps, err := r.resolver.RequiredMilestones(req.MilestoneID)
	if err != nil {
		return nil, fmt.Errorf("resolve milestones: %w", err)
	}
	ids := append(deps, req.MilestoneID)

	facts, err := r.facts.FetchFacts(ctx, req.UserID, ids, req.Query)
	if err != nil {
		return nil, fmt.Errorf("fetch facts: %w", err)
	}
	if len(facts) == 0 {
		return nil, nil
	}

	qvec := r.queryVector(ctx, req.Query)
	now := r.now()

	type scored struct {
		item     engine.ContextItem
		priority float64
	}
	items := make([]scored, 0, len(facts))
	for _, f := range facts {
		rel := r.relevance(req.Query, qvec, f)
		it := engine.ContextItem{
			Layer:           engine.LayerJourney,
			Content:         f.Content,
			SourceTimestamp: f.CreatedAt,
			RelevanceScore:  rel,
			TokenCount:      r.count(f.Content),
		}
		items = append(items, scored{
			item:     it,
			priority: rel * engine.RecencyWeight(f.CreatedAt, now),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].priority != items[j].priority {
			return items[i].priority > items[j].priority
		}
		return items[i].item.SourceTimestamp.After(items[j].item.SourceTimestamp)
	})

	out := make([]engine.ContextItem, len(items))
	for i, s := range items {
		out[i] = s.item
	}
	return out, nil
}

// queryVector embeds the query once per request. Embedding failure is not
// fatal: scoring falls back to keyword overlap.
func (r *Retriever) queryVector(ctx context.Context, query string) []float32 {
	if query == "" || r.embedder == nil {
		return nil
	}
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		r.logger.Warn("query embedding failed, falling back to keyword scoring", zap.Error(err))
		return nil
	}
	return vectors[0]
}

// relevance scores one fact against the query in [0,1]. Cosine similarity
// over stored embeddings when available, keyword overlap otherwise, and a
// neutral score when there is no query at all.
func (r *Retriever) relevance(query string, qvec []float32, f Fact) float64 {
	if query == "" {
		return neutralRelevance
	}
	if qvec != nil && len(f.Embedding) == len(qvec) {
		return clamp01(cosine(qvec, f.Embedding))
	}
	return keywordSimilarity(tokenize(query), f.Content)
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
