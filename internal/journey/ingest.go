package journey

import (
	"context"
	"fmt"

	"github.com/pathlight/contextd/internal/engine"
)

// FactWriter persists one key fact with its embedding.
type FactWriter interface {
	SaveFact(ctx context.Context, userID string, f Fact) (string, error)
}

// Ingestor writes key facts, embedding them at write time so retrieval only
// has to embed the query.
type Ingestor struct {
	store    FactWriter
	embedder Embedder
}

// NewIngestor creates a fact ingestor.
func NewIngestor(store FactWriter, embedder Embedder) *Ingestor {
	return &Ingestor{store: store, embedder: embedder}
}

// AddFact embeds and stores a key fact, returning its id.
func (i *Ingestor) AddFact(ctx context.Context, userID, milestoneID, content string) (string, error) {
	if i.store == nil {
		return "", fmt.Errorf("journey store not configured")
	}
	if userID == "" || milestoneID == "" || content == "" {
		return "", fmt.Errorf("%w: user id, milestone id and content are required", engine.ErrInvalidInput)
	}

	fact := Fact{MilestoneID: milestoneID, Content: content}
	if i.embedder != nil {
		vectors, err := i.embedder.Embed(ctx, []string{content})
		if err == nil && len(vectors) > 0 {
			fact.Embedding = vectors[0]
		}
		// A failed embedding is not fatal: the fact is still stored and
		// retrieval falls back to keyword scoring for it.
	}
	return i.store.SaveFact(ctx, userID, fact)
}
