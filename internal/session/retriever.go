package session

import (
	"context"
	"fmt"

	"github.com/pathlight/contextd/internal/engine"
)

// Retriever adapts a Store into the session layer of the engine. Turns come
// back newest-first: when the window exceeds its layer budget, the most
// recent exchanges win.
type Retriever struct {
	store Store
	count func(string) int
}

// NewRetriever creates the session layer retriever.
func NewRetriever(store Store, count func(string) int) *Retriever {
	return &Retriever{store: store, count: count}
}

// Layer implements engine.Retriever.
func (r *Retriever) Layer() engine.Layer {
	return engine.LayerSession
}

// Retrieve returns the live window as context items, newest first.
func (r *Retriever) Retrieve(ctx context.Context, req engine.Request) ([]engine.ContextItem, error) {
	if req.SessionID == "" {
		return nil, nil
	}
	if r.store == nil {
		return nil, fmt.Errorf("session store not configured")
	}
	w, err := r.store.Get(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session window: %w", err)
	}

	items := make([]engine.ContextItem, 0, len(w.Turns))
	for i := len(w.Turns) - 1; i >= 0; i-- {
		t := w.Turns[i]
		content := t.Role + ": " + t.Content
		items = append(items, engine.ContextItem{
			Layer:           engine.LayerSession,
			Content:         content,
			SourceTimestamp: t.Timestamp,
			RelevanceScore:  1.0,
			TokenCount:      r.count(content),
		})
	}
	return items, nil
}
