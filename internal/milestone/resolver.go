package milestone

import (
	"context"
	"fmt"
	"time"

	"github.com/pathlight/contextd/internal/engine"
	"go.uber.org/zap"
)

// Prewarmer primes the aggregate cache for a user and milestone. The
// context aggregator implements this.
type Prewarmer interface {
	Prewarm(ctx context.Context, userID, milestoneID string) error
}

// TransitionBundle describes a completed milestone transition and what was
// prepared for the next one.
type TransitionBundle struct {
	UserID      string    `json:"user_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Required    []string  `json:"required"`
	Prewarmed   bool      `json:"prewarmed"`
	PreparedAt  time.Time `json:"prepared_at"`
}

// Resolver handles milestone transitions: when a user completes a milestone
// it resolves the next one's dependency set and pre-warms the journey
// context before their first message there.
type Resolver struct {
	graph     *Graph
	prewarmer Prewarmer
	logger    *zap.Logger
	now       func() time.Time
}

// NewResolver creates a transition resolver.
func NewResolver(graph *Graph, prewarmer Prewarmer, logger *zap.Logger) *Resolver {
	return &Resolver{graph: graph, prewarmer: prewarmer, logger: logger, now: time.Now}
}

// RequiredMilestones exposes the graph's transitive dependency lookup.
func (r *Resolver) RequiredMilestones(id string) ([]string, error) {
	return r.graph.RequiredMilestones(id)
}

// PrepareTransition validates the transition endpoints and pre-fetches the
// next milestone's context into the cache. A pre-warm failure is logged,
// not returned: the transition itself has already happened.
func (r *Resolver) PrepareTransition(ctx context.Context, userID, from, to string) (TransitionBundle, error) {
	if userID == "" || to == "" {
		return TransitionBundle{}, fmt.Errorf("%w: user and target milestone ids are required", engine.ErrInvalidInput)
	}
	if from != "" && !r.graph.Contains(from) {
		return TransitionBundle{}, fmt.Errorf("%w: unknown milestone %q", engine.ErrInvalidInput, from)
	}
	if !r.graph.Contains(to) {
		return TransitionBundle{}, fmt.Errorf("%w: unknown milestone %q", engine.ErrInvalidInput, to)
	}

	required, err := r.graph.RequiredMilestones(to)
	if err != nil {
		return TransitionBundle{}, err
	}

	bundle := TransitionBundle{
		UserID:     userID,
		From:       from,
		To:         to,
		Required:   required,
		PreparedAt: r.now(),
	}

	if r.prewarmer != nil {
		if err := r.prewarmer.Prewarm(ctx, userID, to); err != nil {
			r.logger.Warn("milestone pre-warm failed",
				zap.String("user", userID),
				zap.String("milestone", to),
				zap.Error(err))
		} else {
			bundle.Prewarmed = true
		}
	}
	return bundle, nil
}
