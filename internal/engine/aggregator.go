package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Retriever produces priority-ordered items for a single layer. Items must
// come back sorted best-first; truncation happens centrally in the merge.
type Retriever interface {
	Layer() Layer
	Retrieve(ctx context.Context, req Request) ([]ContextItem, error)
}

// Cache stores assembled durable-layer contexts under short TTLs. Writes are
// idempotent; last-writer-wins is fine because results for the same key are
// computed from the same inputs.
type Cache interface {
	Get(key string) (AggregatedContext, bool)
	Set(key string, value AggregatedContext, ttl time.Duration)
}

// Options tune the aggregator.
type Options struct {
	Budget         Budget
	FanoutDeadline time.Duration
	CacheTTL       time.Duration
}

const (
	defaultFanoutDeadline = 3 * time.Second
	defaultCacheTTL       = 5 * time.Minute

	// roundingSlack is the largest overflow attributable to flooring and
	// the share epsilon; anything beyond it is a budget violation.
	roundingSlack = 8
)

// Aggregator assembles the token-budgeted context for one chat turn. It fans
// out to the three layer retrievers under a shared deadline, applies per-layer
// token allocation, and owns the short-TTL cache of durable layers.
type Aggregator struct {
	budget   Budget
	deadline time.Duration
	cacheTTL time.Duration

	session   Retriever
	journey   Retriever
	knowledge Retriever
	cache     Cache

	group  singleflight.Group
	logger *zap.Logger
	now    func() time.Time

	degradedEvents atomic.Int64
}

// NewAggregator wires the three retrievers and the cache into an engine.
// The budget is validated here; a bad one is a startup error.
func NewAggregator(session, journey, knowledge Retriever, cache Cache, opts Options, logger *zap.Logger) (*Aggregator, error) {
	if session == nil || journey == nil || knowledge == nil {
		return nil, Configf("all three layer retrievers are required")
	}
	if cache == nil {
		return nil, Configf("cache is required")
	}
	if err := opts.Budget.Validate(); err != nil {
		return nil, err
	}
	if opts.FanoutDeadline <= 0 {
		opts.FanoutDeadline = defaultFanoutDeadline
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	return &Aggregator{
		budget:    opts.Budget,
		deadline:  opts.FanoutDeadline,
		cacheTTL:  opts.CacheTTL,
		session:   session,
		journey:   journey,
		knowledge: knowledge,
		cache:     cache,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Budget returns the configured budget.
func (a *Aggregator) Budget() Budget {
	return a.budget
}

// DegradedEvents returns how many layer retrievals have degraded since start.
func (a *Aggregator) DegradedEvents() int64 {
	return a.degradedEvents.Load()
}

// Aggregate assembles the context payload for one chat turn. It never returns
// an error for partial degradation, only for invalid input. Store failures
// and timeouts show up in the Degraded field of the result instead.
func (a *Aggregator) Aggregate(ctx context.Context, req Request) (AggregatedContext, error) {
	if req.UserID == "" || req.MilestoneID == "" {
		return AggregatedContext{}, fmt.Errorf("%w: user and milestone ids are required", ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, a.deadline)
	defer cancel()

	// The session layer is cheap and highly time-sensitive, so it is always
	// recomputed fresh, concurrently with the durable-layer lookup, even
	// when journey and knowledge come out of the cache.
	sessCh := a.retrieveAsync(ctx, a.session, req)

	durable := a.durableLayers(ctx, req)
	sess := a.await(ctx, LayerSession, sessCh)

	return a.assemble(sess, durable), nil
}

// Prewarm computes and caches the durable layers for a user and milestone
// ahead of their first message there, cutting first-message latency after a
// milestone transition. The milestone resolver calls this out-of-band.
func (a *Aggregator) Prewarm(ctx context.Context, userID, milestoneID string) error {
	if userID == "" || milestoneID == "" {
		return fmt.Errorf("%w: user and milestone ids are required", ErrInvalidInput)
	}
	ctx, cancel := context.WithTimeout(ctx, a.deadline)
	defer cancel()

	res := a.durableLayers(ctx, Request{UserID: userID, MilestoneID: milestoneID})
	if len(res.degraded) > 0 {
		return fmt.Errorf("prewarm incomplete, degraded layers: %v", res.degraded)
	}
	return nil
}

type layerResult struct {
	items []ContextItem
	err   error
}

// retrieveAsync starts one retrieval in its own goroutine and hands back the
// channel its result will arrive on.
func (a *Aggregator) retrieveAsync(ctx context.Context, r Retriever, req Request) <-chan layerResult {
	ch := make(chan layerResult, 1)
	go func() {
		items, err := r.Retrieve(ctx, req)
		ch <- layerResult{items: items, err: err}
	}()
	return ch
}

// await collects a retrieval result or gives up at the shared deadline. A
// retrieval still in flight when the deadline fires is abandoned and its
// layer marked degraded; the engine never blocks past the deadline.
func (a *Aggregator) await(ctx context.Context, layer Layer, ch <-chan layerResult) layerResult {
	select {
	case res := <-ch:
		if res.err != nil {
			a.markDegraded(layer, res.err)
			return layerResult{err: res.err}
		}
		return res
	case <-ctx.Done():
		a.markDegraded(layer, ctx.Err())
		return layerResult{err: ctx.Err()}
	}
}

func (a *Aggregator) markDegraded(layer Layer, cause error) {
	a.degradedEvents.Add(1)
	if layer == LayerJourney {
		// Journey carries the largest budget share; losing it hurts answer
		// quality the most, so it gets the loudest log line.
		a.logger.Warn("journey layer degraded, responses will lack user history",
			zap.Error(cause))
		return
	}
	a.logger.Warn("layer degraded",
		zap.String("layer", string(layer)),
		zap.Error(cause))
}

type durableResult struct {
	journey   []ContextItem
	knowledge []ContextItem
	degraded  []Layer
}

// durableLayers returns the journey and knowledge items for the request,
// either from the cache or via a single-flighted concurrent fan-out. The
// cache holds raw retriever output, not the final allocation, so the merge
// stays deterministic across hits and misses.
func (a *Aggregator) durableLayers(ctx context.Context, req Request) durableResult {
	key := cacheKey(req.UserID, req.MilestoneID, req.Query)

	if cached, ok := a.cache.Get(key); ok {
		return splitCached(cached)
	}

	ch := a.group.DoChan(key, func() (any, error) {
		// Detached from the caller so one request's cancellation cannot
		// poison concurrent callers sharing this flight.
		fanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.deadline)
		defer cancel()

		jCh := a.retrieveAsync(fanCtx, a.journey, req)
		kCh := a.retrieveAsync(fanCtx, a.knowledge, req)
		j := a.await(fanCtx, LayerJourney, jCh)
		k := a.await(fanCtx, LayerKnowledge, kCh)

		res := durableResult{journey: j.items, knowledge: k.items}
		if j.err != nil {
			res.degraded = append(res.degraded, LayerJourney)
		}
		if k.err != nil {
			res.degraded = append(res.degraded, LayerKnowledge)
		}

		// Degraded results are not cached: pinning an empty layer for the
		// full TTL would hide a store that has already recovered.
		if len(res.degraded) == 0 {
			a.cache.Set(key, a.toCacheable(res), a.cacheTTL)
		}
		return res, nil
	})

	// The flight is bounded by its own deadline: every await inside selects
	// on fanCtx.Done, so this receive cannot block materially past the
	// shared deadline even when the caller's context is already cancelled.
	out := <-ch
	return out.Val.(durableResult)
}

// toCacheable packs raw durable-layer items into the cache value type.
func (a *Aggregator) toCacheable(res durableResult) AggregatedContext {
	items := make([]ContextItem, 0, len(res.journey)+len(res.knowledge))
	items = append(items, res.journey...)
	items = append(items, res.knowledge...)
	layerTokens := map[Layer]int{}
	total := 0
	for _, it := range items {
		layerTokens[it.Layer] += it.TokenCount
		total += it.TokenCount
	}
	return AggregatedContext{
		Items:       items,
		TotalTokens: total,
		LayerTokens: layerTokens,
		GeneratedAt: a.now(),
	}
}

// splitCached unpacks a cached durable context back into per-layer items.
func splitCached(cached AggregatedContext) durableResult {
	var res durableResult
	for _, it := range cached.Items {
		switch it.Layer {
		case LayerJourney:
			res.journey = append(res.journey, it)
		case LayerKnowledge:
			res.knowledge = append(res.knowledge, it)
		}
	}
	res.degraded = append(res.degraded, cached.Degraded...)
	return res
}

// assemble applies per-layer token allocation and the global budget
// reconciliation, producing the final immutable payload.
func (a *Aggregator) assemble(sess layerResult, durable durableResult) AggregatedContext {
	now := a.now()

	perLayer := map[Layer][]ContextItem{
		LayerSession:   sess.items,
		LayerJourney:   durable.journey,
		LayerKnowledge: durable.knowledge,
	}

	degradedSet := map[Layer]bool{}
	if sess.err != nil {
		degradedSet[LayerSession] = true
	}
	for _, l := range durable.degraded {
		degradedSet[l] = true
	}

	// Greedy per-layer fill: items arrive priority-sorted; an item that does
	// not fit is skipped, not a stop condition, so smaller low-priority items
	// can fill gaps. Included items never reorder past one that already fit.
	var included []ContextItem
	layerTokens := map[Layer]int{}
	total := 0
	for _, l := range Layers {
		budget := a.budget.LayerBudget(l)
		used := 0
		for _, it := range perLayer[l] {
			if used+it.TokenCount > budget {
				continue
			}
			included = append(included, it)
			used += it.TokenCount
		}
		layerTokens[l] = used
		total += used
	}

	// Global reconciliation: flooring plus the share epsilon can leave the
	// combined layer caps a few tokens over budget. Trim the lowest-priority
	// included item until the total fits. Unused budget from degraded or
	// thin layers is never redistributed to the others.
	overflow := total - a.budget.TotalTokens
	if overflow > roundingSlack {
		a.logger.Error("budget invariant breached, forcing truncation",
			zap.Int("total", total),
			zap.Int("budget", a.budget.TotalTokens))
	}
	for total > a.budget.TotalTokens && len(included) > 0 {
		victim := 0
		for i := 1; i < len(included); i++ {
			if Priority(included[i], now) <= Priority(included[victim], now) {
				victim = i
			}
		}
		it := included[victim]
		included = append(included[:victim], included[victim+1:]...)
		layerTokens[it.Layer] -= it.TokenCount
		total -= it.TokenCount
	}

	var degraded []Layer
	for _, l := range Layers {
		if degradedSet[l] {
			degraded = append(degraded, l)
		}
	}

	return AggregatedContext{
		Items:       included,
		TotalTokens: total,
		LayerTokens: layerTokens,
		Degraded:    degraded,
		GeneratedAt: now,
	}
}

// cacheKey derives the cache key for the durable layers. The session layer
// is deliberately excluded: it is recomputed fresh on every call.
func cacheKey(userID, milestoneID, query string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(milestoneID))
	h.Write([]byte{0})
	h.Write([]byte(query))
	return "ctx:" + hex.EncodeToString(h.Sum(nil))
}
