package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pathlight/contextd/internal/engine"
	"go.uber.org/zap"
)

func sampleContext() engine.AggregatedContext {
	return engine.AggregatedContext{
		Items: []engine.ContextItem{
			{
				Layer:           engine.LayerJourney,
				Content:         "finished the pricing draft",
				SourceTimestamp: time.Now().UTC().Truncate(time.Second),
				RelevanceScore:  0.8,
				TokenCount:      5,
			},
		},
		TotalTokens: 5,
		LayerTokens: map[engine.Layer]int{engine.LayerJourney: 5},
		GeneratedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	c := NewMemory(time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("hit on missing key")
	}

	want := sampleContext()
	c.Set("k1", want, time.Minute)

	got, ok := c.Get("k1")
	if !ok {
		t.Fatal("miss after set")
	}
	if got.TotalTokens != want.TotalTokens || len(got.Items) != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestMemoryExpiry(t *testing.T) {
	c := NewMemory(time.Minute)
	c.Set("k1", sampleContext(), 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("k1"); ok {
		t.Error("entry survived its TTL")
	}
}

func TestRedisRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedis("redis://"+mr.Addr(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer c.Close()

	if _, ok := c.Get("missing"); ok {
		t.Fatal("hit on missing key")
	}

	want := sampleContext()
	c.Set("k1", want, time.Minute)

	got, ok := c.Get("k1")
	if !ok {
		t.Fatal("miss after set")
	}
	if got.TotalTokens != want.TotalTokens {
		t.Errorf("total = %d, want %d", got.TotalTokens, want.TotalTokens)
	}
	if len(got.Items) != 1 || got.Items[0].Content != want.Items[0].Content {
		t.Errorf("items = %+v", got.Items)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok := c.Get("k1"); ok {
		t.Error("entry survived its TTL")
	}
}

func TestRedisUndecodableEntryIsMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedis("redis://"+mr.Addr(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer c.Close()

	mr.Set("bad", "{not json")
	if _, ok := c.Get("bad"); ok {
		t.Error("undecodable entry treated as hit")
	}
}
