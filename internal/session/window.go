// Package session holds the bounded, time-expiring record of the current
// conversation: at most ten turns per (user, session), FIFO-evicted and
// trimmed down to the session layer's token share.
package session

import (
	"context"
	"time"
)

const (
	// DefaultMaxTurns is the turn capacity of a window.
	DefaultMaxTurns = 10
	// DefaultTTL is how long a window survives without activity.
	DefaultTTL = time.Hour
)

// Turn is a single conversation exchange entry.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Window is the ordered record of recent turns, oldest first.
type Window struct {
	Turns []Turn `json:"turns"`
}

// Store is the conversation window store. Unavailability is non-fatal for
// the engine: the session layer degrades to an empty window upstream.
type Store interface {
	Append(ctx context.Context, userID, sessionID string, turn Turn) error
	Get(ctx context.Context, userID, sessionID string) (Window, error)
}

// Options configure a store's window invariants.
type Options struct {
	MaxTurns  int
	MaxTokens int
	TTL       time.Duration
	Count     func(string) int
}

func (o Options) withDefaults() Options {
	if o.MaxTurns <= 0 {
		o.MaxTurns = DefaultMaxTurns
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	return o
}

// Clamp enforces the window invariants: at most maxTurns entries (oldest
// evicted first), then content trimmed turn-by-turn from the oldest
// remaining entry until the token cap is satisfied. A nil count or
// non-positive cap skips token trimming.
func Clamp(w Window, maxTurns, maxTokens int, count func(string) int) Window {
	turns := make([]Turn, len(w.Turns))
	copy(turns, w.Turns)

	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	if maxTokens <= 0 || count == nil {
		return Window{Turns: turns}
	}

	tokens := make([]int, len(turns))
	total := 0
	for i, t := range turns {
		tokens[i] = count(t.Content)
		total += tokens[i]
	}

	for i := 0; i < len(turns) && total > maxTokens; i++ {
		overflow := total - maxTokens
		if tokens[i] <= overflow {
			total -= tokens[i]
			tokens[i] = 0
			turns[i].Content = ""
			continue
		}
		turns[i].Content = truncate(turns[i].Content, tokens[i]-overflow, count)
		kept := count(turns[i].Content)
		total += kept - tokens[i]
		tokens[i] = kept
	}

	kept := turns[:0]
	for _, t := range turns {
		if t.Content != "" {
			kept = append(kept, t)
		}
	}
	return Window{Turns: kept}
}

// truncate cuts content down to at most target tokens. It makes a
// proportional first cut and then shaves until the count fits.
func truncate(content string, target int, count func(string) int) string {
	if target <= 0 {
		return ""
	}
	have := count(content)
	if have <= target {
		return content
	}
	runes := []rune(content)
	keep := len(runes) * target / have
	for keep > 0 {
		s := string(runes[:keep])
		if count(s) <= target {
			return s
		}
		keep -= keep/8 + 1
	}
	return ""
}
