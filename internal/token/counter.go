// Package token maps text to model-token counts. Counting is deterministic
// and side-effect free; an unknown model falls back to a default encoding
// instead of erroring so the aggregation pipeline stays non-fatal.
package token

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultEncoding is used when a model has no registered encoding.
const DefaultEncoding = "cl100k_base"

// Counter counts model tokens using tiktoken encodings, with a per-model
// encoder cache and a character-based estimate as the last-resort fallback
// when no encoding data is available at all.
type Counter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
	logger   *zap.Logger
}

// NewCounter creates a Counter.
func NewCounter(logger *zap.Logger) *Counter {
	return &Counter{
		encoders: make(map[string]*tiktoken.Tiktoken),
		logger:   logger,
	}
}

// Count returns the token count of text for the given model.
func (c *Counter) Count(text, modelID string) int {
	if text == "" {
		return 0
	}
	enc := c.encoderFor(modelID)
	if enc == nil {
		return estimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// ForModel binds the counter to one model, for callers that count a lot of
// text against a single tokenizer.
func (c *Counter) ForModel(modelID string) func(string) int {
	return func(text string) int {
		return c.Count(text, modelID)
	}
}

func (c *Counter) encoderFor(modelID string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encoders[modelID]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		enc, err = tiktoken.GetEncoding(DefaultEncoding)
	}
	if err != nil {
		c.logger.Warn("tokenizer unavailable, using character estimate",
			zap.String("model", modelID),
			zap.Error(err))
	}
	// Cache nil results too so a missing encoding is resolved once.
	c.encoders[modelID] = enc
	return enc
}

// estimate approximates tokens as one per four characters, which is close
// enough for budget enforcement when no encoding data can be loaded.
func estimate(text string) int {
	return (len(text) + 3) / 4
}
