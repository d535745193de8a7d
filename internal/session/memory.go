package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-node deployments and tests.
// Expiry is lazy: stale windows are dropped when next touched.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryEntry
	opts    Options
	now     func() time.Time
}

type memoryEntry struct {
	window     Window
	lastActive time.Time
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*memoryEntry),
		opts:    opts.withDefaults(),
		now:     time.Now,
	}
}

// Append adds a turn to the window, enforcing the turn and token caps.
func (s *MemoryStore) Append(ctx context.Context, userID, sessionID string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := windowKey(userID, sessionID)
	now := s.now()
	entry, ok := s.windows[key]
	if !ok || now.Sub(entry.lastActive) > s.opts.TTL {
		entry = &memoryEntry{}
		s.windows[key] = entry
	}
	entry.window.Turns = append(entry.window.Turns, turn)
	entry.window = Clamp(entry.window, s.opts.MaxTurns, s.opts.MaxTokens, s.opts.Count)
	entry.lastActive = now
	return nil
}

// Get returns the current window, or an empty one if none exists or the
// entry has expired.
func (s *MemoryStore) Get(ctx context.Context, userID, sessionID string) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := windowKey(userID, sessionID)
	entry, ok := s.windows[key]
	if !ok {
		return Window{}, nil
	}
	if s.now().Sub(entry.lastActive) > s.opts.TTL {
		delete(s.windows, key)
		return Window{}, nil
	}
	return entry.window, nil
}

func windowKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}
