package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pathlight/contextd/internal/journey"
)

// FetchFacts returns the user's key facts restricted to the given
// milestones, newest first. The query string does not filter here; semantic
// scoring happens in the journey layer so the rule stays in one place.
func (s *Store) FetchFacts(ctx context.Context, userID string, milestoneIDs []string, query string) ([]journey.Fact, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, milestone_id, content, embedding, created_at
		FROM journey_facts
		WHERE user_id = $1 AND milestone_id = ANY($2)
		ORDER BY created_at DESC`,
		userID, milestoneIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch facts: %w", err)
	}
	defer rows.Close()

	var facts []journey.Fact
	for rows.Next() {
		var f journey.Fact
		if err := rows.Scan(&f.ID, &f.MilestoneID, &f.Content, &f.Embedding, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch facts: %w", err)
	}
	return facts, nil
}

// SaveFact stores one key fact with its embedding for later retrieval.
func (s *Store) SaveFact(ctx context.Context, userID string, f journey.Fact) (string, error) {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO journey_facts (id, user_id, milestone_id, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, userID, f.MilestoneID, f.Content, f.Embedding, f.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("save fact: %w", err)
	}
	return f.ID, nil
}
