// Package facts extracts and stores durable user travel preferences.
package facts

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/tripmind/internal/domain"
	"github.com/ashureev/tripmind/internal/store"
)

const table = "user_facts"

var (
	conflictKeys = []string{"user_id", "category"}
	updateFields = []string{"fact_text", "updated_at"}
)

// Store persists facts, one per (user, category).
type Store struct {
	repo store.Repository
	now  func() time.Time
}

// NewStore returns a fact store over repo.
func NewStore(repo store.Repository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// Save upserts facts; a fact replaces the text of an existing fact with
// the same user and category.
func (s *Store) Save(ctx context.Context, facts []domain.Fact) error {
	now := s.now().Unix()
	records := make([]store.Record, 0, len(facts))
	for _, f := range facts {
		records = append(records, store.Record{
			"user_id":    f.UserID,
			"category":   f.Category,
			"fact_text":  f.FactText,
			"created_at": now,
			"updated_at": now,
		})
	}
	if err := s.repo.Upsert(ctx, table, records, conflictKeys, updateFields); err != nil {
		return fmt.Errorf("save facts: %w", err)
	}
	return nil
}

// List returns a user's facts in insertion order.
func (s *Store) List(ctx context.Context, userID string) ([]domain.Fact, error) {
	rows, err := s.repo.Query(ctx, table, store.Filter{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("list facts of %s: %w", userID, err)
	}
	out := make([]domain.Fact, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Fact{
			UserID:   text(r["user_id"]),
			Category: text(r["category"]),
			FactText: text(r["fact_text"]),
		})
	}
	return out, nil
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
