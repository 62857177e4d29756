package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/classroom-relay/relay/internal/logger"
	"github.com/classroom-relay/relay/internal/store"
)

type AnswerStore interface {
	GetAnswerByQuery(ctx context.Context, query string) (*store.Answer, error)
	CreateAnswer(ctx context.Context, answer *store.Answer) (bool, error)
}

// AnswerTier is a fast cache in front of the answers table.
type AnswerTier interface {
	Name() string
	Get(ctx context.Context, query string) (string, bool, error)
	Set(ctx context.Context, query, answer string) error
}

// AnswerCache reads through its tiers, then the answers table. Tiers are
// optional and best-effort; the table is the source of truth.
type AnswerCache struct {
	store AnswerStore
	tiers []AnswerTier
	log   *logger.Logger
}

func NewAnswerCache(s AnswerStore, log *logger.Logger, tiers ...AnswerTier) *AnswerCache {
	return &AnswerCache{store: s, tiers: tiers, log: log}
}

// Lookup matches the query text exactly.
func (c *AnswerCache) Lookup(ctx context.Context, query string) (string, bool, error) {
	for i, tier := range c.tiers {
		answer, found, err := tier.Get(ctx, query)
		if err != nil {
			c.log.Warn("Answer cache tier failed, falling through", "tier", tier.Name(), "error", err)
			continue
		}
		if found {
			c.fill(ctx, c.tiers[:i], query, answer)
			return answer, true, nil
		}
	}

	row, err := c.store.GetAnswerByQuery(ctx, query)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to look up cached answer: %w", err)
	}
	c.fill(ctx, c.tiers, query, row.Answers)
	return row.Answers, true, nil
}

// Store records the answer for query. When a row already exists it is kept
// and the tiers are filled with that answer instead.
func (c *AnswerCache) Store(ctx context.Context, query, answer string) error {
	inserted, err := c.store.CreateAnswer(ctx, &store.Answer{Query: query, Answers: answer})
	if err != nil {
		return fmt.Errorf("failed to store answer: %w", err)
	}
	if !inserted {
		existing, err := c.store.GetAnswerByQuery(ctx, query)
		if err != nil {
			c.log.Warn("Answer row vanished after conflict", "error", err)
			return nil
		}
		answer = existing.Answers
	}
	c.fill(ctx, c.tiers, query, answer)
	return nil
}

func (c *AnswerCache) fill(ctx context.Context, tiers []AnswerTier, query, answer string) {
	for _, tier := range tiers {
		if err := tier.Set(ctx, query, answer); err != nil {
			c.log.Warn("Failed to fill answer cache tier", "tier", tier.Name(), "error", err)
		}
	}
}
