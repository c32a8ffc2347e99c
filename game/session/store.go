// Package session owns the single-active-quest invariant and the lifecycle
// of progress records. Lookups go through an LRU cache; the same write paths
// that touch persistence invalidate it.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/questbot/core/logger"
	"github.com/m3rciful/questbot/game"
)

// Store mediates all PlayersQuest reads and writes.
type Store struct {
	progress game.ProgressStore
	content  game.ContentStore
	cache    *cache
	now      game.Clock
}

// Options tunes the store cache.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
	Clock     game.Clock
}

func NewStore(progress game.ProgressStore, content game.ContentStore, opts Options) (*Store, error) {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	c, err := newCache(opts.CacheSize, opts.CacheTTL, now)
	if err != nil {
		return nil, err
	}
	return &Store{progress: progress, content: content, cache: c, now: now}, nil
}

// ActiveQuest returns the player's single active record. More than one
// active row is an invariant violation: the earliest-created row wins and
// the rest are deactivated in place.
func (s *Store) ActiveQuest(ctx context.Context, playerID int64) (*game.PlayersQuest, error) {
	key := activeKey(playerID)
	if pq, ok := s.cache.get(key); ok {
		return pq, nil
	}

	rows, err := s.progress.ActiveOf(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("load active record: %w", err)
	}
	if len(rows) == 0 {
		return nil, game.ErrNotFound
	}
	if len(rows) > 1 {
		logger.Warn(ctx, "session", "invariant.reconcile",
			slog.Int64("player_id", playerID),
			slog.Int("extra", len(rows)-1),
		)
		for _, stale := range rows[1:] {
			if err := s.progress.Deactivate(ctx, stale.ID); err != nil {
				return nil, fmt.Errorf("deactivate stale record %d: %w", stale.ID, err)
			}
		}
	}

	pq := rows[0]
	s.cache.put(key, &pq)
	return &pq, nil
}

// QuestByPK returns the record for the composite (player, quest) key.
// Duplicates are deleted except the earliest-created canonical row.
func (s *Store) QuestByPK(ctx context.Context, playerID, questID int64) (*game.PlayersQuest, error) {
	key := pairKey(playerID, questID)
	if pq, ok := s.cache.get(key); ok {
		return pq, nil
	}

	rows, err := s.progress.ByPlayerQuest(ctx, playerID, questID)
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if len(rows) == 0 {
		return nil, game.ErrNotFound
	}
	if len(rows) > 1 {
		logger.Warn(ctx, "session", "invariant.reconcile",
			slog.Int64("player_id", playerID),
			slog.Int64("quest_id", questID),
			slog.Int("extra", len(rows)-1),
		)
		ids := make([]int64, 0, len(rows)-1)
		for _, stale := range rows[1:] {
			ids = append(ids, stale.ID)
		}
		if err := s.progress.Delete(ctx, ids); err != nil {
			return nil, fmt.Errorf("delete duplicate records: %w", err)
		}
	}

	pq := rows[0]
	s.cache.put(key, &pq)
	return &pq, nil
}

// ByPlayer lists every record of the player, uncached.
func (s *Store) ByPlayer(ctx context.Context, playerID int64) ([]game.PlayersQuest, error) {
	return s.progress.ByPlayer(ctx, playerID)
}

// CreatePlayerQuest starts a fresh playthrough at the quest's first step.
// Activation obeys the deactivation rule inside the insert transaction.
func (s *Store) CreatePlayerQuest(ctx context.Context, playerID, questID int64, active bool) (*game.PlayersQuest, error) {
	first, err := s.content.FirstStep(ctx, questID)
	if err != nil {
		return nil, fmt.Errorf("resolve first step: %w", err)
	}
	stepID := first.ID
	pq := &game.PlayersQuest{
		PlayerID:      playerID,
		QuestID:       questID,
		CurrentStepID: &stepID,
		IsActive:      active,
	}
	if err := s.progress.Create(ctx, pq); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	s.invalidate(playerID, questID)
	logger.Info(ctx, "session", "record.create",
		slog.Int64("player_id", playerID),
		slog.Int64("quest_id", questID),
		slog.Int64("players_quest_id", pq.ID),
		slog.Bool("active", active),
	)
	return pq, nil
}

// SetActive activates the record, deactivating the player's other active
// records in the same transaction.
func (s *Store) SetActive(ctx context.Context, pq *game.PlayersQuest) error {
	if err := s.progress.SetActive(ctx, pq.PlayerID, pq.ID); err != nil {
		return fmt.Errorf("activate record: %w", err)
	}
	pq.IsActive = true
	s.invalidate(pq.PlayerID, pq.QuestID)
	return nil
}

// Deactivate clears the active flag on one record.
func (s *Store) Deactivate(ctx context.Context, pq *game.PlayersQuest) error {
	if err := s.progress.Deactivate(ctx, pq.ID); err != nil {
		return fmt.Errorf("deactivate record: %w", err)
	}
	pq.IsActive = false
	s.invalidate(pq.PlayerID, pq.QuestID)
	return nil
}

// Apply persists one progress mutation atomically and mirrors it onto the
// in-memory record once the write succeeds.
func (s *Store) Apply(ctx context.Context, pq *game.PlayersQuest, u game.ProgressUpdate) error {
	u.ID = pq.ID
	if err := s.progress.Apply(ctx, u); err != nil {
		return fmt.Errorf("apply progress: %w", err)
	}
	if u.SetStep {
		pq.CurrentStepID = u.CurrentStepID
	}
	pq.AddChanges(u.AddChanges)
	if u.IncAttempts {
		pq.AttemptsNum++
	}
	if u.SetComplete {
		pq.IsComplete = true
	}
	s.invalidate(pq.PlayerID, pq.QuestID)
	return nil
}

// Reset returns the record to the first step of its quest.
func (s *Store) Reset(ctx context.Context, pq *game.PlayersQuest, resetStarted bool) error {
	first, err := s.content.FirstStep(ctx, pq.QuestID)
	if err != nil {
		return fmt.Errorf("resolve first step: %w", err)
	}
	if err := s.progress.Reset(ctx, pq.ID, first.ID, resetStarted); err != nil {
		return fmt.Errorf("reset record: %w", err)
	}
	stepID := first.ID
	pq.CurrentStepID = &stepID
	pq.Changes = nil
	pq.IsComplete = false
	s.invalidate(pq.PlayerID, pq.QuestID)
	logger.Info(ctx, "session", "record.reset",
		slog.Int64("players_quest_id", pq.ID),
		slog.Int64("step_id", first.ID),
	)
	return nil
}

func (s *Store) invalidate(playerID, questID int64) {
	s.cache.drop(activeKey(playerID), pairKey(playerID, questID))
}
