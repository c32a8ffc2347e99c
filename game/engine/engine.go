// Package engine advances a player's progress record through the quest
// graph. It consumes the content reader, the session store, access control,
// and the payment gate as capabilities and owns no transport concerns.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/questbot/core/logger"
	"github.com/m3rciful/questbot/game"
	"github.com/m3rciful/questbot/game/access"
)

// Outcome classifies the result of one option submission.
type Outcome int

const (
	// OutcomeUnrecognized means the text matched no selectable option.
	// Nothing changed; the caller falls through to menu handling.
	OutcomeUnrecognized Outcome = iota
	// OutcomeNext means the playthrough moved to another step.
	OutcomeNext
	// OutcomeWon means the chosen option ended the quest in a win.
	OutcomeWon
	// OutcomeLost means the chosen option was a dead end.
	OutcomeLost
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNext:
		return "next"
	case OutcomeWon:
		return "won"
	case OutcomeLost:
		return "lost"
	default:
		return "unrecognized"
	}
}

// Result is what one Submit call produced. NextStep is set only for
// OutcomeNext.
type Result struct {
	Outcome  Outcome
	Option   *game.Option
	NextStep *game.Step
	Record   *game.PlayersQuest
	Quest    *game.Quest
}

// SessionStore is the slice of the session store the engine drives.
type SessionStore interface {
	ActiveQuest(ctx context.Context, playerID int64) (*game.PlayersQuest, error)
	QuestByPK(ctx context.Context, playerID, questID int64) (*game.PlayersQuest, error)
	CreatePlayerQuest(ctx context.Context, playerID, questID int64, active bool) (*game.PlayersQuest, error)
	SetActive(ctx context.Context, pq *game.PlayersQuest) error
	Apply(ctx context.Context, pq *game.PlayersQuest, u game.ProgressUpdate) error
	Reset(ctx context.Context, pq *game.PlayersQuest, resetStarted bool) error
}

// Engine is the progression state machine.
type Engine struct {
	content  game.ContentStore
	sessions SessionStore
	access   *access.Checker
	payments game.PaymentGate
	now      game.Clock
}

func New(content game.ContentStore, sessions SessionStore, checker *access.Checker, payments game.PaymentGate, clock game.Clock) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		content:  content,
		sessions: sessions,
		access:   checker,
		payments: payments,
		now:      clock,
	}
}

// Submit drives the active playthrough with one message. Text that matches
// no visible option of the current step leaves every record untouched and
// reports OutcomeUnrecognized. A missing or finished playthrough returns
// ErrNotFound so the caller can fall back to menu handling.
func (e *Engine) Submit(ctx context.Context, player *game.Player, text string) (*Result, error) {
	pq, err := e.sessions.ActiveQuest(ctx, player.ID)
	if err != nil {
		return nil, err
	}
	if pq.IsComplete || pq.CurrentStepID == nil {
		return nil, game.ErrNotFound
	}

	step, err := e.content.StepByID(ctx, *pq.CurrentStepID)
	if err != nil {
		return nil, fmt.Errorf("load current step: %w", err)
	}

	opt, err := e.content.OptionByText(ctx, step.ID, text)
	if errors.Is(err, game.ErrNotFound) {
		return &Result{Outcome: OutcomeUnrecognized, Record: pq}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve option: %w", err)
	}

	// A hidden option is not selectable even when its text is guessed.
	if opt.HiddenFor(pq.HasChange) {
		logger.Debug(ctx, "engine", "submit.hidden",
			slog.Int64("players_quest_id", pq.ID),
			slog.Int64("option_id", opt.ID),
		)
		return &Result{Outcome: OutcomeUnrecognized, Record: pq}, nil
	}

	return e.applyOption(ctx, pq, step, opt)
}

func (e *Engine) applyOption(ctx context.Context, pq *game.PlayersQuest, step *game.Step, opt *game.Option) (*Result, error) {
	quest, err := e.content.QuestByID(ctx, pq.QuestID)
	if err != nil {
		return nil, fmt.Errorf("load quest: %w", err)
	}

	update := game.ProgressUpdate{ID: pq.ID}

	if opt.NextStepID != nil {
		toggles, err := e.content.ChangesOf(ctx, opt.ID)
		if err != nil {
			return nil, fmt.Errorf("load option changes: %w", err)
		}
		for _, id := range toggles {
			if !pq.HasChange(id) {
				update.AddChanges = append(update.AddChanges, id)
			}
		}
	}

	outcome := OutcomeNext
	switch {
	case opt.IsWinning:
		outcome = OutcomeWon
		now := e.now()
		optionID := opt.ID
		update.SetComplete = true
		update.IncAttempts = true
		update.Completion = &game.QuestCompleted{
			PlayerID:         pq.PlayerID,
			QuestID:          pq.QuestID,
			OptionID:         &optionID,
			DateWon:          now,
			IsInAwardingTime: quest.IsAwarding(now),
		}
	case opt.NextStepID == nil:
		outcome = OutcomeLost
		update.SetComplete = true
		update.IncAttempts = true
	}

	if !sameStep(pq.CurrentStepID, opt.NextStepID) {
		update.SetStep = true
		update.CurrentStepID = opt.NextStepID
	}

	if err := e.sessions.Apply(ctx, pq, update); err != nil {
		return nil, err
	}

	res := &Result{Outcome: outcome, Option: opt, Record: pq, Quest: quest}
	if outcome == OutcomeNext {
		next, err := e.content.StepByID(ctx, *opt.NextStepID)
		if err != nil {
			return nil, fmt.Errorf("load next step: %w", err)
		}
		res.NextStep = next
	}

	logger.Info(ctx, "engine", "submit.applied",
		slog.Int64("players_quest_id", pq.ID),
		slog.Int64("step_id", step.ID),
		slog.Int64("option_id", opt.ID),
		slog.String("outcome", outcome.String()),
		slog.Int("attempts", pq.AttemptsNum),
	)
	return res, nil
}

func sameStep(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// EnterQuest creates or resumes the player's playthrough and makes it the
// single active one. Returns ErrPermissionDenied or ErrNotPaid before any
// state changes.
func (e *Engine) EnterQuest(ctx context.Context, player *game.Player, quest *game.Quest) (*game.PlayersQuest, error) {
	allowed, err := e.access.CheckPermission(ctx, quest, player, e.now())
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, game.ErrPermissionDenied
	}

	paid, err := e.IsPaid(ctx, player, quest)
	if err != nil {
		return nil, err
	}
	if !paid {
		return nil, game.ErrNotPaid
	}

	pq, err := e.sessions.QuestByPK(ctx, player.ID, quest.ID)
	switch {
	case errors.Is(err, game.ErrNotFound):
		return e.sessions.CreatePlayerQuest(ctx, player.ID, quest.ID, true)
	case err != nil:
		return nil, err
	}

	if !pq.IsActive {
		if err := e.sessions.SetActive(ctx, pq); err != nil {
			return nil, err
		}
	}
	return pq, nil
}

// Restart returns the playthrough to the first step. It re-checks access
// and the attempt limit; both may have changed since last play.
func (e *Engine) Restart(ctx context.Context, player *game.Player, quest *game.Quest) (*game.PlayersQuest, error) {
	pq, err := e.sessions.QuestByPK(ctx, player.ID, quest.ID)
	if err != nil {
		return nil, err
	}
	if e.IsAttemptsExceeded(player, quest, pq) {
		return nil, game.ErrAttemptsExceeded
	}
	allowed, err := e.access.CheckPermission(ctx, quest, player, e.now())
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, game.ErrPermissionDenied
	}
	if err := e.sessions.Reset(ctx, pq, false); err != nil {
		return nil, err
	}
	return pq, nil
}

// IsPaid reports whether the player may play without paying: free quest,
// staff, or an explicit grant.
func (e *Engine) IsPaid(ctx context.Context, player *game.Player, quest *game.Quest) (bool, error) {
	if quest.Price == 0 || player.IsStaff {
		return true, nil
	}
	granted, err := e.access.IsGranted(ctx, quest.ID, player.ID)
	if err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	return granted, nil
}

// IsAttemptsExceeded reports whether the attempt limit blocks a restart.
// Staff are exempt; a zero limit means unlimited attempts.
func (e *Engine) IsAttemptsExceeded(player *game.Player, quest *game.Quest, pq *game.PlayersQuest) bool {
	if player.IsStaff {
		return false
	}
	return quest.MaxAttempts > 0 && pq.AttemptsNum >= quest.MaxAttempts
}

// IsAwarding reports whether the quest's awarding window covers now.
func (e *Engine) IsAwarding(quest *game.Quest) bool {
	return quest.IsAwarding(e.now())
}

// PurchaseLink asks the payment gate for a checkout URL covering n attempts.
func (e *Engine) PurchaseLink(ctx context.Context, player *game.Player, quest *game.Quest, attempts int) (string, error) {
	url, err := e.payments.PurchaseLink(ctx, player, quest.ID, quest.PriceFor(attempts))
	if err != nil {
		return "", fmt.Errorf("purchase link: %w", err)
	}
	logger.Info(ctx, "payment", "purchase.link",
		slog.Int64("player_id", player.ID),
		slog.Int64("quest_id", quest.ID),
		slog.Int64("amount", quest.PriceFor(attempts)),
	)
	return url, nil
}
