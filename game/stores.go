package game

import (
	"context"
	"time"
)

// ContentStore reads the immutable quest graph. Implementations return
// ErrNotFound for absent entities.
type ContentStore interface {
	QuestByID(ctx context.Context, id int64) (*Quest, error)
	QuestByName(ctx context.Context, name string) (*Quest, error)
	Quests(ctx context.Context) ([]Quest, error)
	StepByID(ctx context.Context, id int64) (*Step, error)
	FirstStep(ctx context.Context, questID int64) (*Step, error)
	OptionsOf(ctx context.Context, stepID int64) ([]Option, error)
	OptionByText(ctx context.Context, stepID int64, text string) (*Option, error)
	ChangesOf(ctx context.Context, optionID int64) ([]int64, error)
}

// ProgressStore persists PlayersQuest records. Apply, Create, SetActive, and
// Reset are transactional: they either fully apply or leave no trace.
type ProgressStore interface {
	// ActiveOf returns every active record for the player ordered by
	// date_started. The invariant allows at most one; callers reconcile.
	ActiveOf(ctx context.Context, playerID int64) ([]PlayersQuest, error)

	// ByPlayerQuest returns every record for the composite key ordered by
	// date_started. Uniqueness allows at most one; callers reconcile.
	ByPlayerQuest(ctx context.Context, playerID, questID int64) ([]PlayersQuest, error)

	// ByPlayer lists all of the player's records with quest ordering.
	ByPlayer(ctx context.Context, playerID int64) ([]PlayersQuest, error)

	// Create inserts the record. When pq.IsActive is set the insert and the
	// deactivation of the player's other active records share one transaction.
	Create(ctx context.Context, pq *PlayersQuest) error

	// SetActive activates the record and deactivates the player's other
	// active records in a single transaction.
	SetActive(ctx context.Context, playerID, id int64) error

	Deactivate(ctx context.Context, id int64) error
	Delete(ctx context.Context, ids []int64) error

	// Apply persists one ProgressUpdate atomically.
	Apply(ctx context.Context, u ProgressUpdate) error

	// Reset returns the record to the quest's first step: clears the toggle
	// set and the complete flag in one transaction.
	Reset(ctx context.Context, id int64, firstStepID int64, resetStarted bool) error
}

// PlayerStore persists players.
type PlayerStore interface {
	// GetOrCreate upserts by telegram id and reports whether a new player
	// was created.
	GetOrCreate(ctx context.Context, p *Player) (bool, error)
	ByTelegramID(ctx context.Context, telegramID int64) (*Player, error)
	SetContact(ctx context.Context, playerID int64, contact string) error
	SetContactPending(ctx context.Context, playerID int64, pending bool) error
}

// GrantStore answers explicit per-player quest permissions.
type GrantStore interface {
	HasGrant(ctx context.Context, questID, playerID int64) (bool, error)
}

// CompletionStore reads win records.
type CompletionStore interface {
	CompletionsOf(ctx context.Context, playerID, questID int64) ([]QuestCompleted, error)
}

// PaymentGate supplies purchase URLs for unpaid quests. The engine consumes
// it as a capability and never implements it. Implementations talk to the
// merchant by the player's Telegram id and record the ledger row by the
// internal id.
type PaymentGate interface {
	PurchaseLink(ctx context.Context, player *Player, questID int64, price int64) (string, error)
}

// Clock abstracts time for awarding-window and sale-end checks.
type Clock func() time.Time
