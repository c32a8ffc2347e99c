package game

import "time"

// PlayersQuest is a player's live progress record against one Quest.
// At most one record per player has IsActive set; the store deactivates any
// other active record on every activating write. A nil CurrentStepID means
// the playthrough reached a terminal step.
type PlayersQuest struct {
	ID            int64      `db:"id"`
	PlayerID      int64      `db:"player_id"`
	QuestID       int64      `db:"quest_id"`
	CurrentStepID *int64     `db:"current_step_id"`
	IsActive      bool       `db:"is_active"`
	IsComplete    bool       `db:"is_complete"`
	AttemptsNum   int        `db:"attempts_num"`
	DateStarted   time.Time  `db:"date_started"`
	DateChanged   time.Time  `db:"date_changed"`

	// Changes is the toggle set accumulated this playthrough, loaded
	// alongside the row. Membership, not multiplicity, is what matters.
	Changes []int64 `db:"-"`
}

// HasChange reports whether the option is in the accumulated toggle set.
func (pq *PlayersQuest) HasChange(optionID int64) bool {
	for _, id := range pq.Changes {
		if id == optionID {
			return true
		}
	}
	return false
}

// AddChanges merges option ids into the toggle set, keeping it a set.
func (pq *PlayersQuest) AddChanges(ids []int64) {
	for _, id := range ids {
		if !pq.HasChange(id) {
			pq.Changes = append(pq.Changes, id)
		}
	}
}

// QuestCompleted is an append-only win record. Created exactly once per win
// event, never mutated.
type QuestCompleted struct {
	ID               int64     `db:"id"`
	PlayerID         int64     `db:"player_id"`
	QuestID          int64     `db:"quest_id"`
	OptionID         *int64    `db:"option_id"`
	DateWon          time.Time `db:"date_won"`
	IsInAwardingTime bool      `db:"is_in_awarding_time"`
}

// Payment records a purchase attempt against a quest. Rows are created when
// a purchase link is issued; the provider webhook settles them out of band.
type Payment struct {
	ID            int64      `db:"id"`
	PlayerID      *int64     `db:"player_id"`
	QuestID       *int64     `db:"quest_id"`
	Amount        int64      `db:"amount"`
	Profit        int64      `db:"profit"`
	TransactionID *string    `db:"transaction_id"`
	DateCreated   time.Time  `db:"date_created"`
	DatePaid      *time.Time `db:"date_paid"`
	IsAwarding    bool       `db:"is_awarding"`
}

// ProgressUpdate describes one atomic mutation of a PlayersQuest produced by
// applying an option. The store must persist every named field in a single
// transaction; partial application must never be observable.
type ProgressUpdate struct {
	ID int64

	// SetStep guards CurrentStepID so an unchanged step skips the write.
	SetStep       bool
	CurrentStepID *int64

	// AddChanges is merged into the toggle set with idempotent inserts.
	AddChanges []int64

	IncAttempts bool
	SetComplete bool

	// Completion, when non-nil, appends a win record in the same transaction.
	Completion *QuestCompleted
}
