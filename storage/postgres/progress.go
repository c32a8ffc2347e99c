package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/questbot/game"
)

// ProgressRepo persists playthrough records. Activation and progress
// mutations run in single transactions so the one-active invariant and the
// all-or-nothing rule hold under concurrent requests.
type ProgressRepo struct {
	db *sqlx.DB
}

func NewProgressRepo(db *sqlx.DB) *ProgressRepo {
	return &ProgressRepo{db: db}
}

const progressColumns = `id, player_id, quest_id, current_step_id, is_active, is_complete,
	attempts_num, date_started, date_changed`

func (r *ProgressRepo) ActiveOf(ctx context.Context, playerID int64) ([]game.PlayersQuest, error) {
	var rows []game.PlayersQuest
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+progressColumns+`
		 FROM players_quests
		 WHERE player_id = $1 AND is_active
		 ORDER BY date_started, id`, playerID)
	if err != nil {
		return nil, fmt.Errorf("select active records of player %d: %w", playerID, err)
	}
	if err := r.loadChanges(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ProgressRepo) ByPlayerQuest(ctx context.Context, playerID, questID int64) ([]game.PlayersQuest, error) {
	var rows []game.PlayersQuest
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+progressColumns+`
		 FROM players_quests
		 WHERE player_id = $1 AND quest_id = $2
		 ORDER BY date_started, id`, playerID, questID)
	if err != nil {
		return nil, fmt.Errorf("select records of player %d quest %d: %w", playerID, questID, err)
	}
	if err := r.loadChanges(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ProgressRepo) ByPlayer(ctx context.Context, playerID int64) ([]game.PlayersQuest, error) {
	var rows []game.PlayersQuest
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+progressColumns+`
		 FROM players_quests
		 WHERE player_id = $1
		 ORDER BY date_started, id`, playerID)
	if err != nil {
		return nil, fmt.Errorf("select records of player %d: %w", playerID, err)
	}
	if err := r.loadChanges(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ProgressRepo) loadChanges(ctx context.Context, rows []game.PlayersQuest) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]int64, len(rows))
	byID := make(map[int64]*game.PlayersQuest, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
		byID[rows[i].ID] = &rows[i]
	}
	var links []struct {
		RecordID int64 `db:"players_quest_id"`
		OptionID int64 `db:"option_id"`
	}
	err := r.db.SelectContext(ctx, &links,
		`SELECT players_quest_id, option_id
		 FROM players_quest_changes
		 WHERE players_quest_id = ANY($1)
		 ORDER BY option_id`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("select toggle sets: %w", err)
	}
	for _, link := range links {
		rec := byID[link.RecordID]
		rec.Changes = append(rec.Changes, link.OptionID)
	}
	return nil
}

// Create inserts the record. An activating insert deactivates the player's
// other active records inside the same transaction.
func (r *ProgressRepo) Create(ctx context.Context, rec *game.PlayersQuest) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if rec.IsActive {
			if _, err := tx.ExecContext(ctx,
				`UPDATE players_quests SET is_active = FALSE, date_changed = now()
				 WHERE player_id = $1 AND is_active`, rec.PlayerID); err != nil {
				return fmt.Errorf("deactivate others: %w", err)
			}
		}
		return tx.QueryRowxContext(ctx,
			`INSERT INTO players_quests (player_id, quest_id, current_step_id, is_active)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, date_started, date_changed`,
			rec.PlayerID, rec.QuestID, rec.CurrentStepID, rec.IsActive,
		).Scan(&rec.ID, &rec.DateStarted, &rec.DateChanged)
	})
}

// SetActive activates one record and deactivates the player's others in a
// single transaction.
func (r *ProgressRepo) SetActive(ctx context.Context, playerID, id int64) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE players_quests SET is_active = FALSE, date_changed = now()
			 WHERE player_id = $1 AND is_active AND id <> $2`, playerID, id); err != nil {
			return fmt.Errorf("deactivate others: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE players_quests SET is_active = TRUE, date_changed = now()
			 WHERE id = $1 AND player_id = $2`, id, playerID)
		if err != nil {
			return fmt.Errorf("activate: %w", err)
		}
		return requireRow(res, id)
	})
}

func (r *ProgressRepo) Deactivate(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE players_quests SET is_active = FALSE, date_changed = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate record %d: %w", id, err)
	}
	return requireRow(res, id)
}

func (r *ProgressRepo) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM players_quests WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

// Apply persists one progress mutation: row update, idempotent toggle
// inserts, and the optional completion row share a transaction.
func (r *ProgressRepo) Apply(ctx context.Context, u game.ProgressUpdate) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE players_quests SET
			     current_step_id = CASE WHEN $2 THEN $3 ELSE current_step_id END,
			     attempts_num    = attempts_num + CASE WHEN $4 THEN 1 ELSE 0 END,
			     is_complete     = is_complete OR $5,
			     date_changed    = now()
			 WHERE id = $1`,
			u.ID, u.SetStep, u.CurrentStepID, u.IncAttempts, u.SetComplete)
		if err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		if err := requireRow(res, u.ID); err != nil {
			return err
		}
		for _, optionID := range u.AddChanges {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO players_quest_changes (players_quest_id, option_id)
				 VALUES ($1, $2) ON CONFLICT DO NOTHING`, u.ID, optionID); err != nil {
				return fmt.Errorf("insert toggle %d: %w", optionID, err)
			}
		}
		if c := u.Completion; c != nil {
			if err := tx.QueryRowxContext(ctx,
				`INSERT INTO players_quests_completed
				     (player_id, quest_id, option_id, date_won, is_in_awarding_time)
				 VALUES ($1, $2, $3, $4, $5)
				 RETURNING id`,
				c.PlayerID, c.QuestID, c.OptionID, c.DateWon, c.IsInAwardingTime,
			).Scan(&c.ID); err != nil {
				return fmt.Errorf("insert completion: %w", err)
			}
		}
		return nil
	})
}

// Reset returns the record to the quest's first step and clears its toggle
// set in one transaction.
func (r *ProgressRepo) Reset(ctx context.Context, id int64, firstStepID int64, resetStarted bool) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE players_quests SET
			     current_step_id = $2,
			     is_complete     = FALSE,
			     date_started    = CASE WHEN $3 THEN now() ELSE date_started END,
			     date_changed    = now()
			 WHERE id = $1`, id, firstStepID, resetStarted)
		if err != nil {
			return fmt.Errorf("reset record: %w", err)
		}
		if err := requireRow(res, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM players_quest_changes WHERE players_quest_id = $1`, id); err != nil {
			return fmt.Errorf("clear toggle set: %w", err)
		}
		return nil
	})
}

func (r *ProgressRepo) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
