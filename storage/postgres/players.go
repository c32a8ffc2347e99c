package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/questbot/game"
)

// PlayerRepo persists players. Players are upserted by telegram id on every
// inbound update so profile fields stay current.
type PlayerRepo struct {
	db *sqlx.DB
}

func NewPlayerRepo(db *sqlx.DB) *PlayerRepo {
	return &PlayerRepo{db: db}
}

// GetOrCreate upserts by telegram id and reports whether a row was created.
// Profile fields from the inbound update overwrite stale values.
func (r *PlayerRepo) GetOrCreate(ctx context.Context, p *game.Player) (bool, error) {
	var created bool
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO players (telegram_id, first_name, last_name, login, referred_by)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (telegram_id) DO UPDATE SET
		     first_name = EXCLUDED.first_name,
		     last_name  = EXCLUDED.last_name,
		     login      = EXCLUDED.login
		 RETURNING id, extra_contact, referred_by, contact_pending, is_staff, date_joined,
		     (xmax = 0) AS created`,
		p.TelegramID, p.FirstName, p.LastName, p.Login, p.ReferredBy,
	).Scan(&p.ID, &p.ExtraContact, &p.ReferredBy, &p.ContactPending, &p.IsStaff, &p.DateJoined, &created)
	if err != nil {
		return false, fmt.Errorf("upsert player %d: %w", p.TelegramID, err)
	}
	return created, nil
}

func (r *PlayerRepo) ByTelegramID(ctx context.Context, telegramID int64) (*game.Player, error) {
	var p game.Player
	err := r.db.GetContext(ctx, &p,
		`SELECT id, telegram_id, first_name, last_name, login, extra_contact,
		     referred_by, contact_pending, is_staff, date_joined
		 FROM players WHERE telegram_id = $1`, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select player %d: %w", telegramID, err)
	}
	return &p, nil
}

// SetContact stores the extra contact and clears the pending flag together.
func (r *PlayerRepo) SetContact(ctx context.Context, playerID int64, contact string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE players SET extra_contact = $2, contact_pending = FALSE WHERE id = $1`,
		playerID, contact)
	if err != nil {
		return fmt.Errorf("update contact of player %d: %w", playerID, err)
	}
	return requireRow(res, playerID)
}

func (r *PlayerRepo) SetContactPending(ctx context.Context, playerID int64, pending bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE players SET contact_pending = $2 WHERE id = $1`, playerID, pending)
	if err != nil {
		return fmt.Errorf("update contact flag of player %d: %w", playerID, err)
	}
	return requireRow(res, playerID)
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("row %d: %w", id, game.ErrNotFound)
	}
	return nil
}
