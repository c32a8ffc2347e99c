package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// GrantRepo answers explicit per-player quest permissions.
type GrantRepo struct {
	db *sqlx.DB
}

func NewGrantRepo(db *sqlx.DB) *GrantRepo {
	return &GrantRepo{db: db}
}

func (r *GrantRepo) HasGrant(ctx context.Context, questID, playerID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (
		     SELECT 1 FROM quest_permitted_players WHERE quest_id = $1 AND player_id = $2
		 )`, questID, playerID)
	if err != nil {
		return false, fmt.Errorf("check grant quest %d player %d: %w", questID, playerID, err)
	}
	return exists, nil
}

// Grant records a permission. Settled payments call this; the insert is
// idempotent so webhook retries are harmless.
func (r *GrantRepo) Grant(ctx context.Context, questID, playerID int64) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO quest_permitted_players (quest_id, player_id)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`, questID, playerID); err != nil {
		return fmt.Errorf("insert grant quest %d player %d: %w", questID, playerID, err)
	}
	return nil
}
