package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/questbot/game"
)

// PaymentRepo records purchase attempts. Rows are created when a checkout
// link is issued; the provider webhook settles them out of band.
type PaymentRepo struct {
	db *sqlx.DB
}

func NewPaymentRepo(db *sqlx.DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

func (r *PaymentRepo) Record(ctx context.Context, p *game.Payment) error {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO payments (player_id, quest_id, amount, profit, transaction_id, is_awarding)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, date_created`,
		p.PlayerID, p.QuestID, p.Amount, p.Profit, p.TransactionID, p.IsAwarding,
	).Scan(&p.ID, &p.DateCreated)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// ByPlayer lists the player's payments, newest first.
func (r *PaymentRepo) ByPlayer(ctx context.Context, playerID int64) ([]game.Payment, error) {
	var rows []game.Payment
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, player_id, quest_id, amount, profit, transaction_id,
		     date_created, date_paid, is_awarding
		 FROM payments
		 WHERE player_id = $1
		 ORDER BY date_created DESC`, playerID)
	if err != nil {
		return nil, fmt.Errorf("select payments of player %d: %w", playerID, err)
	}
	return rows, nil
}
