package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/questbot/game"
)

// CompletionRepo reads the append-only win records. Inserts happen inside
// ProgressRepo.Apply so a win and its completion commit together.
type CompletionRepo struct {
	db *sqlx.DB
}

func NewCompletionRepo(db *sqlx.DB) *CompletionRepo {
	return &CompletionRepo{db: db}
}

func (r *CompletionRepo) CompletionsOf(ctx context.Context, playerID, questID int64) ([]game.QuestCompleted, error) {
	var rows []game.QuestCompleted
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, player_id, quest_id, option_id, date_won, is_in_awarding_time
		 FROM players_quests_completed
		 WHERE player_id = $1 AND quest_id = $2
		 ORDER BY date_won`, playerID, questID)
	if err != nil {
		return nil, fmt.Errorf("select completions of player %d quest %d: %w", playerID, questID, err)
	}
	return rows, nil
}
