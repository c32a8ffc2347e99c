// Package postgres implements the game store interfaces over sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/questbot/game"
)

// ContentRepo reads the quest graph. Content is authored out of band; every
// method here is read-only.
type ContentRepo struct {
	db *sqlx.DB
}

func NewContentRepo(db *sqlx.DB) *ContentRepo {
	return &ContentRepo{db: db}
}

const questColumns = `id, name, description, image_descr, awarding_descr, image_award,
	price, price_per_unit, max_attempts, is_active, sale_end_at, awarding_start, awarding_end`

func (r *ContentRepo) QuestByID(ctx context.Context, id int64) (*game.Quest, error) {
	var q game.Quest
	err := r.db.GetContext(ctx, &q,
		`SELECT `+questColumns+` FROM quests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select quest %d: %w", id, err)
	}
	return &q, nil
}

func (r *ContentRepo) QuestByName(ctx context.Context, name string) (*game.Quest, error) {
	var q game.Quest
	err := r.db.GetContext(ctx, &q,
		`SELECT `+questColumns+` FROM quests WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select quest %q: %w", name, err)
	}
	return &q, nil
}

// Quests lists active quests in name order.
func (r *ContentRepo) Quests(ctx context.Context) ([]game.Quest, error) {
	var quests []game.Quest
	err := r.db.SelectContext(ctx, &quests,
		`SELECT `+questColumns+` FROM quests WHERE is_active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("select quests: %w", err)
	}
	return quests, nil
}

const stepColumns = `id, quest_id, description, image, delay_sec, is_first`

func (r *ContentRepo) StepByID(ctx context.Context, id int64) (*game.Step, error) {
	var s game.Step
	err := r.db.GetContext(ctx, &s,
		`SELECT `+stepColumns+` FROM steps WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select step %d: %w", id, err)
	}
	return &s, nil
}

func (r *ContentRepo) FirstStep(ctx context.Context, questID int64) (*game.Step, error) {
	var s game.Step
	err := r.db.GetContext(ctx, &s,
		`SELECT `+stepColumns+` FROM steps WHERE quest_id = $1 AND is_first`, questID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select first step of quest %d: %w", questID, err)
	}
	return &s, nil
}

const optionColumns = `o.id, o.quest_id, o.text, o.next_step_id, o.is_hidden, o.is_winning, o.display_index`

// OptionsOf lists the step's options in display order.
func (r *ContentRepo) OptionsOf(ctx context.Context, stepID int64) ([]game.Option, error) {
	var options []game.Option
	err := r.db.SelectContext(ctx, &options,
		`SELECT `+optionColumns+`
		 FROM options o
		 JOIN step_options so ON so.option_id = o.id
		 WHERE so.step_id = $1
		 ORDER BY o.display_index, o.id`, stepID)
	if err != nil {
		return nil, fmt.Errorf("select options of step %d: %w", stepID, err)
	}
	return options, nil
}

func (r *ContentRepo) OptionByText(ctx context.Context, stepID int64, text string) (*game.Option, error) {
	var o game.Option
	err := r.db.GetContext(ctx, &o,
		`SELECT `+optionColumns+`
		 FROM options o
		 JOIN step_options so ON so.option_id = o.id
		 WHERE so.step_id = $1 AND o.text = $2
		 ORDER BY o.display_index, o.id
		 LIMIT 1`, stepID, text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select option %q of step %d: %w", text, stepID, err)
	}
	return &o, nil
}

// ChangesOf lists the option ids toggled when the option is chosen.
func (r *ContentRepo) ChangesOf(ctx context.Context, optionID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids,
		`SELECT target_id FROM option_changes WHERE option_id = $1 ORDER BY target_id`, optionID)
	if err != nil {
		return nil, fmt.Errorf("select changes of option %d: %w", optionID, err)
	}
	return ids, nil
}
