package game

import (
	"strconv"
	"strings"
	"time"
)

// Quest is a purchasable branching narrative. Content is authored out of
// band and read-only to the engine. Prices are in minor currency units.
type Quest struct {
	ID            int64      `db:"id"`
	Name          string     `db:"name"`
	Description   string     `db:"description"`
	ImageDescr    *string    `db:"image_descr"`
	AwardingDescr string     `db:"awarding_descr"`
	ImageAward    *string    `db:"image_award"`
	Price         int64      `db:"price"`
	PricePerUnit  int64      `db:"price_per_unit"`
	MaxAttempts   int        `db:"max_attempts"`
	IsActive      bool       `db:"is_active"`
	SaleEndAt     *time.Time `db:"sale_end_at"`
	AwardingStart *time.Time `db:"awarding_start"`
	AwardingEnd   *time.Time `db:"awarding_end"`
}

// IsAwarding reports whether now falls inside the awarding window.
// A quest with an open-ended or missing window is never awarding.
func (q *Quest) IsAwarding(now time.Time) bool {
	if q.AwardingStart == nil || q.AwardingEnd == nil {
		return false
	}
	return !now.Before(*q.AwardingStart) && !now.After(*q.AwardingEnd)
}

// IsOnSale reports whether the quest can still be sold at now.
func (q *Quest) IsOnSale(now time.Time) bool {
	return q.SaleEndAt == nil || !now.After(*q.SaleEndAt)
}

// PriceFor returns the price of n attempts. Bulk purchases are discounted
// per extra attempt during awarding windows.
func (q *Quest) PriceFor(n int) int64 {
	if n <= 1 {
		return q.Price
	}
	return q.Price + q.PricePerUnit*int64(n-1)
}

// Step is a node in the narrative graph. Description may embed per-segment
// delays in the form "part~seconds_part~seconds".
type Step struct {
	ID          int64   `db:"id"`
	QuestID     int64   `db:"quest_id"`
	Description string  `db:"description"`
	Image       *string `db:"image"`
	DelaySec    float64 `db:"delay_sec"`
	IsFirst     bool    `db:"is_first"`
}

// StepPart is one timed segment of a step description.
type StepPart struct {
	Text  string
	Delay time.Duration
}

// Parts splits the step description into timed segments. A segment without
// an explicit delay uses the step default.
func (s *Step) Parts() []StepPart {
	def := time.Duration(s.DelaySec * float64(time.Second))
	raw := strings.Split(s.Description, "_")
	parts := make([]StepPart, 0, len(raw))
	for _, seg := range raw {
		text, spec, found := strings.Cut(seg, "~")
		delay := def
		if found {
			if sec, err := strconv.ParseFloat(strings.TrimSpace(spec), 64); err == nil {
				delay = time.Duration(sec * float64(time.Second))
			}
		}
		parts = append(parts, StepPart{Text: text, Delay: delay})
	}
	return parts
}

// Option is an edge choice from a Step. A nil NextStepID means the branch is
// terminal: losing unless IsWinning is set. Changes lists options whose
// hidden state is toggled when this option is chosen.
type Option struct {
	ID           int64  `db:"id"`
	QuestID      int64  `db:"quest_id"`
	Text         string `db:"text"`
	NextStepID   *int64 `db:"next_step_id"`
	IsHidden     bool   `db:"is_hidden"`
	IsWinning    bool   `db:"is_winning"`
	DisplayIndex int16  `db:"display_index"`
}

// HiddenFor reports the effective hidden state of the option for a player
// whose accumulated toggle set is given by has. Membership inverts the base
// flag exactly once regardless of how often the toggle was applied.
func (o *Option) HiddenFor(has func(optionID int64) bool) bool {
	hidden := o.IsHidden
	if has != nil && has(o.ID) {
		hidden = !hidden
	}
	return hidden
}
