package game

import (
	"testing"
	"time"
)

func tp(t time.Time) *time.Time { return &t }

func TestQuestIsAwarding(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		quest Quest
		want  bool
	}{
		{"no window", Quest{}, false},
		{"only start", Quest{AwardingStart: tp(now.Add(-time.Hour))}, false},
		{"inside", Quest{AwardingStart: tp(now.Add(-time.Hour)), AwardingEnd: tp(now.Add(time.Hour))}, true},
		{"at start", Quest{AwardingStart: tp(now), AwardingEnd: tp(now.Add(time.Hour))}, true},
		{"at end", Quest{AwardingStart: tp(now.Add(-time.Hour)), AwardingEnd: tp(now)}, true},
		{"before", Quest{AwardingStart: tp(now.Add(time.Hour)), AwardingEnd: tp(now.Add(2 * time.Hour))}, false},
		{"after", Quest{AwardingStart: tp(now.Add(-2 * time.Hour)), AwardingEnd: tp(now.Add(-time.Hour))}, false},
	}
	for _, tc := range cases {
		if got := tc.quest.IsAwarding(now); got != tc.want {
			t.Errorf("%s: IsAwarding = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestQuestIsOnSale(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	q := Quest{}
	if !q.IsOnSale(now) {
		t.Error("quest without sale end must always be on sale")
	}
	q.SaleEndAt = tp(now.Add(-time.Minute))
	if q.IsOnSale(now) {
		t.Error("quest past sale end must not be on sale")
	}
	q.SaleEndAt = tp(now)
	if !q.IsOnSale(now) {
		t.Error("sale end boundary is inclusive")
	}
}

func TestQuestPriceFor(t *testing.T) {
	q := Quest{Price: 500, PricePerUnit: 50}
	if got := q.PriceFor(1); got != 500 {
		t.Fatalf("PriceFor(1) = %d, want 500", got)
	}
	if got := q.PriceFor(0); got != 500 {
		t.Fatalf("PriceFor(0) = %d, want 500", got)
	}
	if got := q.PriceFor(5); got != 700 {
		t.Fatalf("PriceFor(5) = %d, want 700", got)
	}
}

func TestStepParts(t *testing.T) {
	s := Step{Description: "hello~0.5_world~2_tail", DelaySec: 1}
	parts := s.Parts()
	if len(parts) != 3 {
		t.Fatalf("got %d parts, want 3", len(parts))
	}
	if parts[0].Text != "hello" || parts[0].Delay != 500*time.Millisecond {
		t.Errorf("part 0 = %+v", parts[0])
	}
	if parts[1].Text != "world" || parts[1].Delay != 2*time.Second {
		t.Errorf("part 1 = %+v", parts[1])
	}
	if parts[2].Text != "tail" || parts[2].Delay != time.Second {
		t.Errorf("part 2 must fall back to step default, got %+v", parts[2])
	}
}

func TestStepPartsSingleSegment(t *testing.T) {
	s := Step{Description: "just text", DelaySec: 3}
	parts := s.Parts()
	if len(parts) != 1 || parts[0].Text != "just text" || parts[0].Delay != 3*time.Second {
		t.Fatalf("got %+v", parts)
	}
}

func TestOptionHiddenFor(t *testing.T) {
	pq := PlayersQuest{Changes: []int64{7}}

	base := Option{ID: 7, IsHidden: true}
	if base.HiddenFor(pq.HasChange) {
		t.Error("toggled hidden option must become visible")
	}
	visible := Option{ID: 8, IsHidden: false}
	if visible.HiddenFor(pq.HasChange) {
		t.Error("untoggled visible option must stay visible")
	}
	toggledVisible := Option{ID: 7, IsHidden: false}
	pq.AddChanges([]int64{7, 7, 7})
	if !toggledVisible.HiddenFor(pq.HasChange) {
		t.Error("membership inverts exactly once regardless of repeat adds")
	}
}

func TestAddChangesIdempotent(t *testing.T) {
	pq := PlayersQuest{}
	pq.AddChanges([]int64{1, 2})
	pq.AddChanges([]int64{2, 3, 1})
	if len(pq.Changes) != 3 {
		t.Fatalf("changes = %v, want a 3-element set", pq.Changes)
	}
}
