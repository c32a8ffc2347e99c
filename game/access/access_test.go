package access

import (
	"context"
	"testing"
	"time"

	"github.com/m3rciful/questbot/game"
)

type fakeGrants struct {
	granted map[[2]int64]bool
}

func (f *fakeGrants) HasGrant(_ context.Context, questID, playerID int64) (bool, error) {
	return f.granted[[2]int64{questID, playerID}], nil
}

func TestCheckPermission(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name    string
		quest   game.Quest
		player  game.Player
		granted bool
		want    bool
	}{
		{
			name:   "staff bypasses inactive quest",
			quest:  game.Quest{ID: 1, IsActive: false},
			player: game.Player{ID: 10, IsStaff: true},
			want:   true,
		},
		{
			name:   "inactive quest denied",
			quest:  game.Quest{ID: 1, IsActive: false},
			player: game.Player{ID: 10},
			want:   false,
		},
		{
			name:    "grant overrides expired sale",
			quest:   game.Quest{ID: 1, IsActive: true, SaleEndAt: &past},
			player:  game.Player{ID: 10},
			granted: true,
			want:    true,
		},
		{
			name:   "past sale end denied",
			quest:  game.Quest{ID: 1, IsActive: true, SaleEndAt: &past},
			player: game.Player{ID: 10},
			want:   false,
		},
		{
			name:   "open sale allowed",
			quest:  game.Quest{ID: 1, IsActive: true, SaleEndAt: &future},
			player: game.Player{ID: 10},
			want:   true,
		},
		{
			name:   "no sale end allowed",
			quest:  game.Quest{ID: 1, IsActive: true},
			player: game.Player{ID: 10},
			want:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			grants := &fakeGrants{granted: map[[2]int64]bool{}}
			if tc.granted {
				grants.granted[[2]int64{tc.quest.ID, tc.player.ID}] = true
			}
			c := NewChecker(grants)
			got, err := c.CheckPermission(context.Background(), &tc.quest, &tc.player, now)
			if err != nil {
				t.Fatalf("CheckPermission: %v", err)
			}
			if got != tc.want {
				t.Fatalf("CheckPermission = %v, want %v", got, tc.want)
			}
		})
	}
}
