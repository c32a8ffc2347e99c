// Package access gates quest entry. The check is pure and re-evaluated on
// every attempt; grants and sale windows change out of band.
package access

import (
	"context"
	"fmt"
	"time"

	"github.com/m3rciful/questbot/game"
)

// Checker evaluates whether a player may enter or continue a quest.
type Checker struct {
	grants game.GrantStore
}

func NewChecker(grants game.GrantStore) *Checker {
	return &Checker{grants: grants}
}

// CheckPermission applies the permission chain in order: staff allow,
// inactive deny, explicit grant allow, past sale end deny, otherwise allow.
func (c *Checker) CheckPermission(ctx context.Context, quest *game.Quest, player *game.Player, now time.Time) (bool, error) {
	if player.IsStaff {
		return true, nil
	}
	if !quest.IsActive {
		return false, nil
	}
	granted, err := c.grants.HasGrant(ctx, quest.ID, player.ID)
	if err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	if granted {
		return true, nil
	}
	if !quest.IsOnSale(now) {
		return false, nil
	}
	return true, nil
}

// IsGranted reports whether an explicit grant record exists.
func (c *Checker) IsGranted(ctx context.Context, questID, playerID int64) (bool, error) {
	return c.grants.HasGrant(ctx, questID, playerID)
}
