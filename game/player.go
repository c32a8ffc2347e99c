package game

import (
	"strconv"
	"strings"
	"time"
)

// Player is a chat user known to the game. Players are upserted on every
// inbound update, so the record always reflects the latest profile data.
type Player struct {
	ID             int64     `db:"id"`
	TelegramID     int64     `db:"telegram_id"`
	FirstName      string    `db:"first_name"`
	LastName       string    `db:"last_name"`
	Login          *string   `db:"login"`
	ExtraContact   *string   `db:"extra_contact"`
	ReferredBy     *int64    `db:"referred_by"`
	ContactPending bool      `db:"contact_pending"`
	IsStaff        bool      `db:"is_staff"`
	DateJoined     time.Time `db:"date_joined"`
}

// Name joins the profile name parts for display.
func (p *Player) Name() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ReferralLink builds the join link a player shares to refer friends.
func (p *Player) ReferralLink(joinURL, botName string) string {
	return joinURL + botName + "?start=" + strconv.FormatInt(p.TelegramID, 10)
}
