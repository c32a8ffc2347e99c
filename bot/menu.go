// Package bot implements the Telegram chat surface: menu navigation, quest
// entry, option submission, contact capture, and purchase flows.
package bot

import (
	"strconv"
	"strings"
)

// Action is one resolvable menu command. Messages that match no menu entry
// resolve to ActionOption and fall through to the progression engine.
type Action int

const (
	ActionNone Action = iota
	ActionMainMenu
	ActionAllQuests
	ActionMyQuests
	ActionSettings
	ActionStartGame
	ActionReturnToGame
	ActionAskRestart
	ActionConfirmRestart
	ActionAddContact
	ActionCancelContact
	ActionBuyAttempts
	ActionQuestTitle
	ActionOption
)

// Menu labels. The leading emoji is the dispatch key; the text after it
// disambiguates entries that share an emoji.
const (
	emojiMainMenu   = "🏠"
	emojiAllQuests  = "🎮"
	emojiMyQuests   = "📋"
	emojiSettings   = "⚙️"
	emojiStartGame  = "▶️"
	emojiReturn     = "↩️"
	emojiRestart    = "🔄"
	emojiAddContact = "📝"
	emojiCancel     = "❌"
	emojiBuy        = "💳"
	emojiQuest      = "🎲"

	textMainMenu       = "Главное меню"
	textAllQuests      = "Все квесты"
	textMyQuests       = "Мои квесты"
	textSettings       = "Настройки"
	textStartGame      = "Начать игру"
	textReturnToGame   = "Вернуться в игру"
	textAskRestart     = "Начать заново"
	textConfirmRestart = "Точно начать заново"
	textAddContact     = "Добавить контакт"
	textCancelContact  = "Отменить ввод контакта"
	textBuyAttempts    = "Купить попытки"
)

// Label joins an emoji with its text the way buttons are rendered.
func Label(emoji, text string) string {
	return emoji + " " + text
}

var menuLabels = map[Action]string{
	ActionMainMenu:       Label(emojiMainMenu, textMainMenu),
	ActionAllQuests:      Label(emojiAllQuests, textAllQuests),
	ActionMyQuests:       Label(emojiMyQuests, textMyQuests),
	ActionSettings:       Label(emojiSettings, textSettings),
	ActionStartGame:      Label(emojiStartGame, textStartGame),
	ActionReturnToGame:   Label(emojiReturn, textReturnToGame),
	ActionAskRestart:     Label(emojiRestart, textAskRestart),
	ActionConfirmRestart: Label(emojiRestart, textConfirmRestart),
	ActionAddContact:     Label(emojiAddContact, textAddContact),
	ActionCancelContact:  Label(emojiCancel, textCancelContact),
	ActionBuyAttempts:    Label(emojiBuy, textBuyAttempts),
}

// MenuLabel returns the button label of an action.
func MenuLabel(a Action) string {
	return menuLabels[a]
}

// QuestLabel prefixes a quest name the way quest buttons are rendered.
func QuestLabel(name string) string {
	return Label(emojiQuest, name)
}

// dispatchEntry is either a direct action or a set of text-qualified
// subcommands for an emoji shared by several entries.
type dispatchEntry struct {
	action Action
	byText map[string]Action
}

var dispatchTable = map[string]dispatchEntry{
	emojiMainMenu:   {action: ActionMainMenu},
	emojiAllQuests:  {action: ActionAllQuests},
	emojiMyQuests:   {action: ActionMyQuests},
	emojiSettings:   {action: ActionSettings},
	emojiStartGame:  {action: ActionStartGame},
	emojiReturn:     {action: ActionReturnToGame},
	emojiAddContact: {action: ActionAddContact},
	emojiCancel:     {action: ActionCancelContact},
	emojiBuy:        {action: ActionBuyAttempts},
	emojiQuest:      {action: ActionQuestTitle},
	emojiRestart: {byText: map[string]Action{
		textAskRestart:     ActionAskRestart,
		textConfirmRestart: ActionConfirmRestart,
	}},
}

// Resolve maps an inbound message to a menu action and its payload (the
// text after the emoji). Unknown text resolves to ActionOption so option
// submission stays the fallback.
func Resolve(message string) (Action, string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return ActionNone, ""
	}

	emoji, rest, _ := strings.Cut(message, " ")
	entry, ok := dispatchTable[emoji]
	if !ok {
		return ActionOption, message
	}
	if entry.byText != nil {
		action, ok := entry.byText[rest]
		if !ok {
			return ActionNone, ""
		}
		return action, rest
	}
	return entry.action, rest
}

// ParseAttempts reads the attempt count from a buy-attempts payload.
// Only the bundle sizes sold by the paystation are accepted.
func ParseAttempts(payload string) (int, bool) {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0, false
	}
	switch n {
	case 1, 2, 5, 10:
		return n, true
	}
	return 0, false
}
