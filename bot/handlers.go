package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/m3rciful/questbot/core/logger"
	"github.com/m3rciful/questbot/core/telegram/callbacks"
	"github.com/m3rciful/questbot/core/telegram/format"
	tghelpers "github.com/m3rciful/questbot/core/telegram/helpers"
	"github.com/m3rciful/questbot/core/telegram/keyboard"
	"github.com/m3rciful/questbot/game"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

const callbackBuyAttempts = "buy_attempts"

var attemptBundles = []int{1, 2, 5, 10}

func (a *App) mainMenuMarkup() *tele.ReplyMarkup {
	return keyboard.ReplyButtons(
		[]string{MenuLabel(ActionAllQuests), MenuLabel(ActionMyQuests)},
		[]string{MenuLabel(ActionReturnToGame), MenuLabel(ActionSettings)},
	)
}

func (a *App) restartMarkup() *tele.ReplyMarkup {
	return keyboard.ReplyButtons(
		[]string{MenuLabel(ActionAskRestart)},
		[]string{MenuLabel(ActionMainMenu)},
	)
}

func (a *App) sendMainMenu(c tele.Context) error {
	return tghelpers.SendMD(c, "Главное меню", a.mainMenuMarkup())
}

// sendQuestList shows every active quest as a pressable button.
func (a *App) sendQuestList(ctx context.Context, c tele.Context) error {
	quests, err := a.content.Quests(ctx)
	if err != nil {
		return fmt.Errorf("list quests: %w", err)
	}
	if len(quests) == 0 {
		return tghelpers.SendMD(c, "Пока нет доступных квестов. Загляните позже!", a.mainMenuMarkup())
	}

	rows := make([][]string, 0, len(quests)+1)
	for _, q := range quests {
		rows = append(rows, []string{QuestLabel(q.Name)})
	}
	rows = append(rows, []string{MenuLabel(ActionMainMenu)})
	return tghelpers.SendMD(c, "Выберите квест:", keyboard.ReplyButtons(rows...))
}

// sendMyQuests lists the player's playthroughs with their status.
func (a *App) sendMyQuests(ctx context.Context, c tele.Context, player *game.Player) error {
	records, err := a.sessions.ByPlayer(ctx, player.ID)
	if err != nil {
		return fmt.Errorf("list playthroughs: %w", err)
	}
	if len(records) == 0 {
		return tghelpers.SendMD(c, "Вы ещё не начали ни одного квеста.", a.mainMenuMarkup())
	}

	var b strings.Builder
	b.WriteString("Ваши квесты:\n")
	for _, pq := range records {
		quest, err := a.content.QuestByID(ctx, pq.QuestID)
		if err != nil {
			continue
		}
		status := "в процессе"
		switch {
		case pq.IsComplete:
			status = "завершён ✔️"
		case pq.IsActive:
			status = "активен ▶️"
		}
		fmt.Fprintf(&b, "\n🎲 %s: %s (попыток: %d", quest.Name, status, pq.AttemptsNum)
		if wins, err := a.completions.CompletionsOf(ctx, player.ID, pq.QuestID); err == nil && len(wins) > 0 {
			fmt.Fprintf(&b, ", побед: %d", len(wins))
		}
		b.WriteString(")")
	}
	return tghelpers.SendText(c, b.String(), &tele.SendOptions{ReplyMarkup: a.mainMenuMarkup()})
}

func (a *App) sendSettings(c tele.Context, player *game.Player) error {
	contact := format.DerefString(player.ExtraContact, "не указан")
	link := player.ReferralLink(a.cfg.Telegram.JoinURL, a.cfg.Telegram.BotName)

	text := fmt.Sprintf("⚙️ Настройки\n\nИмя: %s\nКонтакт: %s\n\nПригласите друзей по ссылке:\n%s",
		player.Name(), contact, link)
	markup := keyboard.ReplyButtons(
		[]string{MenuLabel(ActionAddContact)},
		[]string{MenuLabel(ActionMainMenu)},
	)
	return tghelpers.SendText(c, text, &tele.SendOptions{ReplyMarkup: markup})
}

// startContactInput opens the contact conversation. The pending flag is
// persisted so an operator can see who was asked but never answered.
func (a *App) startContactInput(ctx context.Context, c tele.Context, player *game.Player) error {
	if err := a.players.SetContactPending(ctx, player.ID, true); err != nil {
		return err
	}
	a.states.SetState(player.TelegramID, stateAwaitContact)
	return tghelpers.SendMD(c, "Напишите телефон или e-mail для связи:",
		keyboard.ReplyButtons([]string{MenuLabel(ActionCancelContact)}))
}

func (a *App) cancelContactInput(ctx context.Context, c tele.Context, player *game.Player) error {
	a.states.ClearState(player.TelegramID)
	if err := a.players.SetContactPending(ctx, player.ID, false); err != nil {
		return err
	}
	return a.sendSettings(c, player)
}

// handleContactInput consumes the next text message while the contact
// conversation is open.
func (a *App) handleContactInput(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "contact_input")

	player, err := a.resolvePlayer(ctx, c, "")
	if err != nil {
		return err
	}

	text := strings.TrimSpace(c.Text())
	if action, _ := Resolve(text); action == ActionCancelContact {
		return a.cancelContactInput(ctx, c, player)
	}
	if text == "" {
		return tghelpers.SendMD(c, "Отправьте контакт текстом или отмените ввод.",
			keyboard.ReplyButtons([]string{MenuLabel(ActionCancelContact)}))
	}

	if err := a.players.SetContact(ctx, player.ID, text); err != nil {
		return fmt.Errorf("save contact: %w", err)
	}
	a.states.ClearState(player.TelegramID)
	player.ExtraContact = &text
	player.ContactPending = false

	logger.Info(ctx, "bot", "contact.saved", slog.Int64("player_id", player.ID))
	return a.sendSettings(c, player)
}

// resumeGame re-renders the current step of the active playthrough.
func (a *App) resumeGame(ctx context.Context, c tele.Context, player *game.Player) error {
	pq, err := a.sessions.ActiveQuest(ctx, player.ID)
	if errors.Is(err, game.ErrNotFound) {
		return tghelpers.SendMD(c, "Сейчас нет активного квеста. Выберите новый!", a.mainMenuMarkup())
	}
	if err != nil {
		return err
	}

	quest, err := a.content.QuestByID(ctx, pq.QuestID)
	if err != nil {
		return err
	}
	if pq.IsComplete || pq.CurrentStepID == nil {
		return a.sendFinished(c, quest)
	}

	step, err := a.content.StepByID(ctx, *pq.CurrentStepID)
	if err != nil {
		return err
	}
	return a.sendStep(ctx, c, pq, step)
}

// restartQuest resets the active playthrough back to the first step.
func (a *App) restartQuest(ctx context.Context, c tele.Context, player *game.Player) error {
	pq, err := a.sessions.ActiveQuest(ctx, player.ID)
	if errors.Is(err, game.ErrNotFound) {
		return tghelpers.SendMD(c, "Нечего начинать заново: активного квеста нет.", a.mainMenuMarkup())
	}
	if err != nil {
		return err
	}

	quest, err := a.content.QuestByID(ctx, pq.QuestID)
	if err != nil {
		return err
	}

	pq, err = a.engine.Restart(ctx, player, quest)
	switch {
	case errors.Is(err, game.ErrAttemptsExceeded):
		return a.sendAttemptsExceeded(ctx, c, player, quest)
	case errors.Is(err, game.ErrPermissionDenied):
		return tghelpers.SendMD(c, "Этот квест больше недоступен.", a.mainMenuMarkup())
	case err != nil:
		return err
	}

	step, err := a.content.StepByID(ctx, *pq.CurrentStepID)
	if err != nil {
		return err
	}
	return a.sendStep(ctx, c, pq, step)
}

const tempSelectedQuest = "selected_quest"

// openQuestByName is the quest button flow. A quest the player already
// started is resumed at once; a new quest shows its card first and waits for
// an explicit start.
func (a *App) openQuestByName(ctx context.Context, c tele.Context, player *game.Player, name string) error {
	quest, err := a.content.QuestByName(ctx, name)
	if errors.Is(err, game.ErrNotFound) {
		return a.sendUnknown(c)
	}
	if err != nil {
		return err
	}

	if _, err := a.sessions.QuestByPK(ctx, player.ID, quest.ID); errors.Is(err, game.ErrNotFound) {
		return a.sendQuestCard(ctx, c, player, quest)
	} else if err != nil {
		return err
	}
	return a.enterQuest(ctx, c, player, quest)
}

// sendQuestCard shows the quest description with a start button and remembers
// the selection for the start action.
func (a *App) sendQuestCard(ctx context.Context, c tele.Context, player *game.Player, quest *game.Quest) error {
	var b strings.Builder
	fmt.Fprintf(&b, "🎲 %s\n\n%s", quest.Name, quest.Description)
	if a.engine.IsAwarding(quest) && quest.AwardingDescr != "" {
		b.WriteString("\n\n🎁 " + quest.AwardingDescr)
	}
	if quest.Price > 0 {
		fmt.Fprintf(&b, "\n\nСтоимость: %s", a.formatPrice(quest.Price))
	}

	a.states.SetTemp(player.TelegramID, tempSelectedQuest, quest.ID)
	markup := keyboard.ReplyButtons(
		[]string{MenuLabel(ActionStartGame)},
		[]string{MenuLabel(ActionMainMenu)},
	)
	return tghelpers.SendText(c, b.String(), &tele.SendOptions{ReplyMarkup: markup})
}

// startSelectedQuest enters the quest remembered by the last quest card.
func (a *App) startSelectedQuest(ctx context.Context, c tele.Context, player *game.Player) error {
	questID, ok := a.states.GetTempInt64(player.TelegramID, tempSelectedQuest)
	if !ok {
		return a.sendQuestList(ctx, c)
	}

	quest, err := a.content.QuestByID(ctx, questID)
	if errors.Is(err, game.ErrNotFound) {
		a.states.ClearTemp(player.TelegramID, tempSelectedQuest)
		return a.sendQuestList(ctx, c)
	}
	if err != nil {
		return err
	}
	return a.enterQuest(ctx, c, player, quest)
}

func (a *App) enterQuest(ctx context.Context, c tele.Context, player *game.Player, quest *game.Quest) error {
	pq, err := a.engine.EnterQuest(ctx, player, quest)
	switch {
	case errors.Is(err, game.ErrPermissionDenied):
		return tghelpers.SendMD(c, "Этот квест сейчас недоступен.", a.mainMenuMarkup())
	case errors.Is(err, game.ErrNotPaid):
		return a.sendQuestOffer(ctx, c, player, quest)
	case err != nil:
		return err
	}
	a.states.ClearTemp(player.TelegramID, tempSelectedQuest)

	if pq.IsComplete || pq.CurrentStepID == nil {
		return a.sendFinished(c, quest)
	}

	step, err := a.content.StepByID(ctx, *pq.CurrentStepID)
	if err != nil {
		return err
	}
	return a.sendStep(ctx, c, pq, step)
}

// sendQuestOffer shows the quest description with a purchase button.
func (a *App) sendQuestOffer(ctx context.Context, c tele.Context, player *game.Player, quest *game.Quest) error {
	text := fmt.Sprintf("🎲 %s\n\n%s\n\nСтоимость: %s", quest.Name, quest.Description, a.formatPrice(quest.Price))
	markup := a.purchaseMarkup(quest, 1)

	logger.Debug(ctx, "bot", "quest.offer",
		slog.Int64("player_id", player.ID),
		slog.Int64("quest_id", quest.ID),
	)
	return tghelpers.SendText(c, text, &tele.SendOptions{ReplyMarkup: markup})
}

// sendBuyAttempts offers attempt bundles for the active quest.
func (a *App) sendBuyAttempts(ctx context.Context, c tele.Context, player *game.Player, payload string) error {
	pq, err := a.sessions.ActiveQuest(ctx, player.ID)
	if errors.Is(err, game.ErrNotFound) {
		return tghelpers.SendMD(c, "Сначала выберите квест.", a.mainMenuMarkup())
	}
	if err != nil {
		return err
	}

	quest, err := a.content.QuestByID(ctx, pq.QuestID)
	if err != nil {
		return err
	}

	if n, ok := ParseAttempts(payload); ok {
		return a.sendPurchaseLink(ctx, c, player, quest, n)
	}

	markup := &tele.ReplyMarkup{}
	var btns []tele.Btn
	for _, n := range attemptBundles {
		label := fmt.Sprintf("%d за %s", n, a.formatPrice(quest.PriceFor(n)))
		data := fmt.Sprintf("%d|%d", quest.ID, n)
		btns = append(btns, markup.Data(label, callbackBuyAttempts, data))
	}
	markup.InlineKeyboard = keyboard.ToInlineKeyboard(keyboard.ChunkButtons(btns, 2))
	return tghelpers.SendText(c, "Сколько попыток купить?", &tele.SendOptions{ReplyMarkup: markup})
}

func (a *App) sendAttemptsExceeded(ctx context.Context, c tele.Context, player *game.Player, quest *game.Quest) error {
	if a.engine.IsAwarding(quest) {
		text := "Попытки закончились, но розыгрыш ещё идёт! Можно докупить попытки."
		return tghelpers.SendText(c, text, &tele.SendOptions{ReplyMarkup: a.purchaseMarkup(quest, attemptBundles...)})
	}
	return tghelpers.SendMD(c, "Попытки по этому квесту закончились.", a.mainMenuMarkup())
}

// handleBuyAttemptsCallback resolves an inline bundle press into a paystation
// link.
func (a *App) handleBuyAttemptsCallback(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "buy_attempts")

	player, err := a.resolvePlayer(ctx, c, "")
	if err != nil {
		return err
	}

	questID, n, err := callbacks.PayloadTwoInt64(c, "|")
	if err != nil {
		return tghelpers.SendMD(c, "Не удалось разобрать запрос, попробуйте ещё раз.", a.mainMenuMarkup())
	}

	quest, err := a.content.QuestByID(ctx, questID)
	if err != nil {
		return err
	}
	return a.sendPurchaseLink(ctx, c, player, quest, int(n))
}

func (a *App) sendPurchaseLink(ctx context.Context, c tele.Context, player *game.Player, quest *game.Quest, attempts int) error {
	link, err := a.engine.PurchaseLink(ctx, player, quest, attempts)
	if err != nil {
		logger.Error(ctx, "bot", "purchase.link_failed",
			slog.Int64("player_id", player.ID),
			slog.Int64("quest_id", quest.ID),
			slog.String("err", err.Error()),
		)
		return tghelpers.SendMD(c, "Платёжный сервис сейчас недоступен, попробуйте позже.", a.mainMenuMarkup())
	}

	text := fmt.Sprintf("Оплата: %s за %d попыток.\nСсылка действительна ограниченное время:\n%s",
		a.formatPrice(quest.PriceFor(attempts)), attempts, link)
	return tghelpers.SendText(c, text, &tele.SendOptions{ReplyMarkup: a.mainMenuMarkup()})
}

// purchaseMarkup builds inline purchase buttons for the given bundle sizes.
func (a *App) purchaseMarkup(quest *game.Quest, bundles ...int) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	var btns []tele.Btn
	for _, n := range bundles {
		label := fmt.Sprintf("💳 Купить %d за %s", n, a.formatPrice(quest.PriceFor(n)))
		if n == 1 {
			label = "💳 Купить за " + a.formatPrice(quest.Price)
		}
		data := fmt.Sprintf("%d|%d", quest.ID, n)
		btns = append(btns, markup.Data(label, callbackBuyAttempts, data))
	}
	markup.InlineKeyboard = keyboard.ToInlineKeyboard(keyboard.ChunkButtons(btns, 1))
	return markup
}

// formatPrice renders minor currency units for display.
func (a *App) formatPrice(minor int64) string {
	currency := a.cfg.Payment.Currency
	if minor%100 == 0 {
		return fmt.Sprintf("%d %s", minor/100, currency)
	}
	return fmt.Sprintf("%d.%02d %s", minor/100, minor%100, currency)
}
