package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/m3rciful/questbot/core/logger"
	tghelpers "github.com/m3rciful/questbot/core/telegram/helpers"
	"github.com/m3rciful/questbot/core/telegram/keyboard"
	"github.com/m3rciful/questbot/game"
	"github.com/m3rciful/questbot/game/engine"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// sendStep delivers a step to the chat. Multi-part descriptions are sent as
// separate messages at their cumulative delays; only the last part carries
// the option keyboard so the player cannot answer mid-narration.
func (a *App) sendStep(ctx context.Context, c tele.Context, pq *game.PlayersQuest, step *game.Step) error {
	options, err := a.content.OptionsOf(ctx, step.ID)
	if err != nil {
		return fmt.Errorf("load step options: %w", err)
	}

	var rows [][]string
	for i := range options {
		if options[i].HiddenFor(pq.HasChange) {
			continue
		}
		rows = append(rows, []string{options[i].Text})
	}

	visible := len(rows)
	var finalMarkup *tele.ReplyMarkup
	if visible > 0 {
		rows = append(rows, []string{MenuLabel(ActionMainMenu)})
		finalMarkup = keyboard.ReplyButtons(rows...)
	} else {
		// A step without selectable options is a dead end for this player.
		finalMarkup = a.restartMarkup()
	}

	parts := step.Parts()
	intermediateMarkup := a.mainMenuMarkup()

	var elapsed time.Duration
	for i, part := range parts {
		markup := intermediateMarkup
		if i == len(parts)-1 {
			markup = finalMarkup
		}
		if i == 0 {
			if err := tghelpers.SendText(c, part.Text, &tele.SendOptions{ReplyMarkup: markup}); err != nil {
				return err
			}
			continue
		}

		elapsed += part.Delay
		text := part.Text
		m := markup
		time.AfterFunc(elapsed, func() {
			if err := tghelpers.SendText(c, text, &tele.SendOptions{ReplyMarkup: m}); err != nil {
				logger.Warn(ctx, "bot", "step.part_send_failed",
					slog.Int64("step_id", step.ID),
					slog.String("err", err.Error()),
				)
			}
		})
	}

	logger.Debug(ctx, "bot", "step.sent",
		slog.Int64("players_quest_id", pq.ID),
		slog.Int64("step_id", step.ID),
		slog.Int("parts", len(parts)),
		slog.Int("visible_options", visible),
	)
	return nil
}

// renderResult turns an engine verdict into chat messages.
func (a *App) renderResult(ctx context.Context, c tele.Context, res *engine.Result) error {
	switch res.Outcome {
	case engine.OutcomeNext:
		return a.sendStep(ctx, c, res.Record, res.NextStep)

	case engine.OutcomeWon:
		text := "🏆 Вы победили!"
		if res.Quest != nil && a.engine.IsAwarding(res.Quest) && res.Quest.AwardingDescr != "" {
			text += "\n\n" + res.Quest.AwardingDescr
		}
		text += "\n\nНачать заново?"
		return tghelpers.SendText(c, text, &tele.SendOptions{ReplyMarkup: a.restartMarkup()})

	case engine.OutcomeLost:
		text := a.cfg.Game.LostText + "\n\nНачать заново?"
		return tghelpers.SendText(c, text, &tele.SendOptions{ReplyMarkup: a.restartMarkup()})

	default:
		return tghelpers.SendMD(c, "Такого варианта нет. Выберите один из предложенных 🤔")
	}
}

// sendFinished handles re-entry into an already finished playthrough.
func (a *App) sendFinished(c tele.Context, quest *game.Quest) error {
	text := fmt.Sprintf("Квест «%s» уже завершён.\n\nНачать заново?", quest.Name)
	return tghelpers.SendText(c, text, &tele.SendOptions{ReplyMarkup: a.restartMarkup()})
}
