package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/questbot/core/config"
	"github.com/m3rciful/questbot/core/logger"
	coretelegram "github.com/m3rciful/questbot/core/telegram"
	"github.com/m3rciful/questbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/questbot/core/telegram/helpers"
	"github.com/m3rciful/questbot/core/telegram/keyboard"
	"github.com/m3rciful/questbot/core/telegram/router"
	"github.com/m3rciful/questbot/core/telegram/state"
	"github.com/m3rciful/questbot/game"
	"github.com/m3rciful/questbot/game/engine"
	"github.com/m3rciful/questbot/game/session"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

const stateAwaitContact state.State = "await_contact"

// App wires the game services into Telegram handlers.
type App struct {
	cfg         *config.Config
	content     game.ContentStore
	players     game.PlayerStore
	sessions    *session.Store
	completions game.CompletionStore
	engine      *engine.Engine
	states      state.Manager
}

// New builds the bot application and registers its conversation states.
func New(cfg *config.Config, content game.ContentStore, players game.PlayerStore, sessions *session.Store, completions game.CompletionStore, eng *engine.Engine) *App {
	a := &App{
		cfg:         cfg,
		content:     content,
		players:     players,
		sessions:    sessions,
		completions: completions,
		engine:      eng,
		states:      state.NewMemoryManager(),
	}
	state.RegisterHandler(stateAwaitContact, a.handleContactInput)
	return a
}

// TelegramRunOptions assembles registry, middlewares, and routes for the bot
// runtime.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()

	reg.RegisterCommand("/start", commands.Command{
		Handler:     a.handleStart,
		Description: "Начать общение с ботом",
	})
	reg.RegisterCommand("/menu", commands.Command{
		Handler:     a.handleMainMenu,
		Description: "Главное меню",
		Aliases:     []string{"main"},
	})
	reg.SetTextFallback(a.handleText)

	if err := reg.RegisterCallback(callbackBuyAttempts, a.handleBuyAttemptsCallback); err != nil {
		return coretelegram.RunOptions{}, fmt.Errorf("bot: callback registration failed: %w", err)
	}

	routes := router.CommandRoutes(reg)
	routes = append(routes, router.TextRoutes(a.states, reg, router.TextOptions{})...)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))

	middlewares := coretelegram.DefaultMiddlewares(a.cfg, nil)
	middlewares = append(middlewares, coretelegram.Middleware{
		Name: "fsm_session",
		Use:  state.WithSession(a.states),
	})

	return coretelegram.RunOptions{
		Config:      a.cfg,
		Registry:    reg,
		Middlewares: middlewares,
		Routes:      routes,
	}, nil
}

// resolvePlayer upserts the sender so the handler always works with a fresh
// profile. The referral payload is honoured only on first contact.
func (a *App) resolvePlayer(ctx context.Context, c tele.Context, referralPayload string) (*game.Player, error) {
	sender := c.Sender()
	if sender == nil {
		return nil, game.ErrNotFound
	}

	p := &game.Player{
		TelegramID: sender.ID,
		FirstName:  sender.FirstName,
		LastName:   sender.LastName,
	}
	if sender.Username != "" {
		login := "TG:" + sender.Username
		p.Login = &login
	}
	if id, err := strconv.ParseInt(strings.TrimSpace(referralPayload), 10, 64); err == nil && id != sender.ID {
		if referrer, err := a.players.ByTelegramID(ctx, id); err == nil {
			p.ReferredBy = &referrer.ID
		}
	}

	created, err := a.players.GetOrCreate(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("resolve player: %w", err)
	}
	if created {
		logger.Info(ctx, "bot", "player.join",
			slog.Int64("player_id", p.ID),
			slog.Bool("referred", p.ReferredBy != nil),
		)
	}
	return p, nil
}

func (a *App) handleStart(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "start")

	var payload string
	if msg := c.Message(); msg != nil {
		payload = msg.Payload
	}

	player, err := a.resolvePlayer(ctx, c, payload)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("Привет, %s! 👋\nВыбирай квест и вперёд!", player.Name())
	return tghelpers.SendMD(c, text, a.mainMenuMarkup())
}

func (a *App) handleMainMenu(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "menu")
	if _, err := a.resolvePlayer(ctx, c, ""); err != nil {
		return err
	}
	return a.sendMainMenu(c)
}

// handleText is the single entry point for non-command text: menu labels are
// dispatched first, anything else is treated as an option submission.
func (a *App) handleText(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "text")

	player, err := a.resolvePlayer(ctx, c, "")
	if err != nil {
		return err
	}

	action, payload := Resolve(c.Text())
	switch action {
	case ActionNone:
		return a.sendUnknown(c)
	case ActionMainMenu:
		return a.sendMainMenu(c)
	case ActionAllQuests:
		return a.sendQuestList(ctx, c)
	case ActionStartGame:
		return a.startSelectedQuest(ctx, c, player)
	case ActionMyQuests:
		return a.sendMyQuests(ctx, c, player)
	case ActionSettings:
		return a.sendSettings(c, player)
	case ActionReturnToGame:
		return a.resumeGame(ctx, c, player)
	case ActionAskRestart:
		return tghelpers.SendMD(c, "Прогресс текущего прохождения будет потерян. Начать заново?",
			keyboard.ReplyButtons(
				[]string{MenuLabel(ActionConfirmRestart)},
				[]string{MenuLabel(ActionMainMenu)},
			))
	case ActionConfirmRestart:
		return a.restartQuest(ctx, c, player)
	case ActionAddContact:
		return a.startContactInput(ctx, c, player)
	case ActionCancelContact:
		return a.cancelContactInput(ctx, c, player)
	case ActionBuyAttempts:
		return a.sendBuyAttempts(ctx, c, player, payload)
	case ActionQuestTitle:
		return a.openQuestByName(ctx, c, player, payload)
	default:
		return a.submitOption(ctx, c, player, c.Text())
	}
}

// submitOption feeds the text to the progression engine. ErrNotFound means
// there is no active playthrough, so the text is just noise.
func (a *App) submitOption(ctx context.Context, c tele.Context, player *game.Player, text string) error {
	res, err := a.engine.Submit(ctx, player, text)
	if errors.Is(err, game.ErrNotFound) {
		return a.sendUnknown(c)
	}
	if err != nil {
		return err
	}
	return a.renderResult(ctx, c, res)
}

func (a *App) sendUnknown(c tele.Context) error {
	return tghelpers.SendMD(c, "Не понимаю 🤔 Выберите вариант на клавиатуре.", a.mainMenuMarkup())
}
