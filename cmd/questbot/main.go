package main

import (
	"log"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/questbot/bot"
	"github.com/m3rciful/questbot/core/bootstrap"
	"github.com/m3rciful/questbot/core/buildinfo"
	corecmd "github.com/m3rciful/questbot/core/cmd"
	coreconfig "github.com/m3rciful/questbot/core/config"
	"github.com/m3rciful/questbot/game/access"
	"github.com/m3rciful/questbot/game/engine"
	"github.com/m3rciful/questbot/game/session"
	"github.com/m3rciful/questbot/payment"
	"github.com/m3rciful/questbot/storage/postgres"
)

type appConfig struct {
	cfg *coreconfig.Config
}

func (c appConfig) CoreConfig() *coreconfig.Config { return c.cfg }

func main() {
	log.Printf("questbot %s (commit %s, built %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date)

	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "configs/config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			cfg, err := coreconfig.Load(path)
			if err != nil {
				return nil, err
			}
			return appConfig{cfg: cfg}, nil
		},
		Bootstrap: func(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			cfg := carrier.CoreConfig()
			res, err := bootstrap.Run(bootstrap.Options{Config: cfg})
			if err != nil {
				return nil, err
			}
			return buildApp(cfg, res.DB)
		},
	})
	if err != nil {
		log.Fatalf("questbot: %v", err)
	}
}

// buildApp wires repositories into the game services and the bot surface.
func buildApp(cfg *coreconfig.Config, db *sqlx.DB) (*bot.App, error) {
	content := postgres.NewContentRepo(db)
	players := postgres.NewPlayerRepo(db)
	progress := postgres.NewProgressRepo(db)
	grants := postgres.NewGrantRepo(db)
	payments := postgres.NewPaymentRepo(db)
	completions := postgres.NewCompletionRepo(db)

	sessions, err := session.NewStore(progress, content, session.Options{
		CacheSize: cfg.Cache.Size,
		CacheTTL:  time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	checker := access.NewChecker(grants)
	gate := payment.NewClient(cfg.Payment, nil, payments)
	eng := engine.New(content, sessions, checker, gate, nil)

	return bot.New(cfg, content, players, sessions, completions, eng), nil
}
