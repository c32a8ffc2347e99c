// Package bootstrap initializes shared infrastructure in a fixed order:
// logger, database connection, schema migrations.
package bootstrap

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/questbot/core/config"
	coredatabase "github.com/m3rciful/questbot/core/database"
	"github.com/m3rciful/questbot/core/logger"
)

// Options control the bootstrap pipeline. The hooks exist for tests; nil
// values select the production implementations.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(coredatabase.Config) error
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	DB *sqlx.DB
}

// Run initializes the logger, connects to the database, and applies migrations.
func Run(opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = initLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(opts.Config.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(opts.Config.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	return &Result{DB: db}, nil
}

func initLogger(cfg *coreconfig.Config) error {
	return logger.Init(logger.Settings{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		KeysOrder: cfg.Logging.KeysOrder,
		Profile:   cfg.Logging.Profile,
		Dir:       cfg.Logging.Dir,
		File:      cfg.Logging.File,
	})
}
