// Package dm parses dm service flags and launches the service.
package dm

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/emberhollow/gloomvale/internal/platform/cmd"
	"github.com/emberhollow/gloomvale/internal/platform/logging"
	"github.com/emberhollow/gloomvale/internal/services/dm/app"
	"github.com/emberhollow/gloomvale/internal/services/dm/eventbus"
	"github.com/emberhollow/gloomvale/internal/services/dm/gateway"
	"github.com/emberhollow/gloomvale/internal/services/dm/storage/sqlite"
)

// Config holds dm command configuration.
type Config struct {
	Addr          string        `env:"GLOOMVALE_DM_ADDR" envDefault:":8085"`
	DBPath        string        `env:"GLOOMVALE_DM_DB_PATH" envDefault:"dm.db"`
	CombatTimeout time.Duration `env:"GLOOMVALE_DM_COMBAT_TIMEOUT" envDefault:"30s"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The dm websocket gateway address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The dm SQLite database path")
	fs.DurationVar(&cfg.CombatTimeout, "combat-timeout", cfg.CombatTimeout, "Wall-clock ceiling for one combat pipeline")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the dm service: storage, event bus, application services and
// the websocket gateway.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceDM, func(ctx context.Context) error {
		logger := logging.New()

		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("close storage")
			}
		}()

		bus := eventbus.New(logger)
		defer bus.Close()

		players := app.NewPlayerService(store, bus, logger)
		monsters := app.NewMonsterService(store, bus, logger)
		combatService := app.NewCombatService(app.CombatDeps{
			Players:      players,
			Monsters:     monsters,
			PlayerStore:  store,
			MonsterStore: store,
			Intents:      store,
			CombatLogs:   store,
			Sink:         bus,
			Logger:       logger,
			Timeout:      cfg.CombatTimeout,
		})

		// Resume combats that resolved before a crash but never had their
		// results applied.
		resumed, err := combatService.ApplyPending(ctx, 100)
		if err != nil {
			return fmt.Errorf("apply pending combat intents: %w", err)
		}
		if resumed > 0 {
			logger.WithField("count", resumed).Info("resumed pending combat intents")
		}

		logger.WithField("addr", cfg.Addr).Info("dm gateway listening")
		return gateway.New(bus, logger).Serve(ctx, cfg.Addr)
	})
}
