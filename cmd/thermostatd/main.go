// thermostatd is the cloud-side store for self-hosted Nest thermostats.
//
// It keeps device objects, connection sessions, ownership, shares and API
// keys in SQLite, publishes changes over MQTT and records operation metrics
// in InfluxDB. The same binary carries the maintenance commands used to
// migrate the schema, issue entry keys and API keys, and prune expired
// records.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/config"
	"github.com/nerrad567/thermostat-core/internal/infrastructure/database"
	"github.com/nerrad567/thermostat-core/internal/infrastructure/logging"
	"github.com/nerrad567/thermostat-core/internal/store"

	_ "github.com/nerrad567/thermostat-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancelled on Ctrl+C or SIGTERM; serve uses it for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "thermostatd",
		Usage:   "device state, pairing and sharing store for Nest thermostats",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   defaultConfigPath,
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"THERMOSTAT_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			apiKeyCommand(),
			entryKeyCommand(),
			pruneCommand(),
			statusCommand(),
		},
	}
}

// loadConfig reads the file named by --config. When the flag was left at
// its default and that file does not exist, the built-in defaults (with
// environment overrides) are used so maintenance commands work without a
// config file.
func loadConfig(cCtx *cli.Context) (*config.Config, error) {
	path := cCtx.String("config")
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !cCtx.IsSet("config") && errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		if verr := cfg.Validate(); verr != nil {
			return nil, fmt.Errorf("validating default config: %w", verr)
		}
		return cfg, nil
	}
	return nil, fmt.Errorf("loading config: %w", err)
}

func openDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:         cfg.Database.Path,
		WALMode:      cfg.Database.WALMode,
		BusyTimeout:  cfg.Database.BusyTimeout,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// storeOptions maps configuration onto the store. Collaborators that need
// a connection (MQTT, InfluxDB, Redis) are added by serve.
func storeOptions(cfg *config.Config, log *logging.Logger) store.Options {
	return store.Options{
		Logger:      log.With("component", "store"),
		EntryKeyTTL: cfg.Pairing.EntryKeyTTL,
		InviteTTL:   cfg.Sharing.InviteTTL,
		CacheTTL:    cfg.Cache.DefaultTTL,
	}
}

// withStore runs fn against a migrated store for one CLI command.
func withStore(cCtx *cli.Context, fn func(svc *store.Service) error) error {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return err
	}
	log := logging.NewWithWriter(cfg.Logging, version, cCtx.App.ErrWriter)

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-mostly CLI command

	if err := db.Migrate(cCtx.Context); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return fn(store.New(db, storeOptions(cfg, log)))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
