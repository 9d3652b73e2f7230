package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/nerrad567/thermostat-core/internal/clock"
	"github.com/nerrad567/thermostat-core/internal/credential"
	"github.com/nerrad567/thermostat-core/internal/store"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply pending schema migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "down", Usage: "roll back the most recent migration"},
			&cli.BoolFlag{Name: "status", Usage: "list applied and pending migrations without changing anything"},
		},
		Action: func(cCtx *cli.Context) error {
			cfg, err := loadConfig(cCtx)
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // CLI exit

			ctx := cCtx.Context
			switch {
			case cCtx.Bool("down"):
				if err := db.MigrateDown(ctx); err != nil {
					return fmt.Errorf("rolling back migration: %w", err)
				}
			case !cCtx.Bool("status"):
				if err := db.Migrate(ctx); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
			}

			applied, pending, err := db.GetMigrationStatus(ctx)
			if err != nil {
				return fmt.Errorf("reading migration status: %w", err)
			}
			w := cCtx.App.Writer
			for _, m := range applied {
				fmt.Fprintf(w, "applied  %s  %s\n", m.Version, m.AppliedAt.Format(time.RFC3339))
			}
			for _, m := range pending {
				fmt.Fprintf(w, "pending  %s  %s\n", m.Version, m.Name)
			}
			return nil
		},
	}
}

func apiKeyCommand() *cli.Command {
	return &cli.Command{
		Name:  "apikey",
		Usage: "manage API keys",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "issue a key; the secret is printed once",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "owner", Usage: "user id that owns the key", Required: true},
					&cli.StringFlag{Name: "name", Usage: "label shown when listing keys"},
					&cli.StringSliceFlag{Name: "scope", Usage: "granted scope (read, write or *)", Value: cli.NewStringSlice(credential.ScopeRead)},
					&cli.StringSliceFlag{Name: "serial", Usage: "restrict the key to a device (repeatable)"},
					&cli.DurationFlag{Name: "expires-in", Usage: "lifetime of the key; 0 never expires"},
				},
				Action: func(cCtx *cli.Context) error {
					return withStore(cCtx, func(svc *store.Service) error {
						req := credential.IssueRequest{
							OwnerUserID: cCtx.String("owner"),
							Name:        cCtx.String("name"),
							Scopes:      cCtx.StringSlice("scope"),
							Serials:     cCtx.StringSlice("serial"),
						}
						if d := cCtx.Duration("expires-in"); d > 0 {
							exp := clock.System{}.NowMillis() + clock.Millis(d)
							req.ExpiresAt = &exp
						}
						key, secret, err := svc.IssueAPIKey(cCtx.Context, req)
						if err != nil {
							return fmt.Errorf("issuing api key: %w", err)
						}
						return printJSON(cCtx.App.Writer, struct {
							Key    *credential.APIKey `json:"key"`
							Secret string             `json:"secret"`
						}{key, secret})
					})
				},
			},
			{
				Name:  "list",
				Usage: "list a user's keys",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "owner", Required: true},
				},
				Action: func(cCtx *cli.Context) error {
					return withStore(cCtx, func(svc *store.Service) error {
						keys, err := svc.ListAPIKeys(cCtx.Context, cCtx.String("owner"))
						if err != nil {
							return fmt.Errorf("listing api keys: %w", err)
						}
						return printJSON(cCtx.App.Writer, keys)
					})
				},
			},
			{
				Name:  "revoke",
				Usage: "revoke a key",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "key id", Required: true},
					&cli.StringFlag{Name: "owner", Usage: "user id that owns the key", Required: true},
				},
				Action: func(cCtx *cli.Context) error {
					return withStore(cCtx, func(svc *store.Service) error {
						if err := svc.RevokeAPIKey(cCtx.Context, cCtx.String("id"), cCtx.String("owner")); err != nil {
							return fmt.Errorf("revoking api key: %w", err)
						}
						fmt.Fprintf(cCtx.App.Writer, "revoked %s\n", cCtx.String("id"))
						return nil
					})
				},
			},
		},
	}
}

func entryKeyCommand() *cli.Command {
	return &cli.Command{
		Name:  "entrykey",
		Usage: "issue or inspect pairing entry keys",
		Subcommands: []*cli.Command{
			{
				Name:  "issue",
				Usage: "issue a new entry key for a device",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "serial", Required: true},
					&cli.DurationFlag{Name: "ttl", Usage: "key lifetime; 0 uses pairing.entry_key_ttl"},
				},
				Action: func(cCtx *cli.Context) error {
					return withStore(cCtx, func(svc *store.Service) error {
						key, err := svc.IssueEntryKey(cCtx.Context, cCtx.String("serial"), cCtx.Duration("ttl"))
						if err != nil {
							return fmt.Errorf("issuing entry key: %w", err)
						}
						return printJSON(cCtx.App.Writer, key)
					})
				},
			},
			{
				Name:  "show",
				Usage: "show the active entry key of a device",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "serial", Required: true},
				},
				Action: func(cCtx *cli.Context) error {
					return withStore(cCtx, func(svc *store.Service) error {
						key, err := svc.ActiveEntryKey(cCtx.Context, cCtx.String("serial"))
						if err != nil {
							return fmt.Errorf("reading entry key: %w", err)
						}
						return printJSON(cCtx.App.Writer, key)
					})
				},
			},
		},
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "delete expired entry keys and expire lapsed invites",
		Action: func(cCtx *cli.Context) error {
			return withStore(cCtx, func(svc *store.Service) error {
				res, err := svc.PruneExpired(cCtx.Context)
				if err != nil {
					return fmt.Errorf("pruning: %w", err)
				}
				return printJSON(cCtx.App.Writer, res)
			})
		},
	}
}

// statusReport is printed by the status command.
type statusReport struct {
	Database          string   `json:"database"`
	SchemaVersion     string   `json:"schema_version,omitempty"`
	PendingMigrations int      `json:"pending_migrations"`
	Devices           []string `json:"devices"`
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "report schema version and known devices",
		Action: func(cCtx *cli.Context) error {
			cfg, err := loadConfig(cCtx)
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // read-only command

			ctx := cCtx.Context
			if err := db.HealthCheck(ctx); err != nil {
				return err
			}
			applied, pending, err := db.GetMigrationStatus(ctx)
			if err != nil {
				return fmt.Errorf("reading migration status: %w", err)
			}

			report := statusReport{Database: db.Path(), PendingMigrations: len(pending), Devices: []string{}}
			if len(applied) > 0 {
				report.SchemaVersion = applied[len(applied)-1].Version
			}
			// Device tables exist only once the schema is current.
			if len(pending) == 0 {
				svc := store.New(db, store.Options{})
				if report.Devices, err = svc.ListSerials(ctx); err != nil {
					return fmt.Errorf("listing devices: %w", err)
				}
			}
			return printJSON(cCtx.App.Writer, report)
		},
	}
}
