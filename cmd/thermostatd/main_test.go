package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/nerrad567/thermostat-core/internal/credential"
	"github.com/nerrad567/thermostat-core/internal/infrastructure/config"
	"github.com/nerrad567/thermostat-core/internal/pairing"
	"github.com/nerrad567/thermostat-core/internal/store"
)

// writeConfig writes a minimal config pointing at a temp database.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  path: "` + filepath.Join(dir, "thermostat.db") + `"
  wal_mode: true
  busy_timeout: 5
  max_open_conns: 1

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// runApp runs the CLI with args after the program name and returns stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.RunContext(t.Context(), append([]string{"thermostatd"}, args...))
	return out.String(), err
}

func TestMigrateAndStatus(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := runApp(t, "--config", cfgPath, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	var before statusReport
	if err := json.Unmarshal([]byte(out), &before); err != nil {
		t.Fatalf("decoding status: %v\n%s", err, out)
	}
	if before.PendingMigrations == 0 || before.SchemaVersion != "" {
		t.Errorf("status before migrate = %+v", before)
	}

	out, err = runApp(t, "--config", cfgPath, "migrate")
	if err != nil {
		t.Fatalf("migrate error = %v", err)
	}
	if n := strings.Count(out, "applied  "); n != before.PendingMigrations {
		t.Errorf("migrate listed %d applied, want %d:\n%s", n, before.PendingMigrations, out)
	}
	if strings.Contains(out, "pending") {
		t.Errorf("migrate left pending migrations:\n%s", out)
	}

	out, err = runApp(t, "--config", cfgPath, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	var after statusReport
	if err := json.Unmarshal([]byte(out), &after); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if after.PendingMigrations != 0 || after.SchemaVersion == "" || len(after.Devices) != 0 {
		t.Errorf("status after migrate = %+v", after)
	}

	if _, err := runApp(t, "--config", cfgPath, "migrate", "--down"); err != nil {
		t.Fatalf("migrate --down error = %v", err)
	}
	out, err = runApp(t, "--config", cfgPath, "migrate", "--status")
	if err != nil {
		t.Fatalf("migrate --status error = %v", err)
	}
	if n := strings.Count(out, "pending  "); n != 1 {
		t.Errorf("pending after rollback = %d, want 1:\n%s", n, out)
	}
}

func TestAPIKeyCommands(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := runApp(t, "--config", cfgPath, "apikey", "create",
		"--owner", "u1", "--name", "home assistant", "--scope", "read", "--scope", "write", "--expires-in", "24h")
	if err != nil {
		t.Fatalf("apikey create error = %v", err)
	}
	var created struct {
		Key    credential.APIKey `json:"key"`
		Secret string            `json:"secret"`
	}
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decoding created key: %v\n%s", err, out)
	}
	if created.Secret == "" || created.Key.ExpiresAt == nil || len(created.Key.Scopes) != 2 {
		t.Errorf("created = %+v", created)
	}

	if _, err := runApp(t, "--config", cfgPath, "apikey", "revoke", "--id", created.Key.ID, "--owner", "u2"); err == nil {
		t.Error("apikey revoke by another user succeeded")
	}
	if _, err := runApp(t, "--config", cfgPath, "apikey", "revoke", "--id", created.Key.ID, "--owner", "u1"); err != nil {
		t.Fatalf("apikey revoke error = %v", err)
	}

	out, err = runApp(t, "--config", cfgPath, "apikey", "list", "--owner", "u1")
	if err != nil {
		t.Fatalf("apikey list error = %v", err)
	}
	var keys []credential.APIKey
	if err := json.Unmarshal([]byte(out), &keys); err != nil {
		t.Fatalf("decoding keys: %v", err)
	}
	if len(keys) != 1 || !keys[0].Revoked {
		t.Errorf("keys = %+v", keys)
	}

	if _, err := runApp(t, "--config", cfgPath, "apikey", "create"); err == nil {
		t.Error("apikey create without --owner succeeded")
	}
}

func TestEntryKeyAndPruneCommands(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := runApp(t, "--config", cfgPath, "entrykey", "issue", "--serial", "02AA01AC", "--ttl", "10m")
	if err != nil {
		t.Fatalf("entrykey issue error = %v", err)
	}
	var issued pairing.EntryKey
	if err := json.Unmarshal([]byte(out), &issued); err != nil {
		t.Fatalf("decoding entry key: %v\n%s", err, out)
	}
	if issued.ExpiresAt-issued.IssuedAt != (10 * time.Minute).Milliseconds() {
		t.Errorf("issued = %+v", issued)
	}

	out, err = runApp(t, "--config", cfgPath, "entrykey", "show", "--serial", "02AA01AC")
	if err != nil {
		t.Fatalf("entrykey show error = %v", err)
	}
	var shown pairing.EntryKey
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("decoding entry key: %v", err)
	}
	if shown.Code != issued.Code {
		t.Errorf("shown code = %q, want %q", shown.Code, issued.Code)
	}

	if _, err := runApp(t, "--config", cfgPath, "entrykey", "show", "--serial", "UNKNOWN"); err == nil {
		t.Error("entrykey show for unknown device succeeded")
	}

	out, err = runApp(t, "--config", cfgPath, "prune")
	if err != nil {
		t.Fatalf("prune error = %v", err)
	}
	var res store.PruneResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decoding prune result: %v", err)
	}
	if res != (store.PruneResult{}) {
		t.Errorf("prune = %+v, want nothing removed", res)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("explicit missing file fails", func(t *testing.T) {
		_, err := runApp(t, "--config", "/nonexistent/path/config.yaml", "status")
		if err == nil {
			t.Fatal("status with missing config succeeded")
		}
	})

	t.Run("missing default file uses defaults", func(t *testing.T) {
		t.Setenv("THERMOSTAT_CONFIG", "")
		os.Unsetenv("THERMOSTAT_CONFIG") //nolint:errcheck // restored by t.Setenv
		dbPath := filepath.Join(t.TempDir(), "default.db")
		t.Setenv("THERMOSTAT_DATABASE_PATH", dbPath)

		out, err := runApp(t, "status")
		if err != nil {
			t.Fatalf("status error = %v", err)
		}
		var report statusReport
		if err := json.Unmarshal([]byte(out), &report); err != nil {
			t.Fatalf("decoding status: %v", err)
		}
		if report.Database != dbPath {
			t.Errorf("database = %q, want %q", report.Database, dbPath)
		}
	})

	t.Run("invalid file fails validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("database:\n  path: \"\"\n"), 0600); err != nil {
			t.Fatalf("writing config: %v", err)
		}
		if _, err := runApp(t, "--config", path, "prune"); err == nil {
			t.Error("prune with empty database path succeeded")
		}
	})
}

func testServeConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "serve.db")
	cfg.Logging = config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}
	cfg.MQTT.Enabled = false
	cfg.InfluxDB.Enabled = false
	cfg.Redis.Enabled = false
	cfg.Availability.CheckInterval = 10 * time.Millisecond
	cfg.Maintenance.PruneInterval = 10 * time.Millisecond
	return cfg
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := testServeConfig(t)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve() did not return after cancel")
	}
}

func TestServe_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testServeConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = addr

	err := serve(t.Context(), cfg)
	if err == nil || !strings.Contains(err.Error(), "connecting to Redis") {
		t.Fatalf("serve() error = %v, want Redis connection failure", err)
	}
}

func TestServe_BadDatabasePath(t *testing.T) {
	cfg := testServeConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatalf("writing blocker: %v", err)
	}
	// A regular file where a directory is expected.
	cfg.Database.Path = filepath.Join(blocker, "sub", "thermostat.db")

	if err := serve(t.Context(), cfg); err == nil {
		t.Fatal("serve() with unusable database path succeeded")
	}
}

func TestHealthCheck_DatabaseOnly(t *testing.T) {
	cfg := testServeConfig(t)
	db, err := openDatabase(cfg)
	if err != nil {
		t.Fatalf("openDatabase() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	if err := healthCheck(t.Context(), db, nil, nil); err != nil {
		t.Errorf("healthCheck() error = %v", err)
	}

	db.Close() //nolint:errcheck // forcing the failure path
	err = healthCheck(t.Context(), db, nil, nil)
	if err == nil || !strings.HasPrefix(err.Error(), "database:") {
		t.Errorf("healthCheck() on closed db error = %v", err)
	}
	if errors.Unwrap(err) == nil {
		t.Error("healthCheck() error does not wrap the cause")
	}
}
