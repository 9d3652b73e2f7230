package redis

import (
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/config"
)

func TestConnect(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := Connect(t.Context(), config.RedisConfig{Enabled: true, Addr: srv.Addr()})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if err := client.Set(t.Context(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("SET error = %v", err)
	}
	if got, _ := srv.Get("k"); got != "v" {
		t.Errorf("stored value = %q, want v", got)
	}
}

func TestConnect_Disabled(t *testing.T) {
	if _, err := Connect(t.Context(), config.RedisConfig{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	if _, err := Connect(t.Context(), config.RedisConfig{Enabled: true, Addr: addr}); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}
