package credential

import (
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/database/databasetest"
	"github.com/nerrad567/thermostat-core/internal/storeerr"
	"github.com/nerrad567/thermostat-core/internal/token"
)

func TestIssueAndValidate(t *testing.T) {
	db := databasetest.Open(t)
	repo := NewRepository(db)
	ctx := t.Context()

	key, secret, err := repo.Issue(ctx, IssueRequest{
		OwnerUserID: "u1",
		Name:        " Home Assistant ",
		Scopes:      []string{"read", "write", "read", ""},
		Serials:     []string{"ABC123"},
	}, 1000)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !strings.HasPrefix(secret, token.APIKeyPrefix) || len(secret) != len(token.APIKeyPrefix)+43 {
		t.Errorf("secret = %q", secret)
	}
	if key.Preview != secret[:8]+"..." {
		t.Errorf("Preview = %q", key.Preview)
	}
	if key.Name != "Home Assistant" || len(key.Scopes) != 2 {
		t.Errorf("Issue() = %+v", key)
	}

	// Only the hash is persisted.
	var stored string
	if err := db.QueryRowContext(ctx, "SELECT secret_hash FROM api_keys WHERE key_id = ?", key.ID).Scan(&stored); err != nil {
		t.Fatalf("reading hash: %v", err)
	}
	if stored != token.Hash(secret) || strings.Contains(stored, secret[4:]) {
		t.Errorf("stored secret_hash = %q", stored)
	}

	got, err := repo.Validate(ctx, secret, 2000)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.ID != key.ID || got.LastUsedAt == nil || *got.LastUsedAt != 2000 {
		t.Errorf("Validate() = %+v", got)
	}
	if !got.Allows(ScopeWrite, "ABC123") || got.Allows(ScopeWrite, "OTHER") || got.Allows("admin", "") {
		t.Error("Allows() is wrong for a restricted key")
	}

	for _, bad := range []string{"", "tck_nope", secret + "x", strings.TrimPrefix(secret, token.APIKeyPrefix)} {
		if _, err := repo.Validate(ctx, bad, 2000); !errors.Is(err, storeerr.ErrInvalid) {
			t.Errorf("Validate(%q) error = %v, want Invalid", bad, err)
		}
	}
}

func TestValidate_RevokedNeverSucceeds(t *testing.T) {
	repo := NewRepository(databasetest.Open(t))
	ctx := t.Context()

	key, secret, err := repo.Issue(ctx, IssueRequest{OwnerUserID: "u1", Scopes: []string{ScopeAll}}, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if err := repo.Revoke(ctx, key.ID, 10); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := repo.Validate(ctx, secret, 20); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Validate(revoked) error = %v, want ErrInvalidKey", err)
	}

	// Idempotent and keeps the first revocation time.
	if err := repo.Revoke(ctx, key.ID, 30); err != nil {
		t.Fatalf("Revoke(again) error = %v", err)
	}
	got, err := repo.Get(ctx, key.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Revoked || *got.RevokedAt != 10 {
		t.Errorf("revoked key = %+v", got)
	}
	if got.Allows(ScopeRead, "") {
		t.Error("revoked key allows access")
	}

	if err := repo.Revoke(ctx, "key-missing", 0); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Revoke(missing) error = %v", err)
	}
}

func TestValidate_Expired(t *testing.T) {
	repo := NewRepository(databasetest.Open(t))
	ctx := t.Context()

	exp := int64(5000)
	_, secret, err := repo.Issue(ctx, IssueRequest{OwnerUserID: "u1", ExpiresAt: &exp}, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := repo.Validate(ctx, secret, 4999); err != nil {
		t.Errorf("Validate(before expiry) error = %v", err)
	}
	if _, err := repo.Validate(ctx, secret, 5000); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Validate(at expiry) error = %v", err)
	}

	past := int64(0)
	if _, _, err := repo.Issue(ctx, IssueRequest{OwnerUserID: "u1", ExpiresAt: &past}, 10); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("Issue(already expired) error = %v", err)
	}
	if _, _, err := repo.Issue(ctx, IssueRequest{}, 10); !errors.Is(err, storeerr.ErrInvalidArgument) {
		t.Errorf("Issue(no owner) error = %v", err)
	}
}

func TestList(t *testing.T) {
	repo := NewRepository(databasetest.Open(t))
	ctx := t.Context()

	for i, owner := range []string{"u1", "u1", "u2"} {
		if _, _, err := repo.Issue(ctx, IssueRequest{OwnerUserID: owner}, int64(i)); err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
	}
	keys, err := repo.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 2 || keys[0].CreatedAt != 1 {
		t.Errorf("List() = %+v", keys)
	}
}

func TestAllows(t *testing.T) {
	tests := []struct {
		name   string
		key    APIKey
		scope  string
		serial string
		want   bool
	}{
		{"wildcard any device", APIKey{Scopes: []string{ScopeAll}}, ScopeWrite, "X", true},
		{"scope missing", APIKey{Scopes: []string{ScopeRead}}, ScopeWrite, "", false},
		{"serial restricted", APIKey{Scopes: []string{ScopeRead}, Serials: []string{"A"}}, ScopeRead, "B", false},
		{"serial allowed", APIKey{Scopes: []string{ScopeRead}, Serials: []string{"A"}}, ScopeRead, "A", true},
		{"no scopes", APIKey{}, ScopeRead, "", false},
		{"revoked", APIKey{Scopes: []string{ScopeAll}, Revoked: true}, ScopeRead, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Allows(tt.scope, tt.serial); got != tt.want {
				t.Errorf("Allows(%q, %q) = %v, want %v", tt.scope, tt.serial, got, tt.want)
			}
		})
	}
}
