package token

import (
	"strings"
	"testing"
)

func TestEntryCode_Format(t *testing.T) {
	seen := make(map[string]bool)
	for range 200 {
		code, err := EntryCode()
		if err != nil {
			t.Fatalf("EntryCode() error = %v", err)
		}
		if !IsEntryCode(code) {
			t.Fatalf("EntryCode() = %q, not a valid entry code", code)
		}
		seen[code] = true
	}
	// 200 draws from ~4.6e8 codes; a handful of collisions would indicate a broken source.
	if len(seen) < 195 {
		t.Errorf("only %d distinct codes in 200 draws", len(seen))
	}
}

func TestIsEntryCode(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"123ABCD", true},
		{"000ZZZZ", true},
		{"123abcd", false},
		{"12ABCDE", false},
		{"123ABC", false},
		{"123ABCDE", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsEntryCode(tt.in); got != tt.want {
			t.Errorf("IsEntryCode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeEntryCode(t *testing.T) {
	if got := NormalizeEntryCode("  482kqwz\n"); got != "482KQWZ" {
		t.Errorf("NormalizeEntryCode() = %q, want %q", got, "482KQWZ")
	}
}

func TestAPISecret(t *testing.T) {
	a, err := APISecret()
	if err != nil {
		t.Fatalf("APISecret() error = %v", err)
	}
	b, err := APISecret()
	if err != nil {
		t.Fatalf("APISecret() error = %v", err)
	}

	if !strings.HasPrefix(a, APIKeyPrefix) {
		t.Errorf("APISecret() = %q, want prefix %q", a, APIKeyPrefix)
	}
	// 32 bytes base64url without padding is 43 characters.
	if len(a) != len(APIKeyPrefix)+43 {
		t.Errorf("len(APISecret()) = %d, want %d", len(a), len(APIKeyPrefix)+43)
	}
	if a == b {
		t.Error("two secrets are identical")
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"tck_AbCdEfGh", "tck_AbCd..."},
		{"tck_Ab", "tck_Ab..."},
		{"plainsecret", "plai..."},
	}
	for _, tt := range tests {
		if got := Preview(tt.in); got != tt.want {
			t.Errorf("Preview(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHash(t *testing.T) {
	// Known SHA-256 of "abc".
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Hash("abc"); got != want {
		t.Errorf("Hash(abc) = %s, want %s", got, want)
	}
	if Hash("abc") == Hash("abd") {
		t.Error("different inputs hashed equal")
	}
}

func TestID(t *testing.T) {
	id := ID("ses")
	if !strings.HasPrefix(id, "ses-") || len(id) != len("ses-")+16 {
		t.Errorf("ID(ses) = %q", id)
	}
	if ID("ses") == id {
		t.Error("ID() returned a duplicate")
	}
}
