// Package token generates the unguessable values the store hands out
// (pairing codes, invite ids, API secrets) and hashes secrets for storage.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// Entry codes are three digits followed by four letters, e.g. "482KQWZ".
// The layout is what thermostat UIs expect to display.
const (
	entryCodeDigits  = "0123456789"
	entryCodeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	entryCodeNumLen  = 3
	entryCodeAlphLen = 4

	// EntryCodeLength is the total length of an entry code.
	EntryCodeLength = entryCodeNumLen + entryCodeAlphLen
)

// APIKeyPrefix marks API key secrets so they are recognisable in logs and
// secret scanners.
const APIKeyPrefix = "tck_"

// secretBytes is the entropy of API secrets and invite ids.
const secretBytes = 32

// previewLength is the number of secret characters kept after the prefix.
const previewLength = 4

// EntryCode returns a new pairing code drawn uniformly from crypto/rand.
func EntryCode() (string, error) {
	var b strings.Builder
	b.Grow(EntryCodeLength)
	for range entryCodeNumLen {
		c, err := pick(entryCodeDigits)
		if err != nil {
			return "", err
		}
		b.WriteByte(c)
	}
	for range entryCodeAlphLen {
		c, err := pick(entryCodeLetters)
		if err != nil {
			return "", err
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

// NormalizeEntryCode upper-cases and trims user-entered codes.
func NormalizeEntryCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsEntryCode reports whether s has the entry code layout.
func IsEntryCode(s string) bool {
	if len(s) != EntryCodeLength {
		return false
	}
	for i := range len(s) {
		set := entryCodeLetters
		if i < entryCodeNumLen {
			set = entryCodeDigits
		}
		if !strings.ContainsRune(set, rune(s[i])) {
			return false
		}
	}
	return true
}

func pick(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, fmt.Errorf("reading random: %w", err)
	}
	return alphabet[n.Int64()], nil
}

// Opaque returns a URL-safe random string carrying 256 bits of entropy.
func Opaque() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// APISecret returns a new plaintext API key secret.
func APISecret() (string, error) {
	body, err := Opaque()
	if err != nil {
		return "", err
	}
	return APIKeyPrefix + body, nil
}

// Preview returns the displayable head of a secret, e.g. "tck_Ab3x...".
func Preview(secret string) string {
	head := strings.TrimPrefix(secret, APIKeyPrefix)
	if len(head) > previewLength {
		head = head[:previewLength]
	}
	if strings.HasPrefix(secret, APIKeyPrefix) {
		head = APIKeyPrefix + head
	}
	return head + "..."
}

// Hash computes the SHA-256 hash of a raw secret for storage.
// Raw secrets are never stored, only their hashes.
func Hash(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// ID returns a prefixed random identifier such as "ses-1f0c2a9e4b7d4c21".
func ID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
