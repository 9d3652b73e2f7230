package store

import (
	"context"
	"time"

	"github.com/nerrad567/thermostat-core/internal/audit"
	"github.com/nerrad567/thermostat-core/internal/credential"
)

// IssueAPIKey creates an API key and returns it with the plaintext secret,
// which is not stored and cannot be shown again.
func (s *Service) IssueAPIKey(ctx context.Context, req credential.IssueRequest) (_ *credential.APIKey, _ string, err error) {
	defer s.observe("issue_api_key", time.Now(), &err)

	now := s.now()
	var key *credential.APIKey
	var secret string
	err = s.inTx(ctx, "issuing api key", func(r repos) error {
		var err error
		key, secret, err = r.creds.Issue(ctx, req, now)
		if err != nil {
			return err
		}
		return record(ctx, r, now, audit.ActionCreate, audit.EntityAPIKey, key.ID, key.OwnerUserID, map[string]any{
			"name":    key.Name,
			"preview": key.Preview,
			"scopes":  key.Scopes,
		})
	})
	if err != nil {
		return nil, "", err
	}
	return key, secret, nil
}

// ValidateAPIKey resolves a presented secret. Unknown, revoked and expired
// keys fail with credential.ErrInvalidKey.
func (s *Service) ValidateAPIKey(ctx context.Context, secret string) (_ *credential.APIKey, err error) {
	defer s.observe("validate_api_key", time.Now(), &err)
	return s.repos.creds.Validate(ctx, secret, s.now())
}

// RevokeAPIKey revokes a key owned by byUser. Revoking twice is not an error.
func (s *Service) RevokeAPIKey(ctx context.Context, keyID, byUser string) (err error) {
	defer s.observe("revoke_api_key", time.Now(), &err)

	now := s.now()
	return s.inTx(ctx, "revoking api key", func(r repos) error {
		key, err := r.creds.Get(ctx, keyID)
		if err != nil {
			return err
		}
		if key.OwnerUserID != byUser {
			return ErrNotOwner
		}
		if key.Revoked {
			return nil
		}
		if err := r.creds.Revoke(ctx, keyID, now); err != nil {
			return err
		}
		return record(ctx, r, now, audit.ActionRevoke, audit.EntityAPIKey, keyID, byUser, nil)
	})
}

// ListAPIKeys returns a user's keys, newest first, without secrets.
func (s *Service) ListAPIKeys(ctx context.Context, ownerUserID string) (_ []credential.APIKey, err error) {
	defer s.observe("list_api_keys", time.Now(), &err)
	return s.repos.creds.List(ctx, ownerUserID)
}
