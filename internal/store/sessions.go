package store

import (
	"context"
	"time"

	"github.com/nerrad567/thermostat-core/internal/ledger"
)

// OpenSession starts a device connection session.
func (s *Service) OpenSession(ctx context.Context, serial, endpoint, client string) (_ *ledger.Session, err error) {
	defer s.observe("open_session", time.Now(), &err)
	return s.repos.ledger.OpenSession(ctx, serial, endpoint, client, s.now())
}

// CloseSession ends a session now.
func (s *Service) CloseSession(ctx context.Context, sessionID string) (err error) {
	defer s.observe("close_session", time.Now(), &err)
	return s.repos.ledger.CloseSession(ctx, sessionID, s.now())
}

// TouchSession records activity on an open session without logging a message.
func (s *Service) TouchSession(ctx context.Context, sessionID string) (err error) {
	defer s.observe("touch_session", time.Now(), &err)
	return s.repos.ledger.TouchSession(ctx, sessionID, s.now())
}

// AppendLog records one request or response. A zero Timestamp is stamped
// with the current time.
func (s *Service) AppendLog(ctx context.Context, entry ledger.LogEntry) (_ *ledger.LogEntry, err error) {
	defer s.observe("append_log", time.Now(), &err)
	if entry.Timestamp == 0 {
		entry.Timestamp = s.now()
	}
	var e *ledger.LogEntry
	err = s.inTx(ctx, "appending log", func(r repos) error {
		var err error
		e, err = r.ledger.AppendLog(ctx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// RecentLogs returns a device's newest log entries first.
func (s *Service) RecentLogs(ctx context.Context, serial string, limit int) (_ []ledger.LogEntry, err error) {
	defer s.observe("recent_logs", time.Now(), &err)
	return s.repos.ledger.RecentLogs(ctx, serial, limit)
}
