// Package store is the single operation surface of thermostat-core.
//
// Transport handlers (device protocol, dashboard API, Home Assistant bridge,
// weather jobs) call *Service and nothing else. The service composes the
// component repositories, which never call each other:
//
//	           ┌──────────────────────── Service ────────────────────────┐
//	 caller ──▶│ authorize ─▶ tx{ repo calls + audit } ─▶ notify, metrics │
//	           └────┬──────────┬──────────┬──────────┬─────────┬─────────┘
//	             objects    ledger    identity   pairing   sharing ...
//	                └──────────┴────── one SQLite database ────┘
//
// When two components must change together (entry key claim and owner,
// device deletion across every table, any security-relevant change and its
// audit row) the repositories are bound to one *sql.Tx.
//
// Every error carries a kind from storeerr. Domain outcomes such as
// ErrRevisionConflict or ErrAlreadyClaimed are never retried here; callers
// decide, optionally with RetryOnConflict or RetryTransient.
//
// Change notification and metrics are best-effort: their failures are
// logged and never change the result of an operation.
package store
