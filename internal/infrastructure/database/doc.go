// Package database provides the SQLite storage substrate shared by every
// store component.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations embedded from the migrations package
//   - Transactions started with BEGIN IMMEDIATE, via WithTx
//   - Classification of driver errors (unique violations, busy/locked)
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive-only:
//   - New columns must be NULLABLE or have DEFAULT values
//   - Each migration file has both .up.sql and .down.sql
//   - Tables are declared STRICT
package database
