// Package database provides SQLite connectivity for the meterflow registry.
//
// This package manages:
//   - Connection setup (WAL mode, busy timeout, single writer)
//   - Embedded, versioned schema migrations
//   - Transaction helpers
//
// The registry is written by a single ingestion process; SQLite serialises
// the read-modify-write of each state change.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
