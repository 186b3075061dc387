// Package database provides the SQLite store behind the write-back audit trail.
//
// It opens the database file with WAL mode and a busy timeout, limits the
// pool to a single connection (SQLite has one writer), and applies embedded
// SQL migrations named YYYYMMDD_HHMMSS_description.up.sql.
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
