// Package database opens the on-device SQLite database and applies the
// embedded schema migrations.
//
// The database is small (a handful of credential rows) but must survive power
// loss at any point, so connections are opened with synchronous=FULL and a
// single writer.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: "/var/lib/provisiond/credentials.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
