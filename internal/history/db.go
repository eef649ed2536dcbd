package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// memoryDSN is a private in-memory database. With a single pooled
// connection it lives exactly as long as the *sql.DB.
const memoryDSN = "file::memory:?_foreign_keys=on"

// Open creates the volatile result database and applies the embedded
// migrations. Every statement is logged at debug level.
func Open(ctx context.Context, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db := sql.OpenDB(newLoggingConnector(memoryDSN, logger))

	// one connection: a second one would see a different, empty database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := Migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}
