// Package pg provides PostgreSQL connection pooling, health checks and goose
// migrations on top of pgx.
//
// Connect retries with linear backoff so a database that is still coming up
// during deploy does not fail the service immediately. Migrate bridges the
// pgx pool into database/sql for goose and routes migration output through
// slog.
package pg
