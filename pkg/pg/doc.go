// Package pg bootstraps PostgreSQL access on top of pgx/v5.
//
// Connect opens a *pgxpool.Pool from Config (populated from DATABASE_* env
// vars) and retries with exponential backoff until the database answers.
// Migrate applies goose migrations from an embedded fs.FS through the same
// pool. WithTx and TryAdvisoryLock cover the two concurrency primitives the
// storage layer needs: atomic multi-statement writes and cross-process
// mutual exclusion for batch jobs.
//
// The Is*Error helpers classify driver errors without leaking pgconn types
// into callers.
package pg
