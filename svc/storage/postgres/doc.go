// Package postgres implements the account, subscription and ledger stores
// on PostgreSQL through pgx.
//
// The schema ships with the package as goose migrations:
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pg.Migrate(ctx, pool, cfg, postgres.Migrations, postgres.MigrationsDir, log); err != nil {
//		return err
//	}
//	store := postgres.New(pool)
//
// Every transition is committed in one transaction guarded by the
// subscription version and the (platform, idempotency key) primary key, so
// concurrent deliveries of the same notification apply once.
package postgres
