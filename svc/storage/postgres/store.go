package postgres

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/paygate/pkg/pg"
	"github.com/dmitrymomot/paygate/svc/account"
	"github.com/dmitrymomot/paygate/svc/ledger"
	"github.com/dmitrymomot/paygate/svc/subscription"
)

// Migrations holds the goose migrations; MigrationsDir is their directory.
//
//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsDir = "migrations"

// SweepLockName names the advisory lock held by the expiration sweeper.
const SweepLockName = "paygate:expiration-sweep"

const singleIdentityIndex = "platform_identities_single_idx"

var (
	_ subscription.Store = (*Store)(nil)
	_ ledger.Ledger      = (*Store)(nil)
	_ account.Store      = (*Store)(nil)
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Accounts

func (s *Store) CreateAccount(ctx context.Context, acct subscription.Account, sub *subscription.Subscription) error {
	return pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO accounts (id, kind, guardian_id, created_at) VALUES ($1, $2, $3, $4)`,
			acct.ID, string(acct.Kind), acct.GuardianID, acct.CreatedAt)
		switch {
		case pg.IsDuplicateKeyError(err):
			return subscription.ErrAccountExists
		case pg.IsForeignKeyViolationError(err):
			return errors.Join(subscription.ErrAccountNotFound, err)
		case err != nil:
			return err
		}
		if sub == nil {
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO subscriptions (account_id, status, due_date, cadence, platform,
				is_trial_available, is_oxxo_pending_payment, last_event_at, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			sub.AccountID, string(sub.Status), sub.DueDate, string(sub.Cadence), string(sub.Platform),
			sub.IsTrialAvailable, sub.IsOxxoPendingPayment, sub.LastEventAt, sub.Version, sub.CreatedAt, sub.UpdatedAt)
		return err
	})
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (subscription.Account, error) {
	var (
		acct subscription.Account
		kind string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, kind, guardian_id, created_at FROM accounts WHERE id = $1`, id,
	).Scan(&acct.ID, &kind, &acct.GuardianID, &acct.CreatedAt)
	if pg.IsNotFoundError(err) {
		return subscription.Account{}, subscription.ErrAccountNotFound
	}
	if err != nil {
		return subscription.Account{}, err
	}
	acct.Kind = subscription.AccountKind(kind)
	acct.CreatedAt = acct.CreatedAt.UTC()
	return acct, nil
}

func (s *Store) SetGuardian(ctx context.Context, dependentID uuid.UUID, guardianID *uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET guardian_id = $2 WHERE id = $1`, dependentID, guardianID)
	if pg.IsForeignKeyViolationError(err) {
		return errors.Join(subscription.ErrAccountNotFound, err)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrAccountNotFound
	}
	return nil
}

func (s *Store) ListDependents(ctx context.Context, guardianID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM accounts WHERE guardian_id = $1 ORDER BY id`, guardianID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// Identities

func (s *Store) RegisterIdentity(ctx context.Context, ident subscription.Identity) error {
	return registerIdentity(ctx, s.pool, ident)
}

func registerIdentity(ctx context.Context, q querier, ident subscription.Identity) error {
	tag, err := q.Exec(ctx, `
		INSERT INTO platform_identities (platform, external_id, account_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (platform, external_id) DO NOTHING`,
		string(ident.Platform), ident.ExternalID, ident.AccountID, ident.CreatedAt)
	switch {
	case pg.IsDuplicateKeyError(err) && pg.ConstraintName(err) == singleIdentityIndex:
		return subscription.ErrIdentityLimit
	case pg.IsForeignKeyViolationError(err):
		return subscription.ErrAccountNotFound
	case err != nil:
		return err
	case tag.RowsAffected() == 1:
		return nil
	}

	var owner uuid.UUID
	if err := q.QueryRow(ctx,
		`SELECT account_id FROM platform_identities WHERE platform = $1 AND external_id = $2`,
		string(ident.Platform), ident.ExternalID,
	).Scan(&owner); err != nil {
		return err
	}
	if owner != ident.AccountID {
		return subscription.ErrIdentityTaken
	}
	return nil
}

func (s *Store) FindIdentity(ctx context.Context, platform subscription.Platform, externalID string) (subscription.Identity, error) {
	ident := subscription.Identity{Platform: platform, ExternalID: externalID}
	err := s.pool.QueryRow(ctx,
		`SELECT account_id, created_at FROM platform_identities WHERE platform = $1 AND external_id = $2`,
		string(platform), externalID,
	).Scan(&ident.AccountID, &ident.CreatedAt)
	if pg.IsNotFoundError(err) {
		return subscription.Identity{}, subscription.ErrIdentityNotFound
	}
	if err != nil {
		return subscription.Identity{}, err
	}
	ident.CreatedAt = ident.CreatedAt.UTC()
	return ident, nil
}

// Subscriptions

const subscriptionColumns = `account_id, status, due_date, cadence, platform, is_trial_available,
	is_oxxo_pending_payment, last_event_at, version, created_at, updated_at`

func scanSubscription(row pgx.Row) (subscription.Subscription, error) {
	var (
		sub                       subscription.Subscription
		status, cadence, platform string
	)
	err := row.Scan(&sub.AccountID, &status, &sub.DueDate, &cadence, &platform, &sub.IsTrialAvailable,
		&sub.IsOxxoPendingPayment, &sub.LastEventAt, &sub.Version, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return subscription.Subscription{}, err
	}
	sub.Status = subscription.Status(status)
	sub.Cadence = subscription.Cadence(cadence)
	sub.Platform = subscription.Platform(platform)
	sub.DueDate = utc(sub.DueDate)
	sub.LastEventAt = utc(sub.LastEventAt)
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return sub, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *Store) GetSubscription(ctx context.Context, accountID uuid.UUID) (subscription.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE account_id = $1`, accountID))
	if pg.IsNotFoundError(err) {
		return subscription.Subscription{}, subscription.ErrSubscriptionNotFound
	}
	return sub, err
}

func (s *Store) IsApplied(ctx context.Context, platform subscription.Platform, key string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM applied_events WHERE platform = $1 AND idempotency_key = $2)`,
		string(platform), key,
	).Scan(&ok)
	return ok, err
}

func (s *Store) CommitTransition(ctx context.Context, t subscription.Transition) error {
	err := pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO applied_events (platform, idempotency_key, account_id, applied_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (platform, idempotency_key) DO NOTHING`,
			string(t.Platform), t.IdempotencyKey, t.Subscription.AccountID, t.Record.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return subscription.ErrAlreadyApplied
		}

		if err := updateSubscription(ctx, tx, t.Subscription, t.ExpectedVersion); err != nil {
			return err
		}
		if t.Identity != nil {
			if err := registerIdentity(ctx, tx, *t.Identity); err != nil {
				return err
			}
		}
		return appendRecord(ctx, tx, t.Record)
	})
	if pg.IsSerializationError(err) {
		return errors.Join(subscription.ErrVersionConflict, err)
	}
	return err
}

func (s *Store) UpdateSubscription(ctx context.Context, sub subscription.Subscription, expectedVersion int64) error {
	return updateSubscription(ctx, s.pool, sub, expectedVersion)
}

func updateSubscription(ctx context.Context, q querier, sub subscription.Subscription, expectedVersion int64) error {
	tag, err := q.Exec(ctx, `
		UPDATE subscriptions SET
			status = $3, due_date = $4, cadence = $5, platform = $6, is_trial_available = $7,
			is_oxxo_pending_payment = $8, last_event_at = $9, updated_at = $10, version = version + 1
		WHERE account_id = $1 AND version = $2`,
		sub.AccountID, expectedVersion, string(sub.Status), sub.DueDate, string(sub.Cadence), string(sub.Platform),
		sub.IsTrialAvailable, sub.IsOxxoPendingPayment, sub.LastEventAt, sub.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE account_id = $1)`, sub.AccountID,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return subscription.ErrSubscriptionNotFound
	}
	return subscription.ErrVersionConflict
}

func (s *Store) ListExpired(ctx context.Context, today time.Time, after uuid.UUID, limit int) ([]subscription.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status IN ('TRIAL', 'PREMIUM') AND due_date < $1 AND account_id > $2
		ORDER BY account_id
		LIMIT $3`,
		subscription.Today(today), after, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (subscription.Subscription, error) {
		return scanSubscription(row)
	})
}

func (s *Store) AcquireSweepLock(ctx context.Context) (func(context.Context) error, error) {
	release, err := pg.TryAdvisoryLock(ctx, s.pool, SweepLockName)
	if errors.Is(err, pg.ErrLockNotAcquired) {
		return nil, subscription.ErrSweepLocked
	}
	return release, err
}

// Ledger

const recordColumns = `id, account_id, platform, status, cadence, amount, transaction_id,
	transaction_date, due_date_after, app_version, created_at`

func (s *Store) Append(ctx context.Context, rec ledger.Record) error {
	return appendRecord(ctx, s.pool, rec)
}

func appendRecord(ctx context.Context, q querier, rec ledger.Record) error {
	_, err := q.Exec(ctx, `INSERT INTO payment_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.AccountID, rec.Platform, rec.Status, rec.Cadence, rec.Amount, rec.TransactionID,
		rec.TransactionDate, rec.DueDateAfter, rec.AppVersion, rec.CreatedAt)
	return err
}

func scanRecord(row pgx.CollectableRow) (ledger.Record, error) {
	var rec ledger.Record
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.Platform, &rec.Status, &rec.Cadence, &rec.Amount,
		&rec.TransactionID, &rec.TransactionDate, &rec.DueDateAfter, &rec.AppVersion, &rec.CreatedAt)
	if err != nil {
		return ledger.Record{}, err
	}
	rec.TransactionDate = rec.TransactionDate.UTC()
	rec.DueDateAfter = utc(rec.DueDateAfter)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func (s *Store) History(ctx context.Context, accountID uuid.UUID) ([]ledger.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM payment_records
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRecord)
}

func (s *Store) ListSince(ctx context.Context, after ledger.Cursor, limit int) ([]ledger.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM payment_records
		WHERE (created_at, id) > ($1, $2)
		ORDER BY created_at, id
		LIMIT $3`, after.CreatedAt, after.ID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRecord)
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
