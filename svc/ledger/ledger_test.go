package ledger_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/svc/ledger"
	"github.com/dmitrymomot/paygate/svc/storage/memory"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func record(account uuid.UUID, offset time.Duration, tx string) ledger.Record {
	return ledger.Record{
		ID:              uuid.New(),
		AccountID:       account,
		Platform:        "card",
		Status:          "PREMIUM",
		Cadence:         "MONTHLY",
		Amount:          "$9.99",
		TransactionID:   tx,
		TransactionDate: base.Add(offset),
		CreatedAt:       base.Add(offset),
	}
}

func TestAppendAndHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var l ledger.Ledger = memory.New()
	alice, bob := uuid.New(), uuid.New()

	require.NoError(t, l.Append(ctx, record(alice, 0, "in_1")))
	require.NoError(t, l.Append(ctx, record(bob, time.Minute, "in_2")))
	require.NoError(t, l.Append(ctx, record(alice, 2*time.Minute, "in_3")))

	history, err := l.History(ctx, alice)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "in_3", history[0].TransactionID, "newest first")
	assert.Equal(t, "in_1", history[1].TransactionID)

	empty, err := l.History(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAppendKeepsDuplicateContent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := memory.New()
	account := uuid.New()
	rec := record(account, 0, "in_1")

	require.NoError(t, l.Append(ctx, rec))
	require.NoError(t, l.Append(ctx, rec))

	history, err := l.History(ctx, account)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestListSincePages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := memory.New()
	account := uuid.New()
	for i := range 5 {
		require.NoError(t, l.Append(ctx, record(account, time.Duration(i)*time.Minute, "in_"+string(rune('a'+i)))))
	}

	var (
		cursor ledger.Cursor
		seen   []string
	)
	for {
		page, err := l.ListSince(ctx, cursor, 2)
		require.NoError(t, err)
		for _, rec := range page {
			seen = append(seen, rec.TransactionID)
			cursor = ledger.Cursor{CreatedAt: rec.CreatedAt, ID: rec.ID}
		}
		if len(page) < 2 {
			break
		}
	}
	assert.Equal(t, []string{"in_a", "in_b", "in_c", "in_d", "in_e"}, seen)
}

func TestCursorAfter(t *testing.T) {
	t.Parallel()

	rec := record(uuid.New(), 0, "in_1")

	assert.True(t, ledger.Cursor{}.After(rec))
	assert.False(t, ledger.Cursor{CreatedAt: rec.CreatedAt, ID: rec.ID}.After(rec))
	assert.True(t, ledger.Cursor{CreatedAt: rec.CreatedAt}.After(rec))
	assert.False(t, ledger.Cursor{CreatedAt: rec.CreatedAt.Add(time.Second)}.After(rec))
}

func TestExport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := memory.New()
	account := uuid.New()
	for i := range 3 {
		require.NoError(t, l.Append(ctx, record(account, time.Duration(i)*time.Hour, "in_"+string(rune('a'+i)))))
	}

	var buf bytes.Buffer
	n, cursor, err := ledger.Export(ctx, l, &buf, base.Add(30*time.Minute), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, base.Add(2*time.Hour), cursor.CreatedAt)

	var ids []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var rec ledger.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		ids = append(ids, rec.TransactionID)
	}
	assert.Equal(t, []string{"in_b", "in_c"}, ids)

	_, _, err = ledger.Export(ctx, l, &buf, base, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidBatchSize)
}
