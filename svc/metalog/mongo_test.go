package metalog_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	mongodb "github.com/dmitrymomot/paygate/pkg/mongo"
	"github.com/dmitrymomot/paygate/svc/metalog"
)

func newMongoSink(t *testing.T) (*metalog.MongoSink, func(string) int64) {
	t.Helper()

	url := os.Getenv("PAYGATE_TEST_MONGODB_URL")
	if url == "" {
		t.Skip("PAYGATE_TEST_MONGODB_URL not set")
	}

	ctx := context.Background()
	cfg := mongodb.Config{
		ConnectionURL:  url,
		Database:       "paygate_test_" + uuid.NewString()[:8],
		ConnectTimeout: 5 * time.Second,
		MaxPoolSize:    4,
		RetryAttempts:  1,
	}
	db, err := mongodb.NewWithDatabase(ctx, cfg)
	if err != nil {
		t.Skipf("mongodb unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = db.Client().Disconnect(context.Background())
	})

	count := func(collection string) int64 {
		n, err := db.Collection(collection).CountDocuments(ctx, bson.D{})
		require.NoError(t, err)
		return n
	}
	return metalog.NewMongoSink(db), count
}

func TestMongoSink(t *testing.T) {
	ctx := context.Background()
	sink, count := newMongoSink(t)

	require.NoError(t, sink.Healthcheck()(ctx))

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sink.RecordStatusChange(ctx, metalog.StatusChange{
		AccountID: uuid.New(),
		Status:    "PREMIUM",
		Platform:  "android",
		At:        at,
	}))
	assert.Equal(t, int64(1), count("user_status_history"))

	user := uuid.New()
	entry := metalog.Entry{UserType: "guardian", UserID: user, Section: metalog.SectionSubscription, At: at}
	require.NoError(t, sink.Record(ctx, entry))

	entry.At = at.Add(time.Minute)
	require.NoError(t, sink.Record(ctx, entry))
	assert.Equal(t, int64(1), count("meta_logs"), "same section as latest entry is skipped")

	entry.Section = metalog.SectionPurchaseConfirmed
	entry.At = at.Add(2 * time.Minute)
	require.NoError(t, sink.Record(ctx, entry))
	assert.Equal(t, int64(2), count("meta_logs"))
}
