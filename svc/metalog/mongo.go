package metalog

import (
	"context"
	"errors"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/paygate/pkg/logger"
	mongodb "github.com/dmitrymomot/paygate/pkg/mongo"
)

const (
	statusHistoryCollection = "user_status_history"
	metaLogsCollection      = "meta_logs"
)

type statusDoc struct {
	AccountID string        `bson:"account_id"`
	Status    string        `bson:"status"`
	Platform  string        `bson:"platform,omitempty"`
	At        bson.DateTime `bson:"at"`
}

type entryDoc struct {
	UserType    string        `bson:"user_type"`
	UserID      string        `bson:"user_id"`
	Section     string        `bson:"section"`
	Description string        `bson:"description,omitempty"`
	At          bson.DateTime `bson:"at"`
}

// MongoSink writes to the metalog MongoDB database.
type MongoSink struct {
	client  *mongo.Client
	history *mongo.Collection
	logs    *mongo.Collection
}

func NewMongoSink(db *mongo.Database) *MongoSink {
	return &MongoSink{
		client:  db.Client(),
		history: db.Collection(statusHistoryCollection),
		logs:    db.Collection(metaLogsCollection),
	}
}

// Healthcheck returns a probe for the sink's database.
func (s *MongoSink) Healthcheck() func(context.Context) error {
	return mongodb.Healthcheck(s.client)
}

func (s *MongoSink) RecordStatusChange(ctx context.Context, change StatusChange) error {
	_, err := s.history.InsertOne(ctx, statusDoc{
		AccountID: change.AccountID.String(),
		Status:    change.Status,
		Platform:  change.Platform,
		At:        bson.NewDateTimeFromTime(change.At),
	})
	return err
}

// Record inserts entry unless the user's latest entry has the same section.
func (s *MongoSink) Record(ctx context.Context, entry Entry) error {
	var last entryDoc
	err := s.logs.FindOne(ctx,
		bson.D{{Key: "user_id", Value: entry.UserID.String()}},
		options.FindOne().SetSort(bson.D{{Key: "at", Value: -1}}),
	).Decode(&last)
	switch {
	case err == nil && last.Section == entry.Section:
		return nil
	case err != nil && !errors.Is(err, mongo.ErrNoDocuments):
		return err
	}

	_, err = s.logs.InsertOne(ctx, entryDoc{
		UserType:    entry.UserType,
		UserID:      entry.UserID.String(),
		Section:     entry.Section,
		Description: entry.Description,
		At:          bson.NewDateTimeFromTime(entry.At),
	})
	return err
}

// Open connects the sink described by cfg. When the database is not
// configured or cannot be reached it logs that the sink is unavailable and
// returns a NoopSink. The returned close func is always non-nil.
func Open(ctx context.Context, cfg mongodb.Config, log *slog.Logger) (Sink, func(context.Context) error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled() {
		log.InfoContext(ctx, "metalog sink unavailable: not configured")
		return NoopSink{}, noop
	}

	client, err := mongodb.New(ctx, cfg)
	if err != nil {
		log.WarnContext(ctx, "metalog sink unavailable", logger.Error(err))
		return NoopSink{}, noop
	}
	return NewMongoSink(client.Database(cfg.Database)), client.Disconnect
}
