package ingest

import (
	"context"
	"errors"
	"log/slog"

	"cloud.google.com/go/pubsub"

	"github.com/dmitrymomot/paygate/pkg/logger"
)

// PubSubConfig selects the subscription carrying Google Play notifications.
type PubSubConfig struct {
	ProjectID      string `env:"PUBSUB_PROJECT_ID"`
	SubscriptionID string `env:"PUBSUB_SUBSCRIPTION_ID"`
	MaxOutstanding int    `env:"PUBSUB_MAX_OUTSTANDING" envDefault:"32"`
}

func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.SubscriptionID != ""
}

var ErrPubSubNotConfigured = errors.New("pub/sub subscription is not configured")

// MessageSource delivers Pub/Sub messages. *pubsub.Subscription implements it.
type MessageSource interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// MessageHandler processes one message body; a nil error acknowledges it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, data []byte) (Disposition, error)
}

// PubSubReceiver pulls Google Play notifications and acknowledges each one
// unless its handler reports a transient failure.
type PubSubReceiver struct {
	source  MessageSource
	handler MessageHandler
	logger  *slog.Logger
}

func NewPubSubReceiver(source MessageSource, handler MessageHandler, log *slog.Logger) *PubSubReceiver {
	if log == nil {
		log = slog.Default()
	}
	return &PubSubReceiver{source: source, handler: handler, logger: log}
}

// Subscribe opens the configured subscription.
func Subscribe(ctx context.Context, cfg PubSubConfig) (*pubsub.Client, *pubsub.Subscription, error) {
	if !cfg.Enabled() {
		return nil, nil, ErrPubSubNotConfigured
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	sub := client.Subscription(cfg.SubscriptionID)
	if cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	}
	return client, sub, nil
}

// Run blocks until ctx is done or the source fails.
func (r *PubSubReceiver) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "pub/sub receiver started")
	err := r.source.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		if r.process(ctx, m.ID, m.Data) {
			m.Ack()
			return
		}
		m.Nack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	r.logger.InfoContext(ctx, "pub/sub receiver stopped")
	return nil
}

// process reports whether the message should be acknowledged.
func (r *PubSubReceiver) process(ctx context.Context, id string, data []byte) bool {
	d, err := r.handler.HandleMessage(ctx, data)
	if err != nil {
		r.logger.ErrorContext(ctx, "pub/sub message failed, will be redelivered",
			logger.MessageID(id), logger.Error(err))
		return false
	}
	r.logger.DebugContext(ctx, "pub/sub message handled",
		logger.MessageID(id), slog.String("disposition", string(d)))
	return true
}
