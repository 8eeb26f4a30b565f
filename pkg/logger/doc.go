// Package logger builds structured slog loggers for paygate processes.
//
// New creates a *slog.Logger writing to stderr from functional options: format,
// static attributes and ContextExtractor callbacks that pull request-scoped
// values (such as the HTTP request id) out of a context.Context on every
// record. NewFromConfig applies environment defaults from Config, which is
// filled from APP_ENV, SERVICE_NAME, LOG_LEVEL and LOG_FORMAT.
//
// Attribute helpers in attr.go keep key names consistent. Anomaly and Payload
// are used by the notification ingestors for rejected events that need
// manual triage:
//
//	log.WarnContext(ctx, "notification rejected",
//	    logger.Anomaly("unknown_event_code"),
//	    logger.Platform("android"),
//	    logger.Payload(raw),
//	)
//
// Error and Errors return an empty attribute for nil errors, so they can be
// passed without a nil check.
package logger
