package audit

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pulseops.app/internal/obs"
)

type ctxKey string

const (
	requestIDKey     ctxKey = "audit_request_id"
	correlationIDKey ctxKey = "audit_correlation_id"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request id attached by WithRequestID.
func RequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithCorrelationID attaches the correlation id shared by a scoped operation.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation id attached by WithCorrelationID.
func CorrelationID(ctx context.Context) string {
	return stringValue(ctx, correlationIDKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// LogSink writes audit events as JSON lines through the shared logger.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Write(_ context.Context, ev Event) error {
	fields := logrus.Fields{
		"type":     "audit",
		"event_id": ev.ID,
		"category": string(ev.Category),
		"event":    ev.Type,
		"outcome":  string(ev.Outcome),
		"audit_ts": ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if ev.RequestID != "" {
		fields["request_id"] = ev.RequestID
	}
	if ev.CorrelationID != "" {
		fields["correlation_id"] = ev.CorrelationID
	}
	for k, v := range ev.Actor.fields() {
		fields[k] = v
	}
	details := make(map[string]any, len(ev.Details))
	for k, v := range ev.Details {
		details[k] = v
	}
	fields["fields"] = details

	entry := obs.Logger().WithFields(fields)
	if ev.Outcome == OutcomeFailure || ev.Outcome == OutcomeDenied {
		entry.Warn("audit")
		return nil
	}
	entry.Info("audit")
	return nil
}
