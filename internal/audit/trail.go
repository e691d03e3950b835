package audit

import (
	"context"
	"fmt"
	"time"

	"pulseops.app/internal/ids"
	"pulseops.app/internal/obs"
	"pulseops.app/internal/pii"
)

// Category groups audit events for compliance reporting.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryDataAccess     Category = "data_access"
	CategoryPermission     Category = "permission"
)

// Outcome is the result recorded with an event.
type Outcome string

const (
	OutcomeStarted Outcome = "started"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeGranted Outcome = "granted"
	OutcomeDenied  Outcome = "denied"
)

// Actor identifies who triggered an event. Phone is masked before any sink sees it.
type Actor struct {
	UserID   string
	ClinicID string
	Role     string
	DoctorID string
	Phone    string
}

func (a Actor) fields() map[string]any {
	out := make(map[string]any, 5)
	if a.UserID != "" {
		out["user_id"] = a.UserID
	}
	if a.ClinicID != "" {
		out["clinic_id"] = a.ClinicID
	}
	if a.Role != "" {
		out["role"] = a.Role
	}
	if a.DoctorID != "" {
		out["doctor_id"] = a.DoctorID
	}
	if a.Phone != "" {
		out["phone"] = a.Phone
	}
	return out
}

// Event is one append-only audit record.
type Event struct {
	ID            string
	Timestamp     time.Time
	Category      Category
	Type          string
	Actor         Actor
	Outcome       Outcome
	RequestID     string
	CorrelationID string
	Details       map[string]any
}

// Sink receives audit events. Implementations must be safe for concurrent use.
type Sink interface {
	Name() string
	Write(ctx context.Context, ev Event) error
}

// Trail fans events out to its sinks. A nil *Trail records nothing.
type Trail struct {
	sinks     []Sink
	now       func() time.Time
	maskPhone func(string) string
	disabled  bool
}

// Option configures a Trail.
type Option func(*Trail)

// WithSinks replaces the default log sink.
func WithSinks(sinks ...Sink) Option {
	return func(t *Trail) {
		t.sinks = append([]Sink(nil), sinks...)
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(t *Trail) {
		if fn != nil {
			t.now = fn
		}
	}
}

// Disabled turns the trail into a no-op.
func Disabled() Option {
	return func(t *Trail) { t.disabled = true }
}

// New builds a Trail writing to the log sink unless WithSinks says otherwise.
func New(opts ...Option) *Trail {
	t := &Trail{
		sinks:     []Sink{LogSink{}},
		now:       time.Now,
		maskPhone: pii.MaskPhone,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record appends an event. Sink failures are logged and counted, never returned.
func (t *Trail) Record(ctx context.Context, category Category, eventType string, actor Actor, outcome Outcome, details map[string]any) {
	if t == nil || t.disabled {
		return
	}
	if actor.Phone != "" {
		actor.Phone = t.maskPhone(actor.Phone)
	}
	if details != nil {
		details = pii.SanitizeHealthcareRecord(details)
	}
	ev := Event{
		ID:            ids.New(),
		Timestamp:     t.now().UTC(),
		Category:      category,
		Type:          eventType,
		Actor:         actor,
		Outcome:       outcome,
		RequestID:     RequestID(ctx),
		CorrelationID: CorrelationID(ctx),
		Details:       details,
	}
	for _, sink := range t.sinks {
		if err := t.write(ctx, sink, ev); err != nil {
			obs.AuditSinkFailed(sink.Name())
			obs.Logger().WithError(err).WithField("sink", sink.Name()).Error("audit sink write failed")
		}
	}
}

func (t *Trail) write(ctx context.Context, sink Sink, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sink.Write(ctx, ev)
}

// Scope runs fn between "started" and "success"/"failure" events that share a
// fresh correlation id. The id is available to fn through CorrelationID(ctx).
// A panic inside fn is recorded as a failure and re-raised.
func (t *Trail) Scope(ctx context.Context, category Category, operation string, actor Actor, fn func(ctx context.Context) error) (err error) {
	correlationID := ids.New()
	ctx = WithCorrelationID(ctx, correlationID)
	now := time.Now
	if t != nil {
		now = t.now
	}
	start := now()
	t.Record(ctx, category, operation, actor, OutcomeStarted, nil)

	defer func() {
		if r := recover(); r != nil {
			t.Record(ctx, category, operation, actor, OutcomeFailure, map[string]any{
				"error":       fmt.Sprint(r),
				"duration_ms": now().Sub(start).Milliseconds(),
			})
			panic(r)
		}
	}()

	err = fn(ctx)
	details := map[string]any{"duration_ms": now().Sub(start).Milliseconds()}
	if err != nil {
		details["error"] = err.Error()
		t.Record(ctx, category, operation, actor, OutcomeFailure, details)
		return err
	}
	t.Record(ctx, category, operation, actor, OutcomeSuccess, details)
	return nil
}
