package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"pulseops.app/internal/audit"
)

var _ audit.Sink = (*AuditSink)(nil)

// AuditSink appends events to audit_events.
type AuditSink struct{ s *Store }

func (s *Store) AuditSink() *AuditSink { return &AuditSink{s: s} }

func (a *AuditSink) Name() string { return "postgres" }

func (a *AuditSink) Write(ctx context.Context, ev audit.Event) error {
	if a.s.db == nil {
		return errNoDB
	}
	details := []byte("{}")
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = b
	}
	_, err := a.s.db.ExecContext(ctx, `
		insert into audit_events (id, occurred_at, category, event_type, outcome,
		                          user_id, clinic_id, role, doctor_id, phone_masked,
		                          request_id, correlation_id, details)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, ev.ID, ev.Timestamp.UTC(), string(ev.Category), ev.Type, string(ev.Outcome),
		nullIfEmpty(ev.Actor.UserID), nullIfEmpty(ev.Actor.ClinicID), nullIfEmpty(ev.Actor.Role),
		nullIfEmpty(ev.Actor.DoctorID), nullIfEmpty(ev.Actor.Phone),
		nullIfEmpty(ev.RequestID), nullIfEmpty(ev.CorrelationID), details)
	return err
}
