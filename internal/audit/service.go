package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/mpowerio/checkout-api/internal/checkout"
)

// Service persists checkout audit entries to Postgres. The gateway treats
// auditing as optional: a nil Service (or one without a pool) drops entries.
// Entries carry only a truncated email digest, never the address or any
// provider credential.
type Service struct {
	Pool   *pgxpool.Pool
	Logger zerolog.Logger
}

// EnsureSchema creates the audit table when it does not exist yet. Kept as
// bootstrap DDL since this is the only table the service owns.
func (s *Service) EnsureSchema(ctx context.Context) error {
	if s == nil || s.Pool == nil {
		return nil
	}
	const ddl = `CREATE TABLE IF NOT EXISTS checkout_audit (
  id BIGSERIAL PRIMARY KEY,
  offering_id TEXT NOT NULL,
  email_hash TEXT NOT NULL,
  outcome TEXT NOT NULL,
  request_id TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	_, err := s.Pool.Exec(ctx, ddl)
	return err
}

// Record implements checkout.AuditRecorder. Failures are logged, never
// propagated: an audit outage must not block checkout.
func (s *Service) Record(ctx context.Context, entry checkout.AuditEntry) {
	if s == nil || s.Pool == nil {
		return
	}
	// Detach from the request context so a cancelled request still audits.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	const ins = `INSERT INTO checkout_audit (offering_id, email_hash, outcome, request_id)
VALUES ($1, $2, $3, $4)`
	if _, err := s.Pool.Exec(writeCtx, ins, entry.OfferingID, entry.EmailHash, entry.Outcome, entry.RequestID); err != nil {
		s.Logger.Error().Err(err).
			Str("offering", entry.OfferingID).
			Str("outcome", entry.Outcome).
			Msg("write audit entry")
	}
}
