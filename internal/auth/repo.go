package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/synod-schools/portal/internal/platform/db"
	"github.com/synod-schools/portal/internal/shared"
)

// Schema creates the session event log.
const Schema = `
CREATE TABLE IF NOT EXISTS portal_session_events (
	id          BIGSERIAL PRIMARY KEY,
	session_id  TEXT        NOT NULL,
	kind        TEXT        NOT NULL,
	tenant      TEXT,
	user_id     BIGINT,
	email       TEXT,
	remote_addr TEXT,
	user_agent  TEXT,
	meta        JSONB       NOT NULL DEFAULT '{}'::jsonb,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS portal_session_events_session_idx ON portal_session_events (session_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS portal_session_events_tenant_idx ON portal_session_events (tenant, occurred_at DESC);
`

// DefaultEventLimit caps ListSessionEvents when no limit is given.
const DefaultEventLimit = 50

// EventFilter narrows ListSessionEvents. Empty fields match everything.
type EventFilter struct {
	SessionID string
	Tenant    string
	Limit     int
}

// Repository persists session lifecycle events.
type Repository interface {
	RecordSessionEvent(ctx context.Context, ev shared.SessionEvent) error
	ListSessionEvents(ctx context.Context, filter EventFilter) ([]shared.SessionEvent, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// EnsureSchema creates the event table when missing.
func (r *PGRepository) EnsureSchema(ctx context.Context) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, Schema); err != nil {
			return fmt.Errorf("auth: ensure schema: %w", err)
		}
		return nil
	})
}

// PruneSessionEvents deletes events that occurred before cutoff.
func (r *PGRepository) PruneSessionEvents(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM portal_session_events WHERE occurred_at < $1`,
		pgtype.Timestamptz{Time: before.UTC(), Valid: true})
	if err != nil {
		return 0, fmt.Errorf("auth: prune session events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecordSessionEvent appends one event to the log.
func (r *PGRepository) RecordSessionEvent(ctx context.Context, ev shared.SessionEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	meta := ev.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO portal_session_events
		(session_id, kind, tenant, user_id, email, remote_addr, user_agent, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.SessionID,
		string(ev.Kind),
		pgtype.Text{String: ev.Tenant, Valid: ev.Tenant != ""},
		pgtype.Int8{Int64: ev.UserID, Valid: ev.UserID != 0},
		pgtype.Text{String: ev.Email, Valid: ev.Email != ""},
		pgtype.Text{String: ev.RemoteAddr, Valid: ev.RemoteAddr != ""},
		pgtype.Text{String: ev.UserAgent, Valid: ev.UserAgent != ""},
		meta,
		pgtype.Timestamptz{Time: ev.At.UTC(), Valid: true},
	)
	if err != nil {
		return fmt.Errorf("auth: record session event: %w", err)
	}
	return nil
}

// ListSessionEvents returns the newest events first.
func (r *PGRepository) ListSessionEvents(ctx context.Context, filter EventFilter) ([]shared.SessionEvent, error) {
	query, args := buildEventQuery(filter)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("auth: list session events: %w", err)
	}
	defer rows.Close()

	var out []shared.SessionEvent
	for rows.Next() {
		var (
			ev                               shared.SessionEvent
			kind                             string
			tenant, email, remoteAddr, agent pgtype.Text
			userID                           pgtype.Int8
			occurred                         pgtype.Timestamptz
		)
		if err := rows.Scan(&ev.SessionID, &kind, &tenant, &userID, &email, &remoteAddr, &agent, &ev.Meta, &occurred); err != nil {
			return nil, fmt.Errorf("auth: scan session event: %w", err)
		}
		ev.Kind = shared.SessionEventKind(kind)
		ev.Tenant = tenant.String
		ev.UserID = userID.Int64
		ev.Email = email.String
		ev.RemoteAddr = remoteAddr.String
		ev.UserAgent = agent.String
		ev.At = occurred.Time
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auth: list session events: %w", err)
	}
	return out, nil
}

func buildEventQuery(filter EventFilter) (string, []any) {
	var where []string
	args := pgx.NamedArgs{}
	if filter.SessionID != "" {
		where = append(where, "session_id = @session_id")
		args["session_id"] = filter.SessionID
	}
	if filter.Tenant != "" {
		where = append(where, "tenant = @tenant")
		args["tenant"] = filter.Tenant
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	args["limit"] = limit

	var b strings.Builder
	b.WriteString(`SELECT session_id, kind, tenant, user_id, email, remote_addr, user_agent, meta, occurred_at
		FROM portal_session_events`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY occurred_at DESC, id DESC LIMIT @limit")
	return b.String(), []any{args}
}

var _ Repository = (*PGRepository)(nil)
