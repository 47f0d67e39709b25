package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outdial/amd-gateway/pkg/engine"
)

// Postgres is the production Store. Per-call serialization is a
// transaction-scoped advisory lock keyed on the call id, so the
// dedicated detection webhook and the piggybacked status webhook can
// never race each other through the commit rule.
type Postgres struct {
	pool *pgxpool.Pool
}

// serialization_failure and deadlock_detected; retried inside WithCall.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

const withCallMaxAttempts = 3

// NewPostgres connects a pool and verifies connectivity.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Ping verifies database connectivity, for readiness probes.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

const callColumns = `id, to_number, strategy, status, verdict, confidence, duration_seconds, correlation_id, owner, created_at, updated_at`

func (p *Postgres) CreateCall(ctx context.Context, call *engine.Call) error {
	if call.Status == "" {
		call.Status = engine.StatusPending
	}
	if call.Verdict == "" {
		call.Verdict = engine.VerdictUndecided
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO calls (id, to_number, strategy, status, verdict, confidence, duration_seconds, correlation_id, owner)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		RETURNING created_at, updated_at`,
		call.ID, call.To, call.Strategy, call.Status, call.Verdict,
		call.Confidence, call.DurationSecs, call.CorrelationID, call.Owner,
	)
	if err := row.Scan(&call.CreatedAt, &call.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return engine.NewConflictError("call or correlation id already exists")
		}
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

func (p *Postgres) GetCall(ctx context.Context, id string) (*engine.Call, error) {
	return p.scanCall(p.pool.QueryRow(ctx,
		`SELECT `+callColumns+` FROM calls WHERE id = $1`, id))
}

func (p *Postgres) GetCallByCorrelationID(ctx context.Context, corrID string) (*engine.Call, error) {
	return p.scanCall(p.pool.QueryRow(ctx,
		`SELECT `+callColumns+` FROM calls WHERE correlation_id = $1`, corrID))
}

func (p *Postgres) ListCalls(ctx context.Context, limit int) ([]engine.Call, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+callColumns+` FROM calls ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []engine.Call
	for rows.Next() {
		c, err := p.scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (p *Postgres) ListEvents(ctx context.Context, callID string) ([]engine.DetectionEvent, error) {
	if _, err := p.GetCall(ctx, callID); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, call_id, kind, verdict, confidence, payload, created_at
		FROM detection_events WHERE call_id = $1
		ORDER BY created_at, id`, callID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []engine.DetectionEvent
	for rows.Next() {
		var ev engine.DetectionEvent
		var verdict *string
		if err := rows.Scan(&ev.ID, &ev.CallID, &ev.Kind, &verdict, &ev.Confidence, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if verdict != nil {
			v := engine.Verdict(*verdict)
			ev.Verdict = &v
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *Postgres) WithCall(ctx context.Context, callID string, fn func(tx CallTx) error) error {
	var lastErr error
	for attempt := 0; attempt < withCallMaxAttempts; attempt++ {
		err := p.withCallOnce(ctx, callID, fn)
		if err == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected) {
			lastErr = err
			continue
		}
		return err
	}
	return engine.NewConflictError(fmt.Sprintf("call update conflicted after %d attempts: %v", withCallMaxAttempts, lastErr))
}

func (p *Postgres) withCallOnce(ctx context.Context, callID string, fn func(tx CallTx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, callID); err != nil {
		return fmt.Errorf("lock call: %w", err)
	}

	call, err := p.scanCall(tx.QueryRow(ctx,
		`SELECT `+callColumns+` FROM calls WHERE id = $1`, callID))
	if err != nil {
		return err
	}

	if err := fn(&pgTx{ctx: ctx, tx: tx, call: call}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	ctx  context.Context
	tx   pgx.Tx
	call *engine.Call
}

func (t *pgTx) Call() *engine.Call {
	cp := *t.call
	return &cp
}

func (t *pgTx) SetStatus(status engine.CallStatus, durationSecs *int) error {
	_, err := t.tx.Exec(t.ctx, `
		UPDATE calls SET status = $2, duration_seconds = COALESCE($3, duration_seconds), updated_at = now()
		WHERE id = $1`, t.call.ID, status, durationSecs)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	t.call.Status = status
	if durationSecs != nil {
		d := *durationSecs
		t.call.DurationSecs = &d
	}
	return nil
}

func (t *pgTx) SetVerdict(v engine.Verdict, confidence float64) error {
	if confidence < 0 || confidence > 1 {
		return engine.NewInvalidRequestErrorWithParam("confidence must be in [0,1]", "confidence")
	}
	_, err := t.tx.Exec(t.ctx, `
		UPDATE calls SET verdict = $2, confidence = $3, updated_at = now()
		WHERE id = $1`, t.call.ID, v, confidence)
	if err != nil {
		return fmt.Errorf("update verdict: %w", err)
	}
	t.call.Verdict = v
	conf := confidence
	t.call.Confidence = &conf
	return nil
}

func (t *pgTx) SetCorrelationID(corrID string) error {
	if t.call.CorrelationID != "" && t.call.CorrelationID != corrID {
		return engine.NewConflictError("correlation id is immutable once set")
	}
	_, err := t.tx.Exec(t.ctx, `
		UPDATE calls SET correlation_id = $2, updated_at = now()
		WHERE id = $1`, t.call.ID, corrID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return engine.NewConflictError("correlation id already assigned")
		}
		return fmt.Errorf("update correlation id: %w", err)
	}
	t.call.CorrelationID = corrID
	return nil
}

func (t *pgTx) AppendEvent(kind string, v *engine.Verdict, confidence *float64, payload json.RawMessage) error {
	var pl any
	if len(payload) > 0 {
		pl = payload
	}
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO detection_events (call_id, kind, verdict, confidence, payload)
		VALUES ($1, $2, $3, $4, $5)`, t.call.ID, kind, v, confidence, pl)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (t *pgTx) CountEvents(kindPrefix string) (int, error) {
	var n int
	err := t.tx.QueryRow(t.ctx, `
		SELECT count(*) FROM detection_events
		WHERE call_id = $1 AND kind LIKE $2 || '%'`, t.call.ID, kindPrefix).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *Postgres) scanCall(row rowScanner) (*engine.Call, error) {
	var c engine.Call
	var corrID *string
	err := row.Scan(&c.ID, &c.To, &c.Strategy, &c.Status, &c.Verdict,
		&c.Confidence, &c.DurationSecs, &corrID, &c.Owner, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.NewNotFoundError("call not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan call: %w", err)
	}
	if corrID != nil {
		c.CorrelationID = *corrID
	}
	return &c, nil
}
