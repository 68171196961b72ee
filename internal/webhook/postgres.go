package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgxpool.Pool used by the registry. It exists so
// tests can substitute a mock pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRegistry implements Registry using Postgres.
type PostgresRegistry struct {
	pool Querier
}

// NewPostgresRegistry connects a pool for the provided DSN.
func NewPostgresRegistry(ctx context.Context, dsn string) (*PostgresRegistry, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresRegistry{pool: pool}, pool, nil
}

// NewPostgresRegistryWithQuerier wraps an existing pool or mock.
func NewPostgresRegistryWithQuerier(q Querier) *PostgresRegistry {
	return &PostgresRegistry{pool: q}
}

const webhookColumns = `id, url, event_type, enabled, last_response_code, last_response_time_ms, created_at, updated_at`

// Create registers a new webhook.
func (r *PostgresRegistry) Create(ctx context.Context, hook Webhook) (Webhook, error) {
	query := `
		INSERT INTO webhooks (url, event_type, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING ` + webhookColumns + `;
	`
	var out Webhook
	err := r.pool.QueryRow(ctx, query, hook.URL, hook.EventType, hook.Enabled).Scan(
		&out.ID, &out.URL, &out.EventType, &out.Enabled,
		&out.LastResponseCode, &out.LastResponseTimeMs,
		&out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return Webhook{}, fmt.Errorf("create webhook: %w", err)
	}
	return out, nil
}

// Get fetches a webhook by ID or returns ErrNotFound.
func (r *PostgresRegistry) Get(ctx context.Context, id int64) (Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE id = $1;`
	var out Webhook
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&out.ID, &out.URL, &out.EventType, &out.Enabled,
		&out.LastResponseCode, &out.LastResponseTimeMs,
		&out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Webhook{}, ErrNotFound
		}
		return Webhook{}, fmt.Errorf("get webhook: %w", err)
	}
	return out, nil
}

// List returns every webhook ordered by ID.
func (r *PostgresRegistry) List(ctx context.Context) ([]Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks ORDER BY id;`
	return r.queryMany(ctx, query)
}

// ListByEvent returns the enabled webhooks subscribed to event.
func (r *PostgresRegistry) ListByEvent(ctx context.Context, event string) ([]Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE enabled AND event_type = $1 ORDER BY id;`
	return r.queryMany(ctx, query, event)
}

// Update applies partial changes and returns the updated row.
func (r *PostgresRegistry) Update(ctx context.Context, id int64, upd Update) (Webhook, error) {
	query := `
		UPDATE webhooks SET
			url = COALESCE($2, url),
			event_type = COALESCE($3, event_type),
			enabled = COALESCE($4, enabled),
			updated_at = now()
		WHERE id = $1
		RETURNING ` + webhookColumns + `;
	`
	var out Webhook
	err := r.pool.QueryRow(ctx, query, id, upd.URL, upd.EventType, upd.Enabled).Scan(
		&out.ID, &out.URL, &out.EventType, &out.Enabled,
		&out.LastResponseCode, &out.LastResponseTimeMs,
		&out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Webhook{}, ErrNotFound
		}
		return Webhook{}, fmt.Errorf("update webhook: %w", err)
	}
	return out, nil
}

// Delete removes a webhook by ID or returns ErrNotFound.
func (r *PostgresRegistry) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordResult stores the outcome of the latest delivery attempt.
func (r *PostgresRegistry) RecordResult(ctx context.Context, id int64, code int, elapsedMs int64) error {
	query := `
		UPDATE webhooks SET
			last_response_code = $2,
			last_response_time_ms = $3,
			updated_at = now()
		WHERE id = $1;
	`
	tag, err := r.pool.Exec(ctx, query, id, code, elapsedMs)
	if err != nil {
		return fmt.Errorf("record webhook result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRegistry) queryMany(ctx context.Context, query string, args ...any) ([]Webhook, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	hooks := []Webhook{}
	for rows.Next() {
		var h Webhook
		if err := rows.Scan(
			&h.ID, &h.URL, &h.EventType, &h.Enabled,
			&h.LastResponseCode, &h.LastResponseTimeMs,
			&h.CreatedAt, &h.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook row: %w", err)
		}
		hooks = append(hooks, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook rows: %w", err)
	}
	return hooks, nil
}
