package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Querier is the subset of pgxpool.Pool used by the stores. It exists so
// tests can substitute a mock pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using Postgres. SKU uniqueness is enforced
// by the uq_products_sku_ci functional index on lower(sku).
type PostgresStore struct {
	pool Querier
}

// NewPostgresStore connects a pool for the provided DSN.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, pool, nil
}

// NewPostgresStoreWithQuerier wraps an existing pool or mock.
func NewPostgresStoreWithQuerier(q Querier) *PostgresStore {
	return &PostgresStore{pool: q}
}

// Apply upserts a product by SKU in a single statement.
func (s *PostgresStore) Apply(ctx context.Context, cmd Command) error {
	query := `
		INSERT INTO products (sku, name, description, price, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, true, now(), now())
		ON CONFLICT ON CONSTRAINT uq_products_sku_ci
		DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			updated_at = now();
	`
	if _, err := s.pool.Exec(ctx, query, cmd.SKU, cmd.Name, cmd.Description, cmd.Price); err != nil {
		return fmt.Errorf("apply product %q: %w", cmd.SKU, err)
	}
	return nil
}

// Create inserts a new product, translating unique violations to ErrConflict.
func (s *PostgresStore) Create(ctx context.Context, p Product) (Product, error) {
	query := `
		INSERT INTO products (sku, name, description, price, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING id, sku, name, description, price, active, created_at, updated_at;
	`
	var out Product
	err := s.pool.QueryRow(ctx, query, p.SKU, p.Name, p.Description, p.Price, p.Active).Scan(
		&out.ID, &out.SKU, &out.Name, &out.Description, &out.Price, &out.Active,
		&out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Product{}, ErrConflict
		}
		return Product{}, fmt.Errorf("create product: %w", err)
	}
	return out, nil
}

// Get fetches a product by ID or returns ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id int64) (Product, error) {
	query := `
		SELECT id, sku, name, description, price, active, created_at, updated_at
		FROM products WHERE id = $1;
	`
	var out Product
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&out.ID, &out.SKU, &out.Name, &out.Description, &out.Price, &out.Active,
		&out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("get product: %w", err)
	}
	return out, nil
}

// Update applies partial changes and returns the updated row.
func (s *PostgresStore) Update(ctx context.Context, id int64, upd Update) (Product, error) {
	query := `
		UPDATE products SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			price = COALESCE($4, price),
			active = COALESCE($5, active),
			updated_at = now()
		WHERE id = $1
		RETURNING id, sku, name, description, price, active, created_at, updated_at;
	`
	var out Product
	err := s.pool.QueryRow(ctx, query, id, upd.Name, upd.Description, upd.Price, upd.Active).Scan(
		&out.ID, &out.SKU, &out.Name, &out.Description, &out.Price, &out.Active,
		&out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("update product: %w", err)
	}
	return out, nil
}

// Delete removes a product by ID or returns ErrNotFound.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll removes every product and returns the number deleted.
func (s *PostgresStore) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products;`)
	if err != nil {
		return 0, fmt.Errorf("delete all products: %w", err)
	}
	return tag.RowsAffected(), nil
}

// List returns one page of matching products, newest first, plus the total
// match count.
func (s *PostgresStore) List(ctx context.Context, f Filters, page Page) ([]Product, int64, error) {
	if page.Number <= 0 {
		page.Number = 1
	}
	if page.Size <= 0 {
		page.Size = 20
	}

	where, args := buildFilterClause(f)
	countQuery := `SELECT count(*) FROM products` + where + `;`
	var total int64
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	listQuery := `
		SELECT id, sku, name, description, price, active, created_at, updated_at
		FROM products` + where + fmt.Sprintf(`
		ORDER BY id DESC
		LIMIT $%d OFFSET $%d;`, len(args)+1, len(args)+2)
	args = append(args, page.Size, (page.Number-1)*page.Size)

	rows, err := s.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(
			&p.ID, &p.SKU, &p.Name, &p.Description, &p.Price, &p.Active,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, total, nil
}

func buildFilterClause(f Filters) (string, []any) {
	clauses := []string{}
	args := []any{}
	if f.SKU != "" {
		args = append(args, strings.ToLower(f.SKU))
		clauses = append(clauses, fmt.Sprintf("lower(sku) = $%d", len(args)))
	}
	if f.Name != "" {
		args = append(args, "%"+f.Name+"%")
		clauses = append(clauses, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if f.Description != "" {
		args = append(args, "%"+f.Description+"%")
		clauses = append(clauses, fmt.Sprintf("description ILIKE $%d", len(args)))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		clauses = append(clauses, fmt.Sprintf("active = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
