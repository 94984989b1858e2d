package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// DB is satisfied by *pgxpool.Pool and pgx.Tx, so the repository runs either
// standalone or inside an order transaction.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

const productColumns = `id, name, COALESCE(description, ''), unit_price, stock_quantity, category_id, created_at, updated_at`

func scanProduct(row pgx.Row, p *Product) error {
	return row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.UnitPrice,
		&p.StockQuantity,
		&p.CategoryID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	var p Product
	if err := scanProduct(r.db.QueryRow(ctx, query, id), &p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{ProductID: id}
		}
		return nil, fmt.Errorf("repository: failed to select product %s: %w", id, err)
	}

	return &p, nil
}

// LockForUpdate takes row locks on every product in ids, ascending by id, and
// returns the locked rows. Ids without a row are simply absent from the map.
// Must be called inside a transaction.
func (r *Repository) LockForUpdate(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	query := `SELECT ` + productColumns + `
		FROM products
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to lock products: %w", err)
	}
	defer rows.Close()

	locked := make(map[uuid.UUID]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, fmt.Errorf("repository: failed to scan locked product: %w", err)
		}
		locked[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating locked products: %w", err)
	}

	return locked, nil
}

// DecrementStock removes amount units from the product's stock. The statement
// only matches while enough stock remains, so concurrent callers can never
// drive the quantity below zero.
func (r *Repository) DecrementStock(ctx context.Context, id uuid.UUID, amount int) error {
	query := `
		UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = NOW()
		WHERE id = $1 AND stock_quantity >= $2
	`

	cmdTag, err := r.db.Exec(ctx, query, id, amount)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return r.insufficientStock(ctx, id, amount)
		}
		return fmt.Errorf("repository: failed to decrement stock for product %s: %w", id, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return r.insufficientStock(ctx, id, amount)
	}

	return nil
}

func (r *Repository) insufficientStock(ctx context.Context, id uuid.UUID, amount int) error {
	var available int
	err := r.db.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, id).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &NotFoundError{ProductID: id}
		}
		return fmt.Errorf("repository: failed to read stock for product %s: %w", id, err)
	}

	log.Warn().
		Stringer("product_id", id).
		Int("available", available).
		Int("requested", amount).
		Msg("repository: stock decrement rejected")

	return &InsufficientStockError{ProductID: id, Available: available, Requested: amount}
}

// CreateCategory and CreateProduct back catalog seeding. Existing rows are
// left untouched.
func (r *Repository) CreateCategory(ctx context.Context, c *Category) error {
	query := `
		INSERT INTO categories (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, c.ID, c.Name); err != nil {
		return fmt.Errorf("repository: failed to insert category %s: %w", c.ID, err)
	}
	return nil
}

func (r *Repository) CreateProduct(ctx context.Context, p *Product) error {
	query := `
		INSERT INTO products (id, name, description, unit_price, stock_quantity, category_id)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query,
		p.ID,
		p.Name,
		p.Description,
		p.UnitPrice,
		p.StockQuantity,
		p.CategoryID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert product %s: %w", p.ID, err)
	}
	return nil
}
