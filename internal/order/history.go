package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// HistoryRepository is the read side of the ledger.
type HistoryRepository struct {
	db *sqlx.DB
}

func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// ListByBuyer returns the buyer's orders newest first, each with its lines.
func (r *HistoryRepository) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]Order, error) {
	query := `
		SELECT id, buyer_id, total_amount, placed_at
		FROM orders
		WHERE buyer_id = $1
		ORDER BY placed_at DESC, id
	`

	var orders []Order
	if err := r.db.SelectContext(ctx, &orders, query, buyerID); err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for buyer %s: %w", buyerID, err)
	}

	if len(orders) == 0 {
		return []Order{}, nil
	}

	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}

	return orders, nil
}

// GetByID only returns orders owned by buyerID; anything else is reported as
// not found.
func (r *HistoryRepository) GetByID(ctx context.Context, buyerID, orderID uuid.UUID) (*Order, error) {
	query := `
		SELECT id, buyer_id, total_amount, placed_at
		FROM orders
		WHERE id = $1 AND buyer_id = $2
	`

	var o Order
	if err := r.db.GetContext(ctx, &o, query, orderID, buyerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order %s: %w", orderID, err)
	}

	orders := []Order{o}
	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}

	return &orders[0], nil
}

func (r *HistoryRepository) attachLines(ctx context.Context, orders []Order) error {
	ids := make([]string, 0, len(orders))
	index := make(map[uuid.UUID]int, len(orders))
	for i := range orders {
		ids = append(ids, orders[i].ID.String())
		index[orders[i].ID] = i
		orders[i].Lines = make([]OrderLine, 0)
	}

	query := `
		SELECT id, order_id, line_no, product_id, product_name, quantity, unit_price_at_purchase
		FROM order_lines
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, line_no
	`

	var lines []OrderLine
	if err := r.db.SelectContext(ctx, &lines, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("repository: failed to query order lines: %w", err)
	}

	for _, line := range lines {
		if i, ok := index[line.OrderID]; ok {
			orders[i].Lines = append(orders[i].Lines, line)
		}
	}

	return nil
}
