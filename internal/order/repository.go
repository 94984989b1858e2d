package order

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// DB is satisfied by *pgxpool.Pool and pgx.Tx. On a pgx.Tx, Begin opens a
// savepoint, so CreateOrder nests inside the placement transaction.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresLedger struct {
	db DB
}

func NewLedger(db DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// CreateOrder writes the header and all of its lines atomically.
func (l *PostgresLedger) CreateOrder(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		o.ID = id
	}

	err := pgx.BeginFunc(ctx, l.db, func(tx pgx.Tx) error {
		queryOrder := `
			INSERT INTO orders (id, buyer_id, total_amount, placed_at)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := tx.Exec(ctx, queryOrder, o.ID, o.BuyerID, o.TotalAmount, o.PlacedAt); err != nil {
			return fmt.Errorf("repository: failed to insert order: %w", err)
		}

		queryLine := `
			INSERT INTO order_lines (id, order_id, line_no, product_id, product_name, quantity, unit_price_at_purchase)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		batch := &pgx.Batch{}
		for i := range o.Lines {
			line := &o.Lines[i]
			if line.ID == uuid.Nil {
				id, err := uuid.NewV4()
				if err != nil {
					return fmt.Errorf("repository: failed to generate order line ID: %w", err)
				}
				line.ID = id
			}
			line.OrderID = o.ID
			if line.LineNo == 0 {
				line.LineNo = i + 1
			}
			batch.Queue(queryLine,
				line.ID,
				line.OrderID,
				line.LineNo,
				line.ProductID,
				line.ProductName,
				line.Quantity,
				line.UnitPriceAtPurchase,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for i := range o.Lines {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("repository: failed to insert order line %d for order %s: %w", i+1, o.ID, err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("repository: failed to flush order lines for order %s: %w", o.ID, err)
		}

		return nil
	})
	if err != nil {
		log.Warn().Err(err).Stringer("order_id_attempted", o.ID).Msg("repository: order write rolled back")
		return err
	}

	return nil
}
