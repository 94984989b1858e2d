package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// RequestedItem is one cart entry as submitted by the buyer. Price and name
// are never taken from the client.
type RequestedItem struct {
	ProductID uuid.UUID
	Quantity  int
}

type Order struct {
	ID          uuid.UUID       `db:"id"`
	BuyerID     uuid.UUID       `db:"buyer_id"`
	TotalAmount decimal.Decimal `db:"total_amount"`
	PlacedAt    time.Time       `db:"placed_at"`
	Lines       []OrderLine     `db:"-"`
}

// OrderLine freezes the product name and unit price seen when the order was
// placed.
type OrderLine struct {
	ID                  uuid.UUID       `db:"id"`
	OrderID             uuid.UUID       `db:"order_id"`
	LineNo              int             `db:"line_no"`
	ProductID           uuid.UUID       `db:"product_id"`
	ProductName         string          `db:"product_name"`
	Quantity            int             `db:"quantity"`
	UnitPriceAtPurchase decimal.Decimal `db:"unit_price_at_purchase"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPriceAtPurchase.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total sums the line subtotals.
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}
