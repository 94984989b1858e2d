package catalog

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Category struct {
	ID        uuid.UUID `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

type Product struct {
	ID            uuid.UUID       `json:"id" yaml:"id"`
	Name          string          `json:"name" yaml:"name"`
	Description   string          `json:"description,omitempty" yaml:"description"`
	UnitPrice     decimal.Decimal `json:"unit_price" yaml:"unit_price"`
	StockQuantity int             `json:"stock_quantity" yaml:"stock_quantity"`
	CategoryID    uuid.UUID       `json:"category_id" yaml:"category_id"`
	CreatedAt     time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time       `json:"updated_at" yaml:"-"`
}

// CanFulfil reports whether quantity units can be taken from the current stock.
func (p Product) CanFulfil(quantity int) bool {
	return quantity > 0 && quantity <= p.StockQuantity
}
