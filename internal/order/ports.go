package order

import (
	"context"

	"github.com/gofrs/uuid"

	"github.com/vasiliy-maslov/online-store/internal/catalog"
)

type ProductReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*catalog.Product, error)
}

// CatalogStore is the transactional view of the catalog used while placing
// an order.
type CatalogStore interface {
	LockForUpdate(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error)
	DecrementStock(ctx context.Context, id uuid.UUID, amount int) error
}

type Ledger interface {
	CreateOrder(ctx context.Context, o *Order) error
}

// TxStores are bound to one transaction and must not escape the callback.
type TxStores struct {
	Catalog CatalogStore
	Ledger  Ledger
}

// Transactor runs fn in a single transaction. Returning an error from fn or
// cancelling ctx rolls back every write made through stores.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error
}

type HistoryReader interface {
	ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]Order, error)
	GetByID(ctx context.Context, buyerID, orderID uuid.UUID) (*Order, error)
}
