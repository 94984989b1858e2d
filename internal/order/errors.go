package order

import (
	"errors"
	"fmt"

	"github.com/gofrs/uuid"

	"github.com/vasiliy-maslov/online-store/internal/catalog"
)

var (
	ErrUnauthenticated  = errors.New("buyer is not authenticated")
	ErrEmptyCart        = errors.New("cart is empty")
	ErrInvalidQuantity  = errors.New("quantity must be a positive integer")
	ErrInvalidProductID = errors.New("product id is invalid")
	ErrTooManyItems     = errors.New("cart has too many items")
	ErrOrderNotFound    = errors.New("order not found")

	ErrStockContention    = errors.New("stock is locked by concurrent orders")
	ErrPlacementTimeout   = errors.New("order placement timed out")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Product lookups and stock checks report the catalog's own errors so callers
// can match either package.
var (
	ErrProductNotFound   = catalog.ErrNotFound
	ErrInsufficientStock = catalog.ErrInsufficientStock
)

type (
	ProductNotFoundError   = catalog.NotFoundError
	InsufficientStockError = catalog.InsufficientStockError
)

type InvalidQuantityError struct {
	Index     int
	ProductID uuid.UUID
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("item %d (product %s): quantity %d must be a positive integer", e.Index, e.ProductID, e.Quantity)
}

func (e *InvalidQuantityError) Unwrap() error {
	return ErrInvalidQuantity
}

// IsRetryable reports whether the same request may succeed if sent again
// later without changes.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStockContention) ||
		errors.Is(err, ErrPlacementTimeout) ||
		errors.Is(err, ErrStorageUnavailable)
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidProductID) ||
		errors.Is(err, ErrTooManyItems) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrOrderNotFound) ||
		IsRetryable(err)
}
