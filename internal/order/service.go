package order

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vasiliy-maslov/online-store/internal/catalog"
)

const tracerName = "github.com/vasiliy-maslov/online-store/internal/order"

type Service interface {
	PlaceOrder(ctx context.Context, buyerID uuid.UUID, items []RequestedItem) (*Order, error)
	ListOrders(ctx context.Context, buyerID uuid.UUID) ([]Order, error)
	GetOrder(ctx context.Context, buyerID, orderID uuid.UUID) (*Order, error)
}

type ServiceConfig struct {
	PlacementTimeout time.Duration
	MaxItems         int
}

type Option func(*service)

// WithClock replaces the time source used for PlacedAt.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithIDGenerator(newID func() (uuid.UUID, error)) Option {
	return func(s *service) { s.newID = newID }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *service) { s.tracer = tracer }
}

type service struct {
	products ProductReader
	tx       Transactor
	history  HistoryReader
	cfg      ServiceConfig
	now      func() time.Time
	newID    func() (uuid.UUID, error)
	tracer   trace.Tracer
}

func NewService(products ProductReader, tx Transactor, history HistoryReader, cfg ServiceConfig, opts ...Option) Service {
	s := &service{
		products: products,
		tx:       tx,
		history:  history,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewV4,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) PlaceOrder(ctx context.Context, buyerID uuid.UUID, items []RequestedItem) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.place", trace.WithAttributes(
		attribute.String("buyer.id", buyerID.String()),
		attribute.Int("order.items", len(items)),
	))
	defer span.End()

	placed, err := s.placeOrder(ctx, buyerID, items)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("order.id", placed.ID.String()),
		attribute.String("order.total", placed.TotalAmount.StringFixed(2)),
	)

	return placed, nil
}

func (s *service) placeOrder(ctx context.Context, buyerID uuid.UUID, items []RequestedItem) (*Order, error) {
	if err := s.validateRequest(buyerID, items); err != nil {
		log.Warn().Err(err).Stringer("buyer_id", buyerID).Int("items", len(items)).Msg("service: order request rejected")
		return nil, err
	}

	if s.cfg.PlacementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PlacementTimeout)
		defer cancel()
	}

	// Cheap unlocked read so obviously bad carts never take row locks. The
	// authoritative check is repeated under lock below.
	if err := s.precheck(ctx, items); err != nil {
		return nil, s.placementError(ctx, buyerID, err)
	}

	ids, quantities := distinctProducts(items)

	var placed *Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context, stores TxStores) error {
		locked, err := stores.Catalog.LockForUpdate(ctx, ids)
		if err != nil {
			return err
		}

		lines, err := priceLines(items, func(id uuid.UUID) (catalog.Product, bool) {
			p, ok := locked[id]
			return p, ok
		})
		if err != nil {
			return err
		}

		o, err := s.newOrder(buyerID, lines)
		if err != nil {
			return err
		}

		if err := stores.Ledger.CreateOrder(ctx, o); err != nil {
			return err
		}

		for _, id := range ids {
			if err := stores.Catalog.DecrementStock(ctx, id, quantities[id]); err != nil {
				return err
			}
		}

		placed = o
		return nil
	})
	if err != nil {
		return nil, s.placementError(ctx, buyerID, err)
	}

	log.Info().
		Stringer("order_id", placed.ID).
		Stringer("buyer_id", buyerID).
		Str("total", placed.TotalAmount.StringFixed(2)).
		Int("lines", len(placed.Lines)).
		Msg("service: order placed")

	return placed, nil
}

func (s *service) validateRequest(buyerID uuid.UUID, items []RequestedItem) error {
	if buyerID == uuid.Nil {
		return ErrUnauthenticated
	}

	if len(items) == 0 {
		return ErrEmptyCart
	}

	if s.cfg.MaxItems > 0 && len(items) > s.cfg.MaxItems {
		return fmt.Errorf("%w: %d items submitted, at most %d allowed", ErrTooManyItems, len(items), s.cfg.MaxItems)
	}

	for i, item := range items {
		if item.ProductID == uuid.Nil {
			return fmt.Errorf("%w: item %d", ErrInvalidProductID, i)
		}
		if item.Quantity <= 0 {
			return &InvalidQuantityError{Index: i, ProductID: item.ProductID, Quantity: item.Quantity}
		}
	}

	return nil
}

func (s *service) precheck(ctx context.Context, items []RequestedItem) error {
	seen := make(map[uuid.UUID]catalog.Product, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		p, err := s.products.GetByID(ctx, item.ProductID)
		if err != nil {
			return err
		}
		seen[item.ProductID] = *p
	}

	_, err := priceLines(items, func(id uuid.UUID) (catalog.Product, bool) {
		p, ok := seen[id]
		return p, ok
	})
	return err
}

func (s *service) newOrder(buyerID uuid.UUID, lines []OrderLine) (*Order, error) {
	orderID, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate order id: %w", err)
	}

	for i := range lines {
		lineID, err := s.newID()
		if err != nil {
			return nil, fmt.Errorf("service: failed to generate order line id: %w", err)
		}
		lines[i].ID = lineID
		lines[i].OrderID = orderID
	}

	o := &Order{
		ID:       orderID,
		BuyerID:  buyerID,
		PlacedAt: s.now().UTC(),
		Lines:    lines,
	}
	o.TotalAmount = o.Total()
	return o, nil
}

// placementError keeps domain errors intact and folds everything else into
// the retryable infrastructure errors.
func (s *service) placementError(ctx context.Context, buyerID uuid.UUID, err error) error {
	switch {
	case isDomainError(err):
		log.Warn().Err(err).Stringer("buyer_id", buyerID).Msg("service: order placement rejected")
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Error().Err(err).Stringer("buyer_id", buyerID).Dur("timeout", s.cfg.PlacementTimeout).Msg("service: order placement timed out")
		return fmt.Errorf("%w: %w", ErrPlacementTimeout, err)
	case errors.Is(err, context.Canceled):
		log.Warn().Err(err).Stringer("buyer_id", buyerID).Msg("service: order placement cancelled by caller")
		return fmt.Errorf("service: order placement cancelled: %w", err)
	default:
		log.Error().Err(err).Stringer("buyer_id", buyerID).Msg("service: failed to place order")
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
}

func (s *service) ListOrders(ctx context.Context, buyerID uuid.UUID) ([]Order, error) {
	if buyerID == uuid.Nil {
		return nil, ErrUnauthenticated
	}

	orders, err := s.history.ListByBuyer(ctx, buyerID)
	if err != nil {
		log.Error().Err(err).Stringer("buyer_id", buyerID).Msg("service: failed to fetch buyer orders")
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	return orders, nil
}

func (s *service) GetOrder(ctx context.Context, buyerID, orderID uuid.UUID) (*Order, error) {
	if buyerID == uuid.Nil {
		return nil, ErrUnauthenticated
	}

	o, err := s.history.GetByID(ctx, buyerID, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", orderID).Stringer("buyer_id", buyerID).Msg("service: order not found")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to fetch order")
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	return o, nil
}

// priceLines walks items in submitted order, claiming stock cumulatively so
// repeated product ids are checked against what earlier lines already took.
func priceLines(items []RequestedItem, lookup func(uuid.UUID) (catalog.Product, bool)) ([]OrderLine, error) {
	claimed := make(map[uuid.UUID]int, len(items))
	lines := make([]OrderLine, 0, len(items))

	for i, item := range items {
		p, ok := lookup(item.ProductID)
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}

		if !p.CanFulfil(claimed[item.ProductID] + item.Quantity) {
			return nil, &InsufficientStockError{
				ProductID: item.ProductID,
				Available: max(p.StockQuantity-claimed[item.ProductID], 0),
				Requested: item.Quantity,
			}
		}
		claimed[item.ProductID] += item.Quantity

		lines = append(lines, OrderLine{
			LineNo:              i + 1,
			ProductID:           p.ID,
			ProductName:         p.Name,
			Quantity:            item.Quantity,
			UnitPriceAtPurchase: p.UnitPrice,
		})
	}

	return lines, nil
}

// distinctProducts returns the cart's product ids in ascending byte order,
// which is the order Postgres uses for uuid, together with the summed
// quantity per product.
func distinctProducts(items []RequestedItem) ([]uuid.UUID, map[uuid.UUID]int) {
	quantities := make(map[uuid.UUID]int, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := quantities[item.ProductID]; !ok {
			ids = append(ids, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}

	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return bytes.Compare(a.Bytes(), b.Bytes())
	})

	return ids, quantities
}
