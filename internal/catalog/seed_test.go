package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/online-store/internal/catalog"
)

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) CreateCategory(ctx context.Context, c *catalog.Category) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockWriter) CreateProduct(ctx context.Context, p *catalog.Product) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

var (
	keyboardsID = uuid.FromStringOrNil("0b7f3c1e-6d4a-4f0e-9b8a-1f2e3d4c5b6a")
	keyboardID  = uuid.FromStringOrNil("3f9d2a10-5c7b-4e8f-a1d2-b3c4d5e6f701")
	keycapsID   = uuid.FromStringOrNil("3f9d2a10-5c7b-4e8f-a1d2-b3c4d5e6f702")
)

func TestLoadSeed(t *testing.T) {
	seed, err := catalog.LoadSeed("testdata/seed.yaml")
	require.NoError(t, err)

	require.Len(t, seed.Categories, 1)
	assert.Equal(t, keyboardsID, seed.Categories[0].ID)
	assert.Equal(t, "Keyboards", seed.Categories[0].Name)

	require.Len(t, seed.Products, 2)

	keyboard := seed.Products[0]
	assert.Equal(t, keyboardID, keyboard.ID)
	assert.Equal(t, "Tenkeyless, brown switches", keyboard.Description)
	assert.True(t, decimal.RequireFromString("89.90").Equal(keyboard.UnitPrice), "got %s", keyboard.UnitPrice)
	assert.Equal(t, 12, keyboard.StockQuantity)
	assert.Equal(t, keyboardsID, keyboard.CategoryID)

	keycaps := seed.Products[1]
	assert.Equal(t, keycapsID, keycaps.ID)
	assert.Equal(t, "24.50", keycaps.UnitPrice.StringFixed(2))
	assert.Zero(t, keycaps.StockQuantity)
}

func TestLoadSeed_Errors(t *testing.T) {
	_, err := catalog.LoadSeed("testdata/missing.yaml")
	assert.Error(t, err)

	_, err = catalog.LoadSeed("testdata/unknown_field.yaml")
	assert.Error(t, err)
}

func TestSeed_Validate(t *testing.T) {
	valid := func() *catalog.Seed {
		return &catalog.Seed{
			Categories: []catalog.Category{{ID: keyboardsID, Name: "Keyboards"}},
			Products: []catalog.Product{{
				ID:            keyboardID,
				Name:          "Mechanical Keyboard",
				UnitPrice:     decimal.RequireFromString("89.90"),
				StockQuantity: 12,
				CategoryID:    keyboardsID,
			}},
		}
	}

	testCases := []struct {
		name    string
		mutate  func(s *catalog.Seed)
		wantErr string
	}{
		{
			name:   "Valid",
			mutate: func(*catalog.Seed) {},
		},
		{
			name:    "Category without name",
			mutate:  func(s *catalog.Seed) { s.Categories[0].Name = "" },
			wantErr: "categories[0]: name is required",
		},
		{
			name:    "Product without id",
			mutate:  func(s *catalog.Seed) { s.Products[0].ID = uuid.Nil },
			wantErr: "products[0]: id is required",
		},
		{
			name:    "Duplicate product",
			mutate:  func(s *catalog.Seed) { s.Products = append(s.Products, s.Products[0]) },
			wantErr: "products[1]: duplicate id",
		},
		{
			name:    "Negative price",
			mutate:  func(s *catalog.Seed) { s.Products[0].UnitPrice = decimal.NewFromInt(-1) },
			wantErr: "unit_price cannot be negative",
		},
		{
			name:    "Negative stock",
			mutate:  func(s *catalog.Seed) { s.Products[0].StockQuantity = -3 },
			wantErr: "stock_quantity cannot be negative",
		},
		{
			name:    "Unknown category",
			mutate:  func(s *catalog.Seed) { s.Products[0].CategoryID = keycapsID },
			wantErr: "unknown category",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			seed := valid()
			tc.mutate(seed)

			err := seed.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSeed_Apply(t *testing.T) {
	seed, err := catalog.LoadSeed("testdata/seed.yaml")
	require.NoError(t, err)

	w := new(MockWriter)
	var calls []string
	w.On("CreateCategory", mock.Anything, mock.AnythingOfType("*catalog.Category")).
		Run(func(args mock.Arguments) { calls = append(calls, "category") }).
		Return(nil)
	w.On("CreateProduct", mock.Anything, mock.AnythingOfType("*catalog.Product")).
		Run(func(args mock.Arguments) { calls = append(calls, "product") }).
		Return(nil)

	require.NoError(t, seed.Apply(context.Background(), w))

	assert.Equal(t, []string{"category", "product", "product"}, calls)
	w.AssertExpectations(t)
}

func TestSeed_Apply_StopsOnError(t *testing.T) {
	seed, err := catalog.LoadSeed("testdata/seed.yaml")
	require.NoError(t, err)

	errDB := errors.New("connection reset")
	w := new(MockWriter)
	w.On("CreateCategory", mock.Anything, mock.Anything).Return(errDB).Once()

	err = seed.Apply(context.Background(), w)

	require.ErrorIs(t, err, errDB)
	w.AssertNotCalled(t, "CreateProduct", mock.Anything, mock.Anything)
}

func TestProduct_CanFulfil(t *testing.T) {
	p := catalog.Product{StockQuantity: 3}

	assert.True(t, p.CanFulfil(3))
	assert.False(t, p.CanFulfil(4))
	assert.False(t, p.CanFulfil(0))
}

func TestErrors_Unwrap(t *testing.T) {
	var err error = &catalog.InsufficientStockError{ProductID: keyboardID, Available: 1, Requested: 2}
	assert.ErrorIs(t, err, catalog.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "available 1, requested 2")

	err = &catalog.NotFoundError{ProductID: keyboardID}
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.NotErrorIs(t, err, catalog.ErrInsufficientStock)
}
