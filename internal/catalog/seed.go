package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Writer is implemented by every catalog backend that can be seeded.
type Writer interface {
	CreateCategory(ctx context.Context, c *Category) error
	CreateProduct(ctx context.Context, p *Product) error
}

type Seed struct {
	Categories []Category `yaml:"categories"`
	Products   []Product  `yaml:"products"`
}

func LoadSeed(path string) (*Seed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open seed file %s: %w", path, err)
	}
	defer file.Close()

	var seed Seed
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&seed); err != nil {
		return nil, fmt.Errorf("catalog: invalid seed file %s: %w", path, err)
	}

	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("catalog: invalid seed file %s: %w", path, err)
	}

	return &seed, nil
}

func (s *Seed) Validate() error {
	var errs []error

	categories := make(map[uuid.UUID]bool, len(s.Categories))
	for i, c := range s.Categories {
		if c.ID == uuid.Nil {
			errs = append(errs, fmt.Errorf("categories[%d]: id is required", i))
		}
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("categories[%d]: name is required", i))
		}
		categories[c.ID] = true
	}

	products := make(map[uuid.UUID]bool, len(s.Products))
	for i, p := range s.Products {
		switch {
		case p.ID == uuid.Nil:
			errs = append(errs, fmt.Errorf("products[%d]: id is required", i))
		case products[p.ID]:
			errs = append(errs, fmt.Errorf("products[%d]: duplicate id %s", i, p.ID))
		}
		products[p.ID] = true

		if p.Name == "" {
			errs = append(errs, fmt.Errorf("products[%d]: name is required", i))
		}
		if p.UnitPrice.IsNegative() {
			errs = append(errs, fmt.Errorf("products[%d]: unit_price cannot be negative", i))
		}
		if p.StockQuantity < 0 {
			errs = append(errs, fmt.Errorf("products[%d]: stock_quantity cannot be negative", i))
		}
		if !categories[p.CategoryID] {
			errs = append(errs, fmt.Errorf("products[%d]: unknown category %s", i, p.CategoryID))
		}
	}

	return errors.Join(errs...)
}

// Apply writes categories first so product foreign keys resolve.
func (s *Seed) Apply(ctx context.Context, w Writer) error {
	for i := range s.Categories {
		if err := w.CreateCategory(ctx, &s.Categories[i]); err != nil {
			return err
		}
	}

	for i := range s.Products {
		if err := w.CreateProduct(ctx, &s.Products[i]); err != nil {
			return err
		}
	}

	log.Info().
		Int("categories", len(s.Categories)).
		Int("products", len(s.Products)).
		Msg("catalog: seed applied")

	return nil
}
