// Package catalog defines the product catalog model and its stores.
package catalog

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound signals that the requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrConflict signals a uniqueness violation on the product SKU.
	ErrConflict = errors.New("product sku already exists")
)

// Product is one catalog entry. SKUs are unique case-insensitively.
type Product struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Price       *float64  `json:"price,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Command is one validated import row, ready to be applied to the catalog.
// Apply upserts by SKU: an existing product is updated in place.
type Command struct {
	SKU         string
	Name        string
	Description *string
	Price       *float64
}

// Update carries partial changes for an existing product; nil fields are
// left untouched.
type Update struct {
	Name        *string
	Description *string
	Price       *float64
	Active      *bool
}

// Filters narrows List results. SKU matches exactly (case-insensitive);
// Name and Description match as substrings.
type Filters struct {
	SKU         string
	Name        string
	Description string
	Active      *bool
}

// Page selects one page of List results.
type Page struct {
	Number int
	Size   int
}

// Store persists catalog products. Apply must be safe under concurrent
// invocation from multiple import tasks; it serializes per SKU.
type Store interface {
	Apply(ctx context.Context, cmd Command) error
	Create(ctx context.Context, p Product) (Product, error)
	Get(ctx context.Context, id int64) (Product, error)
	Update(ctx context.Context, id int64, upd Update) (Product, error)
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) (int64, error)
	List(ctx context.Context, f Filters, page Page) ([]Product, int64, error)
}
