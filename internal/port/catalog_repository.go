package port

import (
	"context"
	"errors"

	"github.com/rl1809/rocketshoes-cart/internal/core/domain"
)

// ErrProductNotFound is matched by lookup errors for ids the catalog does not know.
var ErrProductNotFound = errors.New("product not found in catalog")

type CatalogRepository interface {
	// GetProduct fetches the catalog entry for a product
	GetProduct(ctx context.Context, productID int) (domain.Product, error)

	// GetStock fetches the current available quantity, never cached
	GetStock(ctx context.Context, productID int) (domain.Stock, error)
}
