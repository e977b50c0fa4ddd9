package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/rl1809/rocketshoes-cart/internal/adapter/notifier"
	"github.com/rl1809/rocketshoes-cart/internal/adapter/storage"
	"github.com/rl1809/rocketshoes-cart/internal/core/domain"
	"github.com/rl1809/rocketshoes-cart/internal/core/service"
	"github.com/rl1809/rocketshoes-cart/internal/port"
)

var errCatalogDown = errors.New("catalog down")

type fakeCatalog struct {
	mu       sync.Mutex
	products map[int]domain.Product
	stock    map[int]int
	down     bool
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: make(map[int]domain.Product),
		stock:    make(map[int]int),
	}
}

func (c *fakeCatalog) with(id, stock int, price float64) *fakeCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[id] = domain.Product{ID: id, Name: "Tênis", Price: price, ImageURL: "https://img/1.jpg"}
	c.stock[id] = stock
	return c
}

func (c *fakeCatalog) GetProduct(ctx context.Context, productID int) (domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return domain.Product{}, errCatalogDown
	}
	p, ok := c.products[productID]
	if !ok {
		return domain.Product{}, port.ErrProductNotFound
	}
	return p, nil
}

func (c *fakeCatalog) GetStock(ctx context.Context, productID int) (domain.Stock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return domain.Stock{}, errCatalogDown
	}
	s, ok := c.stock[productID]
	if !ok {
		return domain.Stock{}, port.ErrProductNotFound
	}
	return domain.Stock{ID: productID, Amount: s}, nil
}

type testEnv struct {
	catalog *fakeCatalog
	feed    *notifier.Feed
	cart    *service.CartService
	logger  *slog.Logger
}

func newTestEnv(t *testing.T, catalog *fakeCatalog) *testEnv {
	t.Helper()

	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	feed := notifier.NewFeed(10)
	cart := service.NewCartService(context.Background(), catalog, storage.NewMemoryAdapter(), feed, log)
	t.Cleanup(cart.Close)

	return &testEnv{catalog: catalog, feed: feed, cart: cart, logger: log}
}
