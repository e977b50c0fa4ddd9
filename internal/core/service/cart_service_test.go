package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/rocketshoes-cart/internal/core/domain"
	"github.com/rl1809/rocketshoes-cart/internal/port"
)

// Mock CatalogRepository
type mockCatalog struct {
	mu         sync.Mutex
	products   map[int]domain.Product
	stock      map[int]int
	err        error
	stockCalls int
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		products: make(map[int]domain.Product),
		stock:    make(map[int]int),
	}
}

func (m *mockCatalog) withProduct(id, stock int) *mockCatalog {
	m.products[id] = domain.Product{ID: id, Name: "Tênis", Price: 179.9, ImageURL: "https://img.example.com/t.jpg"}
	m.stock[id] = stock
	return m
}

func (m *mockCatalog) GetProduct(ctx context.Context, productID int) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return domain.Product{}, m.err
	}
	p, ok := m.products[productID]
	if !ok {
		return domain.Product{}, fmt.Errorf("catalog /products/%d: %w", productID, port.ErrProductNotFound)
	}
	return p, nil
}

func (m *mockCatalog) GetStock(ctx context.Context, productID int) (domain.Stock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stockCalls++
	if m.err != nil {
		return domain.Stock{}, m.err
	}
	return domain.Stock{ID: productID, Amount: m.stock[productID]}, nil
}

// Mock SnapshotRepository
type mockSnapshots struct {
	mu       sync.Mutex
	values   map[string]string
	setCalls int
	getErr   error
	setErr   error
}

func newMockSnapshots() *mockSnapshots {
	return &mockSnapshots{values: make(map[string]string)}
}

func (m *mockSnapshots) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mockSnapshots) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = value
	return nil
}

// Mock Notifier
type mockNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (m *mockNotifier) Notify(ctx context.Context, n domain.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
}

func (m *mockNotifier) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.sent))
	for _, n := range m.sent {
		out = append(out, n.Message)
	}
	return out
}

type fixture struct {
	catalog   *mockCatalog
	snapshots *mockSnapshots
	notifier  *mockNotifier
}

func newFixture() *fixture {
	return &fixture{
		catalog:   newMockCatalog(),
		snapshots: newMockSnapshots(),
		notifier:  &mockNotifier{},
	}
}

func (f *fixture) seed(t *testing.T, cart domain.Cart) {
	t.Helper()
	raw, err := domain.MarshalSnapshot(cart)
	require.NoError(t, err)
	f.snapshots.values[DefaultSnapshotKey] = raw
}

func (f *fixture) service(opts ...Option) *CartService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCartService(context.Background(), f.catalog, f.snapshots, f.notifier, logger, opts...)
}

func (f *fixture) persisted(t *testing.T) domain.Cart {
	t.Helper()
	raw, ok := f.snapshots.values[DefaultSnapshotKey]
	require.True(t, ok, "expected a persisted snapshot")
	cart, err := domain.UnmarshalSnapshot(raw)
	require.NoError(t, err)
	return cart
}

func TestAddProduct_NewLine(t *testing.T) {
	f := newFixture()
	f.catalog.withProduct(42, 3)
	svc := f.service()

	err := svc.AddProduct(context.Background(), 42)
	require.NoError(t, err)

	cart := svc.Cart()
	require.Len(t, cart, 1)
	assert.Equal(t, 42, cart[0].ID)
	assert.Equal(t, 1, cart[0].Amount)
	assert.Equal(t, "Tênis", cart[0].Name)
	assert.Equal(t, cart, f.persisted(t))
	assert.Equal(t, []string{domain.MessageAdded}, f.notifier.messages())
	assert.Equal(t, domain.NotificationInfo, f.notifier.sent[0].Kind)
}

func TestAddProduct_NewLineWithoutStock(t *testing.T) {
	f := newFixture()
	f.catalog.withProduct(42, 0)
	svc := f.service()

	err := svc.AddProduct(context.Background(), 42)
	assert.ErrorIs(t, err, ErrOutOfStock)

	assert.Empty(t, svc.Cart())
	assert.Zero(t, f.snapshots.setCalls)
	assert.Equal(t, []string{domain.MessageOutOfStock}, f.notifier.messages())
	assert.Equal(t, domain.NotificationError, f.notifier.sent[0].Kind)
}

func TestAddProduct_IncrementsExistingLine(t *testing.T) {
	f := newFixture()
	f.catalog.withProduct(42, 5)
	f.seed(t, domain.Cart{{ID: 42, Name: "Tênis", Amount: 2}, {ID: 7, Name: "Outro", Amount: 1}})
	svc := f.service()

	err := svc.AddProduct(context.Background(), 42)
	require.NoError(t, err)

	want := domain.Cart{{ID: 42, Name: "Tênis", Amount: 3}, {ID: 7, Name: "Outro", Amount: 1}}
	assert.Equal(t, want, svc.Cart())
	assert.Equal(t, want, f.persisted(t))
	assert.Empty(t, f.notifier.messages(), "increment is silent")
}

func TestAddProduct_ExistingLineAtStock(t *testing.T) {
	f := newFixture()
	f.catalog.withProduct(42, 1)
	f.seed(t, domain.Cart{{ID: 42, Amount: 1}})
	svc := f.service()

	err := svc.AddProduct(context.Background(), 42)
	assert.ErrorIs(t, err, ErrOutOfStock)

	assert.Equal(t, domain.Cart{{ID: 42, Amount: 1}}, svc.Cart())
	assert.Zero(t, f.snapshots.setCalls)
	assert.Equal(t, []string{domain.MessageOutOfStock}, f.notifier.messages())
}

func TestAddProduct_CatalogFailure(t *testing.T) {
	f := newFixture()
	f.catalog.withProduct(42, 3)
	f.catalog.err = errors.New("connection refused")
	svc := f.service()

	err := svc.AddProduct(context.Background(), 42)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	assert.Contains(t, err.Error(), "connection refused")

	assert.Empty(t, svc.Cart())
	assert.Zero(t, f.snapshots.setCalls)
	assert.Equal(t, []string{domain.MessageAddFailed}, f.notifier.messages())
}

func TestAddProduct_UnknownProduct(t *testing.T) {
	f := newFixture()
	svc := f.service()

	err := svc.AddProduct(context.Background(), 404)
	assert.ErrorIs(t, err, ErrUnknownProduct)
	assert.ErrorIs(t, err, port.ErrProductNotFound)
	assert.NotErrorIs(t, err, ErrCatalogUnavailable)
	assert.Empty(t, svc.Cart())
	assert.Zero(t, f.snapshots.setCalls)
	assert.Equal(t, []string{domain.MessageAddFailed}, f.notifier.messages())
}

func TestAddProduct_PersistenceFailureLeavesCartUnchanged(t *testing.T) {
	f := newFixture()
	f.catalog.withProduct(42, 3)
	f.snapshots.setErr = errors.New("disk full")
	svc := f.service()

	err := svc.AddProduct(context.Background(), 42)
	assert.ErrorIs(t, err, ErrPersistence)

	assert.Empty(t, svc.Cart())
	assert.Equal(t, []string{domain.MessageAddFailed}, f.notifier.messages())
}

func TestRemoveProduct_Success(t *testing.T) {
	f := newFixture()
	f.seed(t, domain.Cart{{ID: 1, Amount: 1}, {ID: 2, Amount: 3}, {ID: 3, Amount: 2}})
	svc := f.service()

	err := svc.RemoveProduct(context.Background(), 2)
	require.NoError(t, err)

	want := domain.Cart{{ID: 1, Amount: 1}, {ID: 3, Amount: 2}}
	assert.Equal(t, want, svc.Cart())
	assert.Equal(t, want, f.persisted(t))
	assert.Empty(t, f.notifier.messages())
}

func TestRemoveProduct_NotInCart(t *testing.T) {
	f := newFixture()
	f.seed(t, domain.Cart{{ID: 1, Amount: 1}})
	svc := f.service()

	err := svc.RemoveProduct(context.Background(), 2)
	assert.ErrorIs(t, err, ErrProductNotInCart)

	assert.Equal(t, domain.Cart{{ID: 1, Amount: 1}}, svc.Cart())
	assert.Zero(t, f.snapshots.setCalls)
	assert.Equal(t, []string{domain.MessageRemoveFailed}, f.notifier.messages())
}

func TestRemoveProduct_PersistenceFailure(t *testing.T) {
	f := newFixture()
	f.seed(t, domain.Cart{{ID: 1, Amount: 1}})
	f.snapshots.setErr = errors.New("disk full")
	svc := f.service()

	err := svc.RemoveProduct(context.Background(), 1)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, domain.Cart{{ID: 1, Amount: 1}}, svc.Cart())
	assert.Equal(t, []string{domain.MessageRemoveFailed}, f.notifier.messages())
}

func TestUpdateProductAmount_Success(t *testing.T) {
	f := newFixture()
	f.catalog.withProduct(42, 5)
	f.seed(t, domain.Cart{{ID: 42, Amount: 2}, {ID: 7, Amount: 1}})
	svc := f.service()

	err := svc.UpdateProductAmount(context.Background(), UpdateProductAmount{ProductID: 42, Amount: 4})
	require.NoError(t, err)

	want := domain.Cart{{ID: 42, Amount: 4}, {ID: 7, Amount: 1}}
	assert.Equal(t, want, svc.Cart())
	assert.Equal(t, want, f.persisted(t))
	assert.Empty(t, f.notifier.messages())
}

func TestUpdateProductAmount_ExactlyStock(t *testing.T) {
	f := newFixture()
	f.catalog.withProduct(42, 5)
	f.seed(t, domain.Cart{{ID: 42, Amount: 2}})
	svc := f.service()

	err := svc.UpdateProductAmount(context.Background(), UpdateProductAmount{ProductID: 42, Amount: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, svc.Cart()[0].Amount)
}

func TestUpdateProductAmount_BelowOne(t *testing.T) {
	for _, amount := range []int{0, -1} {
		f := newFixture()
		f.catalog.withProduct(42, 100)
		f.seed(t, domain.Cart{{ID: 42, Amount: 2}})
		svc := f.service()

		err := svc.UpdateProductAmount(context.Background(), UpdateProductAmount{ProductID: 42, Amount: amount})
		assert.ErrorIs(t, err, ErrInvalidAmount)

		assert.Equal(t, domain.Cart{{ID: 42, Amount: 2}}, svc.Cart())
		assert.Zero(t, f.snapshots.setCalls)
		assert.Zero(t, f.catalog.stockCalls, "no stock lookup for invalid amounts")
		assert.Equal(t, []string{domain.MessageUpdateAmountFailed}, f.notifier.messages())
	}
}

func TestUpdateProductAmount_OutOfStock(t *testing.T) {
	f := newFixture()
	f.catalog.withProduct(42, 3)
	f.seed(t, domain.Cart{{ID: 42, Amount: 2}})
	svc := f.service()

	err := svc.UpdateProductAmount(context.Background(), UpdateProductAmount{ProductID: 42, Amount: 4})
	assert.ErrorIs(t, err, ErrOutOfStock)

	assert.Equal(t, domain.Cart{{ID: 42, Amount: 2}}, svc.Cart())
	assert.Zero(t, f.snapshots.setCalls)
	assert.Equal(t, []string{domain.MessageOutOfStock}, f.notifier.messages())
}

func TestUpdateProductAmount_NotInCart(t *testing.T) {
	f := newFixture()
	f.catalog.withProduct(42, 3)
	f.seed(t, domain.Cart{{ID: 7, Amount: 1}})
	svc := f.service()

	err := svc.UpdateProductAmount(context.Background(), UpdateProductAmount{ProductID: 42, Amount: 2})
	assert.ErrorIs(t, err, ErrProductNotInCart)

	assert.Equal(t, domain.Cart{{ID: 7, Amount: 1}}, svc.Cart())
	assert.Zero(t, f.snapshots.setCalls)
	assert.Equal(t, []string{domain.MessageUpdateAmountFailed}, f.notifier.messages())
}

func TestUpdateProductAmount_CatalogFailure(t *testing.T) {
	f := newFixture()
	f.catalog.err = errors.New("timeout")
	f.seed(t, domain.Cart{{ID: 42, Amount: 2}})
	svc := f.service()

	err := svc.UpdateProductAmount(context.Background(), UpdateProductAmount{ProductID: 42, Amount: 3})
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	assert.Equal(t, domain.Cart{{ID: 42, Amount: 2}}, svc.Cart())
	assert.Equal(t, []string{domain.MessageUpdateAmountFailed}, f.notifier.messages())
}

func TestNewCartService_Hydration(t *testing.T) {
	t.Run("empty slot", func(t *testing.T) {
		svc := newFixture().service()
		assert.NotNil(t, svc.Cart())
		assert.Empty(t, svc.Cart())
	})

	t.Run("corrupt snapshot", func(t *testing.T) {
		f := newFixture()
		f.snapshots.values[DefaultSnapshotKey] = "{{not-json"
		assert.Empty(t, f.service().Cart())
	})

	t.Run("unreadable slot", func(t *testing.T) {
		f := newFixture()
		f.snapshots.getErr = errors.New("connection reset")
		assert.Empty(t, f.service().Cart())
	})

	t.Run("invalid lines dropped", func(t *testing.T) {
		f := newFixture()
		f.seed(t, domain.Cart{{ID: 1, Amount: 0}, {ID: 2, Amount: 1}, {ID: 2, Amount: 4}})
		assert.Equal(t, domain.Cart{{ID: 2, Amount: 1}}, f.service().Cart())
	})

	t.Run("custom key", func(t *testing.T) {
		f := newFixture()
		f.snapshots.values["other"] = `[{"id":9,"amount":2}]`
		svc := f.service(WithSnapshotKey("other"))
		assert.Equal(t, domain.Cart{{ID: 9, Amount: 2}}, svc.Cart())
	})
}

func TestSnapshot_ReloadReproducesCart(t *testing.T) {
	f := newFixture()
	f.catalog.withProduct(1, 10).withProduct(2, 10).withProduct(3, 10)
	svc := f.service()
	ctx := context.Background()

	require.NoError(t, svc.AddProduct(ctx, 3))
	require.NoError(t, svc.AddProduct(ctx, 1))
	require.NoError(t, svc.AddProduct(ctx, 1))
	require.NoError(t, svc.AddProduct(ctx, 2))
	require.NoError(t, svc.UpdateProductAmount(ctx, UpdateProductAmount{ProductID: 2, Amount: 6}))

	reloaded := NewCartService(ctx, f.catalog, f.snapshots, &mockNotifier{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, svc.Cart(), reloaded.Cart())
	assert.Equal(t, []int{3, 1, 2}, []int{reloaded.Cart()[0].ID, reloaded.Cart()[1].ID, reloaded.Cart()[2].ID})
}

func TestCart_ReturnsCopy(t *testing.T) {
	f := newFixture()
	f.seed(t, domain.Cart{{ID: 1, Amount: 1}})
	svc := f.service()

	c := svc.Cart()
	c[0].Amount = 99

	assert.Equal(t, 1, svc.Cart()[0].Amount)
}

func TestSubscribe(t *testing.T) {
	f := newFixture()
	f.catalog.withProduct(42, 3)
	svc := f.service()

	updates, unsubscribe := svc.Subscribe()

	initial := <-updates
	assert.Empty(t, initial)

	require.NoError(t, svc.AddProduct(context.Background(), 42))

	select {
	case cart := <-updates:
		require.Len(t, cart, 1)
		assert.Equal(t, 42, cart[0].ID)
	case <-time.After(time.Second):
		t.Fatal("expected cart update")
	}

	unsubscribe()
	_, open := <-updates
	assert.False(t, open)
	unsubscribe()
}

func TestSubscribe_LatestWins(t *testing.T) {
	f := newFixture()
	f.catalog.withProduct(42, 10)
	svc := f.service()

	updates, unsubscribe := svc.Subscribe()
	defer unsubscribe()

	ctx := context.Background()
	require.NoError(t, svc.AddProduct(ctx, 42))
	require.NoError(t, svc.AddProduct(ctx, 42))
	require.NoError(t, svc.AddProduct(ctx, 42))

	cart := <-updates
	require.Len(t, cart, 1)
	assert.Equal(t, 3, cart[0].Amount)
}

func TestClose_EndsSubscriptions(t *testing.T) {
	svc := newFixture().service()

	updates, _ := svc.Subscribe()
	<-updates

	svc.Close()
	_, open := <-updates
	assert.False(t, open)

	late, _ := svc.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestAddProduct_ConcurrentAddsAreSerialised(t *testing.T) {
	initialStock := 20
	totalRequests := 50

	f := newFixture()
	f.catalog.withProduct(1, initialStock)
	svc := f.service()

	var successCount atomic.Int32
	var failCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.AddProduct(context.Background(), 1); err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(initialStock), successCount.Load())
	assert.Equal(t, int32(totalRequests-initialStock), failCount.Load())

	cart := svc.Cart()
	require.Len(t, cart, 1)
	assert.Equal(t, initialStock, cart[0].Amount)
	assert.Equal(t, cart, f.persisted(t))
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, "success", outcomeOf(nil))
	assert.Equal(t, "out_of_stock", outcomeOf(ErrOutOfStock))
	assert.Equal(t, "not_in_cart", outcomeOf(ErrProductNotInCart))
	assert.Equal(t, "invalid_amount", outcomeOf(ErrInvalidAmount))
	assert.Equal(t, "unknown_product", outcomeOf(ErrUnknownProduct))
	assert.Equal(t, "catalog_error", outcomeOf(ErrCatalogUnavailable))
	assert.Equal(t, "cancelled", outcomeOf(context.Canceled))
	assert.Equal(t, "persistence_error", outcomeOf(ErrPersistence))
	assert.Equal(t, "error", outcomeOf(errors.New("other")))
}

func TestNotificationMessage(t *testing.T) {
	f := newFixture()
	svc := f.service()

	err := svc.RemoveProduct(context.Background(), 1)
	require.Error(t, err)

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, domain.MessageRemoveFailed, NotificationMessage(err))
	assert.Empty(t, NotificationMessage(errors.New("plain")))
	assert.Empty(t, NotificationMessage(nil))
}

func TestMutations_GiveUpWhenContextEndsWhileQueued(t *testing.T) {
	f := newFixture()
	f.catalog.withProduct(42, 5)
	f.seed(t, domain.Cart{{ID: 42, Name: "Tênis", Price: 179.9, Amount: 1}})
	svc := f.service()

	// Occupy the write slot as an in-flight mutation would.
	svc.writeSlot <- struct{}{}

	tests := []struct {
		name    string
		call    func(ctx context.Context) error
		message string
	}{
		{"add", func(ctx context.Context) error { return svc.AddProduct(ctx, 42) }, domain.MessageAddFailed},
		{"remove", func(ctx context.Context) error { return svc.RemoveProduct(ctx, 42) }, domain.MessageRemoveFailed},
		{"update", func(ctx context.Context) error {
			return svc.UpdateProductAmount(ctx, UpdateProductAmount{ProductID: 42, Amount: 3})
		}, domain.MessageUpdateAmountFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			err := tt.call(ctx)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Equal(t, tt.message, NotificationMessage(err))
		})
	}

	assert.Zero(t, f.catalog.stockCalls)
	assert.Zero(t, f.snapshots.setCalls)
	assert.Equal(t, 1, svc.Cart()[0].Amount)

	<-svc.writeSlot
	require.NoError(t, svc.AddProduct(context.Background(), 42))
	assert.Equal(t, 2, svc.Cart()[0].Amount)
}
