package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/rocketshoes-cart/internal/core/domain"
	"github.com/rl1809/rocketshoes-cart/internal/logger"
	"github.com/rl1809/rocketshoes-cart/internal/port"
)

// DefaultSnapshotKey is the persistence slot the cart is stored under.
const DefaultSnapshotKey = "@RocketShoes:cart"

var (
	ErrOutOfStock         = errors.New("requested amount out of stock")
	ErrProductNotInCart   = errors.New("product not in cart")
	ErrInvalidAmount      = errors.New("amount must be at least 1")
	ErrCatalogUnavailable = errors.New("catalog lookup failed")
	ErrUnknownProduct     = errors.New("product unknown to the catalog")
	ErrPersistence        = errors.New("cart snapshot write failed")
)

// OperationError is returned by a failed operation. Message is the
// notification that was sent for it.
type OperationError struct {
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	return e.Err.Error()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// NotificationMessage returns the notification sent for err, if any.
func NotificationMessage(err error) string {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Message
	}
	return ""
}

// UpdateProductAmount is the input of CartService.UpdateProductAmount.
type UpdateProductAmount struct {
	ProductID int `json:"product_id"`
	Amount    int `json:"amount"`
}

// CartService owns the in-memory cart. Every mutation is validated against
// the catalog, written to the snapshot slot and only then committed to
// memory, so memory and slot never diverge.
//
// Mutations are serialised: the write slot is held for the whole
// read-validate-write sequence, remote lookups included. A caller whose ctx
// ends while queued for the slot gives up without touching the cart.
// Failures are reported through the notifier and returned to the caller.
type CartService struct {
	catalog   port.CatalogRepository
	snapshots port.SnapshotRepository
	notifier  port.Notifier
	logger    *slog.Logger
	tracer    trace.Tracer
	key       string

	writeSlot chan struct{}

	mu      sync.RWMutex
	cart    domain.Cart
	subs    map[int]chan domain.Cart
	nextSub int
	closed  bool
}

type Option func(*CartService)

// WithSnapshotKey overrides DefaultSnapshotKey.
func WithSnapshotKey(key string) Option {
	return func(s *CartService) {
		if key != "" {
			s.key = key
		}
	}
}

// NewCartService creates the store and hydrates it from the snapshot slot.
// An unreadable or corrupt snapshot yields an empty cart.
func NewCartService(
	ctx context.Context,
	catalog port.CatalogRepository,
	snapshots port.SnapshotRepository,
	notifier port.Notifier,
	logger *slog.Logger,
	opts ...Option,
) *CartService {
	s := &CartService{
		catalog:   catalog,
		snapshots: snapshots,
		notifier:  notifier,
		logger:    logger,
		tracer:    otel.Tracer("github.com/rl1809/rocketshoes-cart/internal/core/service"),
		key:       DefaultSnapshotKey,
		writeSlot: make(chan struct{}, 1),
		cart:      domain.Cart{},
		subs:      make(map[int]chan domain.Cart),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.hydrate(ctx)
	cartLines.Set(float64(len(s.cart)))
	return s
}

func (s *CartService) hydrate(ctx context.Context) {
	raw, found, err := s.snapshots.Get(ctx, s.key)
	if err != nil {
		s.logger.WarnContext(ctx, "cart snapshot unreadable, starting empty",
			slog.String("key", s.key),
			slog.String("error", err.Error()),
		)
		return
	}
	if !found {
		return
	}

	cart, err := domain.UnmarshalSnapshot(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "cart snapshot corrupt, starting empty",
			slog.String("key", s.key),
			slog.String("error", err.Error()),
		)
		return
	}

	cart, dropped := cart.Normalize()
	if dropped > 0 {
		s.logger.WarnContext(ctx, "dropped invalid lines from cart snapshot",
			slog.String("key", s.key),
			slog.Int("dropped", dropped),
		)
	}
	s.cart = cart
}

// Cart returns a copy of the current lines.
func (s *CartService) Cart() domain.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Clone()
}

// AddProduct adds one unit of productID, appending a new line or
// incrementing the existing one when stock allows.
func (s *CartService) AddProduct(ctx context.Context, productID int) (err error) {
	ctx, span := s.tracer.Start(ctx, "CartService.AddProduct",
		trace.WithAttributes(attribute.Int("product.id", productID)))
	defer func() { s.finish(span, opAddProduct, err) }()

	if err := s.acquire(ctx); err != nil {
		return s.reject(ctx, domain.MessageAddFailed, err)
	}
	defer s.release()

	cart := s.Cart()
	line, inCart := cart.Find(productID)

	if !inCart {
		product, err := s.catalog.GetProduct(ctx, productID)
		if err != nil {
			return s.reject(ctx, domain.MessageAddFailed, lookupError("product", productID, err))
		}
		stock, err := s.catalog.GetStock(ctx, productID)
		if err != nil {
			return s.reject(ctx, domain.MessageAddFailed, lookupError("stock", productID, err))
		}
		if stock.Amount <= 0 {
			return s.reject(ctx, domain.MessageOutOfStock,
				fmt.Errorf("%w: product %d has no stock", ErrOutOfStock, productID))
		}

		if err := s.commit(ctx, cart.WithLine(product, 1)); err != nil {
			return s.reject(ctx, domain.MessageAddFailed, err)
		}
		s.notify(ctx, domain.MessageAdded, domain.NotificationInfo)
		return nil
	}

	stock, err := s.catalog.GetStock(ctx, productID)
	if err != nil {
		return s.reject(ctx, domain.MessageAddFailed, lookupError("stock", productID, err))
	}
	if stock.Amount <= line.Amount {
		return s.reject(ctx, domain.MessageOutOfStock,
			fmt.Errorf("%w: product %d has %d, cart holds %d", ErrOutOfStock, productID, stock.Amount, line.Amount))
	}

	if err := s.commit(ctx, cart.WithAmount(productID, line.Amount+1)); err != nil {
		return s.reject(ctx, domain.MessageAddFailed, err)
	}
	return nil
}

// RemoveProduct drops the line for productID.
func (s *CartService) RemoveProduct(ctx context.Context, productID int) (err error) {
	ctx, span := s.tracer.Start(ctx, "CartService.RemoveProduct",
		trace.WithAttributes(attribute.Int("product.id", productID)))
	defer func() { s.finish(span, opRemoveProduct, err) }()

	if err := s.acquire(ctx); err != nil {
		return s.reject(ctx, domain.MessageRemoveFailed, err)
	}
	defer s.release()

	cart := s.Cart()
	if !cart.Contains(productID) {
		return s.reject(ctx, domain.MessageRemoveFailed,
			fmt.Errorf("%w: product %d", ErrProductNotInCart, productID))
	}

	if err := s.commit(ctx, cart.Without(productID)); err != nil {
		return s.reject(ctx, domain.MessageRemoveFailed, err)
	}
	return nil
}

// UpdateProductAmount sets the amount of an existing line. Amounts below one
// are rejected; removal goes through RemoveProduct.
func (s *CartService) UpdateProductAmount(ctx context.Context, in UpdateProductAmount) (err error) {
	ctx, span := s.tracer.Start(ctx, "CartService.UpdateProductAmount",
		trace.WithAttributes(
			attribute.Int("product.id", in.ProductID),
			attribute.Int("product.amount", in.Amount),
		))
	defer func() { s.finish(span, opUpdateProductAmount, err) }()

	if in.Amount < 1 {
		return s.reject(ctx, domain.MessageUpdateAmountFailed,
			fmt.Errorf("%w: got %d", ErrInvalidAmount, in.Amount))
	}

	if err := s.acquire(ctx); err != nil {
		return s.reject(ctx, domain.MessageUpdateAmountFailed, err)
	}
	defer s.release()

	stock, err := s.catalog.GetStock(ctx, in.ProductID)
	if err != nil {
		return s.reject(ctx, domain.MessageUpdateAmountFailed, lookupError("stock", in.ProductID, err))
	}
	if in.Amount > stock.Amount {
		return s.reject(ctx, domain.MessageOutOfStock,
			fmt.Errorf("%w: product %d has %d, requested %d", ErrOutOfStock, in.ProductID, stock.Amount, in.Amount))
	}

	cart := s.Cart()
	if !cart.Contains(in.ProductID) {
		return s.reject(ctx, domain.MessageUpdateAmountFailed,
			fmt.Errorf("%w: product %d", ErrProductNotInCart, in.ProductID))
	}

	if err := s.commit(ctx, cart.WithAmount(in.ProductID, in.Amount)); err != nil {
		return s.reject(ctx, domain.MessageUpdateAmountFailed, err)
	}
	return nil
}

// Subscribe returns a channel receiving the cart after every committed
// mutation, starting with the current cart. Delivery is latest-wins: a
// slow reader sees only the most recent cart. The returned func
// unsubscribes and closes the channel.
func (s *CartService) Subscribe() (<-chan domain.Cart, func()) {
	ch := make(chan domain.Cart, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.cart.Clone()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

// Close ends every subscription. The cart stays readable.
func (s *CartService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// acquire takes the write slot, or returns ctx's error if ctx ends first.
func (s *CartService) acquire(ctx context.Context) error {
	select {
	case s.writeSlot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for write slot: %w", ctx.Err())
	}
}

func (s *CartService) release() {
	<-s.writeSlot
}

// lookupError classifies a catalog failure: an id the catalog does not know
// is ErrUnknownProduct, anything else ErrCatalogUnavailable.
func lookupError(resource string, productID int, err error) error {
	if errors.Is(err, port.ErrProductNotFound) {
		return fmt.Errorf("%w: %s %d: %w", ErrUnknownProduct, resource, productID, err)
	}
	return fmt.Errorf("%w: %s %d: %w", ErrCatalogUnavailable, resource, productID, err)
}

// commit writes next to the snapshot slot and, once that succeeded,
// replaces the in-memory cart and publishes it.
func (s *CartService) commit(ctx context.Context, next domain.Cart) error {
	raw, err := domain.MarshalSnapshot(next)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := s.snapshots.Set(ctx, s.key, raw); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cart = next
	cartLines.Set(float64(len(next)))
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- next.Clone():
		default:
		}
	}
	return nil
}

func (s *CartService) reject(ctx context.Context, message string, err error) error {
	l := logger.WithContext(ctx, s.logger)
	if errors.Is(err, ErrCatalogUnavailable) || errors.Is(err, ErrPersistence) {
		l.ErrorContext(ctx, "cart operation failed", slog.String("error", err.Error()))
	} else {
		l.InfoContext(ctx, "cart operation rejected", slog.String("reason", err.Error()))
	}

	s.notify(ctx, message, domain.NotificationError)
	return &OperationError{Message: message, Err: err}
}

func (s *CartService) notify(ctx context.Context, message string, kind domain.NotificationKind) {
	s.notifier.Notify(ctx, domain.NewNotification(message, kind))
}

func (s *CartService) finish(span trace.Span, op string, err error) {
	operationsTotal.WithLabelValues(op, outcomeOf(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
