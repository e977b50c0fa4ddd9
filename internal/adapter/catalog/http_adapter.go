package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/rocketshoes-cart/internal/core/domain"
	"github.com/rl1809/rocketshoes-cart/internal/port"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = gobreaker.ErrOpenState

// errCallerGone marks a failed fetch whose caller context was already done.
// The breaker ignores it.
var errCallerGone = errors.New("caller context done")

// StatusError is a non-2xx answer from the catalog.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog %s returned status %d: %s", e.Path, e.Code, e.Body)
}

// Unwrap maps a 404 to port.ErrProductNotFound.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return port.ErrProductNotFound
	}
	return nil
}

type Config struct {
	BaseURL string
	Timeout time.Duration

	// Breaker trips once MinRequests calls were seen in the current
	// Interval and at least FailureRatio of them failed. It stays open for
	// OpenTimeout before letting a trial request through.
	BreakerName  string
	MinRequests  uint32
	FailureRatio float64
	Interval     time.Duration
	OpenTimeout  time.Duration
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		Timeout:      5 * time.Second,
		BreakerName:  "catalog",
		MinRequests:  5,
		FailureRatio: 0.5,
		Interval:     60 * time.Second,
		OpenTimeout:  30 * time.Second,
	}
}

var breakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "catalog_circuit_breaker_state",
		Help: "Current state of the catalog circuit breaker (0=closed, 1=half-open, 2=open)",
	},
	[]string{"name"},
)

func init() {
	prometheus.MustRegister(breakerState)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// HTTPAdapter reads products and stock from the catalog REST API:
// GET {base}/products/{id} and GET {base}/stock/{id}.
type HTTPAdapter struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewHTTPAdapter(cfg Config, logger *slog.Logger) *HTTPAdapter {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	settings := gobreaker.Settings{
		Name:     cfg.BreakerName,
		Interval: cfg.Interval,
		Timeout:  cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		// A 4xx is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return statusErr.Code < http.StatusInternalServerError
			}
			return err == nil
		},
		// The caller giving up says nothing about catalog health. The
		// client's own Timeout does not cancel ctx and still counts.
		IsExcluded: func(err error) bool {
			return errors.Is(err, errCallerGone)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}
	breakerState.WithLabelValues(cfg.BreakerName).Set(0)

	return &HTTPAdapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
		logger:  logger,
		tracer:  otel.Tracer("github.com/rl1809/rocketshoes-cart/internal/adapter/catalog"),
	}
}

func (a *HTTPAdapter) GetProduct(ctx context.Context, productID int) (domain.Product, error) {
	var product domain.Product
	if err := a.getJSON(ctx, "/products/"+strconv.Itoa(productID), &product); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (a *HTTPAdapter) GetStock(ctx context.Context, productID int) (domain.Stock, error) {
	var stock domain.Stock
	if err := a.getJSON(ctx, "/stock/"+strconv.Itoa(productID), &stock); err != nil {
		return domain.Stock{}, err
	}
	if stock.ID == 0 {
		stock.ID = productID
	}
	return stock, nil
}

// State reports the breaker state.
func (a *HTTPAdapter) State() gobreaker.State {
	return a.breaker.State()
}

func (a *HTTPAdapter) getJSON(ctx context.Context, path string, dst any) (err error) {
	ctx, span := a.tracer.Start(ctx, "catalog GET "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.route", path)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := a.breaker.Execute(func() ([]byte, error) {
		body, err := a.fetch(ctx, path)
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", errCallerGone, err)
		}
		return body, err
	})
	if err != nil {
		return fmt.Errorf("catalog get %s: %w", path, err)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return nil
}

func (a *HTTPAdapter) fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
