package service

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	opAddProduct          = "add_product"
	opRemoveProduct       = "remove_product"
	opUpdateProductAmount = "update_product_amount"
)

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_operations_total",
			Help: "Cart store operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	cartLines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cart_lines",
			Help: "Number of distinct products currently in the cart",
		},
	)
)

func init() {
	prometheus.MustRegister(operationsTotal)
	prometheus.MustRegister(cartLines)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrProductNotInCart):
		return "not_in_cart"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrUnknownProduct):
		return "unknown_product"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrCatalogUnavailable):
		return "catalog_error"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "error"
	}
}
