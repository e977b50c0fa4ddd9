package port

import (
	"context"

	"github.com/rl1809/rocketshoes-cart/internal/core/domain"
)

type Notifier interface {
	// Notify delivers a user-facing message, it must not block on the caller
	Notify(ctx context.Context, n domain.Notification)
}
