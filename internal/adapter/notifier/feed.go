package notifier

import (
	"context"
	"sync"

	"github.com/rl1809/rocketshoes-cart/internal/core/domain"
)

// Feed buffers notifications until a front-end drains them. When full the
// oldest notification is dropped.
type Feed struct {
	mu    sync.Mutex
	items []domain.Notification
	size  int
}

func NewFeed(size int) *Feed {
	if size < 1 {
		size = 1
	}
	return &Feed{size: size, items: make([]domain.Notification, 0, size)}
}

func (f *Feed) Notify(ctx context.Context, n domain.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.items) == f.size {
		copy(f.items, f.items[1:])
		f.items = f.items[:len(f.items)-1]
	}
	f.items = append(f.items, n)
}

// Drain returns the buffered notifications, oldest first, and empties the feed.
func (f *Feed) Drain() []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.Notification, len(f.items))
	copy(out, f.items)
	f.items = f.items[:0]
	return out
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}
