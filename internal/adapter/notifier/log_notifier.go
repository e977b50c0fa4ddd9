package notifier

import (
	"context"
	"log/slog"

	"github.com/rl1809/rocketshoes-cart/internal/core/domain"
	"github.com/rl1809/rocketshoes-cart/internal/logger"
)

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(l *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: l}
}

func (n *LogNotifier) Notify(ctx context.Context, note domain.Notification) {
	level := slog.LevelInfo
	if note.Kind == domain.NotificationError {
		level = slog.LevelWarn
	}
	logger.WithContext(ctx, n.logger).Log(ctx, level, "notification",
		slog.String("message", note.Message),
		slog.String("kind", string(note.Kind)),
	)
}
