// Package ingest receives alert-fired notifications over Kafka and REST and
// hands them to the engine through a bounded channel.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"alertdetail/internal/model"
)

// SendNonBlocking drops n when the channel is full.
func SendNonBlocking(ctx context.Context, out chan<- model.Notification, n model.Notification, logger *slog.Logger) bool {
	select {
	case out <- n:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("notification channel full, dropping notification", "rule_id", n.RuleID, "device_id", n.DeviceID, "source", n.Source)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
