package ingest

import (
	"context"
	"log/slog"
	"time"

	"loadguard/internal/model"
	"loadguard/internal/telemetry"
)

func SendNonBlocking(ctx context.Context, out chan<- model.Record, rec model.Record, logger *slog.Logger) bool {
	select {
	case out <- rec:
		return true
	case <-ctx.Done():
		return false
	default:
		telemetry.RecordDropped()
		if logger != nil {
			logger.Warn("record channel full, dropping record",
				"tenant_id", rec.TenantID(), "athlete_id", rec.AthleteID(), "kind", rec.Kind)
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
