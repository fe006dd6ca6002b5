package store

import (
	"context"

	"formfit/internal/domain"
)

// UsageStore persists per-transform stats. Writes are best-effort from the
// caller's perspective: a failed write is logged, never surfaced to the
// uploading client.
type UsageStore interface {
	RecordTransform(ctx context.Context, entry domain.TransformLog) error
	Recent(ctx context.Context, limit int) ([]domain.TransformLog, error)
}
