package domain

import (
	"context"
	"time"
)

// PositionArchive persists settled position history for reporting. The
// in-memory ledger remains the single authority over live positions; the
// archive is append-only and written after the Settled transition.
type PositionArchive interface {
	Record(ctx context.Context, pos Position) error
	ListSettled(ctx context.Context, since time.Time, limit int) ([]Position, error)
	RealizedPnLSince(ctx context.Context, since time.Time) (float64, error)
}

// SpreadCache publishes the latest combined spread per market so external
// monitors can observe live pricing without touching the trading core.
type SpreadCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, marketID string) (Quote, error)
}

// BlobWriter uploads serialized artifacts (e.g. daily performance reports)
// to object storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}
