package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyflash/arbbot/internal/domain"
)

// spreadTTL bounds how long a cached quote stays visible. Flash markets move
// fast; a minute-old quote is noise, not signal.
const spreadTTL = 2 * time.Minute

// SpreadCache implements domain.SpreadCache using Redis hashes. Each
// market's latest quote is stored at key "spread:{marketID}" with per-field
// string encoding, so external monitors can read it with plain HGETALL.
type SpreadCache struct {
	rdb *redis.Client
}

// NewSpreadCache creates a SpreadCache backed by the given Client.
func NewSpreadCache(c *Client) *SpreadCache {
	return &SpreadCache{rdb: c.Underlying()}
}

func spreadKey(marketID string) string {
	return "spread:" + marketID
}

// SetQuote publishes the latest both-sides quote for a market.
func (sc *SpreadCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := spreadKey(q.MarketID)
	fields := map[string]interface{}{
		"up_price":       strconv.FormatFloat(q.UpPrice, 'f', -1, 64),
		"down_price":     strconv.FormatFloat(q.DownPrice, 'f', -1, 64),
		"up_liquidity":   strconv.FormatFloat(q.UpLiquidity, 'f', -1, 64),
		"down_liquidity": strconv.FormatFloat(q.DownLiquidity, 'f', -1, 64),
		"spread":         strconv.FormatFloat(q.Spread(), 'f', -1, 64),
		"ts":             strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}
	pipe := sc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, spreadTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.MarketID, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a market. It returns
// domain.ErrNotFound when no quote has been published or it expired.
func (sc *SpreadCache) GetQuote(ctx context.Context, marketID string) (domain.Quote, error) {
	vals, err := sc.rdb.HGetAll(ctx, spreadKey(marketID)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	q := domain.Quote{MarketID: marketID}
	if q.UpPrice, err = parseField(vals, "up_price"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s: %w", marketID, err)
	}
	if q.DownPrice, err = parseField(vals, "down_price"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s: %w", marketID, err)
	}
	if q.UpLiquidity, err = parseField(vals, "up_liquidity"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s: %w", marketID, err)
	}
	if q.DownLiquidity, err = parseField(vals, "down_liquidity"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s: %w", marketID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s: parse ts: %w", marketID, err)
	}
	q.Timestamp = time.Unix(0, tsNano).UTC()

	return q, nil
}

func parseField(vals map[string]string, field string) (float64, error) {
	s, ok := vals[field]
	if !ok {
		return 0, domain.ErrNotFound
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return f, nil
}

// Compile-time interface check.
var _ domain.SpreadCache = (*SpreadCache)(nil)
