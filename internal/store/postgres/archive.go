package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyflash/arbbot/internal/domain"
)

// PositionArchive implements domain.PositionArchive using PostgreSQL. Rows
// are written once per settled position; replays on the same id are ignored
// so a retried archive call cannot produce duplicates.
type PositionArchive struct {
	pool *pgxpool.Pool
}

// NewPositionArchive creates a PositionArchive backed by the given pool.
func NewPositionArchive(pool *pgxpool.Pool) *PositionArchive {
	return &PositionArchive{pool: pool}
}

// Record inserts a settled position. Positions that have not settled yet are
// rejected; the archive only holds terminal state.
func (a *PositionArchive) Record(ctx context.Context, pos domain.Position) error {
	if pos.State != domain.PositionSettled || pos.SettledAt == nil {
		return fmt.Errorf("postgres: position %s is not settled", pos.ID)
	}

	const query = `
		INSERT INTO settled_positions (
			id, market_id, asset, state,
			up_token_id, up_contracts, up_avg_price,
			down_token_id, down_contracts, down_avg_price,
			total_cost, settlement_value, realized_pnl,
			created_at, settled_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10,
			$11, $12, $13,
			$14, $15
		)
		ON CONFLICT (id) DO NOTHING`

	_, err := a.pool.Exec(ctx, query,
		pos.ID, pos.MarketID, pos.Asset, string(pos.State),
		pos.Up.TokenID, pos.Up.Contracts, pos.Up.AvgPrice,
		pos.Down.TokenID, pos.Down.Contracts, pos.Down.AvgPrice,
		pos.TotalCost, pos.SettlementValue, pos.RealizedPnL,
		pos.CreatedAt, pos.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record position %s: %w", pos.ID, err)
	}
	return nil
}

const archiveSelectCols = `id, market_id, asset, state,
	up_token_id, up_contracts, up_avg_price,
	down_token_id, down_contracts, down_avg_price,
	total_cost, settlement_value, realized_pnl,
	created_at, settled_at`

func scanArchivedRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var state string

		if err := rows.Scan(
			&p.ID, &p.MarketID, &p.Asset, &state,
			&p.Up.TokenID, &p.Up.Contracts, &p.Up.AvgPrice,
			&p.Down.TokenID, &p.Down.Contracts, &p.Down.AvgPrice,
			&p.TotalCost, &p.SettlementValue, &p.RealizedPnL,
			&p.CreatedAt, &p.SettledAt,
		); err != nil {
			return nil, err
		}
		p.State = domain.PositionState(state)
		if p.SettledAt != nil {
			p.UpdatedAt = *p.SettledAt
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListSettled returns settled positions since the given time, newest first,
// capped at limit.
func (a *PositionArchive) ListSettled(ctx context.Context, since time.Time, limit int) ([]domain.Position, error) {
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s FROM settled_positions
		WHERE settled_at >= $1
		ORDER BY settled_at DESC
		LIMIT $2`, archiveSelectCols)

	rows, err := a.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled: %w", err)
	}
	defer rows.Close()

	positions, err := scanArchivedRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled: %w", err)
	}
	return positions, nil
}

// RealizedPnLSince sums archived realized PnL from the given time.
func (a *PositionArchive) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(realized_pnl), 0)
		FROM settled_positions
		WHERE settled_at >= $1`

	var total float64
	if err := a.pool.QueryRow(ctx, query, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: realized pnl since: %w", err)
	}
	return total, nil
}

// Compile-time interface check.
var _ domain.PositionArchive = (*PositionArchive)(nil)
