package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const retentionQuery = `SELECT retention_days FROM organization_quotas WHERE organization_id = $1`

// rowQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres reads retention from the organization_quotas table. Organizations
// without a row, or with a non-positive value, get Fallback.
type Postgres struct {
	db       rowQuerier
	Fallback int
	Timeout  time.Duration
}

func NewPostgres(db rowQuerier, fallback int) *Postgres {
	if fallback <= 0 {
		fallback = DefaultRetentionDays
	}
	return &Postgres{db: db, Fallback: fallback, Timeout: 2 * time.Second}
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("quota: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("quota: ping: %w", err)
	}
	return pool, nil
}

func (p *Postgres) RetentionDays(ctx context.Context, organizationID int64) (int, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	var days int
	err := p.db.QueryRow(ctx, retentionQuery, organizationID).Scan(&days)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return p.Fallback, nil
	case err != nil:
		return 0, fmt.Errorf("quota: retention for organization %d: %w", organizationID, err)
	case days <= 0:
		return p.Fallback, nil
	}
	return days, nil
}
