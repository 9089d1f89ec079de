package reserve

import (
	"context"
	"database/sql"
	"fmt"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. The counters live in
// a single row; every save is an upsert.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed reserve store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Load(ctx context.Context) (*Counters, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT total_fungible, committed_fungible, total_items, committed_items
		FROM reserve_counters WHERE id = 1
	`)

	var c Counters
	err := row.Scan(&c.TotalFungible, &c.CommittedFungible, &c.TotalItems, &c.CommittedItems)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load reserve counters: %w", err)
	}
	return &c, nil
}

func (p *PostgresStore) Save(ctx context.Context, c Counters) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reserve_counters (id, total_fungible, committed_fungible, total_items, committed_items, updated_at)
		VALUES (1, $1::NUMERIC(20,6), $2::NUMERIC(20,6), $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			total_fungible     = EXCLUDED.total_fungible,
			committed_fungible = EXCLUDED.committed_fungible,
			total_items        = EXCLUDED.total_items,
			committed_items    = EXCLUDED.committed_items,
			updated_at         = NOW()
	`, c.TotalFungible, c.CommittedFungible, c.TotalItems, c.CommittedItems)
	if err != nil {
		return fmt.Errorf("save reserve counters: %w", err)
	}
	return nil
}
