package draws

import (
	"context"
	"database/sql"
	"fmt"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed pending-draw store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, d *Draw) error {
	var reservedFungible any
	if d.ReservedFungible != "" {
		reservedFungible = d.ReservedFungible
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO pending_draws
			(id, kind, buyer, pool_id, amount_paid, nothing_bps, item_bps,
			 fungible_payout, reserved_fungible, reserved_item, fulfilled,
			 retry_of, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,6), $6, $7, $8,
			$9::NUMERIC(20,6), $10, FALSE, $11, $12)
	`, d.ID, d.Kind, d.Buyer, d.PoolID, d.AmountPaid,
		d.Snapshot.NothingBps, d.Snapshot.ItemBps, d.Snapshot.FungiblePayout,
		reservedFungible, d.ReservedItem, d.RetryOf, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pending draw: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Draw, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, kind, buyer, pool_id, amount_paid::TEXT, nothing_bps,
			item_bps, fungible_payout, COALESCE(reserved_fungible::TEXT, ''),
			reserved_item, fulfilled, retry_of, created_at
		FROM pending_draws WHERE id = $1
	`, id)
	return scanDraw(row)
}

func (p *PostgresStore) MarkFulfilled(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE pending_draws SET fulfilled = TRUE
		WHERE id = $1 AND fulfilled = FALSE
	`, id)
	if err != nil {
		return fmt.Errorf("mark draw fulfilled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM pending_draws WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check draw: %w", err)
		}
		if !exists {
			return ErrUnknownRequest
		}
		return ErrAlreadyFulfilled
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM pending_draws WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pending draw: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUnknownRequest
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*Draw, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, kind, buyer, pool_id, amount_paid::TEXT, nothing_bps,
			item_bps, fungible_payout, COALESCE(reserved_fungible::TEXT, ''),
			reserved_item, fulfilled, retry_of, created_at
		FROM pending_draws ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending draws: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Draw
	for rows.Next() {
		d, err := scanDraw(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraw(row rowScanner) (*Draw, error) {
	var d Draw
	err := row.Scan(&d.ID, &d.Kind, &d.Buyer, &d.PoolID, &d.AmountPaid,
		&d.Snapshot.NothingBps, &d.Snapshot.ItemBps, &d.Snapshot.FungiblePayout,
		&d.ReservedFungible, &d.ReservedItem, &d.Fulfilled, &d.RetryOf, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownRequest
	}
	if err != nil {
		return nil, fmt.Errorf("scan pending draw: %w", err)
	}
	return &d, nil
}
