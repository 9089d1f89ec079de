package pool

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed pool store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreatePool(ctx context.Context, pool *Pool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO pools (id, name, price, total_weight, remaining, created_at, updated_at)
		VALUES ($1, $2, $3::NUMERIC(20,6), $4, $5, $6, $7)
	`, pool.ID, pool.Name, pool.Price, pool.TotalWeight, pool.Remaining, pool.CreatedAt, pool.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetPool(ctx context.Context, id string) (*Pool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, price, total_weight, remaining, created_at, updated_at
		FROM pools WHERE id = $1
	`, id)

	var pl Pool
	err := row.Scan(&pl.ID, &pl.Name, &pl.Price, &pl.TotalWeight, &pl.Remaining, &pl.CreatedAt, &pl.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, weight, payload, consumed
		FROM pool_items WHERE pool_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list pool items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item Item
		var payloadJSON []byte
		if err := rows.Scan(&item.ID, &item.Weight, &payloadJSON, &item.Consumed); err != nil {
			return nil, fmt.Errorf("scan pool item: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &item.Payload); err != nil {
			return nil, fmt.Errorf("decode item payload: %w", err)
		}
		pl.Items = append(pl.Items, &item)
	}
	return &pl, rows.Err()
}

func (p *PostgresStore) ListPools(ctx context.Context) ([]*Pool, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, price, total_weight, remaining, created_at, updated_at
		FROM pools ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Pool
	for rows.Next() {
		var pl Pool
		if err := rows.Scan(&pl.ID, &pl.Name, &pl.Price, &pl.TotalWeight, &pl.Remaining, &pl.CreatedAt, &pl.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		result = append(result, &pl)
	}
	return result, rows.Err()
}

func (p *PostgresStore) AddItem(ctx context.Context, poolID string, item *Item) error {
	payloadJSON, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("encode item payload: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE pools SET
			total_weight = total_weight + $2,
			remaining    = remaining + 1,
			updated_at   = NOW()
		WHERE id = $1
	`, poolID, item.Weight)
	if err != nil {
		return fmt.Errorf("update pool aggregates: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPoolNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pool_items (id, pool_id, weight, payload, consumed, position)
		VALUES ($1, $2, $3, $4, FALSE,
			(SELECT COALESCE(MAX(position), -1) + 1 FROM pool_items WHERE pool_id = $2))
	`, item.ID, poolID, item.Weight, payloadJSON)
	if err != nil {
		return fmt.Errorf("insert pool item: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) MarkItemConsumed(ctx context.Context, poolID, itemID string, totalWeight int64, remaining int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE pool_items SET consumed = TRUE
		WHERE id = $1 AND pool_id = $2 AND consumed = FALSE
	`, itemID, poolID)
	if err != nil {
		return fmt.Errorf("mark item consumed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSelectionFailed
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE pools SET total_weight = $2, remaining = $3, updated_at = NOW()
		WHERE id = $1
	`, poolID, totalWeight, remaining)
	if err != nil {
		return fmt.Errorf("update pool aggregates: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) AddFlexToken(ctx context.Context, t *FlexToken) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO flex_tokens (id, ref, consumed, created_at)
		VALUES ($1, $2, FALSE, $3)
	`, t.ID, t.Ref, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert flex token: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListFlexTokens(ctx context.Context) ([]*FlexToken, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, ref, consumed, created_at
		FROM flex_tokens ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list flex tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*FlexToken
	for rows.Next() {
		var t FlexToken
		if err := rows.Scan(&t.ID, &t.Ref, &t.Consumed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan flex token: %w", err)
		}
		result = append(result, &t)
	}
	return result, rows.Err()
}

func (p *PostgresStore) MarkFlexTokenConsumed(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE flex_tokens SET consumed = TRUE
		WHERE id = $1 AND consumed = FALSE
	`, id)
	if err != nil {
		return fmt.Errorf("mark flex token consumed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoFlexTokens
	}
	return nil
}
