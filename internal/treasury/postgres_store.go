package treasury

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/lootlabs/drawpool/internal/pagination"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed treasury store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetBalance(ctx context.Context, account string) (*Balance, error) {
	var bal Balance
	var tokens pq.StringArray
	err := p.db.QueryRowContext(ctx, `
		SELECT account, available::TEXT, tokens, updated_at
		FROM treasury_accounts WHERE account = $1
	`, account).Scan(&bal.Account, &bal.Available, &tokens, &bal.UpdatedAt)
	if err == sql.ErrNoRows {
		return &Balance{Account: account, Available: "0"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	bal.Tokens = tokens
	return &bal, nil
}

func (p *PostgresStore) Credit(ctx context.Context, account, amount string, entry Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO treasury_accounts (account, available, tokens, updated_at)
		VALUES ($1, $2::NUMERIC(20,6), '{}', NOW())
		ON CONFLICT (account) DO UPDATE SET
			available  = treasury_accounts.available + EXCLUDED.available,
			updated_at = NOW()
	`, account, amount)
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Debit(ctx context.Context, account, amount string, entry Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE treasury_accounts SET
			available  = available - $2::NUMERIC(20,6),
			updated_at = NOW()
		WHERE account = $1 AND available >= $2::NUMERIC(20,6)
	`, account, amount)
	if err != nil {
		return fmt.Errorf("debit account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish missing account from insufficient funds.
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM treasury_accounts WHERE account = $1)`, account,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check account: %w", err)
		}
		if !exists {
			return ErrAccountNotFound
		}
		return ErrInsufficientBalance
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) AddToken(ctx context.Context, account, tokenRef string, entry Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO treasury_accounts (account, available, tokens, updated_at)
		VALUES ($1, 0, ARRAY[$2], NOW())
		ON CONFLICT (account) DO UPDATE SET
			tokens     = array_append(treasury_accounts.tokens, $2),
			updated_at = NOW()
	`, account, tokenRef)
	if err != nil {
		return fmt.Errorf("add token: %w", err)
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) GetHistory(ctx context.Context, account string, limit int, before *pagination.Cursor) ([]*Entry, error) {
	query := `
		SELECT id, account, type, COALESCE(amount::TEXT, ''), token_ref, reference, created_at
		FROM treasury_entries
		WHERE account = $1
	`
	args := []any{account}
	if before != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, before.CreatedAt, before.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Account, &e.Type, &e.Amount, &e.TokenRef, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

func insertEntry(ctx context.Context, tx *sql.Tx, entry Entry) error {
	var amount any
	if entry.Amount != "" {
		amount = entry.Amount
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO treasury_entries (id, account, type, amount, token_ref, reference, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,6), $5, $6, $7)
	`, entry.ID, entry.Account, entry.Type, amount, entry.TokenRef, entry.Reference, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}
