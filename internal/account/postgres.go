package account

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL implementation of the [Store] interface.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore and connects to the database.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			data JSONB NOT NULL
		);
	`); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Get retrieves an account by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	var data []byte
	if err := s.pool.QueryRow(ctx, `
		SELECT data FROM accounts WHERE id = $1;
	`, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a := new(Account)
	if err := json.Unmarshal(data, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Set stores an account.
func (s *PostgresStore) Set(ctx context.Context, a *Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO accounts (id, data)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET data = $2;
	`, a.ID, data)
	return err
}

// All returns every stored account.
func (s *PostgresStore) All(ctx context.Context) ([]*Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM accounts;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		a := new(Account)
		if err := json.Unmarshal(data, a); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
