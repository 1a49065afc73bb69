package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/invtrack/tracker-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of
// truth. Shares and money are stored as NUMERIC for exact decimal
// precision; the disposal sub-record is a JSONB column with the
// explicit Disposal schema.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema is the DDL for the lots table, applied by migrations or
// EnsureSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS lots (
	user_id             TEXT        NOT NULL,
	security            TEXT        NOT NULL,
	purchase_date       DATE        NOT NULL,
	n_shares            NUMERIC     NOT NULL,
	price               NUMERIC     NOT NULL,
	first_dividend_date DATE        NOT NULL,
	reinvest            BOOLEAN     NOT NULL DEFAULT FALSE,
	sold                JSONB       NOT NULL,
	version             BIGINT      NOT NULL DEFAULT 1,
	created_at          TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, security, purchase_date)
)`

// EnsureSchema creates the lots table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) CreateLot(ctx context.Context, lot *model.Lot) error {
	sold, err := json.Marshal(lot.Sold)
	if err != nil {
		return fmt.Errorf("marshal disposal: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO lots (user_id, security, purchase_date, n_shares, price,
		                   first_dividend_date, reinvest, sold, version, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, 1, $9)
		 ON CONFLICT (user_id, security, purchase_date) DO NOTHING`,
		lot.UserID, lot.Security, lot.PurchaseDate,
		lot.NShares.String(), lot.Price.String(),
		lot.FirstDividendDate, lot.Reinvest, sold, lot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create lot %s: %w", KeyOf(lot), err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	lot.Version = 1
	return nil
}

const lotColumns = `user_id, security, purchase_date,
	n_shares::TEXT, price::TEXT,
	first_dividend_date, reinvest, sold, version, created_at`

func (s *PostgresStore) GetLot(ctx context.Context, key Key) (*model.Lot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+lotColumns+`
		 FROM lots WHERE user_id = $1 AND security = $2 AND purchase_date = $3`,
		key.UserID, key.Security, key.PurchaseDate)

	lot, err := scanLot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lot %s: %w", key, err)
	}
	return lot, nil
}

func (s *PostgresStore) UpdateLot(ctx context.Context, lot *model.Lot, expectedVersion int64) error {
	sold, err := json.Marshal(lot.Sold)
	if err != nil {
		return fmt.Errorf("marshal disposal: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE lots
		 SET n_shares = $4::NUMERIC, price = $5::NUMERIC,
		     first_dividend_date = $6, reinvest = $7, sold = $8,
		     version = version + 1
		 WHERE user_id = $1 AND security = $2 AND purchase_date = $3
		   AND version = $9`,
		lot.UserID, lot.Security, lot.PurchaseDate,
		lot.NShares.String(), lot.Price.String(),
		lot.FirstDividendDate, lot.Reinvest, sold,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update lot %s: %w", KeyOf(lot), err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row vanished or its version moved on; both mean the
		// caller must re-read before retrying.
		return ErrConflict
	}

	lot.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) ListLotsByUser(ctx context.Context, userID string) ([]model.Lot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lotColumns+`
		 FROM lots WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []model.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *lot)
	}
	return lots, rows.Err()
}

// pgxRow covers both pgx.Row and pgx.Rows for scanning.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanLot(row pgxRow) (*model.Lot, error) {
	var lot model.Lot
	var nShares, price string
	var sold []byte

	if err := row.Scan(&lot.UserID, &lot.Security, &lot.PurchaseDate,
		&nShares, &price,
		&lot.FirstDividendDate, &lot.Reinvest, &sold,
		&lot.Version, &lot.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if lot.NShares, err = decimal.NewFromString(nShares); err != nil {
		return nil, fmt.Errorf("parse n_shares: %w", err)
	}
	if lot.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	if err := json.Unmarshal(sold, &lot.Sold); err != nil {
		return nil, fmt.Errorf("parse disposal: %w", err)
	}
	return &lot, nil
}
