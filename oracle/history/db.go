// Package history persists aggregated prices for historical-mean lookups
// (conservative pricing fallback) and manipulation-report replay.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"price-oracle/oracle/types"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Store persists AggregatedPrice rows and serves the historical-mean and
// replay queries the validator and manipulation report depend on.
type Store interface {
	Record(price types.AggregatedPrice) error
	Mean(symbol types.Symbol, window time.Duration) (float64, error)
	Recent(symbol types.Symbol, window time.Duration) ([]types.PriceHistoryEntry, error)
	Close() error
}

// SQLiteStore is a sqlite3-backed Store. Mark/index prices are encoded as
// fixed-point NUMERIC(30,8) text via shopspring/decimal at the storage
// boundary; all in-process arithmetic upstream of this package stays in
// float64.
type SQLiteStore struct {
	db     *sql.DB
	insert *sql.Stmt
	mean   *sql.Stmt
	recent *sql.Stmt
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the sqlite database at path and
// prepares its schema and statements.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db %s: %w", path, err)
	}
	s := &SQLiteStore{db: db, logger: logger.With().Str("module", "history").Logger()}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS aggregated_prices(
		symbol TEXT NOT NULL,
		mark_price NUMERIC(30,8) NOT NULL,
		index_price NUMERIC(30,8) NOT NULL,
		confidence NUMERIC(30,8) NOT NULL,
		sources INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create aggregated_prices table: %w", err)
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_aggregated_prices_symbol_created_at
		ON aggregated_prices(symbol, created_at)`); err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	if s.insert, err = s.db.Prepare(`INSERT INTO aggregated_prices
		(symbol, mark_price, index_price, confidence, sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`); err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	if s.mean, err = s.db.Prepare(`SELECT mark_price FROM aggregated_prices
		WHERE symbol = ? AND created_at >= ?
		ORDER BY created_at ASC`); err != nil {
		return fmt.Errorf("prepare mean query: %w", err)
	}
	if s.recent, err = s.db.Prepare(`SELECT mark_price, index_price, confidence, sources, created_at
		FROM aggregated_prices
		WHERE symbol = ? AND created_at >= ?
		ORDER BY created_at ASC`); err != nil {
		return fmt.Errorf("prepare recent query: %w", err)
	}
	return nil
}

// Record inserts one row per successful aggregation tick.
func (s *SQLiteStore) Record(price types.AggregatedPrice) error {
	_, err := s.insert.Exec(
		string(price.Symbol),
		decimal.NewFromFloat(price.MarkPrice).StringFixed(8),
		decimal.NewFromFloat(price.IndexPrice).StringFixed(8),
		decimal.NewFromFloat(price.Confidence).StringFixed(8),
		len(price.Sources),
		price.Timestamp.Unix(),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", string(price.Symbol)).Msg("failed to record aggregated price")
	}
	return err
}

// Mean returns the arithmetic mean of mark_price over the trailing window,
// used by conservative pricing's historical-mean blend.
func (s *SQLiteStore) Mean(symbol types.Symbol, window time.Duration) (float64, error) {
	since := time.Now().Add(-window).Unix()
	rows, err := s.mean.Query(string(symbol), since)
	if err != nil {
		return 0, fmt.Errorf("query historical mean for %s: %w", symbol, err)
	}
	defer rows.Close()

	var sum decimal.Decimal
	var n int
	for rows.Next() {
		var markText string
		if err := rows.Scan(&markText); err != nil {
			return 0, fmt.Errorf("scan historical mean row for %s: %w", symbol, err)
		}
		d, err := decimal.NewFromString(markText)
		if err != nil {
			return 0, fmt.Errorf("parse stored mark_price for %s: %w", symbol, err)
		}
		sum = sum.Add(d)
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("no history for %s in the trailing %s", symbol, window)
	}
	mean, _ := sum.Div(decimal.NewFromInt(int64(n))).Float64()
	return mean, nil
}

// Recent returns every recorded entry for symbol within window, ascending
// by created_at, for the manipulation report's historical replay.
func (s *SQLiteStore) Recent(symbol types.Symbol, window time.Duration) ([]types.PriceHistoryEntry, error) {
	since := time.Now().Add(-window).Unix()
	rows, err := s.recent.Query(string(symbol), since)
	if err != nil {
		return nil, fmt.Errorf("query recent history for %s: %w", symbol, err)
	}
	defer rows.Close()

	var entries []types.PriceHistoryEntry
	for rows.Next() {
		var markText, indexText, confText string
		var sources int
		var createdAt int64
		if err := rows.Scan(&markText, &indexText, &confText, &sources, &createdAt); err != nil {
			return nil, fmt.Errorf("scan recent history row for %s: %w", symbol, err)
		}
		mark, err := decimal.NewFromString(markText)
		if err != nil {
			return nil, err
		}
		index, err := decimal.NewFromString(indexText)
		if err != nil {
			return nil, err
		}
		conf, err := decimal.NewFromString(confText)
		if err != nil {
			return nil, err
		}
		markF, _ := mark.Float64()
		indexF, _ := index.Float64()
		confF, _ := conf.Float64()
		entries = append(entries, types.PriceHistoryEntry{
			Symbol:      symbol,
			MarkPrice:   markF,
			IndexPrice:  indexF,
			Confidence:  confF,
			SourceCount: sources,
			CreatedAt:   time.Unix(createdAt, 0),
		})
	}
	return entries, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the underlying database connection is alive, for the
// health monitor's database_status probe.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}
