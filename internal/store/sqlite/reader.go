package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"kr-quant-worker/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to stored bars for the backtest CLI and
// the fetch fallback. It implements model.BarSource.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadBars returns the most recent limit bars for stockCode, ordered by date
// ascending. limit <= 0 reads every stored bar.
func (r *Reader) ReadBars(ctx context.Context, stockCode string, limit int) ([]model.PriceBar, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume FROM (
			SELECT date, open, high, low, close, volume
			FROM price_bars
			WHERE stock_code = ?
			ORDER BY date DESC
			LIMIT ?
		) ORDER BY date ASC
	`, stockCode, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query price_bars: %w", err)
	}
	defer rows.Close()

	var bars []model.PriceBar
	for rows.Next() {
		var b model.PriceBar
		var date string
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan price_bars: %w", err)
		}
		if b.Date, err = model.ParseDate(date); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// FetchBars serves stored bars as a model.BarSource. A stock with no rows
// is model.ErrNotFound.
func (r *Reader) FetchBars(ctx context.Context, stockCode string, days int) ([]model.PriceBar, error) {
	bars, err := r.ReadBars(ctx, stockCode, days)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: no stored bars: %w", stockCode, model.ErrNotFound)
	}
	return bars, nil
}

// Codes lists every stock code with stored bars.
func (r *Reader) Codes(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT stock_code FROM price_bars ORDER BY stock_code`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
