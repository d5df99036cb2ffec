// Package sqlite keeps a local copy of fetched daily bars. It backs the
// offline backtest CLI and serves as the fallback bar source when the
// backend price API is unavailable. Only raw market data is stored.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"kr-quant-worker/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const dsnParams = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/bars.db"
}

// Writer upserts daily bars in batched transactions.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS price_bars (
			stock_code TEXT    NOT NULL,
			date       TEXT    NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (stock_code, date)
		);
	`)
	return err
}

// SaveBars upserts bars for stockCode in a single transaction. A re-fetched
// date replaces the stored row.
func (w *Writer) SaveBars(stockCode string, bars []model.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO price_bars (stock_code, date, open, high, low, close, volume, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, b := range bars {
		_, err := stmt.Exec(stockCode, b.Date.Format(model.DateLayout), b.Open, b.High, b.Low, b.Close, b.Volume, now)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite upsert %s %s: %w", stockCode, b.Date.Format(model.DateLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("[sqlite] committed %d bars for %s in %v", len(bars), stockCode, time.Since(start))
	return nil
}

// LastDate returns the most recent stored date for stockCode.
// Returns the zero time if no bars exist.
func (w *Writer) LastDate(stockCode string) (time.Time, error) {
	var d sql.NullString
	err := w.db.QueryRow(
		`SELECT MAX(date) FROM price_bars WHERE stock_code = ?`,
		stockCode,
	).Scan(&d)
	if err != nil {
		return time.Time{}, err
	}
	if !d.Valid {
		return time.Time{}, nil
	}
	return model.ParseDate(d.String)
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
