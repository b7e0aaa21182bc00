package ledger

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"crossbot/internal/model"
)

// Journal mirrors ledger rows into SQLite for ad-hoc queries.
// The CSV ledger remains the durable record; journal failures are logged by
// the caller and never block trading.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenJournal opens (or creates) the SQLite journal database.
func OpenJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		ts          TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		signal      TEXT NOT NULL,
		price       REAL NOT NULL,
		stop_loss   REAL NOT NULL,
		take_profit REAL NOT NULL,
		volume      REAL NOT NULL,
		ticket      TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// Record inserts one trade row.
func (j *Journal) Record(rec model.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO trades (ts, symbol, signal, price, stop_loss, take_profit, volume, ticket)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TS.UTC().Format(time.RFC3339),
		rec.Symbol,
		string(rec.Signal),
		rec.Price,
		rec.StopLoss,
		rec.TakeProfit,
		rec.Volume,
		rec.Ticket,
	)
	return err
}

// Trades returns the last limit trades, newest first.
func (j *Journal) Trades(limit int) ([]model.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT ts, symbol, signal, price, stop_loss, take_profit, volume, ticket
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.TradeRecord
	for rows.Next() {
		var (
			rec model.TradeRecord
			ts  string
			sig string
		)
		if err := rows.Scan(&ts, &rec.Symbol, &sig, &rec.Price, &rec.StopLoss,
			&rec.TakeProfit, &rec.Volume, &rec.Ticket); err != nil {
			continue
		}
		rec.TS, _ = time.Parse(time.RFC3339, ts)
		rec.Signal = model.Signal(sig)
		trades = append(trades, rec)
	}
	return trades, rows.Err()
}

// DB returns the underlying database for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
