// Package ledger persists executed trades to an append-only audit log.
// The CSV file is the durable source of truth; an optional SQLite journal
// mirrors rows for ad-hoc queries.
package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"crossbot/internal/model"
)

var header = []string{"timestamp", "symbol", "signal", "price", "stop_loss", "take_profit", "volume", "ticket"}

// Ledger appends trade records to a CSV file, one row per executed order.
// Rows are never rewritten; the header is written once when the file is
// created. Safe for a single writer; concurrent external readers may observe
// partial cycles, which is acceptable for an append-only log.
type Ledger struct {
	path string
	file *os.File
	w    *csv.Writer
}

// Open opens (or creates) the CSV ledger at path, writing the header on
// first creation.
func Open(path string) (*Ledger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger open: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("ledger stat: %w", err)
	}

	l := &Ledger{path: path, file: file, w: csv.NewWriter(file)}
	if info.Size() == 0 {
		if err := l.w.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("ledger header: %w", err)
		}
		l.w.Flush()
		if err := l.w.Error(); err != nil {
			file.Close()
			return nil, fmt.Errorf("ledger header flush: %w", err)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, fmt.Errorf("ledger header sync: %w", err)
		}
	}
	return l, nil
}

// Append writes one trade record and syncs it to disk before returning, so a
// row is visible to subsequent reads once Append succeeds.
func (l *Ledger) Append(rec model.TradeRecord) error {
	row := []string{
		rec.TS.UTC().Format(time.RFC3339),
		rec.Symbol,
		string(rec.Signal),
		formatPrice(rec.Price),
		formatPrice(rec.StopLoss),
		formatPrice(rec.TakeProfit),
		strconv.FormatFloat(rec.Volume, 'f', -1, 64),
		rec.Ticket,
	}
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("ledger append: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("ledger flush: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("ledger sync: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *Ledger) Close() error {
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
