package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

// Compile-time interface check.
var _ FillStore = (*ParquetAudit)(nil)

// ParquetAudit implements FillStore using per-month Parquet files on disk.
// The archive is append-oriented: each write merges into the month file,
// deduplicating on (order id, timestamp, quantity).
type ParquetAudit struct {
	DataDir string
}

// NewParquetAudit creates a ParquetAudit rooted at the given data directory.
func NewParquetAudit(dataDir string) *ParquetAudit {
	return &ParquetAudit{DataDir: dataDir}
}

// FillRecord is the Parquet schema for one fill. Decimal values are stored
// as strings so they round-trip exactly.
type FillRecord struct {
	OrderID    string `parquet:"order_id"`
	Symbol     string `parquet:"symbol"`
	Side       string `parquet:"side"`
	Quantity   int64  `parquet:"quantity"`
	Price      string `parquet:"price"`
	Commission string `parquet:"commission"`
	Slippage   string `parquet:"slippage"`
	Timestamp  int64  `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
}

// WriteFills appends fills to the archive, grouped into monthly files.
func (a *ParquetAudit) WriteFills(_ context.Context, fills []Fill) error {
	if len(fills) == 0 {
		return nil
	}

	groups := make(map[string][]FillRecord)
	for _, f := range fills {
		month := f.Timestamp.UTC().Format("2006-01")
		groups[month] = append(groups[month], FillRecord{
			OrderID:    f.OrderID,
			Symbol:     f.Symbol,
			Side:       string(f.Side),
			Quantity:   f.Quantity,
			Price:      f.Price.String(),
			Commission: f.Commission.String(),
			Slippage:   f.Slippage.String(),
			Timestamp:  f.Timestamp.UnixMilli(),
		})
	}

	for month, records := range groups {
		path := a.fillPath(month)

		existing, err := readParquetFile[FillRecord](path)
		if err != nil && !os.IsNotExist(err) {
			// A present-but-unreadable month file must not be silently
			// replaced; that would drop the prior audit records.
			return fmt.Errorf("reading fills for %s: %w", month, err)
		}
		merged := mergeFillRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing fills for %s: %w", month, err)
		}
	}
	return nil
}

// ReadFills returns all archived fills for the month containing t, sorted by
// timestamp.
func (a *ParquetAudit) ReadFills(_ context.Context, t time.Time) ([]Fill, error) {
	path := a.fillPath(t.UTC().Format("2006-01"))

	records, err := readParquetFile[FillRecord](path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	fills := make([]Fill, 0, len(records))
	for _, r := range records {
		f := Fill{
			OrderID:   r.OrderID,
			Symbol:    r.Symbol,
			Side:      domain.OrderSide(r.Side),
			Quantity:  r.Quantity,
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
		}
		if f.Price, err = decimal.NewFromString(r.Price); err != nil {
			return nil, fmt.Errorf("bad fill price %q: %w", r.Price, err)
		}
		if f.Commission, err = decimal.NewFromString(r.Commission); err != nil {
			return nil, fmt.Errorf("bad fill commission %q: %w", r.Commission, err)
		}
		if f.Slippage, err = decimal.NewFromString(r.Slippage); err != nil {
			return nil, fmt.Errorf("bad fill slippage %q: %w", r.Slippage, err)
		}
		fills = append(fills, f)
	}
	return fills, nil
}

// fillPath returns the filesystem path for a monthly fill file.
// Layout: <DataDir>/fills/<YYYY-MM>.parquet
func (a *ParquetAudit) fillPath(month string) string {
	return filepath.Join(a.DataDir, "fills", month+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeFillRecords deduplicates fill records by (order id, timestamp,
// quantity), preferring new records over existing ones. Results are sorted
// by timestamp.
func mergeFillRecords(existing, incoming []FillRecord) []FillRecord {
	type key struct {
		orderID  string
		ts       int64
		quantity int64
	}
	seen := make(map[key]FillRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.OrderID, r.Timestamp, r.Quantity}] = r
	}
	for _, r := range incoming {
		seen[key{r.OrderID, r.Timestamp, r.Quantity}] = r
	}

	merged := make([]FillRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].OrderID < merged[j].OrderID
	})
	return merged
}
