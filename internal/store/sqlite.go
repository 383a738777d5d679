package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ EventStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id              TEXT PRIMARY KEY,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	kind            TEXT NOT NULL,
	quantity        INTEGER NOT NULL,
	limit_price     TEXT,
	filled_quantity INTEGER NOT NULL,
	avg_fill_price  TEXT,
	status          TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);

CREATE TABLE IF NOT EXISTS order_events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	order_id   TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	payload    TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_order ON order_events(order_id);
`

// SQLiteStore implements OrderStore and EventStore backed by a SQLite
// database. Decimal columns are stored as TEXT so values round-trip exactly.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder inserts the order, replacing any existing row with the same ID.
func (s *SQLiteStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders
			(id, symbol, side, kind, quantity, limit_price,
			 filled_quantity, avg_fill_price, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.Symbol, string(order.Side), string(order.Kind),
		order.Quantity, limitPriceValue(order),
		order.FilledQuantity, avgFillValue(order),
		string(order.Status),
		order.CreatedAt.UTC().Format(time.RFC3339Nano),
		order.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving order %s: %w", order.ID, err)
	}
	return nil
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, side, kind, quantity, limit_price,
		       filled_quantity, avg_fill_price, status, created_at, updated_at
		FROM orders WHERE id = ?`, id)

	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading order %s: %w", id, err)
	}
	return order, nil
}

// ListOrders returns all orders matching the given status, oldest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, side, kind, quantity, limit_price,
		       filled_quantity, avg_fill_price, status, created_at, updated_at
		FROM orders WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("listing orders: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// UpdateOrder persists changes to an existing order.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, order *domain.Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			symbol = ?, side = ?, kind = ?, quantity = ?, limit_price = ?,
			filled_quantity = ?, avg_fill_price = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		order.Symbol, string(order.Side), string(order.Kind),
		order.Quantity, limitPriceValue(order),
		order.FilledQuantity, avgFillValue(order),
		string(order.Status),
		order.UpdatedAt.UTC().Format(time.RFC3339Nano),
		order.ID,
	)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", order.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: order %s", ErrNotFound, order.ID)
	}
	return nil
}

// ---------------------------------------------------------------------------
// EventStore implementation
// ---------------------------------------------------------------------------

// SaveEvent appends a lifecycle event. The payload is serialized as JSON.
func (s *SQLiteStore) SaveEvent(ctx context.Context, ev domain.OrderEvent) error {
	var payload []byte
	if ev.Payload != nil {
		var err error
		if payload, err = json.Marshal(ev.Payload); err != nil {
			return fmt.Errorf("encoding event payload: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_events (event_type, order_id, timestamp, payload)
		VALUES (?, ?, ?, ?)`,
		ev.Type, ev.OrderID,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("saving event %s for %s: %w", ev.Type, ev.OrderID, err)
	}
	return nil
}

// ListEvents returns all events for an order in emission order.
func (s *SQLiteStore) ListEvents(ctx context.Context, orderID string) ([]domain.OrderEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, order_id, timestamp, payload
		FROM order_events WHERE order_id = ? ORDER BY seq`, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing events for %s: %w", orderID, err)
	}
	defer rows.Close()

	var events []domain.OrderEvent
	for rows.Next() {
		var ev domain.OrderEvent
		var ts string
		var payload sql.NullString
		if err := rows.Scan(&ev.Type, &ev.OrderID, &ts, &payload); err != nil {
			return nil, fmt.Errorf("listing events for %s: %w", orderID, err)
		}
		if ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("listing events for %s: %w", orderID, err)
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				return nil, fmt.Errorf("decoding event payload: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ---------------------------------------------------------------------------
// Scan helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order      domain.Order
		side, kind string
		status     string
		limitPx    sql.NullString
		avgPx      sql.NullString
		created    string
		updated    string
	)
	err := row.Scan(&order.ID, &order.Symbol, &side, &kind, &order.Quantity,
		&limitPx, &order.FilledQuantity, &avgPx, &status, &created, &updated)
	if err != nil {
		return nil, err
	}

	order.Side = domain.OrderSide(side)
	order.Kind = domain.OrderKind(kind)
	order.Status = domain.OrderStatus(status)

	if limitPx.Valid {
		if order.LimitPrice, err = decimal.NewFromString(limitPx.String); err != nil {
			return nil, fmt.Errorf("bad limit_price %q: %w", limitPx.String, err)
		}
		order.HasLimitPrice = true
	}
	if avgPx.Valid {
		if order.AvgFillPrice, err = decimal.NewFromString(avgPx.String); err != nil {
			return nil, fmt.Errorf("bad avg_fill_price %q: %w", avgPx.String, err)
		}
	}
	if order.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", created, err)
	}
	if order.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("bad updated_at %q: %w", updated, err)
	}
	return &order, nil
}

func limitPriceValue(o *domain.Order) any {
	if !o.HasLimitPrice {
		return nil
	}
	return o.LimitPrice.String()
}

func avgFillValue(o *domain.Order) any {
	if o.FilledQuantity == 0 {
		return nil
	}
	return o.AvgFillPrice.String()
}
