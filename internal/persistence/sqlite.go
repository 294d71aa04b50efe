package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tathienbao/riskflow/internal/audit"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	if err := repo.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			order_id TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL DEFAULT '',
			side TEXT NOT NULL DEFAULT '',
			quantity TEXT NOT NULL DEFAULT '0',
			price TEXT NOT NULL DEFAULT '0',
			code TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '{}',
			occurred_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_events(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_order_id ON audit_events(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_occurred_at ON audit_events(occurred_at)`,

		`CREATE TABLE IF NOT EXISTS risk_checkpoint (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			day TEXT NOT NULL,
			daily_loss TEXT NOT NULL DEFAULT '0',
			updated_at DATETIME NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// Append stores an audit event. Appending an existing id is a no-op.
func (r *SQLiteRepository) Append(ctx context.Context, ev audit.Event) error {
	query := `INSERT OR IGNORE INTO audit_events
		(id, kind, order_id, symbol, side, quantity, price, code, message, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		ev.ID,
		string(ev.Kind),
		ev.OrderID,
		ev.Symbol,
		ev.Side,
		ev.Quantity.String(),
		ev.Price.String(),
		ev.Code,
		ev.Message,
		ev.Detail,
		ev.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// List returns events matching f, oldest first.
func (r *SQLiteRepository) List(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.OrderID != "" {
		where = append(where, "order_id = ?")
		args = append(args, f.OrderID)
	}
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if !f.Since.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, f.Since.UTC())
	}

	query := `SELECT id, kind, order_id, symbol, side, quantity, price, code, message, detail, occurred_at
		FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []audit.Event
	for rows.Next() {
		var ev audit.Event
		var kind, quantity, price string
		if err := rows.Scan(&ev.ID, &kind, &ev.OrderID, &ev.Symbol, &ev.Side, &quantity, &price,
			&ev.Code, &ev.Message, &ev.Detail, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Kind = audit.Kind(kind)
		ev.Quantity = parseDecimal(quantity)
		ev.Price = parseDecimal(price)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SaveCheckpoint upserts the risk checkpoint.
func (r *SQLiteRepository) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	query := `INSERT OR REPLACE INTO risk_checkpoint (id, day, daily_loss, updated_at)
		VALUES (1, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, cp.Day, cp.DailyLoss.String(), cp.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the saved checkpoint, or ErrNotFound.
func (r *SQLiteRepository) LoadCheckpoint(ctx context.Context) (*Checkpoint, error) {
	query := `SELECT day, daily_loss, updated_at FROM risk_checkpoint WHERE id = 1`

	var cp Checkpoint
	var loss string
	err := r.db.QueryRowContext(ctx, query).Scan(&cp.Day, &loss, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.DailyLoss = parseDecimal(loss)
	return &cp, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
