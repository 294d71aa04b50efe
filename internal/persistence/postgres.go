package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tathienbao/riskflow/internal/audit"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type auditEventModel struct {
	ID         string    `gorm:"primaryKey;size:26"`
	Kind       string    `gorm:"index;size:32;not null"`
	OrderID    string    `gorm:"index;size:128"`
	Symbol     string    `gorm:"size:32"`
	Side       string    `gorm:"size:8"`
	Quantity   string    `gorm:"type:numeric"`
	Price      string    `gorm:"type:numeric"`
	Code       string    `gorm:"size:64"`
	Message    string    `gorm:"type:text"`
	Detail     string    `gorm:"type:jsonb"`
	OccurredAt time.Time `gorm:"index;not null"`
	CreatedAt  time.Time
}

// TableName sets the gorm table name.
func (auditEventModel) TableName() string { return "audit_events" }

type checkpointModel struct {
	ID        int    `gorm:"primaryKey"`
	Day       string `gorm:"size:10;not null"`
	DailyLoss string `gorm:"type:numeric;not null"`
	UpdatedAt time.Time
}

// TableName sets the gorm table name.
func (checkpointModel) TableName() string { return "risk_checkpoint" }

// PostgresRepository implements Repository on PostgreSQL via gorm.
type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository connects to dsn and migrates the schema.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	repo := &PostgresRepository{db: db}
	if err := repo.Migrate(context.Background()); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return repo, nil
}

// Migrate creates or updates the tables.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&auditEventModel{}, &checkpointModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Append stores an audit event. Appending an existing id is a no-op.
func (r *PostgresRepository) Append(ctx context.Context, ev audit.Event) error {
	detail := ev.Detail
	if detail == "" {
		detail = "{}"
	}
	m := auditEventModel{
		ID:         ev.ID,
		Kind:       string(ev.Kind),
		OrderID:    ev.OrderID,
		Symbol:     ev.Symbol,
		Side:       ev.Side,
		Quantity:   ev.Quantity.String(),
		Price:      ev.Price.String(),
		Code:       ev.Code,
		Message:    ev.Message,
		Detail:     detail,
		OccurredAt: ev.OccurredAt.UTC(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// List returns events matching f, oldest first.
func (r *PostgresRepository) List(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	q := r.db.WithContext(ctx).Model(&auditEventModel{})
	if f.Kind != "" {
		q = q.Where("kind = ?", string(f.Kind))
	}
	if f.OrderID != "" {
		q = q.Where("order_id = ?", f.OrderID)
	}
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	if !f.Since.IsZero() {
		q = q.Where("occurred_at >= ?", f.Since.UTC())
	}
	q = q.Order("id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []auditEventModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}

	events := make([]audit.Event, 0, len(rows))
	for _, m := range rows {
		events = append(events, audit.Event{
			ID:         m.ID,
			Kind:       audit.Kind(m.Kind),
			OrderID:    m.OrderID,
			Symbol:     m.Symbol,
			Side:       m.Side,
			Quantity:   parseDecimal(m.Quantity),
			Price:      parseDecimal(m.Price),
			Code:       m.Code,
			Message:    m.Message,
			Detail:     m.Detail,
			OccurredAt: m.OccurredAt,
		})
	}
	return events, nil
}

// SaveCheckpoint upserts the risk checkpoint.
func (r *PostgresRepository) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	m := checkpointModel{ID: 1, Day: cp.Day, DailyLoss: cp.DailyLoss.String(), UpdatedAt: cp.UpdatedAt.UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the saved checkpoint, or ErrNotFound.
func (r *PostgresRepository) LoadCheckpoint(ctx context.Context) (*Checkpoint, error) {
	var m checkpointModel
	err := r.db.WithContext(ctx).First(&m, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return &Checkpoint{Day: m.Day, DailyLoss: parseDecimal(m.DailyLoss), UpdatedAt: m.UpdatedAt}, nil
}

// Close closes the underlying connection pool.
func (r *PostgresRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
