// Package archive is the optional cold store for terminal orders: a
// gorm+sqlite table fed by the same order-update events the WS/REST
// façades consume, swept on a retention schedule. The matching engine and
// account manager stay entirely in-memory (spec.md §6.3); this package is
// the "if implemented by the operator" persistence layer sitting beside
// them, modeled on the teacher's internal/trading/lifecycle order-event
// tables.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/coreengine"
)

// OrderRecord is the archived row for one terminal order.
type OrderRecord struct {
	ID             string `gorm:"primaryKey"`
	ClientOrderID  string `gorm:"index"`
	Symbol         string `gorm:"index"`
	UserID         string `gorm:"index"`
	Side           string
	Type           string
	TimeInForce    string
	Price          string
	StopPrice      string
	Quantity       string
	FilledQty      string
	FilledQuoteQty string
	Status         string `gorm:"index"`
	RejectReason   string
	Timestamp      int64 `gorm:"index"`
	UpdateTime     int64
}

// TableName pins the table name regardless of Go type name casing rules.
func (OrderRecord) TableName() string { return "archived_orders" }

func toOrderRecord(o *coredomain.Order) OrderRecord {
	return OrderRecord{
		ID: o.ID.String(), ClientOrderID: o.ClientOrderID, Symbol: o.Symbol, UserID: o.UserID.String(),
		Side: string(o.Side), Type: string(o.Type), TimeInForce: string(o.TimeInForce),
		Price: o.Price.String(), StopPrice: o.StopPrice.String(), Quantity: o.Quantity.String(),
		FilledQty: o.FilledQty.String(), FilledQuoteQty: o.FilledQuoteQty.String(),
		Status: string(o.Status), RejectReason: o.RejectReason,
		Timestamp: o.Timestamp, UpdateTime: o.UpdateTime,
	}
}

// Store is the gorm-backed archive of terminal orders.
type Store struct {
	db              *gorm.DB
	log             *zap.Logger
	retentionPeriod time.Duration
}

// Open creates (or attaches to) a sqlite database at dsn and migrates the
// archive schema. retentionPeriod is archive.retention_days from config
// (spec.md §6.4), converted to a duration by the caller.
func Open(dsn string, retentionPeriod time.Duration, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&OrderRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db, log: log, retentionPeriod: retentionPeriod}, nil
}

// ListenEngine subscribes s to every terminal order-update event emitted by
// engine, archiving it the moment the order reaches a terminal status. Call
// once per engine at startup.
func (s *Store) ListenEngine(engine *coreengine.Engine) {
	engine.AddListener(func(ev coreengine.Event) {
		if ev.Order == nil || !ev.Order.Status.IsTerminal() {
			return
		}
		if err := s.Archive(ev.Order); err != nil {
			s.log.Error("archive order failed", zap.Error(err), zap.String("order_id", ev.Order.ID.String()))
		}
	})
}

// Archive upserts a terminal order's record.
func (s *Store) Archive(o *coredomain.Order) error {
	rec := toOrderRecord(o)
	return s.db.Save(&rec).Error
}

// OrdersByUser returns archived terminal orders for userID, optionally
// scoped to symbol and to the [start, end] timestamp window (either bound
// zero means unbounded), newest first, capped at limit.
func (s *Store) OrdersByUser(ctx context.Context, userID uuid.UUID, symbol string, start, end int64, limit int) ([]OrderRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	q := s.db.WithContext(ctx).Where("user_id = ?", userID.String())
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if start > 0 {
		q = q.Where("timestamp >= ?", start)
	}
	if end > 0 {
		q = q.Where("timestamp <= ?", end)
	}
	var out []OrderRecord
	err := q.Order("timestamp desc").Limit(limit).Find(&out).Error
	return out, err
}

// OrderTimestamp looks up the timestamp of one archived order belonging to
// userID, for resolving all_orders' from_id cursor (spec.md §4.1): orders
// carry no monotonic sequence number, so from_id resolves to the order's
// own timestamp and acts as a >= filter alongside start/end.
func (s *Store) OrderTimestamp(ctx context.Context, userID uuid.UUID, orderID string) (int64, bool, error) {
	var rec OrderRecord
	err := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID.String(), orderID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return rec.Timestamp, true, nil
}

// Sweep deletes archived orders older than the configured retention period,
// measured against nowMs (the caller's virtual or wall clock). Intended to
// run on a periodic ticker from cmd/vexchange.
func (s *Store) Sweep(ctx context.Context, nowMs int64) (int64, error) {
	cutoff := nowMs - s.retentionPeriod.Milliseconds()
	result := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&OrderRecord{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Info("swept archived orders", zap.Int64("rows", result.RowsAffected), zap.Int64("cutoff_ms", cutoff))
	}
	return result.RowsAffected, nil
}

// Close releases the underlying sqlite connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
