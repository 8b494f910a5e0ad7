// Package audit provides an append-only log of task lifecycle events,
// persisted to SQLite via GORM. It is write-only by design: the
// orchestrator never reads it back to reconstruct task state, only to let
// operators inspect history after the fact.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jmylchreest/hlsd/internal/config"
)

// Event is a single task lifecycle transition.
type Event struct {
	ID         uint      `gorm:"primarykey"`
	OccurredAt time.Time `gorm:"index"`
	TaskID     string    `gorm:"index"`
	ContentKey string
	Status     string
	Detail     string
}

// Log records task lifecycle events to a SQLite database.
type Log struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the audit database and ensures its schema exists. If
// cfg.Enabled is false, Open returns a Log whose Record is a no-op, so
// callers never need to branch on whether auditing is on.
func Open(cfg config.AuditConfig, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return &Log{logger: logger}, nil
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening audit database %s: %w", cfg.DSN, err)
	}

	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("migrating audit schema: %w", err)
	}

	return &Log{db: db, logger: logger}, nil
}

// Record appends an event. Failures are logged, not returned: the audit
// trail must never block or fail a transcode operation.
func (l *Log) Record(ctx context.Context, taskID, contentKey, status, detail string) {
	if l.db == nil {
		return
	}
	event := Event{
		OccurredAt: time.Now(),
		TaskID:     taskID,
		ContentKey: contentKey,
		Status:     status,
		Detail:     detail,
	}
	if err := l.db.WithContext(ctx).Create(&event).Error; err != nil {
		l.logger.Warn("failed to record audit event", "task_id", taskID, "status", status, "error", err)
	}
}

// Close releases the underlying database connection.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
