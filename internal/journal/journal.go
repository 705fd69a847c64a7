// Package journal writes an audit row per processed mail message to MySQL.
// The pipeline never reads it back; it exists for operators.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mail-chat-bridge-go/internal/config"
	"mail-chat-bridge-go/internal/models"
)

// Journal stores delivery records
type Journal struct {
	db *gorm.DB
}

// Open connects to the journal database and migrates its schema
func Open(cfg config.JournalConfig) (*Journal, error) {
	gormLogger := logger.New(
		logrus.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(mysql.Open(cfg.GetDSN()), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to journal database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	j, err := New(db)
	if err != nil {
		return nil, err
	}

	logrus.Info("Delivery journal initialized")
	return j, nil
}

// New wraps an open database and migrates the journal table
func New(db *gorm.DB) (*Journal, error) {
	if err := db.AutoMigrate(&models.DeliveryRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record inserts rec
func (j *Journal) Record(ctx context.Context, rec *models.DeliveryRecord) error {
	if err := j.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// Recent returns the newest records, optionally for one account
func (j *Journal) Recent(ctx context.Context, account string, limit int) ([]models.DeliveryRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := j.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if account != "" {
		query = query.Where("account = ?", account)
	}

	var records []models.DeliveryRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return records, nil
}

// Ping checks the database connection
func (j *Journal) Ping(ctx context.Context) error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
