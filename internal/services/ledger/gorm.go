package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/furgapp/furgo/internal/models"
)

// usageRow is the ledger table. Events are insert-only; there is no update
// path and the primary key tolerates duplicate logical events.
type usageRow struct {
	ID                string    `gorm:"primaryKey"`
	UserID            string    `gorm:"index:idx_usage_user_day"`
	EndpointTag       string
	Model             string
	Intent            string
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
	CostUSD           float64
	LatencyMS         int64
	Timestamp         time.Time `gorm:"index:idx_usage_user_day"`
}

func (usageRow) TableName() string { return "usage_events" }

// GormLedger is the reference write-through implementation over Postgres.
type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(databaseURL string) (*GormLedger, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}
	if err := db.AutoMigrate(&usageRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return &GormLedger{db: db}, nil
}

func (l *GormLedger) AppendEvent(ctx context.Context, event *models.UsageEvent) error {
	row := usageRow{
		ID:                event.ID,
		UserID:            event.UserID,
		EndpointTag:       event.EndpointTag,
		Model:             string(event.Model),
		Intent:            string(event.Intent),
		InputTokens:       event.InputTokens,
		OutputTokens:      event.OutputTokens,
		CachedInputTokens: event.CachedInputTokens,
		CostUSD:           event.CostUSD,
		LatencyMS:         event.LatencyMS,
		Timestamp:         event.Timestamp,
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append usage event: %w", err)
	}
	return nil
}

func (l *GormLedger) SumToday(ctx context.Context, userID string) (models.DailyUsage, error) {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)

	var result struct {
		Requests     int
		InputTokens  int
		OutputTokens int
		CostUSD      float64
	}
	err := l.db.WithContext(ctx).
		Model(&usageRow{}).
		Select("COUNT(*) AS requests, COALESCE(SUM(input_tokens),0) AS input_tokens, COALESCE(SUM(output_tokens),0) AS output_tokens, COALESCE(SUM(cost_usd),0) AS cost_usd").
		Where("user_id = ? AND timestamp >= ?", userID, dayStart).
		Scan(&result).Error
	if err != nil {
		return models.DailyUsage{}, fmt.Errorf("failed to sum today's usage: %w", err)
	}

	return models.DailyUsage{
		Requests:     result.Requests,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		CostUSD:      result.CostUSD,
	}, nil
}
