package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"signalbot/pkg/types"
)

// signalRow is the GORM model for persisted confirmed signals, following
// the stockbit repo's TradingSignalDB shape: primary key, indexed
// symbol/generated_at, decimal columns stored as text to avoid float
// round-tripping.
type signalRow struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	GeneratedAt     time.Time `gorm:"index:idx_signal_time;not null"`
	Symbol          string    `gorm:"type:text;index;not null"`
	SignalType      string    `gorm:"type:text;not null"`
	Side            string    `gorm:"type:text;not null"`
	Price           string    `gorm:"type:text;not null"`
	Confidence      string    `gorm:"type:text;not null"`
	TakeProfit      string    `gorm:"type:text"`
	StopLoss        string    `gorm:"type:text"`
	DetectorKind    string    `gorm:"type:text"`
	CorrelatedCount int
	Data            string `gorm:"type:jsonb"`
}

func (signalRow) TableName() string { return "confirmed_signals" }

type jobRow struct {
	ID          int64 `gorm:"primaryKey;autoIncrement"`
	Kind        string `gorm:"type:text;index;not null"`
	Payload     string `gorm:"type:jsonb"`
	EnqueuedAt  time.Time `gorm:"not null"`
	CompletedAt *time.Time
}

func (jobRow) TableName() string { return "jobs" }

type anomalyRow struct {
	ID         string `gorm:"primaryKey"`
	Symbol     string `gorm:"type:text;index"`
	Kind       string `gorm:"type:text"`
	Severity   string `gorm:"type:text"`
	DetectedAt time.Time
}

func (anomalyRow) TableName() string { return "active_anomalies" }

// PostgresStore implements Store via GORM, grounded on
// nofendian17-stockbit-haka-haki's database/signals.Repository.
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgres connects via dsn and runs schema migration.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := db.AutoMigrate(&signalRow{}, &jobRow{}, &anomalyRow{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveSignalHistory(ctx context.Context, signal types.ConfirmedSignal) error {
	data, err := json.Marshal(signal.Processed.Candidate.Data)
	if err != nil {
		return fmt.Errorf("marshal signal data: %w", err)
	}

	row := signalRow{
		GeneratedAt:     time.UnixMilli(signal.ConfirmedAt),
		Symbol:          signal.Processed.Candidate.Symbol,
		SignalType:      string(signal.Processed.Candidate.Type),
		Side:            string(signal.Side),
		Price:           signal.Processed.Candidate.Price.String(),
		Confidence:      signal.FinalConfidence.String(),
		TakeProfit:      signal.TakeProfit.String(),
		StopLoss:        signal.StopLoss.String(),
		DetectorKind:    signal.Processed.DetectorKind,
		CorrelatedCount: signal.Correlation.CorrelatedCount,
		Data:            string(data),
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save signal history: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRecentSignals(ctx context.Context, sinceMs int64, limit int) ([]types.ConfirmedSignal, error) {
	var rows []signalRow
	query := s.db.WithContext(ctx).
		Where("generated_at >= ?", time.UnixMilli(sinceMs)).
		Order("generated_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get recent signals: %w", err)
	}

	out := make([]types.ConfirmedSignal, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToConfirmedSignal(row))
	}
	return out, nil
}

func rowToConfirmedSignal(row signalRow) types.ConfirmedSignal {
	var data map[string]any
	_ = json.Unmarshal([]byte(row.Data), &data)

	price, _ := decimal.NewFromString(row.Price)
	confidence, _ := decimal.NewFromString(row.Confidence)
	takeProfit, _ := decimal.NewFromString(row.TakeProfit)
	stopLoss, _ := decimal.NewFromString(row.StopLoss)

	return types.ConfirmedSignal{
		Processed: types.ProcessedSignal{
			Candidate: types.SignalCandidate{
				Type:   types.SignalType(row.SignalType),
				Side:   types.Side(row.Side),
				Price:  price,
				Symbol: row.Symbol,
				Data:   data,
			},
			DetectorKind: row.DetectorKind,
		},
		FinalConfidence: confidence,
		Correlation:     types.CorrelationStats{CorrelatedCount: row.CorrelatedCount},
		Side:            types.Side(row.Side),
		TakeProfit:      takeProfit,
		StopLoss:        stopLoss,
		ConfirmedAt:     row.GeneratedAt.UnixMilli(),
	}
}

func (s *PostgresStore) PurgeSignalHistory(ctx context.Context, olderThan time.Time) error {
	if err := s.db.WithContext(ctx).Where("generated_at < ?", olderThan).Delete(&signalRow{}).Error; err != nil {
		return fmt.Errorf("purge signal history: %w", err)
	}
	return nil
}

func (s *PostgresStore) PurgeSignalHistoryExcess(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	survivors := s.db.WithContext(ctx).Model(&signalRow{}).Order("generated_at DESC").Limit(keep).Select("id")
	if err := s.db.WithContext(ctx).Where("id NOT IN (?)", survivors).Delete(&signalRow{}).Error; err != nil {
		return fmt.Errorf("purge excess signal history: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnqueueJob(ctx context.Context, kind string, payload map[string]any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal job payload: %w", err)
	}
	row := jobRow{Kind: kind, Payload: string(data), EnqueuedAt: time.Now()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}
	return row.ID, nil
}

func (s *PostgresStore) DequeueJobs(ctx context.Context, limit int) ([]Job, error) {
	var rows []jobRow
	query := s.db.WithContext(ctx).Where("completed_at IS NULL").Order("enqueued_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("dequeue jobs: %w", err)
	}

	out := make([]Job, 0, len(rows))
	for _, row := range rows {
		var payload map[string]any
		_ = json.Unmarshal([]byte(row.Payload), &payload)
		out = append(out, Job{ID: row.ID, Kind: row.Kind, Payload: payload, EnqueuedAt: row.EnqueuedAt, CompletedAt: row.CompletedAt})
	}
	return out, nil
}

func (s *PostgresStore) MarkJobCompleted(ctx context.Context, id int64) error {
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&jobRow{}).Where("id = ?", id).Update("completed_at", now).Error; err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveActiveAnomaly(ctx context.Context, anomaly ActiveAnomaly) error {
	row := anomalyRow{
		ID:         anomaly.ID,
		Symbol:     anomaly.Symbol,
		Kind:       anomaly.Kind,
		Severity:   anomaly.Severity,
		DetectedAt: anomaly.DetectedAt,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save active anomaly: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveActiveAnomaly(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&anomalyRow{}).Error; err != nil {
		return fmt.Errorf("remove active anomaly: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetActiveAnomalies(ctx context.Context) ([]ActiveAnomaly, error) {
	var rows []anomalyRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get active anomalies: %w", err)
	}
	out := make([]ActiveAnomaly, 0, len(rows))
	for _, row := range rows {
		out = append(out, ActiveAnomaly{ID: row.ID, Symbol: row.Symbol, Kind: row.Kind, Severity: row.Severity, DetectedAt: row.DetectedAt})
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
