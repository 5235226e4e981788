package repository

import (
	"fmt"

	"gorm.io/gorm"

	"leilaochat/internal/model"
)

type UsageRepository struct {
	db *gorm.DB
}

// OutcomeStat is one turn outcome bucket with its average latency.
type OutcomeStat struct {
	Outcome      string  `json:"outcome"`
	Count        int64   `json:"count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) Create(event *model.UsageEvent) error {
	if err := r.db.Create(event).Error; err != nil {
		return fmt.Errorf("create usage event failed: %w", err)
	}
	return nil
}

func (r *UsageRepository) OutcomeStats() ([]OutcomeStat, error) {
	var rows []OutcomeStat
	err := r.db.Model(&model.UsageEvent{}).
		Select("outcome, COUNT(id) AS count, AVG(latency_ms) AS avg_latency_ms").
		Group("outcome").
		Order("count DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query outcome stats failed: %w", err)
	}
	return rows, nil
}
