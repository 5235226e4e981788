package model

import "time"

// Turn outcome values recorded by the usage pipeline.
const (
	TurnOutcomeCompleted   = "completed"
	TurnOutcomeFailed      = "failed"
	TurnOutcomeTimeout     = "timeout"
	TurnOutcomeUnreachable = "unreachable"
)

// UsageEvent is one audited turn outcome. Events are published to the
// broker by the orchestrator and persisted by the usage worker; the admin
// dashboard aggregates them for outcome and latency stats.
type UsageEvent struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	ConversationID uint      `gorm:"not null;index" json:"conversation_id"`
	Outcome        string    `gorm:"size:24;not null;index" json:"outcome"`
	LatencyMs      int64     `gorm:"not null" json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}
