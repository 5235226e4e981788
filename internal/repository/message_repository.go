package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"leilaochat/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

// TopUserActivity is one row of the most-active-users dashboard query.
type TopUserActivity struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	MessageCount int64  `json:"message_count"`
}

// DailyActivity is one day of message volume.
type DailyActivity struct {
	Date         string `json:"date"`
	MessageCount int64  `json:"message_count"`
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(message *model.Message) error {
	if err := r.db.Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

// ListByConversationID returns one page of messages in conversation
// order: created_at with id as the tie breaker for same-clock writes.
func (r *MessageRepository) ListByConversationID(conversationID uint, page, perPage int) ([]model.Message, int64, error) {
	query := r.db.Model(&model.Message{}).Where("conversation_id = ?", conversationID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count messages failed: %w", err)
	}

	var messages []model.Message
	if err := query.Order("created_at ASC, id ASC").Offset((page - 1) * perPage).Limit(perPage).Find(&messages).Error; err != nil {
		return nil, 0, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, total, nil
}

func (r *MessageRepository) ListAllByConversationID(conversationID uint) ([]model.Message, error) {
	var messages []model.Message
	if err := r.db.Where("conversation_id = ?", conversationID).Order("created_at ASC, id ASC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}

func (r *MessageRepository) CountByConversationAndRole(conversationID uint, role string) (int64, error) {
	var total int64
	if err := r.db.Model(&model.Message{}).
		Where("conversation_id = ? AND role = ?", conversationID, role).
		Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count messages by role failed: %w", err)
	}
	return total, nil
}

func (r *MessageRepository) DeleteByConversationID(conversationID uint) error {
	if err := r.db.Where("conversation_id = ?", conversationID).Delete(&model.Message{}).Error; err != nil {
		return fmt.Errorf("delete messages failed: %w", err)
	}
	return nil
}

func (r *MessageRepository) DeleteByConversationIDs(conversationIDs []uint) error {
	if len(conversationIDs) == 0 {
		return nil
	}
	if err := r.db.Where("conversation_id IN ?", conversationIDs).Delete(&model.Message{}).Error; err != nil {
		return fmt.Errorf("delete messages failed: %w", err)
	}
	return nil
}

func (r *MessageRepository) Count() (int64, error) {
	var total int64
	if err := r.db.Model(&model.Message{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count messages failed: %w", err)
	}
	return total, nil
}

func (r *MessageRepository) TopUsersByMessageCount(limit int) ([]TopUserActivity, error) {
	var rows []TopUserActivity
	err := r.db.Model(&model.Message{}).
		Select("users.username AS username, users.email AS email, COUNT(messages.id) AS message_count").
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Joins("JOIN users ON users.id = conversations.user_id").
		Group("users.id, users.username, users.email").
		Order("message_count DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query top users failed: %w", err)
	}
	return rows, nil
}

func (r *MessageRepository) DailyActivitySince(since time.Time) ([]DailyActivity, error) {
	var rows []DailyActivity
	err := r.db.Model(&model.Message{}).
		Select("DATE(created_at) AS date, COUNT(id) AS message_count").
		Where("created_at >= ?", since).
		Group("DATE(created_at)").
		Order("date ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query daily activity failed: %w", err)
	}
	return rows, nil
}
