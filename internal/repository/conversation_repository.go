package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"leilaochat/internal/model"
)

type ConversationRepository struct {
	db *gorm.DB
}

// ConversationWithOwner pairs a conversation with its owner's username
// for the admin listing.
type ConversationWithOwner struct {
	model.Conversation
	Username string `json:"username"`
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Create(conversation *model.Conversation) error {
	if err := r.db.Create(conversation).Error; err != nil {
		return fmt.Errorf("create conversation failed: %w", err)
	}
	return nil
}

func (r *ConversationRepository) GetByIDAndUserID(conversationID, userID uint) (*model.Conversation, error) {
	var conversation model.Conversation
	if err := r.db.Where("id = ? AND user_id = ?", conversationID, userID).First(&conversation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation failed: %w", err)
	}
	return &conversation, nil
}

func (r *ConversationRepository) GetByID(conversationID uint) (*model.Conversation, error) {
	var conversation model.Conversation
	if err := r.db.First(&conversation, conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation failed: %w", err)
	}
	return &conversation, nil
}

func (r *ConversationRepository) ListByUserID(userID uint, page, perPage int) ([]model.Conversation, int64, error) {
	query := r.db.Model(&model.Conversation{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count conversations failed: %w", err)
	}

	var conversations []model.Conversation
	if err := query.Order("updated_at DESC").Offset((page - 1) * perPage).Limit(perPage).Find(&conversations).Error; err != nil {
		return nil, 0, fmt.Errorf("list conversations failed: %w", err)
	}
	return conversations, total, nil
}

// ListAll pages through every conversation joined with its owner.
// userID of 0 means no owner filter.
func (r *ConversationRepository) ListAll(userID uint, page, perPage int) ([]ConversationWithOwner, int64, error) {
	query := r.db.Model(&model.Conversation{}).
		Select("conversations.*, users.username AS username").
		Joins("JOIN users ON users.id = conversations.user_id")
	if userID != 0 {
		query = query.Where("conversations.user_id = ?", userID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count all conversations failed: %w", err)
	}

	var conversations []ConversationWithOwner
	if err := query.Order("conversations.updated_at DESC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&conversations).Error; err != nil {
		return nil, 0, fmt.Errorf("list all conversations failed: %w", err)
	}
	return conversations, total, nil
}

func (r *ConversationRepository) UpdateTitle(conversationID uint, title string) error {
	updates := map[string]interface{}{"title": title, "updated_at": time.Now()}
	if err := r.db.Model(&model.Conversation{}).Where("id = ?", conversationID).Updates(updates).Error; err != nil {
		return fmt.Errorf("update conversation title failed: %w", err)
	}
	return nil
}

func (r *ConversationRepository) Touch(conversationID uint, at time.Time) error {
	if err := r.db.Model(&model.Conversation{}).Where("id = ?", conversationID).Update("updated_at", at).Error; err != nil {
		return fmt.Errorf("touch conversation failed: %w", err)
	}
	return nil
}

// ClaimThreadID assigns the provider thread id only when none is set yet.
// Two concurrent first turns both create a provider thread, but only one
// write lands; the loser re-reads and adopts the winner's thread, so
// stored data never diverges. Returns true when this call won the claim.
func (r *ConversationRepository) ClaimThreadID(conversationID uint, threadID string) (bool, error) {
	result := r.db.Model(&model.Conversation{}).
		Where("id = ? AND thread_id IS NULL", conversationID).
		Update("thread_id", threadID)
	if result.Error != nil {
		return false, fmt.Errorf("claim thread id failed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *ConversationRepository) DeleteByIDAndUserID(conversationID, userID uint) error {
	if err := r.db.Where("id = ? AND user_id = ?", conversationID, userID).Delete(&model.Conversation{}).Error; err != nil {
		return fmt.Errorf("delete conversation failed: %w", err)
	}
	return nil
}

func (r *ConversationRepository) DeleteByID(conversationID uint) error {
	if err := r.db.Delete(&model.Conversation{}, conversationID).Error; err != nil {
		return fmt.Errorf("delete conversation failed: %w", err)
	}
	return nil
}

func (r *ConversationRepository) ListIDsByUserID(userID uint) ([]uint, error) {
	var ids []uint
	if err := r.db.Model(&model.Conversation{}).Where("user_id = ?", userID).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list conversation ids failed: %w", err)
	}
	return ids, nil
}

func (r *ConversationRepository) DeleteByUserID(userID uint) error {
	if err := r.db.Where("user_id = ?", userID).Delete(&model.Conversation{}).Error; err != nil {
		return fmt.Errorf("delete user conversations failed: %w", err)
	}
	return nil
}

func (r *ConversationRepository) Count() (int64, error) {
	var total int64
	if err := r.db.Model(&model.Conversation{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count conversations failed: %w", err)
	}
	return total, nil
}

func (r *ConversationRepository) CountCreatedSince(since time.Time) (int64, error) {
	var total int64
	if err := r.db.Model(&model.Conversation{}).Where("created_at >= ?", since).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count recent conversations failed: %w", err)
	}
	return total, nil
}
