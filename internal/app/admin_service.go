package app

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"leilaochat/internal/model"
	"leilaochat/internal/repository"
)

var ErrUserNotFound = errors.New("user not found")

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

type AdminService struct {
	userRepo         *repository.UserRepository
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	usageRepo        *repository.UsageRepository
}

type DashboardStats struct {
	TotalUsers          int64                        `json:"total_users"`
	ActiveUsers         int64                        `json:"active_users"`
	TotalConversations  int64                        `json:"total_conversations"`
	TotalMessages       int64                        `json:"total_messages"`
	NewUsers30d         int64                        `json:"new_users_30d"`
	NewConversations30d int64                        `json:"new_conversations_30d"`
	TopUsers            []repository.TopUserActivity `json:"top_users"`
	DailyActivity       []repository.DailyActivity   `json:"daily_activity"`
	TurnOutcomes        []repository.OutcomeStat     `json:"turn_outcomes"`
}

type CreateUserInput struct {
	Username string
	Email    string
	Password string
	Admin    bool
}

type UpdateUserInput struct {
	Username *string
	Email    *string
	Password *string
	Active   *bool
	Admin    *bool
}

func NewAdminService(
	userRepo *repository.UserRepository,
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	usageRepo *repository.UsageRepository,
) *AdminService {
	return &AdminService{
		userRepo:         userRepo,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		usageRepo:        usageRepo,
	}
}

func (s *AdminService) Dashboard() (*DashboardStats, error) {
	stats := &DashboardStats{}
	var err error

	if stats.TotalUsers, err = s.userRepo.Count(); err != nil {
		return nil, err
	}
	if stats.ActiveUsers, err = s.userRepo.CountActive(); err != nil {
		return nil, err
	}
	if stats.TotalConversations, err = s.conversationRepo.Count(); err != nil {
		return nil, err
	}
	if stats.TotalMessages, err = s.messageRepo.Count(); err != nil {
		return nil, err
	}

	thirtyDaysAgo := time.Now().AddDate(0, 0, -30)
	if stats.NewUsers30d, err = s.userRepo.CountCreatedSince(thirtyDaysAgo); err != nil {
		return nil, err
	}
	if stats.NewConversations30d, err = s.conversationRepo.CountCreatedSince(thirtyDaysAgo); err != nil {
		return nil, err
	}

	if stats.TopUsers, err = s.messageRepo.TopUsersByMessageCount(5); err != nil {
		return nil, err
	}
	sevenDaysAgo := time.Now().AddDate(0, 0, -7)
	if stats.DailyActivity, err = s.messageRepo.DailyActivitySince(sevenDaysAgo); err != nil {
		return nil, err
	}
	if stats.TurnOutcomes, err = s.usageRepo.OutcomeStats(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *AdminService) ListAllConversations(userID uint, page, perPage int) ([]repository.ConversationWithOwner, int64, error) {
	page, perPage = normalizePage(page, perPage, 20)
	return s.conversationRepo.ListAll(userID, page, perPage)
}

// DeleteConversation removes any conversation regardless of owner.
func (s *AdminService) DeleteConversation(conversationID uint) error {
	if conversationID == 0 {
		return ErrInvalidInput
	}
	conversation, err := s.conversationRepo.GetByID(conversationID)
	if err != nil {
		return err
	}
	if conversation == nil {
		return ErrConversationNotFound
	}
	if err := s.messageRepo.DeleteByConversationID(conversationID); err != nil {
		return err
	}
	return s.conversationRepo.DeleteByID(conversationID)
}

func (s *AdminService) ListUserConversations(userID uint, page, perPage int) (*model.User, []model.Conversation, int64, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, nil, 0, err
	}
	if user == nil {
		return nil, nil, 0, ErrUserNotFound
	}
	page, perPage = normalizePage(page, perPage, 20)
	conversations, total, err := s.conversationRepo.ListByUserID(userID, page, perPage)
	if err != nil {
		return nil, nil, 0, err
	}
	return user, conversations, total, nil
}

func (s *AdminService) ListUsers(search string, page, perPage int) ([]model.User, int64, error) {
	page, perPage = normalizePage(page, perPage, 10)
	return s.userRepo.Search(strings.TrimSpace(search), page, perPage)
}

func (s *AdminService) GetUser(userID uint) (*model.User, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *AdminService) CreateUser(input CreateUserInput) (*model.User, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(strings.ToLower(input.Email))

	if !usernamePattern.MatchString(username) || !emailPattern.MatchString(email) || len(input.Password) < 6 {
		return nil, ErrInvalidInput
	}

	if existing, err := s.userRepo.GetByUsername(username); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrUsernameExists
	}
	if existing, err := s.userRepo.GetByEmail(email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Active:       true,
		Admin:        input.Admin,
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AdminService) UpdateUser(userID uint, input UpdateUserInput) (*model.User, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if input.Username != nil {
		username := strings.TrimSpace(*input.Username)
		if !usernamePattern.MatchString(username) {
			return nil, ErrInvalidInput
		}
		if username != user.Username {
			existing, err := s.userRepo.GetByUsername(username)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return nil, ErrUsernameExists
			}
			user.Username = username
		}
	}

	if input.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*input.Email))
		if !emailPattern.MatchString(email) {
			return nil, ErrInvalidInput
		}
		if email != user.Email {
			existing, err := s.userRepo.GetByEmail(email)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return nil, ErrEmailExists
			}
			user.Email = email
		}
	}

	if input.Password != nil {
		if len(*input.Password) < 6 {
			return nil, ErrInvalidInput
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password failed: %w", err)
		}
		user.PasswordHash = string(hash)
	}

	if input.Active != nil {
		user.Active = *input.Active
	}
	if input.Admin != nil {
		user.Admin = *input.Admin
	}

	if err := s.userRepo.Save(user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser removes the user and cascades to owned conversations and
// their messages.
func (s *AdminService) DeleteUser(userID uint) error {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	conversationIDs, err := s.conversationRepo.ListIDsByUserID(userID)
	if err != nil {
		return err
	}
	if err := s.messageRepo.DeleteByConversationIDs(conversationIDs); err != nil {
		return err
	}
	if err := s.conversationRepo.DeleteByUserID(userID); err != nil {
		return err
	}
	return s.userRepo.Delete(userID)
}
