package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"leilaochat/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(user *model.User) error {
	if err := r.db.Create(user).Error; err != nil {
		return fmt.Errorf("create user failed: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(id uint) (*model.User, error) {
	var user model.User
	if err := r.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user by id failed: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) GetByUsername(username string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user by username failed: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(email string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user by email failed: %w", err)
	}
	return &user, nil
}

// GetByUsernameOrEmail resolves a login identifier against both unique
// columns, matching the login form which accepts either.
func (r *UserRepository) GetByUsernameOrEmail(identifier string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("username = ? OR email = ?", identifier, identifier).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user by identifier failed: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) TouchLastLogin(userID uint, at time.Time) error {
	if err := r.db.Model(&model.User{}).Where("id = ?", userID).Update("last_login_at", at).Error; err != nil {
		return fmt.Errorf("touch last login failed: %w", err)
	}
	return nil
}

func (r *UserRepository) Save(user *model.User) error {
	if err := r.db.Save(user).Error; err != nil {
		return fmt.Errorf("save user failed: %w", err)
	}
	return nil
}

func (r *UserRepository) Delete(userID uint) error {
	if err := r.db.Delete(&model.User{}, userID).Error; err != nil {
		return fmt.Errorf("delete user failed: %w", err)
	}
	return nil
}

// Search pages through users, optionally filtering on username or email
// substring. Returns the page plus the unpaged total.
func (r *UserRepository) Search(search string, page, perPage int) ([]model.User, int64, error) {
	query := r.db.Model(&model.User{})
	if search != "" {
		like := "%" + search + "%"
		query = query.Where("username LIKE ? OR email LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users failed: %w", err)
	}

	var users []model.User
	if err := query.Order("id ASC").Offset((page - 1) * perPage).Limit(perPage).Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("search users failed: %w", err)
	}
	return users, total, nil
}

func (r *UserRepository) Count() (int64, error) {
	var total int64
	if err := r.db.Model(&model.User{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count users failed: %w", err)
	}
	return total, nil
}

func (r *UserRepository) CountActive() (int64, error) {
	var total int64
	if err := r.db.Model(&model.User{}).Where("active = ?", true).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count active users failed: %w", err)
	}
	return total, nil
}

func (r *UserRepository) CountCreatedSince(since time.Time) (int64, error) {
	var total int64
	if err := r.db.Model(&model.User{}).Where("created_at >= ?", since).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count recent users failed: %w", err)
	}
	return total, nil
}
