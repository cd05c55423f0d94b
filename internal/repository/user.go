package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"clinic-backend/internal/model"
	"clinic-backend/internal/service"
)

// UserRepository 사용자 저장소
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository UserRepository 생성
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID 사용자 단건 조회
func (r *UserRepository) FindByID(ctx context.Context, userID int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %d: %w", userID, service.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail 이메일로 사용자 조회
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %s: %w", email, service.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create 사용자 생성
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// Save 사용자 정보 저장
func (r *UserRepository) Save(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}
