package repository

import (
	"context"

	"gorm.io/gorm"

	"clinic-backend/internal/model"
)

// MemberRepository 클리닉 멤버십 조회
type MemberRepository struct {
	db *gorm.DB
}

// NewMemberRepository MemberRepository 생성
func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// ClinicExists 클리닉 존재 여부
func (r *MemberRepository) ClinicExists(ctx context.Context, clinicID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Clinic{}).Where("id = ?", clinicID).Count(&count).Error
	return count > 0, err
}

// IsClinicMember 활성 상태의 클리닉 배정 여부
func (r *MemberRepository) IsClinicMember(ctx context.Context, clinicID, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ClinicMember{}).
		Where("clinic_id = ? AND user_id = ? AND status = ?", clinicID, userID, model.MemberStatusActive.String()).
		Count(&count).Error
	return count > 0, err
}
