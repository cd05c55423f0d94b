package service

import (
	"context"
	"fmt"
	"log"
)

// MembershipStore 클리닉 멤버십 조회 저장소
type MembershipStore interface {
	ClinicExists(ctx context.Context, clinicID int64) (bool, error)
	IsClinicMember(ctx context.Context, clinicID, userID int64) (bool, error)
}

// MemberService 멤버십/권한 관련 비즈니스 로직
type MemberService struct {
	store MembershipStore
}

// NewMemberService MemberService 생성
func NewMemberService(store MembershipStore) *MemberService {
	return &MemberService{store: store}
}

// IsClinicMember 클리닉 배정 여부 확인 (조회 실패 시 false)
func (s *MemberService) IsClinicMember(ctx context.Context, clinicID, userID int64) bool {
	ok, err := s.store.IsClinicMember(ctx, clinicID, userID)
	if err != nil {
		log.Printf("[Member] Membership lookup failed (clinic=%d, user=%d): %v", clinicID, userID, err)
		return false
	}
	return ok
}

// CheckClinicAccess 클리닉 존재 및 배정 여부 확인
func (s *MemberService) CheckClinicAccess(ctx context.Context, clinicID, userID int64) error {
	exists, err := s.store.ClinicExists(ctx, clinicID)
	if err != nil {
		return fmt.Errorf("load clinic %d: %w", clinicID, err)
	}
	if !exists {
		return fmt.Errorf("clinic %d: %w", clinicID, ErrNotFound)
	}

	member, err := s.store.IsClinicMember(ctx, clinicID, userID)
	if err != nil {
		return fmt.Errorf("check clinic membership: %w", err)
	}
	if !member {
		return fmt.Errorf("user %d is not assigned to clinic %d: %w", userID, clinicID, ErrForbidden)
	}
	return nil
}
