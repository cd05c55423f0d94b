package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"clinic-backend/internal/model"
	"clinic-backend/internal/service"
)

// BoardRepository gorm 기반 보드 저장소
type BoardRepository struct {
	db *gorm.DB
}

// NewBoardRepository BoardRepository 생성
func NewBoardRepository(db *gorm.DB) *BoardRepository {
	return &BoardRepository{db: db}
}

func userSummary(db *gorm.DB) *gorm.DB {
	return db.Select("id", "email", "nickname", "firstname", "lastname", "profile_img")
}

func withRelations(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Procedure").
		Preload("Members", userSummary).
		Preload("Creator", userSummary).
		Preload("Editor", userSummary)
}

// FindBoard 클리닉 소속 보드 단건 조회
func (r *BoardRepository) FindBoard(ctx context.Context, clinicID int64, boardID uuid.UUID) (*model.Board, error) {
	var board model.Board
	err := withRelations(r.db.WithContext(ctx)).
		Where("id = ? AND clinic_id = ?", boardID, clinicID).
		First(&board).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("board %s: %w", boardID, service.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &board, nil
}

// FindBoardByID 보드 ID로 조회 (실시간 참여 확인용)
func (r *BoardRepository) FindBoardByID(ctx context.Context, boardID uuid.UUID) (*model.Board, error) {
	var board model.Board
	err := r.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Select("id") }).
		First(&board, "id = ?", boardID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("board %s: %w", boardID, service.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &board, nil
}

// ListBoards 보드 메타데이터 목록 (요소 내용 제외, 최신순)
func (r *BoardRepository) ListBoards(ctx context.Context, clinicID int64, procedureID *int64) ([]model.Board, error) {
	query := r.db.WithContext(ctx).
		Omit("elements", "app_state", "files").
		Preload("Procedure").
		Preload("Members", userSummary).
		Preload("Creator", userSummary).
		Where("clinic_id = ?", clinicID)
	if procedureID != nil {
		query = query.Where("procedure_id = ?", *procedureID)
	}

	var boards []model.Board
	if err := query.Order("created_at DESC").Find(&boards).Error; err != nil {
		return nil, err
	}
	return boards, nil
}

// FindProcedure 클리닉 소속 시술 조회
func (r *BoardRepository) FindProcedure(ctx context.Context, clinicID, procedureID int64) (*model.Procedure, error) {
	var procedure model.Procedure
	err := r.db.WithContext(ctx).
		Where("id = ? AND clinic_id = ?", procedureID, clinicID).
		First(&procedure).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("procedure %d not found in clinic %d: %w", procedureID, clinicID, service.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &procedure, nil
}

// CountUsers 존재하는 사용자 수
func (r *BoardRepository) CountUsers(ctx context.Context, userIDs []int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).Where("id IN ?", userIDs).Count(&count).Error
	return count, err
}

// CreateBoard 보드 및 멤버 생성
func (r *BoardRepository) CreateBoard(ctx context.Context, board *model.Board, memberIDs []int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Members", "Procedure", "Creator", "Editor").Create(board).Error; err != nil {
			return err
		}
		return replaceMembers(tx, board, memberIDs)
	})
}

// UpdateBoard 이름/설명 저장, memberIDs가 nil이 아니면 멤버 교체
func (r *BoardRepository) UpdateBoard(ctx context.Context, board *model.Board, memberIDs []int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(board).
			Select("name", "description", "updated_by", "updated_at").
			Updates(board).Error; err != nil {
			return err
		}
		if memberIDs == nil {
			return nil
		}
		return replaceMembers(tx, board, memberIDs)
	})
}

// SaveContent 요소/앱 상태/파일/최종 편집자 저장
func (r *BoardRepository) SaveContent(ctx context.Context, board *model.Board) error {
	return r.db.WithContext(ctx).Model(board).
		Select("elements", "app_state", "files", "updated_by", "updated_at").
		Updates(board).Error
}

// DeleteBoard 보드 및 멤버 연결 삭제
func (r *BoardRepository) DeleteBoard(ctx context.Context, boardID uuid.UUID) error {
	result := r.db.WithContext(ctx).Select("Members").Delete(&model.Board{ID: boardID})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("board %s: %w", boardID, service.ErrNotFound)
	}
	return nil
}

func replaceMembers(tx *gorm.DB, board *model.Board, memberIDs []int64) error {
	members := make([]model.User, 0, len(memberIDs))
	if len(memberIDs) > 0 {
		if err := tx.Where("id IN ?", memberIDs).Find(&members).Error; err != nil {
			return err
		}
	}
	return tx.Model(board).Omit("Members.*").Association("Members").Replace(members)
}
