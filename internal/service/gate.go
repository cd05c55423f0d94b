package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"clinic-backend/internal/collab"
	"clinic-backend/internal/model"
)

// boardGate 실시간 참여 권한 확인 및 영속 요소 로드
type boardGate struct {
	boards  BoardStore
	members *MemberService
}

// JoinGate 실시간 보드 참여에 사용할 collab.Gate 반환
func (s *BoardService) JoinGate() collab.Gate {
	return &boardGate{boards: s.boards, members: s.members}
}

// AuthorizeJoin 클리닉 멤버 또는 보드 멤버만 참여 허용
func (g *boardGate) AuthorizeJoin(ctx context.Context, userID int64, boardID string) error {
	board, err := g.load(ctx, boardID)
	if err != nil {
		return err
	}
	if board.HasMember(userID) || g.members.IsClinicMember(ctx, board.ClinicID, userID) {
		return nil
	}
	return fmt.Errorf("user %d on board %s: %w", userID, boardID, collab.ErrForbidden)
}

// PersistedElements 저장된 보드 요소 로드 (tombstone 포함)
func (g *boardGate) PersistedElements(ctx context.Context, boardID string) ([]collab.Element, error) {
	board, err := g.load(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return collab.DecodeElements(board.Elements)
}

func (g *boardGate) load(ctx context.Context, boardID string) (*model.Board, error) {
	id, err := uuid.Parse(boardID)
	if err != nil {
		return nil, fmt.Errorf("board id %q: %w", boardID, collab.ErrBoardNotFound)
	}

	board, err := g.boards.FindBoardByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("board %s: %w", boardID, collab.ErrBoardNotFound)
	}
	if err != nil {
		return nil, err
	}
	return board, nil
}
