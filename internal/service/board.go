package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"clinic-backend/internal/collab"
	"clinic-backend/internal/metrics"
	"clinic-backend/internal/model"
)

const (
	maxBoardNameLength        = 100
	maxBoardDescriptionLength = 500
)

// BoardStore 보드 영속 저장소
type BoardStore interface {
	// FindBoard loads a board of the clinic with procedure, members, creator
	// and editor. Returns ErrNotFound when absent.
	FindBoard(ctx context.Context, clinicID int64, boardID uuid.UUID) (*model.Board, error)
	FindBoardByID(ctx context.Context, boardID uuid.UUID) (*model.Board, error)
	// ListBoards returns board metadata without element content, newest first.
	ListBoards(ctx context.Context, clinicID int64, procedureID *int64) ([]model.Board, error)
	FindProcedure(ctx context.Context, clinicID, procedureID int64) (*model.Procedure, error)
	CountUsers(ctx context.Context, userIDs []int64) (int64, error)
	CreateBoard(ctx context.Context, board *model.Board, memberIDs []int64) error
	// UpdateBoard writes name and description, and replaces the member set
	// when memberIDs is non-nil.
	UpdateBoard(ctx context.Context, board *model.Board, memberIDs []int64) error
	// SaveContent writes elements, app state, files and updated_by.
	SaveContent(ctx context.Context, board *model.Board) error
	DeleteBoard(ctx context.Context, boardID uuid.UUID) error
}

// LiveState 실시간 보드 상태 (collab.Hub)
type LiveState interface {
	CloseBoard(boardID string)
	Participants(boardID string) []collab.Participant
}

// CreateBoardInput 보드 생성 요청
type CreateBoardInput struct {
	ProcedureID int64
	Name        string
	Description *string
	Members     []int64
}

// UpdateBoardInput 보드 메타데이터 수정 요청 (nil 필드는 유지)
type UpdateBoardInput struct {
	Name        *string
	Description *string
	Members     []int64
}

// SaveElementsInput 보드 저장 요청
type SaveElementsInput struct {
	Elements []collab.Element
	AppState map[string]any
	Files    map[string]any
}

// ProcedureBoards 시술별 보드 묶음
type ProcedureBoards struct {
	Procedure *model.Procedure `json:"procedure"`
	Boards    []model.Board    `json:"boards"`
}

// BoardService 보드 CRUD 및 저장 병합 로직
type BoardService struct {
	boards      BoardStore
	members     *MemberService
	live        LiveState
	metrics     *metrics.Collectors
	maxElements int
}

// NewBoardService BoardService 생성
func NewBoardService(boards BoardStore, members *MemberService, live LiveState, m *metrics.Collectors, maxElements int) *BoardService {
	return &BoardService{
		boards:      boards,
		members:     members,
		live:        live,
		metrics:     m,
		maxElements: maxElements,
	}
}

// ListByClinic 클리닉의 보드 목록 (시술별 그룹)
func (s *BoardService) ListByClinic(ctx context.Context, clinicID, userID int64) ([]ProcedureBoards, error) {
	if err := s.members.CheckClinicAccess(ctx, clinicID, userID); err != nil {
		return nil, err
	}

	boards, err := s.boards.ListBoards(ctx, clinicID, nil)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}

	groups := make([]ProcedureBoards, 0)
	index := make(map[int64]int)
	for _, b := range boards {
		i, ok := index[b.ProcedureID]
		if !ok {
			i = len(groups)
			index[b.ProcedureID] = i
			groups = append(groups, ProcedureBoards{Procedure: b.Procedure})
		}
		groups[i].Boards = append(groups[i].Boards, b)
	}
	return groups, nil
}

// ListByProcedure 특정 시술의 보드 목록
func (s *BoardService) ListByProcedure(ctx context.Context, clinicID, procedureID, userID int64) ([]model.Board, error) {
	if err := s.members.CheckClinicAccess(ctx, clinicID, userID); err != nil {
		return nil, err
	}
	if _, err := s.boards.FindProcedure(ctx, clinicID, procedureID); err != nil {
		return nil, err
	}

	boards, err := s.boards.ListBoards(ctx, clinicID, &procedureID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	return boards, nil
}

// Get 보드 단건 조회 (요소/앱 상태/파일 포함)
func (s *BoardService) Get(ctx context.Context, clinicID int64, boardID uuid.UUID, userID int64) (*model.Board, error) {
	if err := s.members.CheckClinicAccess(ctx, clinicID, userID); err != nil {
		return nil, err
	}
	return s.boards.FindBoard(ctx, clinicID, boardID)
}

// Create 보드 생성 (생성자는 항상 멤버)
func (s *BoardService) Create(ctx context.Context, clinicID, userID int64, in CreateBoardInput) (*model.Board, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := validateDescription(in.Description); err != nil {
		return nil, err
	}
	if err := s.members.CheckClinicAccess(ctx, clinicID, userID); err != nil {
		return nil, err
	}
	if _, err := s.boards.FindProcedure(ctx, clinicID, in.ProcedureID); err != nil {
		return nil, err
	}

	memberIDs := uniqueIDs(in.Members)
	if err := s.ensureUsersExist(ctx, memberIDs); err != nil {
		return nil, err
	}
	if !containsID(memberIDs, userID) {
		memberIDs = append(memberIDs, userID)
	}

	board := &model.Board{
		ClinicID:    clinicID,
		ProcedureID: in.ProcedureID,
		Name:        name,
		Description: normalizeDescription(in.Description),
		Elements:    datatypes.JSON("[]"),
		AppState:    datatypes.JSONMap{},
		Files:       datatypes.JSONMap{},
		CreatedBy:   userID,
	}
	if err := s.boards.CreateBoard(ctx, board, memberIDs); err != nil {
		return nil, fmt.Errorf("create board: %w", err)
	}

	log.Printf("[Board] Created %q (%s) for clinic %d by user %d", board.Name, board.ID, clinicID, userID)
	return s.boards.FindBoard(ctx, clinicID, board.ID)
}

// Update 보드 이름/설명/멤버 수정
func (s *BoardService) Update(ctx context.Context, clinicID int64, boardID uuid.UUID, userID int64, in UpdateBoardInput) (*model.Board, error) {
	if in.Name != nil {
		name, err := validateName(*in.Name)
		if err != nil {
			return nil, err
		}
		in.Name = &name
	}
	if err := validateDescription(in.Description); err != nil {
		return nil, err
	}
	if err := s.members.CheckClinicAccess(ctx, clinicID, userID); err != nil {
		return nil, err
	}

	board, err := s.boards.FindBoard(ctx, clinicID, boardID)
	if err != nil {
		return nil, err
	}

	var memberIDs []int64
	if in.Members != nil {
		memberIDs = uniqueIDs(in.Members)
		if err := s.ensureUsersExist(ctx, memberIDs); err != nil {
			return nil, err
		}
		if !containsID(memberIDs, board.CreatedBy) {
			memberIDs = append(memberIDs, board.CreatedBy)
		}
	}

	if in.Name != nil {
		board.Name = *in.Name
	}
	if in.Description != nil {
		board.Description = normalizeDescription(in.Description)
	}
	board.UpdatedBy = &userID

	if err := s.boards.UpdateBoard(ctx, board, memberIDs); err != nil {
		return nil, fmt.Errorf("update board: %w", err)
	}

	log.Printf("[Board] Updated %s by user %d", board.ID, userID)
	return s.boards.FindBoard(ctx, clinicID, boardID)
}

// SaveElements 클라이언트 저장 요청을 영속 보드에 병합
//
// An empty element payload never clears a board that already has elements:
// the element merge is skipped and only app state and files are merged.
func (s *BoardService) SaveElements(ctx context.Context, clinicID int64, boardID uuid.UUID, userID int64, in SaveElementsInput) (*model.Board, error) {
	board, err := s.boards.FindBoard(ctx, clinicID, boardID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.Save("not_found")
		} else {
			s.metrics.Save("error")
		}
		return nil, err
	}
	if !board.HasMember(userID) && !s.members.IsClinicMember(ctx, clinicID, userID) {
		s.metrics.Save("forbidden")
		return nil, fmt.Errorf("user %d cannot modify board %s: %w", userID, boardID, ErrForbidden)
	}

	existing, err := collab.DecodeElements(board.Elements)
	if err != nil {
		s.metrics.Save("error")
		return nil, fmt.Errorf("decode stored elements of board %s: %w", boardID, err)
	}

	visible := 0
	guarded := len(in.Elements) == 0 && len(existing) > 0
	if guarded {
		log.Printf("[Board] Skipping element save for %s: would overwrite %d elements with empty data", boardID, len(existing))
		s.metrics.GuardSkip()
		if in.AppState == nil && in.Files == nil {
			s.metrics.Save("guarded")
			return board, nil
		}
	} else {
		merged := collab.Merge(existing, in.Elements)
		if s.maxElements > 0 && len(merged) > s.maxElements {
			s.metrics.Save("invalid")
			return nil, fmt.Errorf("%w: board would hold %d elements (limit %d)", ErrInvalidPayload, len(merged), s.maxElements)
		}
		board.Elements = datatypes.JSON(collab.EncodeElements(merged))
		visible = len(collab.Live(merged))
	}

	board.AppState = mergeShallow(board.AppState, in.AppState)
	board.Files = mergeShallow(board.Files, in.Files)
	board.UpdatedBy = &userID

	if err := s.boards.SaveContent(ctx, board); err != nil {
		s.metrics.Save("error")
		return nil, fmt.Errorf("save board %s: %w", boardID, err)
	}

	if guarded {
		s.metrics.Save("guarded")
	} else {
		s.metrics.Save("ok")
		log.Printf("[Board] Saved elements of %s by user %d (%d elements)", boardID, userID, visible)
	}
	return s.boards.FindBoard(ctx, clinicID, boardID)
}

// Delete 보드 삭제 및 실시간 상태 정리
func (s *BoardService) Delete(ctx context.Context, clinicID int64, boardID uuid.UUID, userID int64) error {
	if err := s.members.CheckClinicAccess(ctx, clinicID, userID); err != nil {
		return err
	}
	board, err := s.boards.FindBoard(ctx, clinicID, boardID)
	if err != nil {
		return err
	}
	if err := s.boards.DeleteBoard(ctx, boardID); err != nil {
		return fmt.Errorf("delete board: %w", err)
	}

	if s.live != nil {
		s.live.CloseBoard(boardID.String())
	}
	log.Printf("[Board] Deleted %q (%s) by user %d", board.Name, boardID, userID)
	return nil
}

// ActiveUsers 보드에 접속 중인 참가자 목록
func (s *BoardService) ActiveUsers(ctx context.Context, clinicID int64, boardID uuid.UUID, userID int64) ([]collab.Participant, error) {
	board, err := s.boards.FindBoard(ctx, clinicID, boardID)
	if err != nil {
		return nil, err
	}
	if !board.HasMember(userID) && !s.members.IsClinicMember(ctx, clinicID, userID) {
		return nil, fmt.Errorf("user %d cannot view board %s: %w", userID, boardID, ErrForbidden)
	}
	if s.live == nil {
		return []collab.Participant{}, nil
	}
	return s.live.Participants(boardID.String()), nil
}

func (s *BoardService) ensureUsersExist(ctx context.Context, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	count, err := s.boards.CountUsers(ctx, userIDs)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count != int64(len(userIDs)) {
		return fmt.Errorf("%w: some members do not exist", ErrConflict)
	}
	return nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: board name is required", ErrInvalidPayload)
	}
	if utf8.RuneCountInString(name) > maxBoardNameLength {
		return "", fmt.Errorf("%w: board name too long", ErrInvalidPayload)
	}
	return name, nil
}

func validateDescription(desc *string) error {
	if desc != nil && utf8.RuneCountInString(*desc) > maxBoardDescriptionLength {
		return fmt.Errorf("%w: description too long", ErrInvalidPayload)
	}
	return nil
}

func normalizeDescription(desc *string) *string {
	if desc == nil || strings.TrimSpace(*desc) == "" {
		return nil
	}
	d := strings.TrimSpace(*desc)
	return &d
}

// mergeShallow overlays incoming keys onto base. A nil incoming map leaves
// base as is.
func mergeShallow(base datatypes.JSONMap, incoming map[string]any) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(base)+len(incoming))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
