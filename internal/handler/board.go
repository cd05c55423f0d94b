package handler

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"clinic-backend/internal/auth"
	"clinic-backend/internal/collab"
	"clinic-backend/internal/model"
	"clinic-backend/internal/service"
)

// BoardAPI 보드 비즈니스 로직 (service.BoardService)
type BoardAPI interface {
	ListByClinic(ctx context.Context, clinicID, userID int64) ([]service.ProcedureBoards, error)
	ListByProcedure(ctx context.Context, clinicID, procedureID, userID int64) ([]model.Board, error)
	Get(ctx context.Context, clinicID int64, boardID uuid.UUID, userID int64) (*model.Board, error)
	Create(ctx context.Context, clinicID, userID int64, in service.CreateBoardInput) (*model.Board, error)
	Update(ctx context.Context, clinicID int64, boardID uuid.UUID, userID int64, in service.UpdateBoardInput) (*model.Board, error)
	SaveElements(ctx context.Context, clinicID int64, boardID uuid.UUID, userID int64, in service.SaveElementsInput) (*model.Board, error)
	Delete(ctx context.Context, clinicID int64, boardID uuid.UUID, userID int64) error
	ActiveUsers(ctx context.Context, clinicID int64, boardID uuid.UUID, userID int64) ([]collab.Participant, error)
}

// BoardHandler 보드 REST 핸들러
type BoardHandler struct {
	boards BoardAPI
}

// NewBoardHandler BoardHandler 생성
func NewBoardHandler(boards BoardAPI) *BoardHandler {
	return &BoardHandler{boards: boards}
}

// CreateBoardRequest 보드 생성 요청
type CreateBoardRequest struct {
	ProcedureID int64   `json:"procedure_id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Members     []int64 `json:"members,omitempty"`
}

// UpdateBoardRequest 보드 수정 요청 (members 생략 시 유지)
type UpdateBoardRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Members     []int64 `json:"members,omitempty"`
}

// SaveElementsRequest 보드 요소 저장 요청
type SaveElementsRequest struct {
	Elements json.RawMessage `json:"elements,omitempty"`
	AppState map[string]any  `json:"appState,omitempty"`
	Files    map[string]any  `json:"files,omitempty"`

	// LegacyAppState is read only when appState is absent.
	LegacyAppState map[string]any `json:"app_state,omitempty"`
}

// appState returns appState, falling back to the older app_state key.
func (r SaveElementsRequest) appState() map[string]any {
	if r.AppState != nil {
		return r.AppState
	}
	return r.LegacyAppState
}

// ListBoards 클리닉 보드 목록 (procedure_id 쿼리 시 해당 시술만)
func (h *BoardHandler) ListBoards(c *fiber.Ctx) error {
	userID, clinicID, err := boardScope(c)
	if err != nil {
		return err
	}

	if raw := c.Query("procedure_id"); raw != "" {
		procedureID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid procedure id",
			})
		}
		boards, err := h.boards.ListByProcedure(c.UserContext(), clinicID, procedureID, userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"boards": boards})
	}

	groups, err := h.boards.ListByClinic(c.UserContext(), clinicID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"procedures": groups})
}

// GetBoard 보드 단건 조회
func (h *BoardHandler) GetBoard(c *fiber.Ctx) error {
	userID, clinicID, err := boardScope(c)
	if err != nil {
		return err
	}
	boardID, err := boardIDParam(c)
	if err != nil {
		return err
	}

	board, err := h.boards.Get(c.UserContext(), clinicID, boardID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(board)
}

// CreateBoard 보드 생성
func (h *BoardHandler) CreateBoard(c *fiber.Ctx) error {
	userID, clinicID, err := boardScope(c)
	if err != nil {
		return err
	}

	var req CreateBoardRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.ProcedureID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "procedure_id is required",
		})
	}

	board, err := h.boards.Create(c.UserContext(), clinicID, userID, service.CreateBoardInput{
		ProcedureID: req.ProcedureID,
		Name:        req.Name,
		Description: req.Description,
		Members:     req.Members,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(board)
}

// UpdateBoard 보드 메타데이터 수정
func (h *BoardHandler) UpdateBoard(c *fiber.Ctx) error {
	userID, clinicID, err := boardScope(c)
	if err != nil {
		return err
	}
	boardID, err := boardIDParam(c)
	if err != nil {
		return err
	}

	var req UpdateBoardRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	board, err := h.boards.Update(c.UserContext(), clinicID, boardID, userID, service.UpdateBoardInput{
		Name:        req.Name,
		Description: req.Description,
		Members:     req.Members,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(board)
}

// SaveElements 보드 요소/앱 상태/파일 저장 (병합)
func (h *BoardHandler) SaveElements(c *fiber.Ctx) error {
	userID, clinicID, err := boardScope(c)
	if err != nil {
		return err
	}
	boardID, err := boardIDParam(c)
	if err != nil {
		return err
	}

	var req SaveElementsRequest
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}
	elements, err := collab.DecodeElements(req.Elements)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	board, err := h.boards.SaveElements(c.UserContext(), clinicID, boardID, userID, service.SaveElementsInput{
		Elements: elements,
		AppState: req.appState(),
		Files:    req.Files,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(board)
}

// DeleteBoard 보드 삭제
func (h *BoardHandler) DeleteBoard(c *fiber.Ctx) error {
	userID, clinicID, err := boardScope(c)
	if err != nil {
		return err
	}
	boardID, err := boardIDParam(c)
	if err != nil {
		return err
	}

	if err := h.boards.Delete(c.UserContext(), clinicID, boardID, userID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "board deleted"})
}

// ActiveUsers 보드 실시간 접속자 목록
func (h *BoardHandler) ActiveUsers(c *fiber.Ctx) error {
	userID, clinicID, err := boardScope(c)
	if err != nil {
		return err
	}
	boardID, err := boardIDParam(c)
	if err != nil {
		return err
	}

	participants, err := h.boards.ActiveUsers(c.UserContext(), clinicID, boardID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"participants": participants})
}

// boardScope 인증 사용자 및 클리닉 ID 추출
func boardScope(c *fiber.Ctx) (int64, int64, error) {
	claims, ok := auth.GetClaimsFromContext(c)
	if !ok {
		return 0, 0, fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	clinicID, err := strconv.ParseInt(c.Params("clinicId"), 10, 64)
	if err != nil || clinicID <= 0 {
		return 0, 0, fiber.NewError(fiber.StatusBadRequest, "invalid clinic id")
	}
	return claims.UserID, clinicID, nil
}

func boardIDParam(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("boardId"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid board id")
	}
	return id, nil
}
