package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"clinic-backend/internal/auth"
	"clinic-backend/internal/service"
)

// ClinicMiddleware 클리닉 권한 미들웨어
type ClinicMiddleware struct {
	memberService *service.MemberService
}

// NewClinicMiddleware ClinicMiddleware 생성
func NewClinicMiddleware(memberService *service.MemberService) *ClinicMiddleware {
	return &ClinicMiddleware{memberService: memberService}
}

// ClinicIDFromParams URL에서 클리닉 ID 추출
func ClinicIDFromParams(c *fiber.Ctx) (int64, error) {
	idStr := c.Params("clinicId")
	if idStr == "" {
		return 0, fiber.NewError(fiber.StatusBadRequest, "clinic ID is required")
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid clinic ID")
	}
	return id, nil
}

// RequireMembership 클리닉에 배정된 사용자만 통과
func (m *ClinicMiddleware) RequireMembership() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := auth.GetClaimsFromContext(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		clinicID, err := ClinicIDFromParams(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid clinic ID",
			})
		}

		if !m.memberService.IsClinicMember(c.UserContext(), clinicID, claims.UserID) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "not a clinic member",
			})
		}

		c.Locals("clinicID", clinicID)
		return c.Next()
	}
}
