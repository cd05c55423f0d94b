package handler

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"clinic-backend/internal/storage"
)

// AssetUploader 보드 에셋 업로드 URL 발급기 (storage.S3Service)
type AssetUploader interface {
	GenerateUploadURL(ctx context.Context, clinicID int64, fileName, contentType string) (*storage.PresignedUpload, error)
}

// UploadHandler 보드 에셋 업로드 핸들러
type UploadHandler struct {
	uploader AssetUploader
}

// NewUploadHandler UploadHandler 생성 (uploader가 nil이면 업로드 비활성화)
func NewUploadHandler(uploader AssetUploader) *UploadHandler {
	return &UploadHandler{uploader: uploader}
}

// PresignRequest Presigned URL 요청
type PresignRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

// Presign 보드 에셋 업로드용 Presigned URL 생성 (ClinicMiddleware.RequireMembership 이후)
func (h *UploadHandler) Presign(c *fiber.Ctx) error {
	if h.uploader == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "S3 service is not configured",
		})
	}

	clinicID, ok := c.Locals("clinicID").(int64)
	if !ok {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "clinic membership required",
		})
	}

	var req PresignRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.FileName == "" || req.ContentType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "file_name and content_type are required",
		})
	}

	presigned, err := h.uploader.GenerateUploadURL(c.UserContext(), clinicID, req.FileName, req.ContentType)
	if errors.Is(err, storage.ErrUnsupportedContentType) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		log.Printf("[Upload] Presign failed for clinic %d: %v", clinicID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate presigned URL",
		})
	}

	return c.JSON(presigned)
}
