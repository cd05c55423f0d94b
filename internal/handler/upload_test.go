package handler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"clinic-backend/internal/storage"
)

type stubUploader struct {
	clinicID int64
	err      error
}

func (s *stubUploader) GenerateUploadURL(_ context.Context, clinicID int64, fileName, contentType string) (*storage.PresignedUpload, error) {
	s.clinicID = clinicID
	if s.err != nil {
		return nil, s.err
	}
	return &storage.PresignedUpload{
		URL:       "https://bucket.example/upload",
		Key:       "clinics/1/boards/x.png",
		FileURL:   "https://bucket.example/x.png",
		ExpiresAt: time.Unix(0, 0),
	}, nil
}

func newUploadApp(uploader AssetUploader, clinicID any) *fiber.App {
	app := newTestApp()
	h := NewUploadHandler(uploader)
	app.Post("/presign", func(c *fiber.Ctx) error {
		if clinicID != nil {
			c.Locals("clinicID", clinicID)
		}
		return c.Next()
	}, h.Presign)
	return app
}

func TestPresign(t *testing.T) {
	stub := &stubUploader{}
	resp, out := doRequest(t, newUploadApp(stub, int64(1)), "POST", "/presign", "", `{"file_name":"x.png","content_type":"image/png"}`)
	if resp.StatusCode != fiber.StatusOK || out["upload_url"] != "https://bucket.example/upload" || out["file_url"] == nil {
		t.Fatalf("presign: %d %v", resp.StatusCode, out)
	}
	if stub.clinicID != 1 {
		t.Fatalf("clinic = %d", stub.clinicID)
	}

	tests := []struct {
		name     string
		uploader AssetUploader
		clinicID any
		body     string
		want     int
	}{
		{"not configured", nil, int64(1), `{"file_name":"x.png","content_type":"image/png"}`, fiber.StatusServiceUnavailable},
		{"no membership", &stubUploader{}, nil, `{"file_name":"x.png","content_type":"image/png"}`, fiber.StatusForbidden},
		{"missing fields", &stubUploader{}, int64(1), `{"file_name":"x.png"}`, fiber.StatusBadRequest},
		{"unsupported type", &stubUploader{err: fmt.Errorf("%w: text/html", storage.ErrUnsupportedContentType)}, int64(1), `{"file_name":"x.html","content_type":"text/html"}`, fiber.StatusBadRequest},
		{"presign failure", &stubUploader{err: fmt.Errorf("boom")}, int64(1), `{"file_name":"x.png","content_type":"image/png"}`, fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doRequest(t, newUploadApp(tt.uploader, tt.clinicID), "POST", "/presign", "", tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
