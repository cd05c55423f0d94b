package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"clinic-backend/internal/auth"
)

var testJWT = auth.NewJWTManager("test-secret", time.Hour, 24*time.Hour)

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
}

func bearer(t *testing.T, userID int64, role string) string {
	t.Helper()

	token, err := testJWT.GenerateAccessToken(userID, "user@clinic.test", "user", role)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return "Bearer " + token
}

func doRequest(t *testing.T, app *fiber.App, method, target, authz, body string) (*http.Response, map[string]any) {
	t.Helper()

	headers := map[string]string{}
	if authz != "" {
		headers["Authorization"] = authz
	}
	return doRequestBody(t, app, method, target, headers, body)
}

func doRequestBody(t *testing.T, app *fiber.App, method, target string, headers map[string]string, body string) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp, out
}
