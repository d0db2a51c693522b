package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
)

func TestStatusToCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		want   Code
	}{
		{"not found", fiber.StatusNotFound, CodeNotFound},
		{"too many requests", fiber.StatusTooManyRequests, CodeRateLimited},
		{"service unavailable", fiber.StatusServiceUnavailable, CodeServiceUnavailable},
		{"generic 4xx falls back to validation error", fiber.StatusConflict, CodeValidationError},
		{"method not allowed", fiber.StatusMethodNotAllowed, CodeValidationError},
		{"5xx falls back to internal error", fiber.StatusInternalServerError, CodeInternalError},
		{"502 falls back to internal error", fiber.StatusBadGateway, CodeInternalError},
		{"unknown status falls back to internal error", 600, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := StatusToCode(tt.status); got != tt.want {
				t.Errorf("StatusToCode(%d) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestSuccessEnvelope(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/ok", func(c fiber.Ctx) error {
		return Success(c, fiber.Map{"value": 7})
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ok", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Data map[string]int `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Data["value"] != 7 {
		t.Errorf("data = %v", body.Data)
	}
}

func TestFailEnvelope(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/bad", func(c fiber.Ctx) error {
		return Fail(c, fiber.StatusNotFound, CodeNotFound, "no such thing")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/bad", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != CodeNotFound || body.Error.Message != "no such thing" {
		t.Errorf("error body = %+v", body.Error)
	}
}
