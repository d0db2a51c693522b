package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func healthApp(db, broker Pinger) *fiber.App {
	app := fiber.New()
	app.Get("/healthz", NewHealthHandler(db, broker).Health)
	return app
}

func getHealth(t *testing.T, app *fiber.App) (int, map[string]string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Data map[string]string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	return resp.StatusCode, body.Data
}

func TestHealthAllComponentsUp(t *testing.T) {
	t.Parallel()

	app := healthApp(fakePinger{}, fakePinger{})
	status, data := getHealth(t, app)

	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if data["status"] != "ok" || data["postgres"] != "ok" || data["valkey"] != "ok" {
		t.Errorf("health body = %v", data)
	}
}

func TestHealthDegradedWhenBrokerDown(t *testing.T) {
	t.Parallel()

	app := healthApp(fakePinger{}, fakePinger{err: errors.New("connection refused")})
	status, data := getHealth(t, app)

	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
	if data["status"] != "degraded" || data["valkey"] != "unavailable" || data["postgres"] != "ok" {
		t.Errorf("health body = %v", data)
	}
}

func TestHealthDegradedWhenPostgresDown(t *testing.T) {
	t.Parallel()

	app := healthApp(fakePinger{err: errors.New("dial timeout")}, fakePinger{})
	status, data := getHealth(t, app)

	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
	if data["postgres"] != "unavailable" {
		t.Errorf("health body = %v", data)
	}
}
