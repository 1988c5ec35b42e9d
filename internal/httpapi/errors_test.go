package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendErrorIncludesRequestIDHeaderFallback(t *testing.T) {
	app := fiber.New()
	app.Get("/err", func(c *fiber.Ctx) error {
		return sendError(c, fiber.StatusBadRequest, "CLIENT_ERROR", "bad input")
	})

	req := httptest.NewRequest(http.MethodGet, "/err", nil)
	req.Header.Set("X-Request-ID", "req-123")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "bad input", body.Error)
	assert.Equal(t, "CLIENT_ERROR", body.Code)
	assert.Equal(t, "req-123", body.RequestID)
}

func TestGetRequestIDPrefersLocalsOverHeader(t *testing.T) {
	app := fiber.New()
	app.Get("/err", func(c *fiber.Ctx) error {
		c.Locals("requestid", "from-locals")
		return sendError(c, fiber.StatusBadRequest, "CLIENT_ERROR", "bad input")
	})

	req := httptest.NewRequest(http.MethodGet, "/err", nil)
	req.Header.Set("X-Request-ID", "from-header")

	resp, err := app.Test(req)
	require.NoError(t, err)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "from-locals", body.RequestID)
}
