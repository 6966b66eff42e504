package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/docshare/drive/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(logger.Init)
	return &buf
}

func logEntries(t *testing.T, buf *bytes.Buffer) []logger.LogEntry {
	t.Helper()
	var entries []logger.LogEntry
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		var entry logger.LogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry), "line=%q", scanner.Text())
		entries = append(entries, entry)
	}
	return entries
}

func TestRequestLoggerAssignsRequestID(t *testing.T) {
	buf := captureLogs(t)

	app := fiber.New()
	app.Use(RequestLogger())
	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.SendString(GetRequestID(c))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NoError(t, err)
	generated := resp.Header.Get(fiber.HeaderXRequestID)
	assert.NotEmpty(t, generated)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(fiber.HeaderXRequestID, "client-supplied")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "client-supplied", resp.Header.Get(fiber.HeaderXRequestID))

	entries := logEntries(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "http_request", entries[0].Action)
	assert.Equal(t, logger.LevelInfo, entries[0].Level)
	assert.Equal(t, generated, entries[0].Details["request_id"])
	assert.Equal(t, "client-supplied", entries[1].Details["request_id"])
}

func TestRequestLoggerLevels(t *testing.T) {
	buf := captureLogs(t)

	app := fiber.New()
	app.Use(RequestLogger())
	app.Get("/missing", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false})
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusServiceUnavailable, "down")
	})

	_, err := app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.NoError(t, err)
	_, err = app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.NoError(t, err)

	entries := logEntries(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, logger.LevelWarn, entries[0].Level)
	assert.Equal(t, logger.LevelError, entries[1].Level)
	assert.Equal(t, float64(fiber.StatusServiceUnavailable), entries[1].Details["status_code"])
}

func TestSecurityLogger(t *testing.T) {
	buf := captureLogs(t)

	app := fiber.New()
	app.Use(SecurityLogger())
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/quota", func(c *fiber.Ctx) error {
		c.Locals(userIDKey, "user-1")
		return c.SendStatus(fiber.StatusRequestEntityTooLarge)
	})
	app.Get("/denied", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusUnauthorized) })

	for _, path := range []string{"/ok", "/quota", "/denied"} {
		_, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
	}

	entries := logEntries(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "quota_exceeded", entries[0].Action)
	require.NotNil(t, entries[0].UserID)
	assert.Equal(t, "user-1", *entries[0].UserID)
	assert.Equal(t, "unauthorized_unauthenticated", entries[1].Action)
}
