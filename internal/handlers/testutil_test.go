package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/docshare/drive/internal/config"
	"github.com/docshare/drive/internal/database"
	"github.com/docshare/drive/internal/middleware"
	"github.com/docshare/drive/internal/models"
	"github.com/docshare/drive/internal/services"
	"github.com/docshare/drive/internal/storage"
	"github.com/docshare/drive/pkg/logger"
	"github.com/docshare/drive/pkg/utils"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"
)

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	blobs  *storage.MemoryStore
	ledger *services.QuotaLedger
	audit  *services.AuditService
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), database.GormConfig())
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed migrating schema: %v", err)
	}

	storageCfg := config.StorageConfig{MaxTreeDepth: 64, TimeZone: "UTC"}
	blobs := storage.NewMemoryStore()
	ledger := services.NewQuotaLedger(db)
	auditService := services.NewAuditService(db, blobs, 100)

	t.Cleanup(func() {
		auditService.Close()
		_ = sqlDB.Close()
	})

	app := fiber.New(fiber.Config{BodyLimit: 10 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS([]string{"http://localhost:3001"}))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	RegisterRoutes(app, Dependencies{
		DB:     db,
		FS:     services.NewFilesystemService(db, blobs, ledger, storageCfg),
		Index:  services.NewSearchIndex(db, ledger, storageCfg),
		Ledger: ledger,
		Audit:  auditService,
	})

	return &testEnv{app: app, db: db, blobs: blobs, ledger: ledger, audit: auditService}
}

func createTestUser(t *testing.T, db *gorm.DB, email string, quota int64) (*models.User, string) {
	t.Helper()

	user := &models.User{
		Email:        email,
		DisplayName:  "Test User",
		StorageQuota: quota,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

// performUpload posts content as the multipart "file" field plus any extra
// form fields.
func performUpload(t *testing.T, app *fiber.App, token, filename, content string, fields map[string]string) *http.Response {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		_ = writer.WriteField(key, value)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed creating form file: %v", err)
	}
	_, _ = io.WriteString(part, content)
	writer.Close()

	return performRequest(t, app, http.MethodPost, "/api/files/upload", body, map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  writer.FormDataContentType(),
	})
}

type uploadPart struct {
	name    string
	content string
}

// performBatchUpload posts every part under the multipart "files" field.
func performBatchUpload(t *testing.T, app *fiber.App, token string, parts []uploadPart, fields map[string]string) *http.Response {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		_ = writer.WriteField(key, value)
	}
	for _, p := range parts {
		part, err := writer.CreateFormFile("files", p.name)
		if err != nil {
			t.Fatalf("failed creating form file: %v", err)
		}
		_, _ = io.WriteString(part, p.content)
	}
	writer.Close()

	return performRequest(t, app, http.MethodPost, "/api/files/upload", body, map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  writer.FormDataContentType(),
	})
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func dataMap(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected object data, got %+v", body["data"])
	}
	return data
}

func dataList(t *testing.T, body map[string]any) []any {
	t.Helper()
	data, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("expected list data, got %+v", body["data"])
	}
	return data
}

func names(t *testing.T, items []any) []string {
	t.Helper()
	out := make([]string, 0, len(items))
	for _, item := range items {
		node, ok := item.(map[string]any)
		if !ok {
			t.Fatalf("expected node object, got %+v", item)
		}
		name, _ := node["name"].(string)
		out = append(out, name)
	}
	return out
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}

func assertEnvelopeCode(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if got, _ := body["code"].(string); got != expected {
		t.Fatalf("expected code %q, got %q (body %+v)", expected, got, body)
	}
}
