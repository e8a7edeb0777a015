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

	"github.com/docshare/linkdrive/internal/config"
	"github.com/docshare/linkdrive/internal/middleware"
	"github.com/docshare/linkdrive/internal/mirror"
	"github.com/docshare/linkdrive/internal/services"
	"github.com/docshare/linkdrive/internal/storage"
	"github.com/docshare/linkdrive/internal/testutil"
	"github.com/docshare/linkdrive/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	store  *storage.Memory
	mirror *mirror.Mirror
	owner  uuid.UUID
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return setupTestEnvWithStore(t, nil)
}

// setupTestEnvWithStore serves the API from the memory store behind the same
// timeout wrapper the server uses. wrap, when set, sits between the two.
func setupTestEnvWithStore(t *testing.T, wrap func(storage.Store) storage.Store) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
	})

	db := testutil.NewTestDatabase(t)
	store := testutil.NewTestStore()
	var backend storage.Store = store
	if wrap != nil {
		backend = wrap(store)
	}
	backend = storage.WithTimeout(backend, 5*time.Second, time.Minute)
	m := mirror.New(db, 5*time.Second)
	locks := services.NewTreeLocker(true)
	owner := uuid.New()

	coordinator := services.NewCoordinator(backend, m, locks, 5*time.Second)
	archive := services.NewArchiveStreamer(backend, locks, 16)
	search := services.NewSearchMerger(backend, m, locks, 16, 100)
	gateway := services.NewGateway(config.GatewayConfig{Timeout: 2 * time.Second}, backend)

	filesHandler := NewFilesHandler(coordinator, m, backend, archive, search)
	contentHandler := NewContentHandler(gateway)
	reconciliationHandler := NewReconciliationHandler(m)

	app := fiber.New(fiber.Config{BodyLimit: 100 * 1024 * 1024, Immutable: true})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS("http://localhost:3001"))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())
	app.Use(middleware.Owner(owner))

	RegisterRoutes(app, filesHandler, contentHandler, reconciliationHandler)

	return &testEnv{app: app, db: db, store: store, mirror: m, owner: owner}
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

func performUpload(t *testing.T, app *fiber.App, parentPath, filename, content string) *http.Response {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if parentPath != "" {
		_ = writer.WriteField("parentPath", parentPath)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed creating form file: %v", err)
	}
	_, _ = io.WriteString(part, content)
	_ = writer.Close()

	return performRequest(t, app, http.MethodPost, "/api/files/upload", body, map[string]string{
		"Content-Type": writer.FormDataContentType(),
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

func dataObject(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %T", body["data"])
	}
	return data
}

func dataPaths(t *testing.T, body map[string]any) []string {
	t.Helper()
	items, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("expected data array, got %T", body["data"])
	}
	paths := make([]string, 0, len(items))
	for _, item := range items {
		paths = append(paths, item.(map[string]any)["path"].(string))
	}
	return paths
}
