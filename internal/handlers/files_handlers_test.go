package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/docshare/linkdrive/internal/apperr"
	"github.com/docshare/linkdrive/internal/pathutil"
	"github.com/docshare/linkdrive/internal/storage"
	"github.com/docshare/linkdrive/internal/testutil"
	"github.com/klauspost/compress/zip"
)

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}
	return raw
}

func zipEntries(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	entries := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		entries[f.Name] = string(content)
	}
	return entries
}

func TestFilesEndpoints(t *testing.T) {
	env := setupTestEnv(t)

	var folderID string
	var reportHash string

	t.Run("POST /api/files/directory create folder", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/files/directory", map[string]any{
			"name": "docs",
		}, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusCreated)
		data := dataObject(t, body)
		if data["path"] != "/docs" || data["isFolder"] != true {
			t.Fatalf("unexpected folder %+v", data)
		}
		folderID = data["id"].(string)
	})

	t.Run("POST /api/files/directory is idempotent", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/files/directory", map[string]any{
			"parentPath": "/",
			"name":       "docs",
		}, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusCreated)
		if got := dataObject(t, body)["id"]; got != folderID {
			t.Fatalf("expected existing folder %s, got %v", folderID, got)
		}
	})

	t.Run("POST /api/files/upload into folder", func(t *testing.T) {
		resp := performUpload(t, env.app, "/docs", "report.txt", "quarterly numbers")
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusCreated)
		data := dataObject(t, body)
		if data["path"] != "/docs/report.txt" || data["parentPath"] != "/docs" {
			t.Fatalf("unexpected file %+v", data)
		}
		if data["size"].(float64) != float64(len("quarterly numbers")) {
			t.Fatalf("unexpected size %v", data["size"])
		}
		if data["mimeType"] != "text/plain; charset=utf-8" {
			t.Fatalf("expected sniffed text type, got %v", data["mimeType"])
		}
		reportHash = data["contentHash"].(string)
	})

	t.Run("POST /api/files/upload rejects duplicate name", func(t *testing.T) {
		resp := performUpload(t, env.app, "/docs", "report.txt", "other")
		body := decodeJSONMap(t, resp)
		assertErrorResponse(t, resp.StatusCode, body, http.StatusConflict, "already exists: /docs/report.txt")
	})

	t.Run("POST /api/files/upload missing parent", func(t *testing.T) {
		resp := performUpload(t, env.app, "/nowhere", "a.txt", "a")
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusNotFound)
		if success, _ := body["success"].(bool); success {
			t.Fatalf("expected failure envelope, got %+v", body)
		}
	})

	t.Run("POST /api/files/upload missing file", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/files/upload", map[string]any{}, nil)
		body := decodeJSONMap(t, resp)
		assertErrorResponse(t, resp.StatusCode, body, http.StatusBadRequest, "file is required")
	})

	t.Run("GET /api/files list root and folder", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/files", nil, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if got := dataPaths(t, body); strings.Join(got, ",") != "/docs" {
			t.Fatalf("unexpected root listing %v", got)
		}

		resp = performRequest(t, env.app, http.MethodGet, "/api/files?path=/docs", nil, nil)
		body = decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if got := dataPaths(t, body); strings.Join(got, ",") != "/docs/report.txt" {
			t.Fatalf("unexpected folder listing %v", got)
		}
		if body["count"].(float64) != 1 {
			t.Fatalf("expected count 1, got %v", body["count"])
		}

		resp = performRequest(t, env.app, http.MethodGet, "/api/files?path=/&recursive=true", nil, nil)
		body = decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if got := dataPaths(t, body); strings.Join(got, ",") != "/docs,/docs/report.txt" {
			t.Fatalf("unexpected recursive listing %v", got)
		}

		resp = performRequest(t, env.app, http.MethodGet, "/api/files?recursive=maybe", nil, nil)
		body = decodeJSONMap(t, resp)
		assertErrorResponse(t, resp.StatusCode, body, http.StatusBadRequest, "recursive must be a boolean")
	})

	t.Run("GET /api/files rejects files and missing folders", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/files?path=/docs/report.txt", nil, nil)
		body := decodeJSONMap(t, resp)
		assertErrorResponse(t, resp.StatusCode, body, http.StatusBadRequest, "path is not a folder")

		resp = performRequest(t, env.app, http.MethodGet, "/api/files?path=/missing", nil, nil)
		assertStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	})

	t.Run("GET /api/files/stat mirror row", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/files/stat?path=/docs/report.txt", nil, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if got := dataObject(t, body)["contentHash"]; got != reportHash {
			t.Fatalf("expected hash %s, got %v", reportHash, got)
		}
	})

	t.Run("GET /api/files/stat falls back to the store", func(t *testing.T) {
		testutil.WriteFile(t, env.store, pathutil.StorePath(env.owner, "/docs/orphan-report.md"), "# stray")

		resp := performRequest(t, env.app, http.MethodGet, "/api/files/stat?path=/docs/orphan-report.md", nil, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		data := dataObject(t, body)
		if data["source"] != "store-only" || data["isFolder"] != false {
			t.Fatalf("unexpected store entry %+v", data)
		}
	})

	t.Run("GET /api/files/search merges sources", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/files/search?q=report", nil, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)

		sources := map[string]string{}
		for _, item := range body["data"].([]any) {
			row := item.(map[string]any)
			sources[row["path"].(string)] = row["source"].(string)
		}
		if sources["/docs/report.txt"] != "both" {
			t.Fatalf("expected mirrored file from both sources, got %+v", sources)
		}
		if sources["/docs/orphan-report.md"] != "store-only" {
			t.Fatalf("expected store-only orphan, got %+v", sources)
		}
	})

	t.Run("GET /api/files/search one level", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/files/search?q=report&recursive=false", nil, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if got := dataPaths(t, body); len(got) != 0 {
			t.Fatalf("expected no matches directly under root, got %v", got)
		}
	})

	t.Run("GET /api/files/download file", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/files/download?path=/docs/report.txt", nil, nil)
		assertStatus(t, resp, http.StatusOK)
		if got := resp.Header.Get("Content-Disposition"); !strings.Contains(got, `"report.txt"`) {
			t.Fatalf("unexpected disposition %q", got)
		}
		if got := string(readBody(t, resp)); got != "quarterly numbers" {
			t.Fatalf("unexpected content %q", got)
		}
	})

	t.Run("GET /api/files/download folder as zip", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/files/download?path=/docs", nil, nil)
		assertStatus(t, resp, http.StatusOK)
		if got := resp.Header.Get("Content-Type"); got != "application/zip" {
			t.Fatalf("expected zip content type, got %q", got)
		}
		if got := resp.Header.Get("Content-Disposition"); !strings.Contains(got, `"docs.zip"`) {
			t.Fatalf("unexpected disposition %q", got)
		}

		entries := zipEntries(t, readBody(t, resp))
		if entries["docs/report.txt"] != "quarterly numbers" || entries["docs/orphan-report.md"] != "# stray" {
			t.Fatalf("unexpected archive entries %v", entries)
		}
	})

	t.Run("GET /api/files/download missing path", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/files/download?path=/missing.txt", nil, nil)
		assertStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	})

	t.Run("GET /api/content/:hash resolves stored object", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/content/"+url.PathEscape(reportHash), nil, nil)
		assertStatus(t, resp, http.StatusOK)
		if got := resp.Header.Get("X-Content-Strategy"); got != "object" {
			t.Fatalf("expected object strategy, got %q", got)
		}
		if got := string(readBody(t, resp)); got != "quarterly numbers" {
			t.Fatalf("unexpected content %q", got)
		}
	})

	t.Run("GET /api/content/:hash unknown hash", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/content/nothing-here", nil, nil)
		assertStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	})

	t.Run("PUT /api/files renames folder", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/files", map[string]any{
			"path": "/docs",
			"name": "papers",
		}, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		data := dataObject(t, body)
		if data["from"] != "/docs" || data["to"] != "/papers" {
			t.Fatalf("unexpected move result %+v", data)
		}

		resp = performRequest(t, env.app, http.MethodGet, "/api/files/stat?path=/papers/report.txt", nil, nil)
		assertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	})

	t.Run("PUT /api/files moves file to root", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/files", map[string]any{
			"path":       "/papers/report.txt",
			"parentPath": "",
		}, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if got := dataObject(t, body)["to"]; got != "/report.txt" {
			t.Fatalf("expected file at root, got %v", got)
		}
	})

	t.Run("PUT /api/files rejects move into itself", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/files", map[string]any{
			"path":       "/papers",
			"parentPath": "/papers",
		}, nil)
		assertStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})

	t.Run("DELETE /api/files removes subtree", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodDelete, "/api/files?path=/papers", nil, nil)
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if got := dataObject(t, body)["path"]; got != "/papers" {
			t.Fatalf("unexpected delete result %v", got)
		}

		resp = performRequest(t, env.app, http.MethodGet, "/api/files", nil, nil)
		body = decodeJSONMap(t, resp)
		got := dataPaths(t, body)
		sort.Strings(got)
		if strings.Join(got, ",") != "/report.txt" {
			t.Fatalf("unexpected root after delete %v", got)
		}
	})

	t.Run("DELETE /api/files missing path", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodDelete, "/api/files?path=/papers", nil, nil)
		assertStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	})

	t.Run("GET /api/files/download root archive", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/files/download", nil, nil)
		assertStatus(t, resp, http.StatusOK)
		if got := resp.Header.Get("Content-Disposition"); !strings.Contains(got, `"files.zip"`) {
			t.Fatalf("unexpected disposition %q", got)
		}
		entries := zipEntries(t, readBody(t, resp))
		if entries["files/report.txt"] != "quarterly numbers" {
			t.Fatalf("unexpected archive entries %v", entries)
		}
	})
}

func TestReconciliationEndpoints(t *testing.T) {
	env := setupTestEnv(t)

	resp := performRequest(t, env.app, http.MethodGet, "/api/reconciliation", nil, nil)
	body := decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusOK)
	if body["count"].(float64) != 0 {
		t.Fatalf("expected no open tasks, got %v", body["count"])
	}

	resp = performRequest(t, env.app, http.MethodPut, "/api/reconciliation/"+env.owner.String()+"/resolve", nil, nil)
	body = decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusNotFound)
	assertEnvelopeError(t, body, "not found: "+env.owner.String())
}

// brokenReadStore fails ReadStream for paths ending in suffix.
type brokenReadStore struct {
	storage.Store
	suffix string
}

func (b brokenReadStore) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	if strings.HasSuffix(p, b.suffix) {
		return nil, apperr.E("store.read", p, apperr.ErrStoreUnavailable, errors.New("block unavailable"))
	}
	return b.Store.ReadStream(ctx, p)
}

func TestFolderDownloadFailureReachesClient(t *testing.T) {
	env := setupTestEnvWithStore(t, func(s storage.Store) storage.Store {
		return brokenReadStore{Store: s, suffix: "/proj/b.txt"}
	})
	testutil.WriteFile(t, env.store, pathutil.StorePath(env.owner, "/proj/a.txt"), "a")
	testutil.WriteFile(t, env.store, pathutil.StorePath(env.owner, "/proj/b.txt"), "b")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		_ = env.app.Listener(ln)
	}()
	t.Cleanup(func() {
		_ = env.app.Shutdown()
	})

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/files/download?path=/proj")
	if err != nil {
		return
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err == nil {
		t.Fatalf("expected a failed archive to reach the client as an error, got status %d and a valid zip", resp.StatusCode)
	}
}
