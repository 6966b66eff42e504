package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/docshare/drive/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usedStorage(t *testing.T, env *testEnv, token string) float64 {
	t.Helper()
	resp := performRequest(t, env.app, http.MethodGet, "/api/me/quota", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	return dataMap(t, decodeJSONMap(t, resp))["used"].(float64)
}

func createFolder(t *testing.T, env *testEnv, token, name, parentID string) string {
	t.Helper()
	payload := map[string]any{"name": name}
	if parentID != "" {
		payload["parentID"] = parentID
	}
	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/folders", payload, authHeaders(token))
	assertStatus(t, resp, http.StatusCreated)
	return dataMap(t, decodeJSONMap(t, resp))["id"].(string)
}

func upload(t *testing.T, env *testEnv, token, name string, size int, parentID string) string {
	t.Helper()
	fields := map[string]string{}
	if parentID != "" {
		fields["parentID"] = parentID
	}
	resp := performUpload(t, env.app, token, name, strings.Repeat("x", size), fields)
	assertStatus(t, resp, http.StatusCreated)
	return dataMap(t, decodeJSONMap(t, resp))["id"].(string)
}

func TestNodesRequireAuthentication(t *testing.T) {
	env := setupTestEnv(t)

	resp := performRequest(t, env.app, http.MethodGet, "/api/files", nil, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "missing authorization header")

	resp = performRequest(t, env.app, http.MethodGet, "/api/files", nil, authHeaders("garbage"))
	assertStatus(t, resp, http.StatusUnauthorized)

	resp = performRequest(t, env.app, http.MethodGet, "/health", nil, nil)
	assertStatus(t, resp, http.StatusOK)
}

func TestQuotaLifecycleOverHTTP(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "quota-http@test.com", 1000)

	upload(t, env, token, "A.txt", 300, "")
	assert.Equal(t, float64(300), usedStorage(t, env, token))

	folderID := createFolder(t, env, token, "F", "")
	upload(t, env, token, "B.txt", 200, folderID)
	assert.Equal(t, float64(500), usedStorage(t, env, token))
	require.Equal(t, 2, env.blobs.Len())

	resp := performRequest(t, env.app, http.MethodDelete, "/api/files/"+folderID, nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	result := dataMap(t, decodeJSONMap(t, resp))
	assert.Equal(t, float64(2), result["nodes"])
	assert.Equal(t, float64(1), result["files"])
	assert.Equal(t, float64(200), result["freedBytes"])
	assert.Equal(t, float64(300), usedStorage(t, env, token))
	assert.Equal(t, 1, env.blobs.Len())

	resp = performUpload(t, env.app, token, "big.bin", strings.Repeat("x", 800), nil)
	assertStatus(t, resp, http.StatusRequestEntityTooLarge)
	assertEnvelopeCode(t, decodeJSONMap(t, resp), "quota_exceeded")
	assert.Equal(t, float64(300), usedStorage(t, env, token))
	assert.Equal(t, 1, env.blobs.Len())

	resp = performRequest(t, env.app, http.MethodGet, "/api/files", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	assert.Equal(t, []string{"A.txt"}, names(t, dataList(t, decodeJSONMap(t, resp))))
}

func TestCreateFolderErrors(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "folders-http@test.com", 1000)
	createFolder(t, env, token, "Docs", "")

	t.Run("sibling name conflict", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/folders", map[string]any{"name": "Docs"}, authHeaders(token))
		assertStatus(t, resp, http.StatusConflict)
		assertEnvelopeCode(t, decodeJSONMap(t, resp), "conflict")
	})

	t.Run("empty name", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/folders", map[string]any{"name": "  "}, authHeaders(token))
		assertStatus(t, resp, http.StatusBadRequest)
		assertEnvelopeCode(t, decodeJSONMap(t, resp), "invalid_argument")
	})

	t.Run("invalid parentID", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/folders", map[string]any{"name": "X", "parentID": "nope"}, authHeaders(token))
		assertStatus(t, resp, http.StatusBadRequest)
		assertEnvelopeError(t, decodeJSONMap(t, resp), "invalid parentID")
	})

	t.Run("missing parent", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/folders", map[string]any{"name": "X", "parentID": "6f1c5a8e-2b7d-4f3a-9c1e-0d2b4a6c8e10"}, authHeaders(token))
		assertStatus(t, resp, http.StatusNotFound)
		assertEnvelopeCode(t, decodeJSONMap(t, resp), "not_found")
	})
}

func TestUploadValidation(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "upload-http@test.com", 1000)

	resp := performRequest(t, env.app, http.MethodPost, "/api/files/upload", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusBadRequest)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "file is required")

	resp = performUpload(t, env.app, token, "a.txt", "hi", map[string]string{"parentID": "invalid-uuid"})
	assertStatus(t, resp, http.StatusBadRequest)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "invalid parentID")

	resp = performUpload(t, env.app, token, "a.txt", "hi", map[string]string{"kind": "folder"})
	assertStatus(t, resp, http.StatusBadRequest)

	resp = performUpload(t, env.app, token, "scan.bin", "hi", map[string]string{"kind": "pdf"})
	assertStatus(t, resp, http.StatusCreated)
	node := dataMap(t, decodeJSONMap(t, resp))
	assert.Equal(t, "pdf", node["kind"])
	assert.Equal(t, float64(2), node["size"])
	_, hasRef := node["blobRef"]
	assert.False(t, hasRef)

	resp = performUpload(t, env.app, token, "scan.bin", "again", nil)
	assertStatus(t, resp, http.StatusConflict)
	assertEnvelopeCode(t, decodeJSONMap(t, resp), "conflict")
	assert.Equal(t, 1, env.blobs.Len())
}

func TestBatchUpload(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "batch-http@test.com", 1000)
	folderID := createFolder(t, env, token, "Inbox", "")

	resp := performBatchUpload(t, env.app, token, []uploadPart{
		{name: "a.txt", content: strings.Repeat("a", 100)},
		{name: "b.png", content: strings.Repeat("b", 200)},
	}, map[string]string{"parentID": folderID})
	assertStatus(t, resp, http.StatusCreated)
	created := dataList(t, decodeJSONMap(t, resp))
	assert.Equal(t, []string{"a.txt", "b.png"}, names(t, created))
	assert.Equal(t, float64(300), usedStorage(t, env, token))
	assert.Equal(t, 2, env.blobs.Len())

	t.Run("combined size over quota stores nothing", func(t *testing.T) {
		resp := performBatchUpload(t, env.app, token, []uploadPart{
			{name: "c.bin", content: strings.Repeat("c", 400)},
			{name: "d.bin", content: strings.Repeat("d", 400)},
		}, nil)
		assertStatus(t, resp, http.StatusRequestEntityTooLarge)
		assertEnvelopeCode(t, decodeJSONMap(t, resp), "quota_exceeded")
		assert.Equal(t, float64(300), usedStorage(t, env, token))
		assert.Equal(t, 2, env.blobs.Len())

		resp = performRequest(t, env.app, http.MethodGet, "/api/files", nil, authHeaders(token))
		assertStatus(t, resp, http.StatusOK)
		assert.Equal(t, []string{"Inbox"}, names(t, dataList(t, decodeJSONMap(t, resp))))
	})

	t.Run("name clash rejects the whole batch", func(t *testing.T) {
		resp := performBatchUpload(t, env.app, token, []uploadPart{
			{name: "fresh.txt", content: "x"},
			{name: "a.txt", content: "y"},
		}, map[string]string{"parentID": folderID})
		assertStatus(t, resp, http.StatusConflict)
		assert.Equal(t, float64(300), usedStorage(t, env, token))
		assert.Equal(t, 2, env.blobs.Len())
	})

	t.Run("more than ten files", func(t *testing.T) {
		parts := make([]uploadPart, 11)
		for i := range parts {
			parts[i] = uploadPart{name: fmt.Sprintf("f%02d.txt", i), content: "x"}
		}
		resp := performBatchUpload(t, env.app, token, parts, nil)
		assertStatus(t, resp, http.StatusBadRequest)
		assertEnvelopeError(t, decodeJSONMap(t, resp), "at most 10 files can be uploaded at once")
		assert.Equal(t, 2, env.blobs.Len())
	})
}

func TestSearchByRecencyOverHTTP(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "search-http@test.com", 10000)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"Report.pdf", "annual-report-notes", "image.png"} {
		id := upload(t, env, token, name, 10, "")
		require.NoError(t, env.db.Model(&models.Node{}).Where("id = ?", id).
			UpdateColumn("created_at", base.Add(time.Duration(i)*time.Minute)).Error)
	}

	resp := performRequest(t, env.app, http.MethodGet, "/api/files/search?q=report", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	assert.Equal(t, []string{"annual-report-notes", "Report.pdf"}, names(t, dataList(t, decodeJSONMap(t, resp))))

	resp = performRequest(t, env.app, http.MethodGet, "/api/files/search?q=", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusBadRequest)

	resp = performRequest(t, env.app, http.MethodGet, "/api/files/by-date?date=2026-03-01", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	assert.Len(t, dataList(t, decodeJSONMap(t, resp)), 3)

	resp = performRequest(t, env.app, http.MethodGet, "/api/files/by-date?date=2026-03-02", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	assert.Empty(t, dataList(t, decodeJSONMap(t, resp)))

	resp = performRequest(t, env.app, http.MethodGet, "/api/files/by-date?date=03/01/2026", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusBadRequest)

	resp = performRequest(t, env.app, http.MethodGet, "/api/files/recent?limit=2", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	assert.Equal(t, []string{"image.png", "annual-report-notes"}, names(t, dataList(t, decodeJSONMap(t, resp))))
}

func TestUpdateRenameAndMove(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "update-http@test.com", 1000)

	outer := createFolder(t, env, token, "Outer", "")
	inner := createFolder(t, env, token, "Inner", outer)
	fileID := upload(t, env, token, "draft.txt", 5, "")

	t.Run("rename", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/files/"+fileID, map[string]any{"name": "final.txt"}, authHeaders(token))
		assertStatus(t, resp, http.StatusOK)
		assert.Equal(t, "final.txt", dataMap(t, decodeJSONMap(t, resp))["name"])
	})

	t.Run("move and rename together", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/files/"+fileID, map[string]any{"name": "moved.txt", "parentID": inner}, authHeaders(token))
		assertStatus(t, resp, http.StatusOK)
		node := dataMap(t, decodeJSONMap(t, resp))
		assert.Equal(t, "moved.txt", node["name"])
		assert.Equal(t, inner, node["parentID"])

		resp = performRequest(t, env.app, http.MethodGet, "/api/files/"+fileID+"/path", nil, authHeaders(token))
		assertStatus(t, resp, http.StatusOK)
		assert.Equal(t, []string{"Outer", "Inner", "moved.txt"}, names(t, dataList(t, decodeJSONMap(t, resp))))
	})

	t.Run("move and rename with a clashing name keeps the node in place", func(t *testing.T) {
		upload(t, env, token, "clash.txt", 1, outer)
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/files/"+fileID, map[string]any{"name": "clash.txt", "parentID": outer}, authHeaders(token))
		assertStatus(t, resp, http.StatusConflict)

		resp = performRequest(t, env.app, http.MethodGet, "/api/files/"+fileID, nil, authHeaders(token))
		assertStatus(t, resp, http.StatusOK)
		node := dataMap(t, decodeJSONMap(t, resp))
		assert.Equal(t, inner, node["parentID"])
		assert.Equal(t, "moved.txt", node["name"])
	})

	t.Run("move folder into its descendant", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/files/"+outer, map[string]any{"parentID": inner}, authHeaders(token))
		assertStatus(t, resp, http.StatusUnprocessableEntity)
		assertEnvelopeCode(t, decodeJSONMap(t, resp), "invalid_operation")
	})

	t.Run("move to root with empty parent", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/files/"+inner, map[string]any{"parentID": ""}, authHeaders(token))
		assertStatus(t, resp, http.StatusOK)
		_, hasParent := dataMap(t, decodeJSONMap(t, resp))["parentID"]
		assert.False(t, hasParent)
	})

	t.Run("empty body", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/files/"+fileID, map[string]any{}, authHeaders(token))
		assertStatus(t, resp, http.StatusBadRequest)
		assertEnvelopeError(t, decodeJSONMap(t, resp), "no valid fields to update")
	})

	t.Run("invalid id", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/files/nope", map[string]any{"name": "x"}, authHeaders(token))
		assertStatus(t, resp, http.StatusBadRequest)
	})
}

func TestDuplicateTogglesAndDownload(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "dup-http@test.com", 1000)

	resp := performUpload(t, env.app, token, "notes.txt", "hello world", nil)
	assertStatus(t, resp, http.StatusCreated)
	fileID := dataMap(t, decodeJSONMap(t, resp))["id"].(string)

	resp = performRequest(t, env.app, http.MethodPost, "/api/files/"+fileID+"/duplicate", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusCreated)
	dup := dataMap(t, decodeJSONMap(t, resp))
	assert.Equal(t, "Copy of notes.txt", dup["name"])
	assert.Equal(t, float64(22), usedStorage(t, env, token))

	resp = performRequest(t, env.app, http.MethodGet, "/api/files/"+dup["id"].(string)+"/download", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(raw))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "Copy of notes.txt")

	resp = performRequest(t, env.app, http.MethodPost, "/api/files/"+fileID+"/favorite", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	assert.Equal(t, true, dataMap(t, decodeJSONMap(t, resp))["isFavorite"])

	resp = performRequest(t, env.app, http.MethodGet, "/api/files/favorites", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	assert.Equal(t, []string{"notes.txt"}, names(t, dataList(t, decodeJSONMap(t, resp))))

	resp = performRequest(t, env.app, http.MethodPost, "/api/files/"+fileID+"/private", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	assert.Equal(t, true, dataMap(t, decodeJSONMap(t, resp))["isPrivate"])

	folderID := createFolder(t, env, token, "Box", "")
	resp = performRequest(t, env.app, http.MethodPost, "/api/files/"+folderID+"/duplicate", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusUnprocessableEntity)

	resp = performRequest(t, env.app, http.MethodGet, "/api/files/"+folderID+"/download", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusUnprocessableEntity)
}

func TestFolderSizeAndListing(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "size-http@test.com", 1000)

	folderID := createFolder(t, env, token, "Photos", "")
	sub := createFolder(t, env, token, "2026", folderID)
	upload(t, env, token, "a.png", 40, folderID)
	upload(t, env, token, "b.png", 60, sub)

	resp := performRequest(t, env.app, http.MethodGet, "/api/files/"+folderID+"/size", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	assert.Equal(t, float64(100), dataMap(t, decodeJSONMap(t, resp))["size"])

	resp = performRequest(t, env.app, http.MethodGet, "/api/files?parentID="+folderID, nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	assert.Equal(t, []string{"2026", "a.png"}, names(t, dataList(t, decodeJSONMap(t, resp))))

	resp = performRequest(t, env.app, http.MethodGet, "/api/files?parentID="+folderID+"&kind=folder", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	assert.Equal(t, []string{"2026"}, names(t, dataList(t, decodeJSONMap(t, resp))))

	resp = performRequest(t, env.app, http.MethodPost, "/api/files/"+sub+"/private", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)

	resp = performRequest(t, env.app, http.MethodGet, "/api/files?parentID="+folderID+"&private=true", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	assert.Equal(t, []string{"2026"}, names(t, dataList(t, decodeJSONMap(t, resp))))

	resp = performRequest(t, env.app, http.MethodGet, "/api/files?parentID="+folderID+"&private=false", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	assert.Equal(t, []string{"a.png"}, names(t, dataList(t, decodeJSONMap(t, resp))))

	resp = performRequest(t, env.app, http.MethodGet, "/api/files?parentID="+folderID+"&favorite=true", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	assert.Empty(t, dataList(t, decodeJSONMap(t, resp)))

	resp = performRequest(t, env.app, http.MethodGet, "/api/files?private=maybe", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusBadRequest)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "private must be true or false")

	resp = performRequest(t, env.app, http.MethodGet, "/api/files?kind=spreadsheet", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusBadRequest)
	assertEnvelopeCode(t, decodeJSONMap(t, resp), "invalid_argument")
}

func TestNodesAreScopedToOwner(t *testing.T) {
	env := setupTestEnv(t)
	_, ownerToken := createTestUser(t, env.db, "owner-http@test.com", 1000)
	_, otherToken := createTestUser(t, env.db, "other-http@test.com", 1000)

	fileID := upload(t, env, ownerToken, "secret.txt", 10, "")

	for _, path := range []string{"/api/files/" + fileID, "/api/files/" + fileID + "/download", "/api/files/" + fileID + "/path"} {
		resp := performRequest(t, env.app, http.MethodGet, path, nil, authHeaders(otherToken))
		assertStatus(t, resp, http.StatusNotFound)
	}

	resp := performRequest(t, env.app, http.MethodDelete, "/api/files/"+fileID, nil, authHeaders(otherToken))
	assertStatus(t, resp, http.StatusNotFound)
	assert.Equal(t, float64(10), usedStorage(t, env, ownerToken))

	resp = performRequest(t, env.app, http.MethodGet, "/api/files/search?q=secret", nil, authHeaders(otherToken))
	assertStatus(t, resp, http.StatusOK)
	assert.Empty(t, dataList(t, decodeJSONMap(t, resp)))
}
