package storeapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/jobs"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store, *jobs.Queue) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	q, err := jobs.OpenQueue(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	return New(":0", st, q, "hush"), st, q
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUpsertAndGet(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	rec := doJSON(t, h, "POST", "/api/docs", map[string]any{
		"path":     "widget/acme",
		"title":    "Overview",
		"content":  "# Overview",
		"repo_url": "https://github.com/acme/widget",
		"doc_type": "overview",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created docJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)

	rec = doJSON(t, h, "GET", "/api/docs/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got docJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "# Overview", got.Content)

	// Re-upsert is 200, not 201.
	rec = doJSON(t, h, "POST", "/api/docs", map[string]any{
		"path": "widget/acme", "title": "Overview", "content": "updated",
		"repo_url": "https://github.com/acme/widget", "doc_type": "overview",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateConflictMapsTo409(t *testing.T) {
	s, st, _ := newTestServer(t)
	h := s.Handler()

	doc, _, err := st.CreateOrUpdate(t.Context(), store.DocumentCreate{
		Path: "p", Title: "T", Content: "v1",
	})
	require.NoError(t, err)

	rec := doJSON(t, h, "PUT", "/api/docs/"+doc.ID, map[string]any{
		"content": "v2", "version": 99,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, "PUT", "/api/docs/"+doc.ID, map[string]any{
		"content": "v2", "version": doc.Version,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated docJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, doc.Version+1, updated.Version)

	rec = doJSON(t, h, "PUT", "/api/docs/doc-nope", map[string]any{"content": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAndVersions(t *testing.T) {
	s, st, _ := newTestServer(t)
	h := s.Handler()

	doc, _, err := st.CreateOrUpdate(t.Context(), store.DocumentCreate{
		Path: "p", Title: "T", Content: "v1",
	})
	require.NoError(t, err)

	rec := doJSON(t, h, "GET", "/api/docs/"+doc.ID+"/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var versions []versionJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &versions))
	assert.Len(t, versions, 1)

	rec = doJSON(t, h, "DELETE", "/api/docs/"+doc.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, "GET", "/api/docs/"+doc.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, "POST", "/api/docs/"+doc.ID+"/restore", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDependenciesEndpoint(t *testing.T) {
	s, st, _ := newTestServer(t)
	h := s.Handler()

	target, _, err := st.CreateOrUpdate(t.Context(), store.DocumentCreate{
		Path: "p", Title: "Target", Content: "t",
	})
	require.NoError(t, err)
	from, _, err := st.CreateOrUpdate(t.Context(), store.DocumentCreate{
		Path: "p", Title: "From", Content: "see [[Target]]",
	})
	require.NoError(t, err)

	rec := doJSON(t, h, "GET", "/api/docs/"+from.ID+"/dependencies", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var deps map[string][]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deps))
	require.Len(t, deps["outgoing"], 1)
	assert.Equal(t, target.ID, deps["outgoing"][0]["to_doc_id"])
	assert.Empty(t, deps["incoming"])
}

func TestBatchEndpointAlways200(t *testing.T) {
	s, st, _ := newTestServer(t)
	h := s.Handler()

	doc, _, err := st.CreateOrUpdate(t.Context(), store.DocumentCreate{
		Path: "p", Title: "T", Content: "x",
	})
	require.NoError(t, err)

	rec := doJSON(t, h, "POST", "/api/docs/batch", map[string]any{
		"operation": "delete",
		"doc_ids":   []string{doc.ID, "doc-missing"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result store.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, []string{doc.ID}, result.Succeeded)
	assert.Contains(t, result.Failed, "doc-missing")
}

func TestGenerateIDEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	rec := doJSON(t, h, "POST", "/api/docs/generate-id", map[string]any{
		"repo_url": "https://github.com/acme/widget",
		"path":     "widget/acme",
		"title":    "Overview",
		"doc_type": "overview",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t,
		store.GenerateID("https://github.com/acme/widget", "widget/acme", "Overview", "overview"),
		out["id"])
}

func signedWebhookRequest(t *testing.T, secret string, payload map[string]any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "push")
	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}
	return req
}

func TestWebhookEnqueuesPush(t *testing.T) {
	s, _, q := newTestServer(t)
	h := s.Handler()

	payload := map[string]any{
		"repository":  map[string]any{"clone_url": "https://github.com/acme/widget.git"},
		"head_commit": map[string]any{"id": "abc123"},
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, "hush", payload))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	depth, err := q.Depth(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	// Same push replayed dedupes to the same job.
	var first map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, "hush", payload))
	var second map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, first["job_id"], second["job_id"])
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	payload := map[string]any{
		"repository": map[string]any{"clone_url": "https://github.com/acme/widget"},
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, "wrong-secret", payload))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, "", payload)) // unsigned
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookIgnoresNonPushEvents(t *testing.T) {
	s, _, q := newTestServer(t)
	h := s.Handler()

	req := signedWebhookRequest(t, "hush", map[string]any{"zen": "keep it logically awesome"})
	req.Header.Set("X-GitHub-Event", "ping")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	depth, err := q.Depth(t.Context())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListPagination(t *testing.T) {
	s, st, _ := newTestServer(t)
	h := s.Handler()

	for i := 0; i < 5; i++ {
		_, _, err := st.CreateOrUpdate(t.Context(), store.DocumentCreate{
			Path: "p", Title: fmt.Sprintf("Doc %d", i), Content: "x",
		})
		require.NoError(t, err)
	}

	rec := doJSON(t, h, "GET", "/api/docs?limit=2&skip=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []docJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	assert.Len(t, docs, 2)
	assert.Empty(t, docs[0].Content, "list omits full content")
}
