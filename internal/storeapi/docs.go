package storeapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/store"
)

// docJSON is the wire shape of a document.
type docJSON struct {
	ID             string     `json:"id"`
	Path           string     `json:"path"`
	Title          string     `json:"title"`
	Content        string     `json:"content,omitempty"`
	ContentPreview string     `json:"content_preview,omitempty"`
	Description    string     `json:"description,omitempty"`
	Keywords       []string   `json:"keywords,omitempty"`
	RepoURL        string     `json:"repo_url,omitempty"`
	RepoName       string     `json:"repo_name,omitempty"`
	DocType        string     `json:"doc_type,omitempty"`
	Version        int        `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

func toDocJSON(d *store.Document, withContent bool) docJSON {
	out := docJSON{
		ID:             d.ID,
		Path:           d.Path,
		Title:          d.Title,
		ContentPreview: d.ContentPreview,
		Description:    d.Description,
		Keywords:       d.Keywords,
		RepoURL:        d.RepoURL,
		RepoName:       d.RepoName,
		DocType:        d.DocType,
		Version:        d.Version,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		DeletedAt:      d.DeletedAt,
	}
	if withContent {
		out.Content = d.Content
	}
	return out
}

type upsertRequest struct {
	Path        string            `json:"path"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	Description string            `json:"description,omitempty"`
	Keywords    []string          `json:"keywords,omitempty"`
	RepoURL     string            `json:"repo_url,omitempty"`
	RepoName    string            `json:"repo_name,omitempty"`
	DocType     string            `json:"doc_type,omitempty"`
	AuthorType  string            `json:"author_type,omitempty"`
	AuthorMeta  *store.AuthorMeta `json:"author_meta,omitempty"`
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	doc, isNew, err := s.store.CreateOrUpdate(r.Context(), store.DocumentCreate{
		Path:        req.Path,
		Title:       req.Title,
		Content:     req.Content,
		Description: req.Description,
		Keywords:    req.Keywords,
		RepoURL:     req.RepoURL,
		RepoName:    req.RepoName,
		DocType:     req.DocType,
		AuthorType:  req.AuthorType,
		AuthorMeta:  req.AuthorMeta,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, toDocJSON(doc, true))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{
		PathPrefix: q.Get("path_prefix"),
		RepoURL:    q.Get("repo_url"),
	}
	if v := q.Get("skip"); v != "" {
		opts.Skip, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}

	docs, err := s.store.List(r.Context(), opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]docJSON, len(docs))
	for i, d := range docs {
		out[i] = toDocJSON(d, false)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocJSON(doc, true))
}

type updateRequest struct {
	Content     *string           `json:"content,omitempty"`
	Description *string           `json:"description,omitempty"`
	Version     *int              `json:"version,omitempty"`
	AuthorType  string            `json:"author_type,omitempty"`
	AuthorMeta  *store.AuthorMeta `json:"author_meta,omitempty"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	doc, err := s.store.Update(r.Context(), r.PathValue("id"), store.DocumentUpdate{
		Content:     req.Content,
		Description: req.Description,
		Version:     req.Version,
		AuthorType:  req.AuthorType,
		AuthorMeta:  req.AuthorMeta,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocJSON(doc, true))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Restore(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	doc, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocJSON(doc, true))
}

func (s *Server) handleListDeleted(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.GetDeleted(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]docJSON, len(docs))
	for i, d := range docs {
		out[i] = toDocJSON(d, false)
	}
	writeJSON(w, http.StatusOK, out)
}

type versionJSON struct {
	ID          string            `json:"id"`
	DocID       string            `json:"doc_id"`
	ContentHash string            `json:"content_hash"`
	AuthorType  string            `json:"author_type"`
	AuthorMeta  *store.AuthorMeta `json:"author_meta,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")
	if _, err := s.store.Get(r.Context(), docID); err != nil {
		writeStoreError(w, err)
		return
	}
	versions, err := s.store.ListVersions(r.Context(), docID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]versionJSON, len(versions))
	for i, v := range versions {
		out[i] = versionJSON{
			ID:          v.ID,
			DocID:       v.DocID,
			ContentHash: v.ContentHash,
			AuthorType:  v.AuthorType,
			AuthorMeta:  v.AuthorMeta,
			CreatedAt:   v.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDependencies(w http.ResponseWriter, r *http.Request) {
	deps, err := s.store.Dependencies(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	type depJSON struct {
		FromDocID string `json:"from_doc_id"`
		ToDocID   string `json:"to_doc_id"`
		LinkType  string `json:"link_type"`
		LinkText  string `json:"link_text,omitempty"`
	}
	convert := func(in []*store.Dependency) []depJSON {
		out := make([]depJSON, len(in))
		for i, d := range in {
			out[i] = depJSON{FromDocID: d.FromDocID, ToDocID: d.ToDocID, LinkType: d.LinkType, LinkText: d.LinkText}
		}
		return out
	}
	writeJSON(w, http.StatusOK, map[string][]depJSON{
		"outgoing": convert(deps.Outgoing),
		"incoming": convert(deps.Incoming),
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req store.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	result, err := s.store.Batch(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// Always 200: per-document outcomes live in the body.
	writeJSON(w, http.StatusOK, result)
}

type generateIDRequest struct {
	RepoURL string `json:"repo_url,omitempty"`
	Path    string `json:"path"`
	Title   string `json:"title"`
	DocType string `json:"doc_type,omitempty"`
}

func (s *Server) handleGenerateID(w http.ResponseWriter, r *http.Request) {
	var req generateIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	id := store.GenerateID(req.RepoURL, req.Path, req.Title, req.DocType)
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}
