// Package store is the content store: documents, immutable versions, and
// the wikilink dependency graph, all in one SQLite database. Every
// invariant — optimistic locking, soft delete, dependency derivation, orphan
// cleanup safety — is owned here; callers never sequence the inner writes
// themselves.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database. The mutex serializes writers; SQLite
// handles durability, the lock keeps Go-side transactions simple.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var folder = cases.Fold()

// foldKey lowercases with full Unicode case folding; SQLite's NOCASE is
// ASCII-only, so fold keys are computed in Go and stored alongside.
func foldKey(s string) string { return folder.String(s) }

// Open opens (or creates) the store at dbPath. Use ":memory:" for tests.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection keeps in-memory databases coherent and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		title TEXT NOT NULL,
		title_fold TEXT NOT NULL,
		content TEXT NOT NULL,
		content_preview TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		keywords TEXT NOT NULL DEFAULT '[]',
		repo_url TEXT NOT NULL DEFAULT '',
		repo_name TEXT NOT NULL DEFAULT '',
		repo_name_fold TEXT NOT NULL DEFAULT '',
		doc_type TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		deleted_at INTEGER,
		embedding BLOB,
		embedding_model TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path);
	CREATE INDEX IF NOT EXISTS idx_documents_title ON documents(title);
	CREATE INDEX IF NOT EXISTS idx_documents_repo ON documents(repo_url);
	CREATE INDEX IF NOT EXISTS idx_documents_deleted ON documents(deleted_at);

	CREATE TABLE IF NOT EXISTS versions (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		author_type TEXT NOT NULL,
		author_meta TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_versions_doc ON versions(doc_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS dependencies (
		from_doc_id TEXT NOT NULL,
		to_doc_id TEXT NOT NULL,
		link_type TEXT NOT NULL DEFAULT 'wikilink',
		link_text TEXT NOT NULL DEFAULT '',
		section TEXT NOT NULL DEFAULT '',
		UNIQUE(from_doc_id, to_doc_id)
	);
	CREATE INDEX IF NOT EXISTS idx_dependencies_to ON dependencies(to_doc_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// activeFilter is appended to every read that must exclude soft-deleted rows.
const activeFilter = " AND deleted_at IS NULL"

const docColumns = `id, path, title, content, content_preview, description, keywords,
	repo_url, repo_name, doc_type, version, created_at, updated_at, deleted_at, embedding_model`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var d Document
	var keywordsJSON string
	var createdAt, updatedAt int64
	var deletedAt sql.NullInt64

	err := row.Scan(&d.ID, &d.Path, &d.Title, &d.Content, &d.ContentPreview,
		&d.Description, &keywordsJSON, &d.RepoURL, &d.RepoName, &d.DocType,
		&d.Version, &createdAt, &updatedAt, &deletedAt, &d.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = time.Unix(0, createdAt)
	d.UpdatedAt = time.Unix(0, updatedAt)
	if deletedAt.Valid {
		t := time.Unix(0, deletedAt.Int64)
		d.DeletedAt = &t
	}
	if keywordsJSON != "" {
		if err := json.Unmarshal([]byte(keywordsJSON), &d.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords for %s: %w", d.ID, err)
		}
	}
	return &d, nil
}

func preview(content string) string {
	if len(content) <= previewLen {
		return content
	}
	return content[:previewLen]
}

func marshalKeywords(keywords []string) string {
	if len(keywords) == 0 {
		return "[]"
	}
	data, err := json.Marshal(keywords)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func marshalMeta(meta *AuthorMeta) string {
	if meta == nil {
		return "{}"
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// placeholders renders "?, ?, ?" for n values.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// withTx runs fn in a transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
