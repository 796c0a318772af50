package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
)

// CreateOrUpdate is the upsert every writer uses. It computes the
// deterministic ID, inserts or routes through the update path, writes a new
// Version row, replaces outgoing dependencies, and — on create — refreshes
// the incoming dependencies of documents that already mention the new title.
// One transaction owns all of it.
func (s *Store) CreateOrUpdate(ctx context.Context, dc DocumentCreate) (*Document, bool, error) {
	if strings.Contains(dc.Title, "/") {
		return nil, false, &ValidationError{Msg: fmt.Sprintf("title %q must not contain '/'", dc.Title)}
	}
	if dc.Title == "" {
		return nil, false, &ValidationError{Msg: "title is required"}
	}
	if dc.AuthorType == "" {
		dc.AuthorType = AuthorAI
	}
	if dc.RepoName == "" && dc.RepoURL != "" {
		normalized := NormalizeRepoURL(dc.RepoURL)
		if idx := strings.LastIndexByte(normalized, '/'); idx >= 0 {
			dc.RepoName = normalized[idx+1:]
		}
	}

	id := GenerateID(dc.RepoURL, dc.Path, dc.Title, dc.DocType)

	s.mu.Lock()
	defer s.mu.Unlock()

	var doc *Document
	var isNew bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getDocumentTx(tx, id, true)
		if err != nil {
			return err
		}
		now := time.Now()

		if existing != nil {
			// Update path. Upserts carry no expected version; last write wins
			// at this level, the REST update endpoint is where callers lock.
			if _, err := tx.ExecContext(ctx, `
				UPDATE documents SET content = ?, content_preview = ?, description = ?,
					keywords = ?, doc_type = ?, version = version + 1, updated_at = ?, deleted_at = NULL
				WHERE id = ?`,
				dc.Content, preview(dc.Content), dc.Description,
				marshalKeywords(dc.Keywords), dc.DocType, now.UnixNano(), id); err != nil {
				return fmt.Errorf("update document %s: %w", id, err)
			}
			isNew = false
		} else {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO documents (id, path, title, title_fold, content, content_preview,
					description, keywords, repo_url, repo_name, repo_name_fold, doc_type,
					version, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
				id, dc.Path, dc.Title, foldKey(dc.Title), dc.Content, preview(dc.Content),
				dc.Description, marshalKeywords(dc.Keywords), dc.RepoURL, dc.RepoName,
				foldKey(dc.RepoName), dc.DocType, now.UnixNano(), now.UnixNano()); err != nil {
				return fmt.Errorf("insert document %s: %w", id, err)
			}
			isNew = true
		}

		if err := insertVersionTx(ctx, tx, id, dc.Content, dc.AuthorType, dc.AuthorMeta, now); err != nil {
			return err
		}
		if err := replaceDependenciesTx(ctx, tx, id, dc.Content); err != nil {
			return err
		}
		if isNew {
			// Forward references: documents written before this one may
			// already link to its title.
			if err := refreshIncomingTx(ctx, tx, id, dc.Title); err != nil {
				return err
			}
		}

		doc, err = getDocumentTx(tx, id, false)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("document %s vanished mid-transaction", id)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return doc, isNew, nil
}

// Update applies a partial update. A non-nil Version makes the write
// conditional: the version check and increment happen in a single UPDATE
// statement, and zero affected rows disambiguates to NotFound or Conflict
// with one follow-up lookup.
func (s *Store) Update(ctx context.Context, docID string, du DocumentUpdate) (*Document, error) {
	if du.AuthorType == "" {
		du.AuthorType = AuthorHuman
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var doc *Document
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()

		sets := []string{"version = version + 1", "updated_at = ?"}
		args := []any{now.UnixNano()}
		if du.Content != nil {
			sets = append(sets, "content = ?", "content_preview = ?")
			args = append(args, *du.Content, preview(*du.Content))
		}
		if du.Description != nil {
			// A description change invalidates the external embedding.
			sets = append(sets, "description = ?", "embedding = NULL", "embedding_model = ''")
			args = append(args, *du.Description)
		}

		query := "UPDATE documents SET " + strings.Join(sets, ", ") + " WHERE id = ? AND deleted_at IS NULL"
		args = append(args, docID)
		if du.Version != nil {
			query += " AND version = ?"
			args = append(args, *du.Version)
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update document %s: %w", docID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			existing, err := getDocumentTx(tx, docID, false)
			if err != nil {
				return err
			}
			if existing == nil {
				return &NotFoundError{DocID: docID}
			}
			expected := 0
			if du.Version != nil {
				expected = *du.Version
			}
			return &ConflictError{DocID: docID, Expected: expected}
		}

		doc, err = getDocumentTx(tx, docID, false)
		if err != nil {
			return err
		}
		if err := insertVersionTx(ctx, tx, docID, doc.Content, du.AuthorType, du.AuthorMeta, now); err != nil {
			return err
		}
		if du.Content != nil {
			if err := replaceDependenciesTx(ctx, tx, docID, *du.Content); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Get returns an active document.
func (s *Store) Get(ctx context.Context, docID string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+docColumns+" FROM documents WHERE id = ?"+activeFilter, docID)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{DocID: docID}
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", docID, err)
	}
	return doc, nil
}

// List returns active documents ordered by path then title.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + docColumns + " FROM documents WHERE deleted_at IS NULL"
	var args []any
	if opts.PathPrefix != "" {
		query += " AND (path = ? OR path LIKE ?)"
		args = append(args, opts.PathPrefix, opts.PathPrefix+"/%")
	}
	if opts.RepoURL != "" {
		query += " AND repo_url = ?"
		args = append(args, opts.RepoURL)
	}
	query += " ORDER BY path, title"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Skip > 0 {
		if opts.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete soft-deletes. Idempotent: deleting a deleted document is a no-op.
func (s *Store) Delete(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		time.Now().UnixNano(), docID)
	if err != nil {
		return fmt.Errorf("soft delete %s: %w", docID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM documents WHERE id = ?", docID).Scan(&exists)
		if err == sql.ErrNoRows {
			return &NotFoundError{DocID: docID}
		}
		if err != nil {
			return fmt.Errorf("check document %s: %w", docID, err)
		}
	}
	return nil
}

// Restore clears the soft-delete marker; version history is untouched.
func (s *Store) Restore(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET deleted_at = NULL WHERE id = ?", docID)
	if err != nil {
		return fmt.Errorf("restore %s: %w", docID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{DocID: docID}
	}
	return nil
}

// PermanentDelete removes a document, its versions, and its edges for good.
func (s *Store) PermanentDelete(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM dependencies WHERE from_doc_id = ? OR to_doc_id = ?", docID, docID); err != nil {
			return fmt.Errorf("delete dependencies of %s: %w", docID, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM versions WHERE doc_id = ?", docID); err != nil {
			return fmt.Errorf("delete versions of %s: %w", docID, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", docID); err != nil {
			return fmt.Errorf("delete document %s: %w", docID, err)
		}
		return nil
	})
}

// GetDeleted lists soft-deleted documents (the trash).
func (s *Store) GetDeleted(ctx context.Context) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+docColumns+" FROM documents WHERE deleted_at IS NOT NULL ORDER BY deleted_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list deleted documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// PurgeExpired permanently deletes documents soft-deleted more than the
// given number of days ago. Returns how many were purged.
func (s *Store) PurgeExpired(ctx context.Context, days int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UnixNano()

	expired, err := func() ([]string, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		rows, err := s.db.QueryContext(ctx,
			"SELECT id FROM documents WHERE deleted_at IS NOT NULL AND deleted_at < ?", cutoff)
		if err != nil {
			return nil, fmt.Errorf("find expired documents: %w", err)
		}
		defer rows.Close()
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	}()
	if err != nil {
		return 0, err
	}

	for _, id := range expired {
		if err := s.PermanentDelete(ctx, id); err != nil {
			return 0, err
		}
	}
	if len(expired) > 0 {
		slog.Info("purged expired documents", logfields.Count(len(expired)))
	}
	return len(expired), nil
}

// Move changes a document's path. When the first path segment (the crate)
// changes, every other document's [[old_crate]] links are rewritten to
// [[new_crate]], each rewrite producing a system version and a dependency
// refresh, all inside one transaction.
func (s *Store) Move(ctx context.Context, docID, newPath string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc *Document
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getDocumentTx(tx, docID, false)
		if err != nil {
			return err
		}
		if existing == nil {
			return &NotFoundError{DocID: docID}
		}

		oldCrate := existing.Crate()
		now := time.Now()
		if _, err := tx.ExecContext(ctx,
			"UPDATE documents SET path = ?, updated_at = ? WHERE id = ?",
			newPath, now.UnixNano(), docID); err != nil {
			return fmt.Errorf("move document %s: %w", docID, err)
		}

		newCrate := firstSegmentOf(newPath)
		if oldCrate != "" && newCrate != "" && oldCrate != newCrate {
			if err := rewriteCrateLinksTx(ctx, tx, docID, oldCrate, newCrate); err != nil {
				return err
			}
		}

		doc, err = getDocumentTx(tx, docID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func firstSegmentOf(path string) string {
	if idx := strings.IndexByte(path, '/'); idx > 0 {
		return path[:idx]
	}
	return path
}

// rewriteCrateLinksTx rewrites [[oldCrate]] to [[newCrate]] across every
// other document that mentions it.
func rewriteCrateLinksTx(ctx context.Context, tx *sql.Tx, movedDocID, oldCrate, newCrate string) error {
	rows, err := tx.QueryContext(ctx,
		"SELECT id, content FROM documents WHERE deleted_at IS NULL AND id != ? AND (content LIKE ? OR content LIKE ?)",
		movedDocID, "%[["+oldCrate+"]]%", "%[["+oldCrate+"|%")
	if err != nil {
		return fmt.Errorf("find documents linking crate %s: %w", oldCrate, err)
	}
	type pending struct{ id, content string }
	var affected []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.content); err != nil {
			rows.Close()
			return err
		}
		affected = append(affected, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range affected {
		updated := strings.ReplaceAll(p.content, "[["+oldCrate+"]]", "[["+newCrate+"]]")
		updated = strings.ReplaceAll(updated, "[["+oldCrate+"|", "[["+newCrate+"|")
		now := time.Now()
		if _, err := tx.ExecContext(ctx,
			"UPDATE documents SET content = ?, content_preview = ?, version = version + 1, updated_at = ? WHERE id = ?",
			updated, preview(updated), now.UnixNano(), p.id); err != nil {
			return fmt.Errorf("rewrite links in %s: %w", p.id, err)
		}
		meta := &AuthorMeta{Reason: "wikilink_update", MovedDoc: movedDocID}
		if err := insertVersionTx(ctx, tx, p.id, updated, AuthorSystem, meta, now); err != nil {
			return err
		}
		if err := replaceDependenciesTx(ctx, tx, p.id, updated); err != nil {
			return err
		}
		slog.Info("rewrote crate wikilinks",
			logfields.Doc(p.id),
			slog.String("old_crate", oldCrate),
			slog.String("new_crate", newCrate))
	}
	return nil
}

// getDocumentTx fetches a document inside a transaction. includeDeleted
// controls whether soft-deleted rows are visible (the upsert needs them to
// revive a deleted path+title).
func getDocumentTx(tx *sql.Tx, docID string, includeDeleted bool) (*Document, error) {
	query := "SELECT " + docColumns + " FROM documents WHERE id = ?"
	if !includeDeleted {
		query += activeFilter
	}
	doc, err := scanDocument(tx.QueryRow(query, docID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", docID, err)
	}
	return doc, nil
}
