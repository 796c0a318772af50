package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func insertVersionTx(ctx context.Context, tx *sql.Tx, docID, content, authorType string, meta *AuthorMeta, at time.Time) error {
	sum := sha256.Sum256([]byte(content))
	_, err := tx.ExecContext(ctx, `
		INSERT INTO versions (id, doc_id, content, content_hash, author_type, author_meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), docID, content, hex.EncodeToString(sum[:]),
		authorType, marshalMeta(meta), at.UnixNano())
	if err != nil {
		return fmt.Errorf("insert version for %s: %w", docID, err)
	}
	return nil
}

// ListVersions returns a document's version history, newest first.
func (s *Store) ListVersions(ctx context.Context, docID string) ([]*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, content, content_hash, author_type, author_meta, created_at
		FROM versions WHERE doc_id = ? ORDER BY created_at DESC`, docID)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", docID, err)
	}
	defer rows.Close()

	var versions []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// LatestVersion returns the most recent version row, or NotFound when the
// document has no history.
func (s *Store) LatestVersion(ctx context.Context, docID string) (*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, err := scanVersion(s.db.QueryRowContext(ctx, `
		SELECT id, doc_id, content, content_hash, author_type, author_meta, created_at
		FROM versions WHERE doc_id = ? ORDER BY created_at DESC LIMIT 1`, docID))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{DocID: docID}
	}
	if err != nil {
		return nil, fmt.Errorf("latest version of %s: %w", docID, err)
	}
	return v, nil
}

func scanVersion(row rowScanner) (*Version, error) {
	var v Version
	var metaJSON string
	var createdAt int64
	if err := row.Scan(&v.ID, &v.DocID, &v.Content, &v.ContentHash, &v.AuthorType, &metaJSON, &createdAt); err != nil {
		return nil, err
	}
	v.CreatedAt = time.Unix(0, createdAt)
	if metaJSON != "" && metaJSON != "{}" {
		var meta AuthorMeta
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, fmt.Errorf("decode author meta of version %s: %w", v.ID, err)
		}
		v.AuthorMeta = &meta
	}
	return &v, nil
}
