package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/wiki"
)

// replaceDependenciesTx derives the outgoing wikilink edges of a document
// from its content: drop every existing outgoing edge, extract the current
// targets, resolve them, insert. Unresolved targets are logged and skipped —
// forward references get picked up by refreshIncomingTx when the target is
// eventually created.
func replaceDependenciesTx(ctx context.Context, tx *sql.Tx, docID, content string) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM dependencies WHERE from_doc_id = ? AND link_type = ?",
		docID, LinkTypeWikilink); err != nil {
		return fmt.Errorf("clear dependencies of %s: %w", docID, err)
	}

	targets := wiki.Targets(content)
	if len(targets) == 0 {
		return nil
	}

	resolved, err := resolveTargetsTx(ctx, tx, targets)
	if err != nil {
		return err
	}

	for _, target := range targets {
		toID, ok := resolved[foldKey(target)]
		if !ok {
			slog.Debug("unresolved wikilink", logfields.Doc(docID), slog.String("target", target))
			continue
		}
		if toID == docID {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dependencies (from_doc_id, to_doc_id, link_type, link_text)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(from_doc_id, to_doc_id) DO NOTHING`,
			docID, toID, LinkTypeWikilink, target); err != nil {
			return fmt.Errorf("insert dependency %s -> %s: %w", docID, toID, err)
		}
	}
	return nil
}

// resolveTargetsTx maps wikilink targets to document IDs in four stages,
// most to least specific: exact title, case-folded title, exact repo name,
// case-folded repo name. Each stage is one batch query; a target matched in
// an earlier stage is never reconsidered. Ambiguous matches within a stage
// take the first row, which the ORDER BY makes deterministic.
func resolveTargetsTx(ctx context.Context, tx *sql.Tx, targets []string) (map[string]string, error) {
	resolved := make(map[string]string, len(targets))

	stages := []struct {
		column string
		key    func(string) string
	}{
		{"title", func(t string) string { return t }},
		{"title_fold", foldKey},
		{"repo_name", func(t string) string { return t }},
		{"repo_name_fold", foldKey},
	}

	remaining := targets
	for _, stage := range stages {
		if len(remaining) == 0 {
			break
		}
		keys := make([]any, 0, len(remaining))
		keyToTarget := make(map[string]string, len(remaining))
		for _, t := range remaining {
			k := stage.key(t)
			keys = append(keys, k)
			keyToTarget[k] = t
		}

		query := fmt.Sprintf(
			"SELECT id, %s FROM documents WHERE %s IN (%s)%s ORDER BY created_at, id",
			stage.column, stage.column, placeholders(len(keys)), activeFilter)
		rows, err := tx.QueryContext(ctx, query, keys...)
		if err != nil {
			return nil, fmt.Errorf("resolve targets by %s: %w", stage.column, err)
		}
		for rows.Next() {
			var id, key string
			if err := rows.Scan(&id, &key); err != nil {
				rows.Close()
				return nil, err
			}
			target, ok := keyToTarget[key]
			if !ok {
				continue
			}
			fk := foldKey(target)
			if _, done := resolved[fk]; !done {
				resolved[fk] = id
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		var next []string
		for _, t := range remaining {
			if _, done := resolved[foldKey(t)]; !done {
				next = append(next, t)
			}
		}
		remaining = next
	}
	return resolved, nil
}

// refreshIncomingTx re-derives the dependencies of every document whose
// content mentions the newly created title. This is what makes forward
// references work: a link written before its target existed resolves once
// the target is created.
func refreshIncomingTx(ctx context.Context, tx *sql.Tx, newDocID, title string) error {
	rows, err := tx.QueryContext(ctx,
		"SELECT id, content FROM documents WHERE deleted_at IS NULL AND id != ? AND (content LIKE ? OR content LIKE ?)",
		newDocID, "%[["+title+"]]%", "%[["+title+"|%")
	if err != nil {
		return fmt.Errorf("find documents linking %q: %w", title, err)
	}
	type pending struct{ id, content string }
	var linkers []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.content); err != nil {
			rows.Close()
			return err
		}
		linkers = append(linkers, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range linkers {
		if err := replaceDependenciesTx(ctx, tx, p.id, p.content); err != nil {
			return err
		}
	}
	return nil
}

// AddDependency inserts an explicit edge. Wikilinks may form cycles;
// any other link type is rejected when the reverse path already exists.
func (s *Store) AddDependency(ctx context.Context, dep Dependency) error {
	if dep.LinkType == "" {
		dep.LinkType = LinkTypeWikilink
	}
	if dep.FromDocID == dep.ToDocID {
		return &ValidationError{Msg: "self-dependency not allowed"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{dep.FromDocID, dep.ToDocID} {
			doc, err := getDocumentTx(tx, id, false)
			if err != nil {
				return err
			}
			if doc == nil {
				return &NotFoundError{DocID: id}
			}
		}

		if dep.LinkType != LinkTypeWikilink {
			reachable, err := pathExistsTx(ctx, tx, dep.ToDocID, dep.FromDocID, dep.LinkType)
			if err != nil {
				return err
			}
			if reachable {
				return &CycleError{FromDocID: dep.FromDocID, ToDocID: dep.ToDocID, LinkType: dep.LinkType}
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO dependencies (from_doc_id, to_doc_id, link_type, link_text, section)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(from_doc_id, to_doc_id) DO UPDATE SET
				link_type = excluded.link_type,
				link_text = excluded.link_text,
				section = excluded.section`,
			dep.FromDocID, dep.ToDocID, dep.LinkType, dep.LinkText, dep.Section)
		if err != nil {
			return fmt.Errorf("insert dependency %s -> %s: %w", dep.FromDocID, dep.ToDocID, err)
		}
		return nil
	})
}

// pathExistsTx walks edges of the given type from start looking for goal.
// Iterative DFS with a visited set; the graph is small enough that this
// stays cheap.
func pathExistsTx(ctx context.Context, tx *sql.Tx, start, goal, linkType string) (bool, error) {
	visited := map[string]struct{}{start: {}}
	stack := []string{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == goal {
			return true, nil
		}
		rows, err := tx.QueryContext(ctx,
			"SELECT to_doc_id FROM dependencies WHERE from_doc_id = ? AND link_type = ?",
			current, linkType)
		if err != nil {
			return false, fmt.Errorf("walk dependencies from %s: %w", current, err)
		}
		for rows.Next() {
			var next string
			if err := rows.Scan(&next); err != nil {
				rows.Close()
				return false, err
			}
			if _, seen := visited[next]; !seen {
				visited[next] = struct{}{}
				stack = append(stack, next)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return false, err
		}
	}
	return false, nil
}

// DocDependencies holds both directions of a document's edges.
type DocDependencies struct {
	Outgoing []*Dependency `json:"outgoing"`
	Incoming []*Dependency `json:"incoming"`
}

// Dependencies returns the outgoing and incoming edges of a document.
func (s *Store) Dependencies(ctx context.Context, docID string) (*DocDependencies, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM documents WHERE id = ?"+activeFilter, docID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{DocID: docID}
	}
	if err != nil {
		return nil, fmt.Errorf("check document %s: %w", docID, err)
	}

	out, err := s.queryDeps(ctx, "from_doc_id", docID)
	if err != nil {
		return nil, err
	}
	in, err := s.queryDeps(ctx, "to_doc_id", docID)
	if err != nil {
		return nil, err
	}
	return &DocDependencies{Outgoing: out, Incoming: in}, nil
}

func (s *Store) queryDeps(ctx context.Context, column, docID string) ([]*Dependency, error) {
	query := fmt.Sprintf(`
		SELECT from_doc_id, to_doc_id, link_type, link_text, section
		FROM dependencies WHERE %s = ? ORDER BY from_doc_id, to_doc_id`, column)
	rows, err := s.db.QueryContext(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("query dependencies by %s: %w", strings.TrimSuffix(column, "_doc_id"), err)
	}
	defer rows.Close()

	var deps []*Dependency
	for rows.Next() {
		var d Dependency
		if err := rows.Scan(&d.FromDocID, &d.ToDocID, &d.LinkType, &d.LinkText, &d.Section); err != nil {
			return nil, err
		}
		deps = append(deps, &d)
	}
	return deps, rows.Err()
}
