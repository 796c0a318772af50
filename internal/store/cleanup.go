package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
)

// humanEditWindow protects recently human-edited documents from cleanup.
const humanEditWindow = 7 * 24 * time.Hour

// BuildSnapshot captures the pre-run state for a repository: which documents
// exist, which carry a recent human edit, and which the user has reorganized
// (their stored ID no longer matches what their current path and title would
// generate).
func (s *Store) BuildSnapshot(ctx context.Context, repoURL string) (*Snapshot, error) {
	docs, err := s.List(ctx, ListOptions{RepoURL: NormalizeRepoURL(repoURL)})
	if err != nil {
		return nil, err
	}
	// The pipeline stores the URL as given; match both spellings.
	if len(docs) == 0 {
		docs, err = s.List(ctx, ListOptions{RepoURL: repoURL})
		if err != nil {
			return nil, err
		}
	}

	snap := &Snapshot{
		ByID:          make(map[string]*Document, len(docs)),
		HumanEdited:   make(map[string]struct{}),
		UserOrganized: make(map[string]struct{}),
	}
	for _, doc := range docs {
		snap.DocIDs = append(snap.DocIDs, doc.ID)
		snap.ByID[doc.ID] = doc
		if GenerateID(doc.RepoURL, doc.Path, doc.Title, doc.DocType) != doc.ID {
			snap.UserOrganized[doc.ID] = struct{}{}
		}
	}

	if len(snap.DocIDs) > 0 {
		edited, err := s.recentHumanEdits(ctx, snap.DocIDs)
		if err != nil {
			return nil, err
		}
		snap.HumanEdited = edited
	}
	return snap, nil
}

func (s *Store) recentHumanEdits(ctx context.Context, docIDs []string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-humanEditWindow).UnixNano()
	args := make([]any, 0, len(docIDs)+2)
	args = append(args, AuthorHuman, cutoff)
	for _, id := range docIDs {
		args = append(args, id)
	}
	query := fmt.Sprintf(`
		SELECT DISTINCT doc_id FROM versions
		WHERE author_type = ? AND created_at >= ? AND doc_id IN (%s)`,
		placeholders(len(docIDs)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find recent human edits: %w", err)
	}
	defer rows.Close()

	edited := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		edited[id] = struct{}{}
	}
	return edited, rows.Err()
}

// CleanupOrphans soft-deletes documents that existed before a pipeline run
// and were not part of the new plan. Safety comes first:
//
//   - if the run produced nothing, clean up nothing — an empty plan is far
//     more likely a pipeline failure than an empty repository;
//   - if fewer than half the planned documents were written, clean up
//     nothing, for the same reason;
//   - documents a human edited in the last week are never deleted;
//   - documents the user has reorganized are never deleted.
//
// Documents that were planned but whose write failed are kept so a stale
// page survives a flaky run.
func (s *Store) CleanupOrphans(ctx context.Context, snap *Snapshot, planned, succeeded map[string]struct{}) (*CleanupResult, error) {
	result := &CleanupResult{}

	if len(succeeded) == 0 {
		slog.Warn("cleanup skipped: no documents were written this run")
		return result, nil
	}
	if len(planned) > 0 {
		rate := float64(len(succeeded)) / float64(len(planned))
		if rate < 0.5 {
			slog.Warn("cleanup skipped: write success rate too low",
				slog.Float64("success_rate", rate),
				logfields.Count(len(planned)))
			return result, nil
		}
	}

	for _, id := range snap.DocIDs {
		if _, ok := succeeded[id]; ok {
			continue
		}
		if _, ok := planned[id]; ok {
			result.PreservedFailed++
			continue
		}
		if _, ok := snap.HumanEdited[id]; ok {
			result.PreservedHuman++
			continue
		}
		if _, ok := snap.UserOrganized[id]; ok {
			result.PreservedUserOrganized++
			continue
		}
		if err := s.Delete(ctx, id); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		result.Deleted++
	}

	slog.Info("orphan cleanup finished",
		slog.Int("deleted", result.Deleted),
		slog.Int("preserved_human", result.PreservedHuman),
		slog.Int("preserved_user_organized", result.PreservedUserOrganized),
		slog.Int("preserved_failed", result.PreservedFailed))
	return result, nil
}
