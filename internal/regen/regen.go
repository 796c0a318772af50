// Package regen decides, per document, whether a pipeline run should
// rewrite it or leave it alone. The latest version's author type drives the
// policy: fresh human edits are respected, stale AI output is rewritten.
package regen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/store"
)

const (
	humanEditGrace     = 7 * 24 * time.Hour
	aiRefreshInterval  = 30 * 24 * time.Hour
	significantCommits = 5
)

// RepoState answers how far the repository has moved since a recorded
// commit. Implementations that cannot compare the two SHAs return an error,
// which the engine treats as "changed, assume significant".
type RepoState interface {
	CommitsBetween(fromSHA, toSHA string) (int, error)
}

// Decision is the outcome for one document.
type Decision struct {
	Regenerate   bool
	Reason       string
	ChangedFiles []string
}

// ContentStore is the slice of the store the engine reads. *store.Store
// satisfies it.
type ContentStore interface {
	Get(ctx context.Context, docID string) (*store.Document, error)
	LatestVersion(ctx context.Context, docID string) (*store.Version, error)
}

// Engine evaluates regeneration policy against the content store.
type Engine struct {
	Store ContentStore
	Repo  RepoState
}

// ShouldRegenerate is the coarse-grained policy: one decision for the whole
// document based on author type, age, and repo movement.
func (e *Engine) ShouldRegenerate(ctx context.Context, docID, currentSHA string) (Decision, error) {
	latest, d, done := e.loadState(ctx, docID)
	if done {
		return d, nil
	}

	age := time.Since(latest.CreatedAt)
	recorded := ""
	if latest.AuthorMeta != nil {
		recorded = latest.AuthorMeta.CommitSHA
	}

	if latest.AuthorType == store.AuthorHuman {
		if age < humanEditGrace {
			return Decision{Reason: fmt.Sprintf("recent human edit (%s ago), leaving alone", age.Round(time.Hour))}, nil
		}
		if recorded != "" && recorded == currentSHA {
			return Decision{Reason: "human edit, repository unchanged"}, nil
		}
		count, err := e.commitsBetween(recorded, currentSHA)
		if err != nil || count >= significantCommits {
			return Decision{
				Regenerate: true,
				Reason:     fmt.Sprintf("human edit is %s old and repository moved significantly; human content may be folded in", age.Round(24*time.Hour)),
			}, nil
		}
		return Decision{Reason: fmt.Sprintf("human edit, only %d new commits", count)}, nil
	}

	if age < aiRefreshInterval && recorded != "" && recorded == currentSHA {
		return Decision{Reason: "up to date with repository"}, nil
	}
	return Decision{Regenerate: true, Reason: "generated content is stale"}, nil
}

// ShouldRegenerateTargeted is the fine-grained policy: compare the per-file
// hashes recorded at generation time against the files as they are now.
func (e *Engine) ShouldRegenerateTargeted(ctx context.Context, docID string, currentHashes map[string]string) (Decision, error) {
	latest, d, done := e.loadState(ctx, docID)
	if done {
		return d, nil
	}

	if latest.AuthorMeta == nil || len(latest.AuthorMeta.SourceHashes) == 0 {
		return Decision{Regenerate: true, Reason: "legacy version without source hashes"}, nil
	}

	var changed []string
	for path, hash := range currentHashes {
		stored, ok := latest.AuthorMeta.SourceHashes[path]
		if !ok || stored != hash {
			changed = append(changed, path)
		}
	}
	if len(changed) == 0 {
		return Decision{Reason: "source files unchanged"}, nil
	}
	sort.Strings(changed)
	return Decision{
		Regenerate:   true,
		Reason:       fmt.Sprintf("%d source files changed", len(changed)),
		ChangedFiles: changed,
	}, nil
}

// loadState fetches the document and its latest version. A missing document,
// empty content, or missing history short-circuits to regenerate.
func (e *Engine) loadState(ctx context.Context, docID string) (*store.Version, Decision, bool) {
	doc, err := e.Store.Get(ctx, docID)
	if err != nil {
		var notFound *store.NotFoundError
		if errors.As(err, &notFound) {
			return nil, Decision{Regenerate: true, Reason: "document does not exist"}, true
		}
		return nil, Decision{Regenerate: true, Reason: fmt.Sprintf("store error: %v", err)}, true
	}
	if doc.Content == "" {
		return nil, Decision{Regenerate: true, Reason: "document is empty"}, true
	}
	latest, err := e.Store.LatestVersion(ctx, docID)
	if err != nil {
		return nil, Decision{Regenerate: true, Reason: "no version history"}, true
	}
	return latest, Decision{}, false
}

func (e *Engine) commitsBetween(fromSHA, toSHA string) (int, error) {
	if fromSHA == "" {
		return 0, errors.New("no recorded commit")
	}
	if e.Repo == nil {
		return 0, errors.New("no repository state available")
	}
	return e.Repo.CommitsBetween(fromSHA, toSHA)
}
