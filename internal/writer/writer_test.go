package writer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/planner"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/scout"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/store"
)

type fakeCompleter struct {
	replyFor func(prompt string) (string, error)
}

func (f *fakeCompleter) CompleteWithSystem(_ context.Context, _, prompt string) (string, error) {
	return f.replyFor(prompt)
}

func (f *fakeCompleter) Model() string { return "test-model" }

type fakeStore struct {
	mu    sync.Mutex
	saved []store.DocumentCreate
}

func (f *fakeStore) CreateOrUpdate(_ context.Context, dc store.DocumentCreate) (*store.Document, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dc.Title == "Cursed" {
		return nil, false, errors.New("disk on fire")
	}
	f.saved = append(f.saved, dc)
	return &store.Document{
		ID:    store.GenerateID(dc.RepoURL, dc.Path, dc.Title, dc.DocType),
		Title: dc.Title,
	}, true, nil
}

func testJob(docs ...planner.DocSpec) Job {
	return Job{
		Blueprint: &planner.Blueprint{Documents: docs},
		Reports: []scout.Report{
			{Key: "structure", Content: "layout facts"},
			{Key: "api", Content: "endpoint facts"},
		},
		RepoURL:   "https://github.com/acme/widget",
		RepoName:  "widget",
		CommitSHA: "abc123",
		Trigger:   "push",
	}
}

func TestRunWavesHubsAfterDetails(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := &fakeStore{}
	p := &Pool{
		Parallel: 2,
		Store:    fs,
		NewClient: func() (Completer, error) {
			return &fakeCompleter{replyFor: func(string) (string, error) {
				return "# Page\n\nprose with [[HTTP API]].", nil
			}}, nil
		},
	}

	results := p.Run(context.Background(), testJob(
		planner.DocSpec{DocType: "overview", Title: "Overview", Path: "widget/acme"},
		planner.DocSpec{DocType: "api", Title: "HTTP API", Path: "widget/acme/ref"},
		planner.DocSpec{DocType: "guide", Title: "User Guide", Path: "widget/acme"},
	))

	require.Len(t, fs.saved, 3)
	assert.Len(t, results.Generated, 3)
	assert.Empty(t, results.Failed)
	// The hub page lands last: its wave starts after the detail wave ends.
	assert.Equal(t, "Overview", fs.saved[2].Title)
}

func TestRunSanitizesInvalidWikilinks(t *testing.T) {
	fs := &fakeStore{}
	p := &Pool{
		Store: fs,
		NewClient: func() (Completer, error) {
			return &fakeCompleter{replyFor: func(string) (string, error) {
				return "Check [[HTTP API]] and [[Nonexistent Page|this thing]].", nil
			}}, nil
		},
	}

	job := testJob(planner.DocSpec{DocType: "guide", Title: "Guide", Path: "widget/acme"})
	job.ExistingTitles = []string{"HTTP API"}
	p.Run(context.Background(), job)

	require.Len(t, fs.saved, 1)
	content := fs.saved[0].Content
	assert.Contains(t, content, "[[HTTP API]]", "existing titles stay linkable")
	assert.NotContains(t, content, "[[Nonexistent")
	assert.Contains(t, content, "this thing", "invalid link collapses to display text")
}

func TestRunRecordsProvenance(t *testing.T) {
	repoPath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repoPath, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, "src/main.go"), []byte("package main"), 0o644))

	fs := &fakeStore{}
	p := &Pool{
		Store: fs,
		NewClient: func() (Completer, error) {
			return &fakeCompleter{replyFor: func(string) (string, error) {
				return "The entry point lives in `src/main.go` and `src/ghost.go`.", nil
			}}, nil
		},
	}

	job := testJob(planner.DocSpec{DocType: "overview", Title: "Overview", Path: "widget/acme"})
	job.RepoPath = repoPath
	p.Run(context.Background(), job)

	require.Len(t, fs.saved, 1)
	meta := fs.saved[0].AuthorMeta
	require.NotNil(t, meta)
	assert.Equal(t, "test-model", meta.Model)
	assert.Equal(t, "abc123", meta.CommitSHA)
	assert.Contains(t, fs.saved[0].Content, "model: test-model", "bottom matter is appended")
	assert.Contains(t, meta.SourceHashes, "src/main.go")
	assert.NotContains(t, meta.SourceHashes, "src/ghost.go", "missing files are dropped")
	assert.Len(t, meta.SourceHashes["src/main.go"], 16)
}

func TestRunTracksFailures(t *testing.T) {
	fs := &fakeStore{}
	p := &Pool{
		Store: fs,
		NewClient: func() (Completer, error) {
			return &fakeCompleter{replyFor: func(string) (string, error) {
				return "fine content", nil
			}}, nil
		},
	}

	results := p.Run(context.Background(), testJob(
		planner.DocSpec{DocType: "guide", Title: "Cursed", Path: "widget/acme"},
		planner.DocSpec{DocType: "guide", Title: "Fine", Path: "widget/acme"},
	))

	assert.Len(t, results.Generated, 1)
	require.Len(t, results.Failed, 1)
	cursedID := store.GenerateID("https://github.com/acme/widget", "widget/acme", "Cursed", "guide")
	assert.Contains(t, results.Failed, cursedID)
}

func TestMermaidRepairPass(t *testing.T) {
	broken := "graph TD\nA --> -->"
	fixed := "graph TD\nA --> B"

	fs := &fakeStore{}
	p := &Pool{
		Store: fs,
		CheckMermaid: func(_ context.Context, source string) error {
			if strings.Contains(source, "--> -->") {
				return errors.New("unexpected token")
			}
			return nil
		},
		NewClient: func() (Completer, error) {
			return &fakeCompleter{replyFor: func(prompt string) (string, error) {
				if strings.Contains(prompt, "fails to parse") {
					return fixed, nil
				}
				return "# Page\n\n```mermaid\n" + broken + "\n```\n", nil
			}}, nil
		},
	}

	p.Run(context.Background(), testJob(
		planner.DocSpec{DocType: "architecture", Title: "Architecture", Path: "widget/acme"},
	))

	require.Len(t, fs.saved, 1)
	assert.Contains(t, fs.saved[0].Content, "A --> B")
	assert.NotContains(t, fs.saved[0].Content, "--> -->")
}
