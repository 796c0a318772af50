package regen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/store"
)

type stubStore struct {
	doc    *store.Document
	latest *store.Version
}

func (s *stubStore) Get(_ context.Context, docID string) (*store.Document, error) {
	if s.doc == nil {
		return nil, &store.NotFoundError{DocID: docID}
	}
	return s.doc, nil
}

func (s *stubStore) LatestVersion(_ context.Context, docID string) (*store.Version, error) {
	if s.latest == nil {
		return nil, &store.NotFoundError{DocID: docID}
	}
	return s.latest, nil
}

type stubRepo struct {
	commits int
	err     error
}

func (r *stubRepo) CommitsBetween(_, _ string) (int, error) { return r.commits, r.err }

func docWith(content string) *store.Document {
	return &store.Document{ID: "doc-x", Content: content}
}

func versionBy(author string, age time.Duration, sha string) *store.Version {
	return &store.Version{
		DocID:      "doc-x",
		AuthorType: author,
		CreatedAt:  time.Now().Add(-age),
		AuthorMeta: &store.AuthorMeta{CommitSHA: sha},
	}
}

func TestShouldRegenerate(t *testing.T) {
	ctx := context.Background()
	day := 24 * time.Hour

	tests := []struct {
		name   string
		doc    *store.Document
		latest *store.Version
		repo   *stubRepo
		sha    string
		want   bool
	}{
		{name: "missing document", want: true},
		{name: "empty content", doc: docWith(""), want: true},
		{name: "no version history", doc: docWith("body"), want: true},
		{
			name: "fresh human edit",
			doc:  docWith("body"), latest: versionBy(store.AuthorHuman, 3*day, "aaa"),
			sha: "bbb", want: false,
		},
		{
			name: "old human edit, repo unchanged",
			doc:  docWith("body"), latest: versionBy(store.AuthorHuman, 10*day, "aaa"),
			sha: "aaa", want: false,
		},
		{
			name: "old human edit, minor drift",
			doc:  docWith("body"), latest: versionBy(store.AuthorHuman, 10*day, "aaa"),
			repo: &stubRepo{commits: 3}, sha: "bbb", want: false,
		},
		{
			name: "old human edit, significant drift",
			doc:  docWith("body"), latest: versionBy(store.AuthorHuman, 10*day, "aaa"),
			repo: &stubRepo{commits: 12}, sha: "bbb", want: true,
		},
		{
			name: "old human edit, uncomparable commits",
			doc:  docWith("body"), latest: versionBy(store.AuthorHuman, 10*day, "aaa"),
			repo: &stubRepo{err: errors.New("unknown sha")}, sha: "bbb", want: true,
		},
		{
			name: "recent ai output, repo unchanged",
			doc:  docWith("body"), latest: versionBy(store.AuthorAI, 5*day, "aaa"),
			sha: "aaa", want: false,
		},
		{
			name: "recent ai output, repo moved",
			doc:  docWith("body"), latest: versionBy(store.AuthorAI, 5*day, "aaa"),
			repo: &stubRepo{commits: 1}, sha: "bbb", want: true,
		},
		{
			name: "ancient ai output",
			doc:  docWith("body"), latest: versionBy(store.AuthorAI, 45*day, "aaa"),
			sha: "aaa", want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Engine{Store: &stubStore{doc: tt.doc, latest: tt.latest}, Repo: tt.repo}
			d, err := e.ShouldRegenerate(ctx, "doc-x", tt.sha)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Regenerate, d.Reason)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestShouldRegenerateTargeted(t *testing.T) {
	ctx := context.Background()

	t.Run("legacy version without hashes", func(t *testing.T) {
		e := &Engine{Store: &stubStore{
			doc:    docWith("body"),
			latest: &store.Version{AuthorType: store.AuthorAI, CreatedAt: time.Now()},
		}}
		d, err := e.ShouldRegenerateTargeted(ctx, "doc-x", map[string]string{"a.go": "h1"})
		require.NoError(t, err)
		assert.True(t, d.Regenerate)
		assert.Contains(t, d.Reason, "legacy")
	})

	t.Run("unchanged sources skip", func(t *testing.T) {
		e := &Engine{Store: &stubStore{
			doc: docWith("body"),
			latest: &store.Version{
				AuthorType: store.AuthorAI,
				CreatedAt:  time.Now(),
				AuthorMeta: &store.AuthorMeta{SourceHashes: map[string]string{"a.go": "h1", "b.go": "h2"}},
			},
		}}
		d, err := e.ShouldRegenerateTargeted(ctx, "doc-x", map[string]string{"a.go": "h1", "b.go": "h2"})
		require.NoError(t, err)
		assert.False(t, d.Regenerate)
	})

	t.Run("changed and new files trigger", func(t *testing.T) {
		e := &Engine{Store: &stubStore{
			doc: docWith("body"),
			latest: &store.Version{
				AuthorType: store.AuthorAI,
				CreatedAt:  time.Now(),
				AuthorMeta: &store.AuthorMeta{SourceHashes: map[string]string{"a.go": "h1", "b.go": "h2"}},
			},
		}}
		d, err := e.ShouldRegenerateTargeted(ctx, "doc-x", map[string]string{
			"a.go": "h1-modified",
			"b.go": "h2",
			"c.go": "h3",
		})
		require.NoError(t, err)
		assert.True(t, d.Regenerate)
		assert.Equal(t, []string{"a.go", "c.go"}, d.ChangedFiles)
	})
}
