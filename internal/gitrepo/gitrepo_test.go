package gitrepo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitFile(t *testing.T, repoPath, name, content, message string) string {
	t.Helper()
	repo, err := git.PlainOpen(repoPath)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repoPath, name), []byte(content), 0o600))
	_, err = wt.Add(name)
	require.NoError(t, err)

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return dir
}

func TestCheckoutName(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://github.com/acme/widget.git", "acme-widget"},
		{"https://github.com/acme/widget/", "acme-widget"},
		{"https://example.com/widget", "widget"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CheckoutName(tc.url), tc.url)
	}
}

func TestRepoName(t *testing.T) {
	assert.Equal(t, "widget", RepoName("https://github.com/acme/widget.git"))
	assert.Equal(t, "widget", RepoName("https://github.com/acme/widget/"))
}

func TestHead(t *testing.T) {
	repoPath := initRepo(t)
	sha := commitFile(t, repoPath, "a.txt", "one", "first")

	head, err := Head(repoPath)
	require.NoError(t, err)
	assert.Equal(t, sha, head)
}

func TestCommitsSince(t *testing.T) {
	repoPath := initRepo(t)
	first := commitFile(t, repoPath, "a.txt", "one", "first")
	commitFile(t, repoPath, "b.txt", "two", "second")
	commitFile(t, repoPath, "c.txt", "three", "third")

	n, err := CommitsSince(repoPath, first)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	head, err := Head(repoPath)
	require.NoError(t, err)
	n, err = CommitsSince(repoPath, head)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "HEAD to HEAD is zero commits")
}

func TestCommitsSinceUnknownSHA(t *testing.T) {
	repoPath := initRepo(t)
	commitFile(t, repoPath, "a.txt", "one", "first")

	_, err := CommitsSince(repoPath, "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	assert.Error(t, err, "unresolvable SHA must surface as an error")
}

func TestChangesSince(t *testing.T) {
	repoPath := initRepo(t)
	first := commitFile(t, repoPath, "a.txt", "one\n", "first")
	commitFile(t, repoPath, "a.txt", "one\ntwo\n", "append line")

	ctx, err := ChangesSince(repoPath, first)
	require.NoError(t, err)
	require.Len(t, ctx.Commits, 1)
	assert.Contains(t, ctx.Commits[0], "append line")
	assert.Contains(t, ctx.Diff, "+two")
}

func TestChangesSinceNoChange(t *testing.T) {
	repoPath := initRepo(t)
	sha := commitFile(t, repoPath, "a.txt", "one", "first")

	ctx, err := ChangesSince(repoPath, sha)
	require.NoError(t, err)
	assert.Empty(t, ctx.Commits)
	assert.Empty(t, ctx.Diff)
}

func TestCloneOrPullLocalRepo(t *testing.T) {
	src := initRepo(t)
	commitFile(t, src, "a.txt", "one", "first")

	client := NewClient(t.TempDir())
	path, err := client.CloneOrPull(src)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(path, "a.txt"))

	// Second invocation pulls instead of cloning.
	commitFile(t, src, "b.txt", "two", "second")
	path2, err := client.CloneOrPull(src)
	require.NoError(t, err)
	assert.Equal(t, path, path2)
}
