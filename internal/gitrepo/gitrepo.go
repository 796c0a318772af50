// Package gitrepo wraps the go-git operations the pipeline needs: workspace
// clones, HEAD resolution, commit distance, and change context between a
// recorded commit and the current head.
package gitrepo

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
)

// Client manages repository checkouts under one workspace directory.
type Client struct {
	workspaceDir string
}

// NewClient creates a git client rooted at workspaceDir.
func NewClient(workspaceDir string) *Client {
	return &Client{workspaceDir: workspaceDir}
}

// EnsureWorkspace creates the workspace directory.
func (c *Client) EnsureWorkspace() error {
	if err := os.MkdirAll(c.workspaceDir, 0o750); err != nil {
		return fmt.Errorf("create workspace directory: %w", err)
	}
	return nil
}

// CheckoutName derives a stable directory name from a repository URL.
func CheckoutName(repoURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	if u, err := url.Parse(trimmed); err == nil && u.Path != "" {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) >= 2 {
			return parts[len(parts)-2] + "-" + parts[len(parts)-1]
		}
		if len(parts) == 1 && parts[0] != "" {
			return parts[0]
		}
	}
	return filepath.Base(trimmed)
}

// RepoName returns the final path segment of a repository URL.
func RepoName(repoURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	if idx := strings.LastIndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

// CloneOrPull makes the checkout current: clone when missing, pull when
// present, re-clone when the pull cannot fast-forward.
func (c *Client) CloneOrPull(repoURL string) (string, error) {
	if err := c.EnsureWorkspace(); err != nil {
		return "", err
	}
	repoPath := filepath.Join(c.workspaceDir, CheckoutName(repoURL))

	if _, err := os.Stat(filepath.Join(repoPath, ".git")); err == nil {
		if err := c.pull(repoPath); err != nil {
			slog.Warn("pull failed, recloning", logfields.Repo(repoURL), logfields.Error(err))
			if rmErr := os.RemoveAll(repoPath); rmErr != nil {
				return "", fmt.Errorf("remove stale checkout: %w", rmErr)
			}
		} else {
			return repoPath, nil
		}
	}

	slog.Info("cloning repository", logfields.Repo(repoURL), logfields.Path(repoPath))
	_, err := git.PlainClone(repoPath, false, &git.CloneOptions{URL: repoURL})
	if err != nil {
		return "", fmt.Errorf("clone %s: %w", repoURL, err)
	}
	return repoPath, nil
}

func (c *Client) pull(repoPath string) error {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}
	err = wt.Pull(&git.PullOptions{})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("pull: %w", err)
	}
	return nil
}

// Head returns the current HEAD commit SHA of a checkout.
func Head(repoPath string) (string, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return "", fmt.Errorf("open repository: %w", err)
	}
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// CommitsSince counts commits reachable from HEAD but after the given SHA.
// An unresolvable SHA (force-push, shallow clone, garbage input) returns an
// error; the regeneration engine treats that as "changed, assume significant".
func CommitsSince(repoPath, sinceSHA string) (int, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return 0, fmt.Errorf("open repository: %w", err)
	}
	headRef, err := repo.Head()
	if err != nil {
		return 0, fmt.Errorf("resolve HEAD: %w", err)
	}
	if headRef.Hash().String() == sinceSHA {
		return 0, nil
	}

	since := plumbing.NewHash(sinceSHA)
	if _, err := repo.CommitObject(since); err != nil {
		return 0, fmt.Errorf("resolve commit %s: %w", sinceSHA, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: headRef.Hash()})
	if err != nil {
		return 0, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	count := 0
	found := false
	err = iter.ForEach(func(commit *object.Commit) error {
		if commit.Hash == since {
			found = true
			return fmt.Errorf("stop") // sentinel to halt iteration
		}
		count++
		return nil
	})
	if err != nil && !found {
		return 0, fmt.Errorf("walk log: %w", err)
	}
	if !found {
		return 0, fmt.Errorf("commit %s not reachable from HEAD", sinceSHA)
	}
	return count, nil
}

// ChangeContext is what the diff scout reads: the log and patch between a
// recorded commit and the current HEAD.
type ChangeContext struct {
	FromSHA string
	ToSHA   string
	Commits []string // "sha subject" lines, newest first
	Diff    string   // unified patch, possibly truncated
}

// maxDiffBytes bounds the patch text handed to the diff scout.
const maxDiffBytes = 256 * 1024

// ChangesSince builds the change context between sinceSHA and HEAD.
func ChangesSince(repoPath, sinceSHA string) (*ChangeContext, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	headRef, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	ctx := &ChangeContext{FromSHA: sinceSHA, ToSHA: headRef.Hash().String()}
	if ctx.FromSHA == ctx.ToSHA {
		return ctx, nil
	}

	fromCommit, err := repo.CommitObject(plumbing.NewHash(sinceSHA))
	if err != nil {
		return nil, fmt.Errorf("resolve commit %s: %w", sinceSHA, err)
	}
	headCommit, err := repo.CommitObject(headRef.Hash())
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD commit: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: headRef.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()
	stop := fmt.Errorf("stop")
	_ = iter.ForEach(func(commit *object.Commit) error {
		if commit.Hash == fromCommit.Hash {
			return stop
		}
		subject := strings.SplitN(commit.Message, "\n", 2)[0]
		ctx.Commits = append(ctx.Commits, commit.Hash.String()[:8]+" "+subject)
		return nil
	})

	patch, err := fromCommit.Patch(headCommit)
	if err != nil {
		return nil, fmt.Errorf("compute patch: %w", err)
	}
	diff := patch.String()
	if len(diff) > maxDiffBytes {
		diff = diff[:maxDiffBytes] + "\n... (diff truncated)"
	}
	ctx.Diff = diff
	return ctx, nil
}
