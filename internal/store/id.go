package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeRepoURL strips the trailing slash and ".git" suffix so every
// spelling of a repository URL hashes identically. Idempotent.
func NormalizeRepoURL(repoURL string) string {
	repoURL = strings.TrimSpace(repoURL)
	repoURL = strings.TrimRight(repoURL, "/")
	repoURL = strings.TrimSuffix(repoURL, ".git")
	return strings.TrimRight(repoURL, "/")
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// GenerateID computes the deterministic document ID. The content store is
// authoritative: the pipeline and the REST surface both call this.
func GenerateID(repoURL, path, title, docType string) string {
	if repoURL == "" {
		return "doc-standalone-" + shortHash(path+"/"+title)
	}
	repoHash := shortHash(NormalizeRepoURL(repoURL))
	if path != "" || title != "" {
		return "doc-" + repoHash + "-" + shortHash(path+"/"+title)
	}
	if docType != "" {
		return "doc-" + repoHash + "-" + docType
	}
	return "doc-" + repoHash + "-default"
}
