// Package provenance extracts the source files a generated document is based
// on and hashes them, so later runs can decide whether the document is stale.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const hashPrefixLen = 16

var (
	// fenceTitleRe matches code fences annotated title="path/to/file".
	fenceTitleRe = regexp.MustCompile("```[^\\n]*title=\"([^\"]+)\"")
	// inlineCodeRe matches inline code spans.
	inlineCodeRe = regexp.MustCompile("`([^`\\n]+)`")
)

// sourceExts marks inline code spans worth treating as file references even
// without a directory separator.
var sourceExts = map[string]struct{}{
	".go": {}, ".py": {}, ".js": {}, ".ts": {}, ".tsx": {}, ".jsx": {},
	".rs": {}, ".java": {}, ".rb": {}, ".php": {}, ".c": {}, ".h": {},
	".cpp": {}, ".cs": {}, ".swift": {}, ".yaml": {}, ".yml": {},
	".toml": {}, ".json": {}, ".sql": {}, ".proto": {}, ".sh": {}, ".md": {},
}

// ExtractSourceRefs returns candidate repository-relative paths referenced
// by the markdown, merged with the blueprint's key files. Order is
// deterministic; existence is not checked here.
func ExtractSourceRefs(markdown string, keyFiles []string) []string {
	seen := make(map[string]struct{})
	var refs []string
	add := func(p string) {
		p = strings.TrimSpace(strings.TrimPrefix(p, "./"))
		if p == "" {
			return
		}
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		refs = append(refs, p)
	}

	for _, m := range fenceTitleRe.FindAllStringSubmatch(markdown, -1) {
		add(m[1])
	}
	for _, m := range inlineCodeRe.FindAllStringSubmatch(markdown, -1) {
		span := strings.TrimSpace(m[1])
		if looksLikePath(span) {
			add(span)
		}
	}
	for _, kf := range keyFiles {
		add(kf)
	}
	return refs
}

// looksLikePath accepts spans containing a separator or ending in a known
// source extension, rejecting spaces and URLs.
func looksLikePath(span string) bool {
	if span == "" || strings.ContainsAny(span, " \t") {
		return false
	}
	lower := strings.ToLower(span)
	if strings.Contains(lower, "://") {
		return false
	}
	if strings.ContainsRune(span, '/') {
		return true
	}
	_, ok := sourceExts[strings.ToLower(filepath.Ext(span))]
	return ok
}

// HashSources computes 16-hex-char SHA-256 prefixes for each path that
// exists under repoPath. Missing paths are silently dropped.
func HashSources(repoPath string, relpaths []string) map[string]string {
	hashes := make(map[string]string, len(relpaths))
	for _, rel := range relpaths {
		clean := filepath.Clean(filepath.FromSlash(rel))
		if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(repoPath, clean))
		if err != nil {
			continue
		}
		sum := sha256.Sum256(data)
		hashes[filepath.ToSlash(clean)] = hex.EncodeToString(sum[:])[:hashPrefixLen]
	}
	return hashes
}

// FilterExisting drops refs that do not exist under repoPath, preserving order.
func FilterExisting(repoPath string, refs []string) []string {
	var out []string
	for _, rel := range refs {
		clean := filepath.Clean(filepath.FromSlash(rel))
		if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			continue
		}
		if info, err := os.Stat(filepath.Join(repoPath, clean)); err == nil && !info.IsDir() {
			out = append(out, filepath.ToSlash(clean))
		}
	}
	return out
}

// SortedPaths returns the map's keys in sorted order, for stable metadata.
func SortedPaths(hashes map[string]string) []string {
	paths := make([]string, 0, len(hashes))
	for p := range hashes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
