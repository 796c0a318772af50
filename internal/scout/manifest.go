package scout

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/analyzer"
)

// focusMarkers flag files a scout should prioritize, matched as path
// substrings.
var focusMarkers = map[string][]string{
	TopicStructure:    {"readme", "main", "index", "mod.rs", "__init__"},
	TopicArchitecture: {"core", "engine", "service", "domain", "internal", "lib"},
	TopicAPI:          {"route", "endpoint", "handler", "api", "schema", "controller", "proto"},
	TopicInfra:        {"docker", "deploy", "ci", ".github", "terraform", "helm", "makefile", "config"},
	TopicTests:        {"test", "spec", "fixture", "mock", "e2e"},
}

// manifestLimit returns the manifest line cap for a budget ratio.
func manifestLimit(ratio float64) int {
	switch {
	case ratio < 0.3:
		return 500
	case ratio < 1.0:
		return 300
	case ratio < 3.0:
		return 200
	default:
		return 150
	}
}

// BuildManifest renders the annotated file manifest for one scout. When the
// file list exceeds the ratio-dependent cap, files are kept in priority
// order: focus matches, entry points, largest remaining, then one
// representative per still-uncovered top-level directory.
func BuildManifest(a *analyzer.Analysis, key string, ratio float64) string {
	limit := manifestLimit(ratio)
	markers := focusMarkers[key]

	focus := make(map[string]bool, len(a.Files))
	for _, f := range a.Files {
		lower := strings.ToLower(f.Path)
		for _, m := range markers {
			if strings.Contains(lower, m) {
				focus[f.Path] = true
				break
			}
		}
	}

	entries := a.Files
	if len(entries) > limit {
		entries = prioritize(a, focus, limit)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "File manifest (%d of %d files):\n", len(entries), len(a.Files))
	for _, f := range entries {
		if focus[f.Path] {
			fmt.Fprintf(&sb, "* %s (%d bytes) [focus]\n", f.Path, f.Size)
		} else {
			fmt.Fprintf(&sb, "* %s (%d bytes)\n", f.Path, f.Size)
		}
	}
	return sb.String()
}

func prioritize(a *analyzer.Analysis, focus map[string]bool, limit int) []analyzer.FileEntry {
	entryPoints := make(map[string]bool)
	for _, m := range a.Modules {
		for _, ep := range m.EntryPoints {
			entryPoints[ep] = true
		}
	}

	picked := make([]analyzer.FileEntry, 0, limit)
	seen := make(map[string]bool, limit)
	add := func(f analyzer.FileEntry) bool {
		if seen[f.Path] {
			return len(picked) < limit
		}
		seen[f.Path] = true
		picked = append(picked, f)
		return len(picked) < limit
	}

	for _, f := range a.Files {
		if focus[f.Path] && !add(f) {
			return sortedByPath(picked)
		}
	}
	for _, f := range a.Files {
		if entryPoints[f.Path] && !add(f) {
			return sortedByPath(picked)
		}
	}

	bySize := make([]analyzer.FileEntry, len(a.Files))
	copy(bySize, a.Files)
	sort.Slice(bySize, func(i, j int) bool { return bySize[i].Size > bySize[j].Size })

	// Reserve room for one representative per top-level directory that
	// nothing picked so far touches.
	covered := make(map[string]bool)
	for _, f := range picked {
		covered[topDirOf(f.Path)] = true
	}
	var representatives []analyzer.FileEntry
	for _, f := range bySize {
		dir := topDirOf(f.Path)
		if !covered[dir] && !seen[f.Path] {
			covered[dir] = true
			representatives = append(representatives, f)
		}
	}

	budget := limit - len(representatives)
	for _, f := range bySize {
		if len(picked) >= budget {
			break
		}
		if !seen[f.Path] {
			add(f)
		}
	}
	for _, f := range representatives {
		if len(picked) >= limit {
			break
		}
		if !seen[f.Path] {
			add(f)
		}
	}
	return sortedByPath(picked)
}

func sortedByPath(files []analyzer.FileEntry) []analyzer.FileEntry {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func topDirOf(p string) string {
	if idx := strings.IndexByte(p, '/'); idx > 0 {
		return p[:idx]
	}
	return "."
}

// Constraints describes how aggressively the scout should read, scaled to
// how far the repository exceeds the model's context window.
func Constraints(ratio float64) string {
	switch {
	case ratio < 0.3:
		return "The repository fits comfortably. Read whole files where useful; no hard limits."
	case ratio < 1.0:
		return "The repository is sizable. Prefer files under 500 lines; read at most 40 files; skim large files by reading their first 150 lines."
	case ratio < 3.0:
		return "The repository exceeds your context. Read at most 25 files, none over 300 lines; rely on the manifest and focus markers to choose."
	default:
		return "The repository is far larger than your context. Read at most 15 files, none over 200 lines; summarize aggressively and skip anything not flagged [focus]."
	}
}
