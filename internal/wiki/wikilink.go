// Package wiki handles the markdown conventions of the content store:
// [[wikilinks]], fenced mermaid blocks, and the YAML bottom matter block.
package wiki

import (
	"regexp"
	"strings"
)

// wikilinkRe matches [[Target]] and [[Target|display]].
var wikilinkRe = regexp.MustCompile(`\[\[([^\]]+)\]\]`)

// Link is one wikilink occurrence in a document.
type Link struct {
	Target  string // pre-pipe portion
	Display string // post-pipe portion, or Target when absent
	Raw     string // the full [[...]] text
}

// ExtractLinks returns every wikilink in the markdown, dropping URL-like
// targets. Duplicate targets are preserved; callers dedupe as needed.
func ExtractLinks(markdown string) []Link {
	matches := wikilinkRe.FindAllStringSubmatch(markdown, -1)
	links := make([]Link, 0, len(matches))
	for _, m := range matches {
		inner := m[1]
		target, display := inner, inner
		if idx := strings.IndexByte(inner, '|'); idx >= 0 {
			target = strings.TrimSpace(inner[:idx])
			display = strings.TrimSpace(inner[idx+1:])
		} else {
			target = strings.TrimSpace(target)
			display = target
		}
		if target == "" || isURLLike(target) {
			continue
		}
		links = append(links, Link{Target: target, Display: display, Raw: m[0]})
	}
	return links
}

// Targets returns the deduplicated link targets in first-seen order.
func Targets(markdown string) []string {
	seen := make(map[string]struct{})
	var targets []string
	for _, link := range ExtractLinks(markdown) {
		if _, dup := seen[link.Target]; dup {
			continue
		}
		seen[link.Target] = struct{}{}
		targets = append(targets, link.Target)
	}
	return targets
}

func isURLLike(target string) bool {
	lower := strings.ToLower(target)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "ftp://")
}

// Sanitize replaces every wikilink whose target is not in validTitles with
// its display text, leaving valid links untouched. Matching is exact.
func Sanitize(markdown string, validTitles map[string]struct{}) string {
	return wikilinkRe.ReplaceAllStringFunc(markdown, func(raw string) string {
		inner := raw[2 : len(raw)-2]
		target, display := inner, inner
		if idx := strings.IndexByte(inner, '|'); idx >= 0 {
			target = strings.TrimSpace(inner[:idx])
			display = strings.TrimSpace(inner[idx+1:])
		} else {
			target = strings.TrimSpace(target)
			display = target
		}
		if isURLLike(target) {
			return display
		}
		if _, ok := validTitles[target]; ok {
			return raw
		}
		return display
	})
}
