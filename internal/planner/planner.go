// Package planner is tier 1: one completion call that turns scout reports
// into a blueprint — the list of documents the writers will author.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/analyzer"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/llm"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/store"
)

// Blueprint is the planner's output.
type Blueprint struct {
	RepoSummary string    `json:"repo_summary"`
	Complexity  string    `json:"complexity"` // small | medium | large
	Documents   []DocSpec `json:"documents"`
}

// DocSpec describes one page to write.
type DocSpec struct {
	DocType       string    `json:"doc_type"`
	Title         string    `json:"title"`
	Path          string    `json:"path"`
	Rationale     string    `json:"rationale,omitempty"`
	Sections      []Section `json:"sections"`
	KeyFiles      []string  `json:"key_files_to_read,omitempty"`
	WikilinksOut  []string  `json:"wikilinks_out,omitempty"`
	ReplacesTitle string    `json:"replaces_title,omitempty"`
}

// Section is one heading plus rich-content directives such as
// "diagram:flowchart of ..." or "table:config keys".
type Section struct {
	Heading    string   `json:"heading"`
	Directives []string `json:"directives,omitempty"`
}

// Mandatory pages, in order, all at the crate root.
var mandatoryPages = []struct {
	Title   string
	DocType string
}{
	{"Overview", "overview"},
	{"Getting Started", "quickstart"},
	{"Capabilities & User Stories", "capabilities"},
}

// Client is the slice of the LLM client the planner needs. *llm.Client
// satisfies it; tests swap in fakes.
type Client interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Planner drives the single blueprint call.
type Planner struct {
	Client Client
}

const systemPrompt = `You are a documentation architect. Given scout reports about a codebase,
design a wiki: a set of markdown pages with titles, folder paths, section
outlines, and wikilinks between them. Respond with a single JSON object and
nothing else.`

// Plan runs the planner. crate is the first path segment every page lives
// under; existing documents are offered for title and path reuse. On any
// LLM or parse failure the deterministic fallback plan is returned.
func (p *Planner) Plan(ctx context.Context, reports string, a *analyzer.Analysis, crate, repoName string, existing []*store.Document) *Blueprint {
	basePath := crate
	if repoName != "" {
		basePath = crate + "/" + repoName
	}

	prompt := p.buildPrompt(reports, a, crate, basePath, existing)
	raw, err := p.Client.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		slog.Error("planner call failed, using fallback plan", logfields.Error(err))
		return FallbackPlan(a.SizeLabel, crate, basePath)
	}

	bp, err := parseBlueprint(raw)
	if err != nil {
		slog.Error("blueprint parse failed, using fallback plan", logfields.Error(err))
		return FallbackPlan(a.SizeLabel, crate, basePath)
	}

	postProcess(bp, crate, basePath)
	return bp
}

func (p *Planner) buildPrompt(reports string, a *analyzer.Analysis, crate, basePath string, existing []*store.Document) string {
	var sb strings.Builder

	sb.WriteString("Design the documentation wiki for this repository.\n\n")
	fmt.Fprintf(&sb, "Repository size: %s (%d estimated tokens, %d modules).\n\n",
		a.SizeLabel, a.TokenEstimate, a.ModuleCount())

	sb.WriteString("Mandatory first three documents, in this order, all with path " + basePath + ":\n")
	for i, m := range mandatoryPages {
		fmt.Fprintf(&sb, "%d. %q (doc_type %q)\n", i+1, m.Title, m.DocType)
	}

	sb.WriteString(`
Guidelines:
- Folder paths start with "` + crate + `"; group related pages in subfolders, but avoid folders holding a single page.
- Page count should match repository size: a handful for small repos, 10-20 for large ones.
- If a topic has more than 5 distinct items, split it into sub-pages.
- Every page lists wikilinks_out: titles of other pages it will reference inline. Aim for 2-5 links per page; the wiki must be densely connected.
- Each section may carry directives: "diagram:<what>", "table:<what>", "code:<what>".
`)

	if len(existing) > 0 {
		sb.WriteString("\nExisting documents — reuse their titles and paths where the content still fits; use replaces_title when renaming one:\n")
		for _, d := range existing {
			fmt.Fprintf(&sb, "- %q at %s\n", d.Title, d.Path)
		}
	}

	sb.WriteString(`
Respond with JSON:
{
  "repo_summary": "...",
  "complexity": "small|medium|large",
  "documents": [
    {"doc_type": "...", "title": "...", "path": "...", "rationale": "...",
     "sections": [{"heading": "...", "directives": ["..."]}],
     "key_files_to_read": ["..."], "wikilinks_out": ["..."],
     "replaces_title": "..."}
  ]
}

`)
	sb.WriteString("Scout reports:\n\n")
	sb.WriteString(reports)
	return sb.String()
}

func parseBlueprint(raw string) (*Blueprint, error) {
	cleaned := llm.RepairJSON(llm.StripCodeFences(raw))
	var bp Blueprint
	if err := json.Unmarshal([]byte(cleaned), &bp); err != nil {
		return nil, fmt.Errorf("decode blueprint: %w", err)
	}
	if len(bp.Documents) == 0 {
		return nil, fmt.Errorf("blueprint contains no documents")
	}
	return &bp, nil
}

// postProcess defaults missing paths and flattens single-document folders.
func postProcess(bp *Blueprint, crate, basePath string) {
	for i := range bp.Documents {
		if bp.Documents[i].Path == "" {
			bp.Documents[i].Path = basePath
		}
		if !strings.HasPrefix(bp.Documents[i].Path, crate) {
			bp.Documents[i].Path = basePath
		}
	}

	perPath := make(map[string]int)
	for _, d := range bp.Documents {
		perPath[d.Path]++
	}
	for i := range bp.Documents {
		d := &bp.Documents[i]
		if d.Path == basePath || perPath[d.Path] != 1 {
			continue
		}
		parent := parentPath(d.Path)
		if parent == "" {
			continue
		}
		slog.Info("flattening single-document folder",
			logfields.Title(d.Title),
			logfields.Path(d.Path),
			slog.String("new_path", parent))
		d.Path = parent
	}
}

func parentPath(p string) string {
	if idx := strings.LastIndexByte(p, '/'); idx > 0 {
		return p[:idx]
	}
	return ""
}

// FallbackPlan synthesizes a deterministic blueprint from the complexity
// label when the planner cannot be trusted. Every page links every other.
func FallbackPlan(complexity, crate, basePath string) *Blueprint {
	type page struct {
		Title   string
		DocType string
	}
	titles := []page{
		{"Overview", "overview"},
		{"Getting Started", "quickstart"},
		{"Capabilities & User Stories", "capabilities"},
		{"Architecture", "architecture"},
	}
	if complexity == analyzer.SizeMedium || complexity == analyzer.SizeLarge {
		titles = append(titles, page{"Configuration", "config"}, page{"User Guide", "guide"})
	}
	if complexity == analyzer.SizeLarge {
		titles = append(titles, page{"Data Model", "data"}, page{"Contributing", "contributing"})
	}

	all := make([]string, len(titles))
	for i, t := range titles {
		all[i] = t.Title
	}

	bp := &Blueprint{
		RepoSummary: "Synthesized plan (planner unavailable).",
		Complexity:  complexity,
	}
	for i, t := range titles {
		var links []string
		for j, other := range all {
			if j != i {
				links = append(links, other)
			}
		}
		bp.Documents = append(bp.Documents, DocSpec{
			DocType:      t.DocType,
			Title:        t.Title,
			Path:         basePath,
			Sections:     []Section{{Heading: t.Title}},
			WikilinksOut: links,
		})
	}
	return bp
}

// relevanceMap routes scout reports to writers by document type. structure
// is appended as a fallback when absent.
var relevanceMap = map[string][]string{
	"overview":     {"structure", "architecture"},
	"quickstart":   {"structure", "infra"},
	"capabilities": {"architecture", "api"},
	"architecture": {"architecture", "structure"},
	"api":          {"api"},
	"config":       {"infra", "structure"},
	"guide":        {"api", "architecture"},
	"data":         {"architecture", "api"},
	"contributing": {"structure", "tests", "infra"},
	"testing":      {"tests", "structure"},
}

// RelevantReportKeys returns the scout keys a writer for docType should
// see. Unknown types get everything module-scouted plus structure.
func RelevantReportKeys(docType string, available []string) []string {
	wanted, ok := relevanceMap[docType]
	if !ok {
		wanted = available
	}

	have := make(map[string]bool, len(available))
	for _, k := range available {
		have[k] = true
	}

	var keys []string
	seen := make(map[string]bool)
	for _, k := range wanted {
		if have[k] && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	// Module and diff reports are always relevant.
	for _, k := range available {
		if (strings.HasPrefix(k, "module_group_") || k == "diff") && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	if !seen["structure"] && have["structure"] {
		keys = append(keys, "structure")
	}
	return keys
}

// EnsureMandatoryPages prepends any missing mandatory page and moves the
// three to the front in canonical order.
func EnsureMandatoryPages(bp *Blueprint, basePath string) {
	byTitle := make(map[string]DocSpec, len(bp.Documents))
	var rest []DocSpec
	for _, d := range bp.Documents {
		if _, mandatory := mandatoryIndex(d.Title); mandatory {
			byTitle[d.Title] = d
		} else {
			rest = append(rest, d)
		}
	}

	ordered := make([]DocSpec, 0, len(bp.Documents)+3)
	for _, m := range mandatoryPages {
		if d, ok := byTitle[m.Title]; ok {
			d.Path = basePath
			ordered = append(ordered, d)
			continue
		}
		slog.Info("adding missing mandatory page", logfields.Title(m.Title))
		ordered = append(ordered, DocSpec{
			DocType:  m.DocType,
			Title:    m.Title,
			Path:     basePath,
			Sections: []Section{{Heading: m.Title}},
		})
	}
	bp.Documents = append(ordered, rest...)
}

func mandatoryIndex(title string) (int, bool) {
	for i, m := range mandatoryPages {
		if m.Title == title {
			return i, true
		}
	}
	return 0, false
}
