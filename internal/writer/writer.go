// Package writer is tier 2: a pool of workers, each authoring exactly one
// document from its blueprint entry and the relevant scout reports, then
// posting it to the content store.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/llm"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/metrics"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/planner"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/provenance"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/scout"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/store"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/wiki"
)

// hubTypes are written in the second wave, after every detail page exists.
var hubTypes = map[string]bool{
	"overview":     true,
	"capabilities": true,
	"quickstart":   true,
}

// Completer is the per-writer LLM surface. Each writer gets its own
// instance from NewClient; no conversation state is shared.
type Completer interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
}

// ContentStore is the slice of the store the writers use.
type ContentStore interface {
	CreateOrUpdate(ctx context.Context, dc store.DocumentCreate) (*store.Document, bool, error)
}

// Job carries everything one pipeline run hands the writer pool.
type Job struct {
	Blueprint      *planner.Blueprint
	Reports        []scout.Report
	RepoURL        string
	RepoName       string
	RepoPath       string // local checkout, for provenance hashing
	CommitSHA      string
	Trigger        string
	ExistingTitles []string // pre-existing titles in the same crate
}

// Results is the outcome ledger for one run.
type Results struct {
	Generated map[string]struct{} // doc IDs written or intentionally reused
	Failed    map[string]struct{}
	Renamed   int // pages that replaced an old title
	Reused    int // pages upserted over an existing document
}

// Pool runs writers in two waves.
type Pool struct {
	Parallel  int
	NewClient func() (Completer, error)
	Store     ContentStore
	// CheckMermaid validates one diagram source; nil skips validation.
	CheckMermaid MermaidChecker
}

const systemPrompt = `You are a technical writer producing one wiki page in markdown. Write
flowing prose, one to two pages. Link related pages inline with [[Title]]
wikilinks; never add a "See Also" section. External links use standard
markdown. Diagrams are fenced mermaid blocks; annotate code fences taken
from real files with title="<path>".`

// Run writes every blueprint document: detail pages first, hub pages after,
// each wave in parallel. Hub pages can reference detail pages because link
// resolution happens at save time in the store.
func (p *Pool) Run(ctx context.Context, job Job) *Results {
	results := &Results{
		Generated: make(map[string]struct{}),
		Failed:    make(map[string]struct{}),
	}

	validTitles := make(map[string]struct{}, len(job.Blueprint.Documents)+len(job.ExistingTitles))
	for _, d := range job.Blueprint.Documents {
		validTitles[d.Title] = struct{}{}
	}
	for _, t := range job.ExistingTitles {
		validTitles[t] = struct{}{}
	}

	var details, hubs []planner.DocSpec
	for _, d := range job.Blueprint.Documents {
		if hubTypes[d.DocType] {
			hubs = append(hubs, d)
		} else {
			details = append(details, d)
		}
	}

	p.runWave(ctx, job, details, validTitles, results)
	p.runWave(ctx, job, hubs, validTitles, results)
	return results
}

func (p *Pool) runWave(ctx context.Context, job Job, specs []planner.DocSpec, validTitles map[string]struct{}, results *Results) {
	type outcome struct {
		docID   string
		reused  bool
		renamed bool
		err     error
	}
	outcomes := make([]outcome, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel())
	for i, spec := range specs {
		g.Go(func() error {
			docID, reused, err := p.writeOne(gctx, job, spec, validTitles)
			outcomes[i] = outcome{docID: docID, reused: reused, renamed: spec.ReplacesTitle != "", err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		if o.err != nil {
			slog.Error("writer failed",
				logfields.Title(specs[i].Title), logfields.Error(o.err))
			metrics.DocumentsWritten.WithLabelValues("failed").Inc()
			results.Failed[o.docID] = struct{}{}
			continue
		}
		metrics.DocumentsWritten.WithLabelValues("ok").Inc()
		results.Generated[o.docID] = struct{}{}
		if o.reused {
			results.Reused++
		}
		if o.renamed {
			results.Renamed++
		}
	}
}

func (p *Pool) parallel() int {
	if p.Parallel > 0 {
		return p.Parallel
	}
	return 3
}

// writeOne authors a single page. The returned ID is valid even on error so
// the orchestrator can track the failure.
func (p *Pool) writeOne(ctx context.Context, job Job, spec planner.DocSpec, validTitles map[string]struct{}) (string, bool, error) {
	docID := store.GenerateID(job.RepoURL, spec.Path, spec.Title, spec.DocType)
	started := time.Now()

	client, err := p.NewClient()
	if err != nil {
		return docID, false, fmt.Errorf("create writer client: %w", err)
	}

	markdown, err := client.CompleteWithSystem(ctx, systemPrompt, buildPrompt(job, spec, validTitles))
	if err != nil {
		return docID, false, fmt.Errorf("write %q: %w", spec.Title, err)
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return docID, false, fmt.Errorf("write %q: empty output", spec.Title)
	}

	markdown = wiki.Sanitize(markdown, validTitles)
	markdown = p.repairMermaid(ctx, client, markdown)

	refs := provenance.ExtractSourceRefs(markdown, spec.KeyFiles)
	refs = provenance.FilterExisting(job.RepoPath, refs)
	hashes := provenance.HashSources(job.RepoPath, refs)

	stamped, err := wiki.AppendBottomMatter(markdown, wiki.BottomMatter{
		ID:          docID,
		RepoURL:     job.RepoURL,
		DocType:     spec.DocType,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Model:       client.Model(),
	})
	if err != nil {
		slog.Warn("bottom matter skipped", logfields.Doc(docID), logfields.Error(err))
	} else {
		markdown = stamped
	}

	doc, isNew, err := p.Store.CreateOrUpdate(ctx, store.DocumentCreate{
		Path:        spec.Path,
		Title:       spec.Title,
		Content:     markdown,
		Description: spec.Rationale,
		RepoURL:     job.RepoURL,
		RepoName:    job.RepoName,
		DocType:     spec.DocType,
		AuthorType:  store.AuthorAI,
		AuthorMeta: &store.AuthorMeta{
			Model:        client.Model(),
			CommitSHA:    job.CommitSHA,
			SourceHashes: hashes,
			Trigger:      job.Trigger,
		},
	})
	if err != nil {
		return docID, false, fmt.Errorf("save %q: %w", spec.Title, err)
	}

	slog.Info("document written",
		logfields.Doc(doc.ID),
		logfields.Title(spec.Title),
		slog.Duration("elapsed", time.Since(started)),
		slog.Bool("reused", !isNew))
	return doc.ID, !isNew, nil
}

func buildPrompt(job Job, spec planner.DocSpec, validTitles map[string]struct{}) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Write the page %q for the %s wiki.\n\n", spec.Title, job.RepoName)
	if spec.Rationale != "" {
		sb.WriteString("Purpose: " + spec.Rationale + "\n\n")
	}

	sb.WriteString("Sections:\n")
	for _, s := range spec.Sections {
		sb.WriteString("- " + s.Heading)
		if len(s.Directives) > 0 {
			sb.WriteString(" (" + strings.Join(s.Directives, "; ") + ")")
		}
		sb.WriteString("\n")
	}

	if len(spec.WikilinksOut) > 0 {
		sb.WriteString("\nReference these pages inline: ")
		sb.WriteString("[[" + strings.Join(spec.WikilinksOut, "]], [[") + "]]\n")
	}

	titles := make([]string, 0, len(validTitles))
	for t := range validTitles {
		titles = append(titles, t)
	}
	sort.Strings(titles)
	sb.WriteString("\nValid wikilink targets (never link anything else): " + strings.Join(titles, ", ") + "\n")

	if len(spec.KeyFiles) > 0 {
		sb.WriteString("\nKey files to ground the content in: " + strings.Join(spec.KeyFiles, ", ") + "\n")
	}

	available := make([]string, len(job.Reports))
	byKey := make(map[string]string, len(job.Reports))
	for i, r := range job.Reports {
		available[i] = r.Key
		byKey[r.Key] = r.Content
	}
	sb.WriteString("\nScout reports:\n\n")
	for _, key := range planner.RelevantReportKeys(spec.DocType, available) {
		fmt.Fprintf(&sb, "### %s\n\n%s\n\n", key, byKey[key])
	}
	return sb.String()
}

// repairMermaid validates every mermaid block and, when the checker flags
// one, runs one focused LLM pass to fix it. Validation is best-effort: no
// checker means no validation.
func (p *Pool) repairMermaid(ctx context.Context, client Completer, markdown string) string {
	if p.CheckMermaid == nil {
		return markdown
	}
	for _, block := range wiki.ExtractMermaidBlocks(markdown) {
		parseErr := p.CheckMermaid(ctx, block.Source)
		if parseErr == nil {
			continue
		}
		prompt := fmt.Sprintf(
			"This mermaid diagram fails to parse:\n\n```mermaid\n%s\n```\n\nParser error: %v\n\nReturn only the corrected diagram source, no fence, no commentary.",
			block.Source, parseErr)
		repaired, err := client.CompleteWithSystem(ctx, "You fix mermaid diagram syntax.", prompt)
		if err != nil {
			slog.Warn("mermaid repair pass failed", logfields.Error(err))
			continue
		}
		repaired = strings.TrimSpace(llm.StripCodeFences(repaired))
		if repaired != "" && p.CheckMermaid(ctx, repaired) == nil {
			markdown = wiki.ReplaceMermaidBlock(markdown, block.Offset, repaired)
		}
	}
	return markdown
}
