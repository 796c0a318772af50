// Package orchestrator drives one end-to-end documentation run: clone,
// analyze, decide regeneration, partition, scout, plan, write, clean up.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/analyzer"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/config"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/events"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/gitrepo"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/llm"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/metrics"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/partition"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/planner"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/regen"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/scout"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/store"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/writer"
)

// Run modes.
const (
	ModeInitial = "initial"
	ModeRegen   = "regen"
)

// Stats is the outcome of one run.
type Stats struct {
	RepoURL   string
	CommitSHA string
	Mode      string
	Skipped   bool
	Areas     int
	Generated int
	Failed    int
	FailedIDs []string
	// Renamed maps the IDs of pages a blueprint replaced (via
	// replaces_title) to the IDs written in their place.
	Renamed map[string]string
	Cleanup *store.CleanupResult
	Elapsed time.Duration
}

// Orchestrator wires a pipeline run. The function fields default to the
// real git and LLM implementations in New; tests substitute them.
type Orchestrator struct {
	Config *config.Config
	Store  *store.Store
	Events events.Publisher

	NewScoutClient   func() (scout.Completer, error)
	NewPlannerClient func() (planner.Client, error)
	NewWriterClient  func() (writer.Completer, error)
	CheckMermaid     writer.MermaidChecker

	// Context windows in tokens, per tier.
	ScoutWindow   int
	PlannerWindow int

	CloneOrPull  func(repoURL string) (string, error)
	Head         func(repoPath string) (string, error)
	CommitsSince func(repoPath, sinceSHA string) (int, error)
	ChangesSince func(repoPath, sinceSHA string) (*gitrepo.ChangeContext, error)
}

// New builds an orchestrator on the real git client and per-tier LLM
// clients. The scout and planner clients are created once up front so a
// misconfigured tier fails before any cloning happens.
func New(cfg *config.Config, st *store.Store, pub events.Publisher) (*Orchestrator, error) {
	scoutProbe, err := llm.NewClient(string(config.TierScout), cfg.Scout)
	if err != nil {
		return nil, fmt.Errorf("scout tier: %w", err)
	}
	plannerProbe, err := llm.NewClient(string(config.TierPlanner), cfg.Planner)
	if err != nil {
		return nil, fmt.Errorf("planner tier: %w", err)
	}
	if _, err := llm.NewClient(string(config.TierWriter), cfg.Writer); err != nil {
		return nil, fmt.Errorf("writer tier: %w", err)
	}

	git := gitrepo.NewClient(cfg.WorkspaceDir)
	return &Orchestrator{
		Config: cfg,
		Store:  st,
		Events: pub,
		NewScoutClient: func() (scout.Completer, error) {
			return llm.NewClient(string(config.TierScout), cfg.Scout)
		},
		NewPlannerClient: func() (planner.Client, error) {
			return llm.NewClient(string(config.TierPlanner), cfg.Planner)
		},
		NewWriterClient: func() (writer.Completer, error) {
			return llm.NewClient(string(config.TierWriter), cfg.Writer)
		},
		CheckMermaid:  writer.CommandChecker(),
		ScoutWindow:   scoutProbe.ContextWindow(),
		PlannerWindow: plannerProbe.ContextWindow(),
		CloneOrPull:   git.CloneOrPull,
		Head:          gitrepo.Head,
		CommitsSince:  gitrepo.CommitsSince,
		ChangesSince:  gitrepo.ChangesSince,
	}, nil
}

// Run documents one repository. crate is the top wiki folder; empty means
// the repository name becomes the crate and pages live directly under it.
func (o *Orchestrator) Run(ctx context.Context, repoURL, crate string) (*Stats, error) {
	started := time.Now()
	pub := o.Events
	if pub == nil {
		pub = events.Noop{}
	}

	stats, err := o.run(ctx, pub, repoURL, crate)
	if err != nil {
		metrics.PipelineRuns.WithLabelValues("failed").Inc()
		pub.Publish(events.Event{
			Kind:    events.KindRunFinished,
			RepoURL: repoURL,
			Detail:  map[string]any{"outcome": "failed", "error": err.Error()},
		})
		return nil, err
	}

	stats.Elapsed = time.Since(started)
	outcome := "ok"
	if stats.Skipped {
		outcome = "skipped"
	}
	metrics.PipelineRuns.WithLabelValues(outcome).Inc()
	pub.Publish(events.Event{
		Kind:    events.KindRunFinished,
		RepoURL: repoURL,
		Detail: map[string]any{
			"outcome":   outcome,
			"generated": stats.Generated,
			"failed":    stats.Failed,
			"elapsed":   stats.Elapsed.String(),
		},
	})
	slog.Info("run finished",
		logfields.Repo(repoURL),
		slog.String("mode", stats.Mode),
		logfields.Count(stats.Generated),
		logfields.DurationMS(float64(stats.Elapsed.Milliseconds())))
	return stats, nil
}

func (o *Orchestrator) run(ctx context.Context, pub events.Publisher, repoURL, crate string) (*Stats, error) {
	repoPath, err := o.CloneOrPull(repoURL)
	if err != nil {
		return nil, fmt.Errorf("sync repository: %w", err)
	}
	head, err := o.Head(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	pub.Publish(events.Event{
		Kind:    events.KindRunStarted,
		RepoURL: repoURL,
		Detail:  map[string]any{"commit": head},
	})

	analysis, err := analyzer.Analyze(repoPath)
	if err != nil {
		return nil, fmt.Errorf("analyze repository: %w", err)
	}

	repoName := gitrepo.RepoName(repoURL)
	// With an explicit crate the repo gets its own subfolder; otherwise
	// the repo name is the crate and pages sit directly under it.
	plannerRepoName := repoName
	if crate == "" {
		crate = repoName
		plannerRepoName = ""
	}
	basePath := crate
	if plannerRepoName != "" {
		basePath = crate + "/" + plannerRepoName
	}

	snap, err := o.Store.BuildSnapshot(ctx, repoURL)
	if err != nil {
		return nil, fmt.Errorf("snapshot existing docs: %w", err)
	}
	existing := existingDocs(snap)

	stats := &Stats{
		RepoURL:   repoURL,
		CommitSHA: head,
		Mode:      ModeInitial,
		Renamed:   make(map[string]string),
	}

	var change *gitrepo.ChangeContext
	if len(snap.DocIDs) > 0 {
		stats.Mode = ModeRegen
		needed, recorded := o.regenNeeded(ctx, repoPath, snap, head)
		if !needed {
			slog.Info("documentation current, skipping run",
				logfields.Repo(repoURL), logfields.Commit(head))
			stats.Skipped = true
			return stats, nil
		}
		if recorded != "" && recorded != head {
			change, err = o.ChangesSince(repoPath, recorded)
			if err != nil {
				// Shallow clones and rewritten history land here; fall
				// back to a full rebuild without diff context.
				slog.Warn("diff context unavailable, full rebuild",
					logfields.Repo(repoURL), logfields.Error(err))
				change = nil
			}
		}
	}

	areas := partition.Partition(analysis, o.PlannerWindow, partition.Options{})
	stats.Areas = len(areas)
	slog.Info("run partitioned",
		logfields.Repo(repoURL),
		slog.String("mode", stats.Mode),
		logfields.Count(len(areas)))

	planned := make(map[string]struct{})
	succeeded := make(map[string]struct{})

	for i, area := range areas {
		blueprint, reports, err := o.runArea(ctx, pub, areaInput{
			repoURL:  repoURL,
			analysis: analysisForArea(analysis, area),
			area:     area,
			change:   change,
			existing: existing,
			crate:    crate,
			repoName: plannerRepoName,
		})
		if err != nil {
			return nil, fmt.Errorf("area %s: %w", area.Name, err)
		}
		if i == 0 {
			planner.EnsureMandatoryPages(blueprint, basePath)
		}

		results := o.writerPool().Run(ctx, writer.Job{
			Blueprint:      blueprint,
			Reports:        reports,
			RepoURL:        repoURL,
			RepoName:       repoName,
			RepoPath:       repoPath,
			CommitSHA:      head,
			Trigger:        stats.Mode,
			ExistingTitles: existingTitles(existing),
		})

		for _, spec := range blueprint.Documents {
			planned[store.GenerateID(repoURL, spec.Path, spec.Title, spec.DocType)] = struct{}{}
		}
		for id := range results.Generated {
			succeeded[id] = struct{}{}
		}
		for id := range results.Failed {
			stats.FailedIDs = append(stats.FailedIDs, id)
		}
		recordRenames(stats, blueprint, snap, repoURL)

		pub.Publish(events.Event{
			Kind:    events.KindWaveDone,
			RepoURL: repoURL,
			Area:    area.Name,
			Detail: map[string]any{
				"generated": len(results.Generated),
				"failed":    len(results.Failed),
			},
		})
	}

	stats.Generated = len(succeeded)
	stats.Failed = len(stats.FailedIDs)

	cleanup, err := o.Store.CleanupOrphans(ctx, snap, planned, succeeded)
	if err != nil {
		return nil, fmt.Errorf("cleanup orphans: %w", err)
	}
	stats.Cleanup = cleanup
	pub.Publish(events.Event{
		Kind:    events.KindCleanupDone,
		RepoURL: repoURL,
		Detail: map[string]any{
			"deleted":   cleanup.Deleted,
			"preserved": cleanup.PreservedHuman + cleanup.PreservedUserOrganized + cleanup.PreservedFailed,
		},
	})

	return stats, nil
}

type areaInput struct {
	repoURL  string
	analysis *analyzer.Analysis
	area     partition.Area
	change   *gitrepo.ChangeContext
	existing []*store.Document
	crate    string
	repoName string
}

// runArea scouts one area, compresses the reports, and plans its blueprint.
func (o *Orchestrator) runArea(ctx context.Context, pub events.Publisher, in areaInput) (*planner.Blueprint, []scout.Report, error) {
	ratio := scout.BudgetRatio(in.analysis.TokenEstimate, o.ScoutWindow)

	var tasks []scout.Task
	switch {
	case in.change != nil:
		tasks = []scout.Task{scout.DiffTask(in.change, in.existing)}
	case scout.UseModuleScouts(ratio, in.analysis.ModuleCount()):
		buckets := scout.ModuleBuckets(in.analysis.Modules, o.Config.ScoutParallel)
		tasks = scout.ModuleTasks(in.analysis, buckets, ratio)
		tasks = append(tasks, scout.TopicTasks(in.analysis, scout.SelectTopics(ratio), ratio)...)
	default:
		tasks = scout.TopicTasks(in.analysis, scout.SelectTopics(ratio), ratio)
	}

	pool := &scout.Pool{Parallel: o.Config.ScoutParallel, NewClient: o.NewScoutClient}
	reports := pool.Run(ctx, tasks)
	reports, err := pool.Compress(ctx, reports, o.PlannerWindow)
	if err != nil {
		return nil, nil, fmt.Errorf("compress reports: %w", err)
	}
	pub.Publish(events.Event{
		Kind:    events.KindScoutsDone,
		RepoURL: in.repoURL,
		Area:    in.area.Name,
		Detail:  map[string]any{"reports": len(reports)},
	})

	client, err := o.NewPlannerClient()
	if err != nil {
		return nil, nil, fmt.Errorf("planner client: %w", err)
	}
	pl := &planner.Planner{Client: client}
	blueprint := pl.Plan(ctx, scout.Concatenate(reports), in.analysis, in.crate, in.repoName, in.existing)

	pub.Publish(events.Event{
		Kind:    events.KindPlanReady,
		RepoURL: in.repoURL,
		Area:    in.area.Name,
		Detail:  map[string]any{"documents": len(blueprint.Documents)},
	})
	return blueprint, reports, nil
}

// regenNeeded asks the policy engine whether any existing document wants a
// rebuild, and returns the most recently recorded commit SHA for diffing.
func (o *Orchestrator) regenNeeded(ctx context.Context, repoPath string, snap *store.Snapshot, head string) (bool, string) {
	engine := &regen.Engine{
		Store: o.Store,
		Repo:  repoCommits{repoPath: repoPath, commitsSince: o.CommitsSince},
	}

	needed := false
	var recorded string
	var recordedAt time.Time
	for _, docID := range snap.DocIDs {
		decision, err := engine.ShouldRegenerate(ctx, docID, head)
		if err != nil {
			slog.Warn("regeneration check failed, assuming stale",
				logfields.Doc(docID), logfields.Error(err))
			needed = true
			continue
		}
		if decision.Regenerate {
			slog.Debug("document stale",
				logfields.Doc(docID), slog.String("reason", decision.Reason))
			needed = true
		}

		latest, err := o.Store.LatestVersion(ctx, docID)
		if err != nil || latest.AuthorMeta == nil || latest.AuthorMeta.CommitSHA == "" {
			continue
		}
		if latest.CreatedAt.After(recordedAt) {
			recordedAt = latest.CreatedAt
			recorded = latest.AuthorMeta.CommitSHA
		}
	}
	return needed, recorded
}

// repoCommits adapts the package-level git helpers to the regeneration
// engine, which always compares against the checkout's HEAD.
type repoCommits struct {
	repoPath     string
	commitsSince func(repoPath, sinceSHA string) (int, error)
}

func (r repoCommits) CommitsBetween(fromSHA, _ string) (int, error) {
	return r.commitsSince(r.repoPath, fromSHA)
}

func (o *Orchestrator) writerPool() *writer.Pool {
	return &writer.Pool{
		Parallel:     o.Config.WriterParallel,
		NewClient:    o.NewWriterClient,
		Store:        o.Store,
		CheckMermaid: o.CheckMermaid,
	}
}

// analysisForArea narrows the full analysis to one partition area so scouts
// and the planner see only that slice of the repository.
func analysisForArea(a *analyzer.Analysis, area partition.Area) *analyzer.Analysis {
	if len(area.Modules) == a.ModuleCount() {
		return a
	}

	modules := make(map[string]*analyzer.ModuleInfo, len(area.Modules))
	topDirs := make(map[string]struct{})
	var totalBytes int64
	for _, name := range area.Modules {
		m, ok := a.Modules[name]
		if !ok {
			continue
		}
		modules[name] = m
		topDirs[m.TopDir] = struct{}{}
	}
	for _, f := range area.Files {
		totalBytes += f.Size
	}

	narrowed := &analyzer.Analysis{
		RepoPath:      a.RepoPath,
		Files:         area.Files,
		TotalBytes:    totalBytes,
		TokenEstimate: area.TokenEstimate,
		SizeLabel:     a.SizeLabel,
		Modules:       modules,
		Crates:        a.Crates,
	}
	for dir := range topDirs {
		narrowed.TopDirs = append(narrowed.TopDirs, dir)
	}
	return narrowed
}

func existingDocs(snap *store.Snapshot) []*store.Document {
	docs := make([]*store.Document, 0, len(snap.ByID))
	for _, id := range snap.DocIDs {
		docs = append(docs, snap.ByID[id])
	}
	return docs
}

func existingTitles(docs []*store.Document) []string {
	titles := make([]string, len(docs))
	for i, d := range docs {
		titles[i] = d.Title
	}
	return titles
}

// recordRenames maps old doc IDs to new ones for every blueprint page that
// declares replaces_title. The mapping is informational run output; the old
// page itself is handled by orphan cleanup like any other.
func recordRenames(stats *Stats, bp *planner.Blueprint, snap *store.Snapshot, repoURL string) {
	for _, spec := range bp.Documents {
		if spec.ReplacesTitle == "" {
			continue
		}
		for _, id := range snap.DocIDs {
			if snap.ByID[id].Title == spec.ReplacesTitle {
				stats.Renamed[id] = store.GenerateID(repoURL, spec.Path, spec.Title, spec.DocType)
				break
			}
		}
	}
}
