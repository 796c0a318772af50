package scout

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/analyzer"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/metrics"
)

const (
	// parallelThreshold: smaller waves run sequentially, the pool overhead
	// is not worth it.
	parallelThreshold = 3
	retryBackoff      = 2 * time.Second
)

// Task is one scheduled scout.
type Task struct {
	Key    string
	Prompt string
	Retry  bool // topic scouts retry once; module scouts do not
}

// Pool executes scout tasks. Each task gets its own client from NewClient
// so no conversation state crosses scouts.
type Pool struct {
	Parallel  int
	NewClient func() (Completer, error)
	TempDir   string // defaults to os.TempDir()
}

const systemPrompt = `You are a code scout. You explore a repository and produce a dense,
factual markdown report for a documentation planner. Report concrete names:
files, types, functions, endpoints, config keys. No speculation, no filler.`

// topicInstructions frame what each topic scout hunts for.
var topicInstructions = map[string]string{
	TopicStructure:    "Map the repository layout: top-level directories, their roles, where the entry points live, how the pieces are organized.",
	TopicArchitecture: "Describe the runtime architecture: core components, how data flows between them, concurrency model, key abstractions and their relationships.",
	TopicAPI:          "Catalogue every external surface: HTTP routes, RPC methods, CLI commands, public library entry points, request and response shapes.",
	TopicInfra:        "Report build, deployment and operational concerns: build tooling, containerization, CI workflows, configuration surface, external services.",
	TopicTests:        "Survey the test suite: frameworks, coverage patterns, fixtures, how tests are organized and run.",
}

// TopicTasks builds the tasks for a set of topic keys.
func TopicTasks(a *analyzer.Analysis, topics []string, ratio float64) []Task {
	tasks := make([]Task, 0, len(topics))
	for _, key := range topics {
		var sb strings.Builder
		sb.WriteString(topicInstructions[key])
		sb.WriteString("\n\n")
		sb.WriteString(Constraints(ratio))
		sb.WriteString("\n\n")
		sb.WriteString(BuildManifest(a, key, ratio))
		tasks = append(tasks, Task{Key: key, Prompt: sb.String(), Retry: true})
	}
	return tasks
}

// ModuleTasks builds one task per module bucket.
func ModuleTasks(a *analyzer.Analysis, buckets [][]string, ratio float64) []Task {
	tasks := make([]Task, 0, len(buckets))
	for i, bucket := range buckets {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Report on these modules in depth: %s.\n", strings.Join(bucket, ", "))
		sb.WriteString("For each: purpose, public surface, key types and functions, dependencies on the other modules.\n\n")
		sb.WriteString(Constraints(ratio))
		sb.WriteString("\n\n")
		sb.WriteString(BuildManifest(a, "", ratio))
		tasks = append(tasks, Task{Key: ModuleKey(i), Prompt: sb.String()})
	}
	return tasks
}

// Run executes all tasks and returns one report per task, failure markers
// included, in task order.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Report {
	reports := make([]Report, len(tasks))

	if len(tasks) < parallelThreshold {
		for i, task := range tasks {
			reports[i] = p.runOne(ctx, task)
		}
		return reports
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel())
	for i, task := range tasks {
		g.Go(func() error {
			reports[i] = p.runOne(gctx, task)
			return nil
		})
	}
	_ = g.Wait() // individual failures become marker reports, never errors
	return reports
}

func (p *Pool) parallel() int {
	if p.Parallel > 0 {
		return p.Parallel
	}
	return 4
}

func (p *Pool) runOne(ctx context.Context, task Task) Report {
	started := time.Now()
	content, err := p.attempt(ctx, task)
	if err != nil && task.Retry {
		slog.Warn("scout failed, retrying once",
			logfields.Scout(task.Key), logfields.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(retryBackoff):
			content, err = p.attempt(ctx, task)
		}
	}
	if err != nil {
		slog.Error("scout failed", logfields.Scout(task.Key), logfields.Error(err))
		metrics.ScoutReports.WithLabelValues("failed").Inc()
		return Report{
			Key:     task.Key,
			Content: fmt.Sprintf("SCOUT FAILED (%s): %v\nNo report available for this key.", task.Key, err),
			Failed:  true,
		}
	}
	slog.Info("scout finished",
		logfields.Scout(task.Key),
		slog.Duration("elapsed", time.Since(started)),
		logfields.Count(len(content)))
	metrics.ScoutReports.WithLabelValues("ok").Inc()
	return Report{Key: task.Key, Content: content}
}

// attempt runs one scout: fresh client, one completion, report written to a
// process-unique path and read back.
func (p *Pool) attempt(ctx context.Context, task Task) (string, error) {
	client, err := p.NewClient()
	if err != nil {
		return "", fmt.Errorf("scout %s: create client: %w", task.Key, err)
	}
	out, err := client.CompleteWithSystem(ctx, systemPrompt, task.Prompt)
	if err != nil {
		return "", fmt.Errorf("scout %s: %w", task.Key, err)
	}

	dir := p.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	reportPath := filepath.Join(dir, fmt.Sprintf("scout_report_%s_%s.md", task.Key, uuid.NewString()[:8]))
	if err := os.WriteFile(reportPath, []byte(out), 0o644); err != nil {
		return "", fmt.Errorf("scout %s: write report: %w", task.Key, err)
	}
	data, err := os.ReadFile(reportPath)
	if err != nil {
		return "", fmt.Errorf("scout %s: read report back: %w", task.Key, err)
	}
	_ = os.Remove(reportPath)
	return string(data), nil
}
