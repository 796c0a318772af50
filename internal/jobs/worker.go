package jobs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/events"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/metrics"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/store"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultJobTimeout   = 30 * time.Minute
	stderrTailLen       = 500
	purgeRetentionDays  = 30
)

// Worker claims jobs one at a time and runs the pipeline as a subprocess.
// At-least-once: the pipeline downstream is idempotent, so a retried job is
// harmless.
type Worker struct {
	Queue        *Queue
	Store        *store.Store // for the scheduled trash purge; may be nil
	Events       events.Publisher
	PollInterval time.Duration
	JobTimeout   time.Duration
	// Command is the pipeline invocation; the job's repo URL is appended
	// after "--repo". Example: {"/usr/local/bin/isocrates", "pipeline"}.
	Command []string
}

// Run loops until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.Events == nil {
		w.Events = events.Noop{}
	}

	scheduler := w.startPurgeSchedule(ctx)
	if scheduler != nil {
		defer func() { _ = scheduler.Shutdown() }()
	}

	slog.Info("worker started", slog.Duration("poll_interval", w.pollInterval()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := w.Queue.ClaimNext(ctx)
		if err != nil {
			slog.Error("claim failed", logfields.Error(err))
		}
		if job == nil {
			if depth, err := w.Queue.Depth(ctx); err == nil {
				metrics.QueueDepth.Set(float64(depth))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollInterval()):
			}
			continue
		}

		w.runJob(ctx, job)
	}
}

func (w *Worker) runJob(ctx context.Context, job *Job) {
	slog.Info("job started",
		logfields.JobID(job.ID),
		logfields.Repo(job.RepoURL),
		logfields.Commit(job.CommitSHA))
	w.Events.Publish(events.Event{Kind: events.KindJobStarted, JobID: job.ID, RepoURL: job.RepoURL})

	started := time.Now()
	err := w.runPipeline(ctx, job)
	metrics.JobDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		slog.Error("job failed",
			logfields.JobID(job.ID),
			slog.Duration("elapsed", time.Since(started)),
			logfields.Error(err))
		if ferr := w.Queue.Fail(ctx, job.ID, err.Error()); ferr != nil {
			slog.Error("recording job failure failed", logfields.JobID(job.ID), logfields.Error(ferr))
		}
		w.Events.Publish(events.Event{
			Kind: events.KindJobFailed, JobID: job.ID, RepoURL: job.RepoURL,
			Detail: map[string]any{"error": err.Error()},
		})
		return
	}

	if cerr := w.Queue.Complete(ctx, job.ID); cerr != nil {
		slog.Error("recording job completion failed", logfields.JobID(job.ID), logfields.Error(cerr))
	}
	slog.Info("job completed",
		logfields.JobID(job.ID),
		slog.Duration("elapsed", time.Since(started)))
	w.Events.Publish(events.Event{Kind: events.KindJobCompleted, JobID: job.ID, RepoURL: job.RepoURL})
}

// runPipeline spawns the pipeline subprocess with a wall-clock deadline.
func (w *Worker) runPipeline(ctx context.Context, job *Job) error {
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout())
	defer cancel()

	args := append(append([]string{}, w.Command[1:]...), "--repo", job.RepoURL)
	cmd := exec.CommandContext(jobCtx, w.Command[0], args...)
	// Pagers hang headless git invocations inside the pipeline.
	cmd.Env = append(os.Environ(), "GIT_PAGER=cat")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		return errors.New("timed out")
	}
	return errors.New(tail(stderr.String(), stderrTailLen))
}

func tail(s string, n int) string {
	if s == "" {
		return "pipeline exited non-zero"
	}
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// startPurgeSchedule runs the trash purge daily. Documents soft-deleted
// more than 30 days ago are removed for good.
func (w *Worker) startPurgeSchedule(ctx context.Context) gocron.Scheduler {
	if w.Store == nil {
		return nil
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		slog.Warn("purge scheduler unavailable", logfields.Error(err))
		return nil
	}
	_, err = scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
		gocron.NewTask(func() {
			if _, err := w.Store.PurgeExpired(ctx, purgeRetentionDays); err != nil {
				slog.Error("trash purge failed", logfields.Error(err))
			}
		}),
	)
	if err != nil {
		slog.Warn("purge job not scheduled", logfields.Error(err))
		return nil
	}
	scheduler.Start()
	return scheduler
}

func (w *Worker) pollInterval() time.Duration {
	if w.PollInterval > 0 {
		return w.PollInterval
	}
	return defaultPollInterval
}

func (w *Worker) jobTimeout() time.Duration {
	if w.JobTimeout > 0 {
		return w.JobTimeout
	}
	return defaultJobTimeout
}
