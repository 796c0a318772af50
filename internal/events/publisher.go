// Package events publishes pipeline lifecycle events to NATS.
//
// Events are fire-and-forget control-plane notifications (dashboards, ops
// tooling); the pipeline never blocks on them and runs unchanged when no
// NATS server is configured.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
)

// Event is one pipeline lifecycle notification.
type Event struct {
	Kind      string         `json:"kind"`
	RepoURL   string         `json:"repo_url,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	Area      string         `json:"area,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Event kinds emitted by the orchestrator and worker.
const (
	KindRunStarted   = "run.started"
	KindScoutsDone   = "run.scouts_done"
	KindPlanReady    = "run.plan_ready"
	KindWaveDone     = "run.wave_done"
	KindCleanupDone  = "run.cleanup_done"
	KindRunFinished  = "run.finished"
	KindJobQueued    = "job.queued"
	KindJobStarted   = "job.started"
	KindJobCompleted = "job.completed"
	KindJobFailed    = "job.failed"
)

const subjectPrefix = "isocrates.events."

// Publisher delivers events somewhere; the zero-value Noop discards them.
type Publisher interface {
	Publish(evt Event)
	Close()
}

// Noop discards all events.
type Noop struct{}

func (Noop) Publish(Event) {}
func (Noop) Close()        {}

// NATSPublisher publishes events on "isocrates.events.<kind>".
type NATSPublisher struct {
	conn *nats.Conn
}

// Connect dials NATS. Empty url returns a Noop publisher.
func Connect(url string) (Publisher, error) {
	if url == "" {
		return Noop{}, nil
	}
	conn, err := nats.Connect(url, nats.Name("isocrates"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	slog.Info("NATS event publisher connected", slog.String("url", url))
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("event marshal failed", logfields.Error(err))
		return
	}
	if err := p.conn.Publish(subjectPrefix+evt.Kind, payload); err != nil {
		slog.Warn("event publish failed", slog.String("kind", evt.Kind), logfields.Error(err))
	}
}

func (p *NATSPublisher) Close() {
	_ = p.conn.Drain()
}
