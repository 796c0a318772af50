package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectWithoutURLIsNoop(t *testing.T) {
	pub, err := Connect("")
	require.NoError(t, err)
	assert.IsType(t, Noop{}, pub)

	// Safe to use without a broker.
	pub.Publish(Event{Kind: KindRunStarted})
	pub.Close()
}

func TestEventWireShape(t *testing.T) {
	evt := Event{
		Kind:      KindJobCompleted,
		RepoURL:   "https://github.com/acme/widget",
		JobID:     "job-1",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "job.completed", decoded["kind"])
	assert.Equal(t, "job-1", decoded["job_id"])
	assert.NotContains(t, decoded, "area", "empty fields stay off the wire")
}
