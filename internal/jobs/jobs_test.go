package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := OpenQueue(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestEnqueueDeduplicates(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, "https://github.com/acme/widget", "sha1")
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, "https://github.com/acme/widget", "sha1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID, "same repo+sha dedupes")

	c, err := q.Enqueue(ctx, "https://github.com/acme/widget", "sha2")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID, "new commit gets a new job")

	// A running job still blocks duplicates.
	claimed, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	require.Equal(t, a.ID, claimed.ID)
	d, err := q.Enqueue(ctx, "https://github.com/acme/widget", "sha1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, d.ID)

	// A completed job does not.
	require.NoError(t, q.Complete(ctx, a.ID))
	e, err := q.Enqueue(ctx, "https://github.com/acme/widget", "sha1")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, e.ID)
}

func TestClaimNextOrderAndEmpty(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "empty queue claims nothing")

	first, err := q.Enqueue(ctx, "https://github.com/acme/one", "s1")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond) // distinct created_at
	_, err = q.Enqueue(ctx, "https://github.com/acme/two", "s2")
	require.NoError(t, err)

	claimed, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID, "oldest first")
	assert.Equal(t, StatusRunning, claimed.Status)
	assert.NotNil(t, claimed.StartedAt)
}

func TestFailRetriesOnceThenTerminal(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "https://github.com/acme/widget", "sha1")
	require.NoError(t, err)
	_, err = q.ClaimNext(ctx)
	require.NoError(t, err)

	// First failure requeues.
	require.NoError(t, q.Fail(ctx, job.ID, "boom"))
	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "boom", got.Error)

	// Second failure is terminal.
	_, err = q.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, job.ID, "boom again"))
	got, err = q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.NotNil(t, got.CompletedAt)
}

func TestDepth(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	n, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = q.Enqueue(ctx, "https://github.com/acme/one", "s1")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "https://github.com/acme/two", "s2")
	require.NoError(t, err)

	n, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWorkerRunsJobSubprocess(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := q.Enqueue(ctx, "https://github.com/acme/widget", "sha1")
	require.NoError(t, err)

	w := &Worker{
		Queue:        q,
		PollInterval: 5 * time.Millisecond,
		JobTimeout:   5 * time.Second,
		Command:      []string{"true"}, // exits 0 regardless of --repo args
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		got, err := q.Get(context.Background(), job.ID)
		return err == nil && got.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestWorkerRecordsStderrTail(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := q.Enqueue(ctx, "https://github.com/acme/widget", "sha1")
	require.NoError(t, err)

	w := &Worker{
		Queue:        q,
		PollInterval: 5 * time.Millisecond,
		JobTimeout:   5 * time.Second,
		Command:      []string{"sh", "-c", "echo catastrophic failure >&2; exit 1"},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	// One failure requeues, the retry fails again, terminal.
	require.Eventually(t, func() bool {
		got, err := q.Get(context.Background(), job.ID)
		return err == nil && got.Status == StatusFailed
	}, 10*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	got, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Error, "catastrophic failure")
	assert.Equal(t, 2, got.RetryCount)
}

func TestStderrTailTruncation(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	out := tail(string(long), stderrTailLen)
	assert.Len(t, out, stderrTailLen)
	assert.Equal(t, "pipeline exited non-zero", tail("", stderrTailLen))
}
