package roster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantation/internal/attendance"
	"plantation/internal/queue"
)

func TestApplyTracksCheckInsAndOuts(t *testing.T) {
	ctx := context.Background()
	r := New(NewMemoryBackend())

	require.NoError(t, r.Apply(ctx, attendance.TapEvent{Action: attendance.ActionCheckIn, WorkerID: "W2", ZoneID: "Z1"}))
	require.NoError(t, r.Apply(ctx, attendance.TapEvent{Action: attendance.ActionCheckIn, WorkerID: "W1", ZoneID: "Z1"}))
	require.NoError(t, r.Apply(ctx, attendance.TapEvent{Action: attendance.ActionCheckIn, WorkerID: "W3", ZoneID: "Z2"}))

	onsite, err := r.OnSite(ctx, "Z1")
	require.NoError(t, err)
	assert.Equal(t, []string{"W1", "W2"}, onsite)

	require.NoError(t, r.Apply(ctx, attendance.TapEvent{Action: attendance.ActionCheckOut, WorkerID: "W2", ZoneID: "Z1"}))
	onsite, err = r.OnSite(ctx, "Z1")
	require.NoError(t, err)
	assert.Equal(t, []string{"W1"}, onsite)

	assert.Error(t, r.Apply(ctx, attendance.TapEvent{Action: "PAUSE", WorkerID: "W1", ZoneID: "Z1"}))
}

func TestRebuildReplacesStaleState(t *testing.T) {
	ctx := context.Background()
	r := New(NewMemoryBackend())
	require.NoError(t, r.Apply(ctx, attendance.TapEvent{Action: attendance.ActionCheckIn, WorkerID: "ghost", ZoneID: "Z9"}))

	require.NoError(t, r.Rebuild(ctx, []attendance.Shift{
		{WorkerID: "W1", ZoneID: "Z1"},
		{WorkerID: "W4", ZoneID: "Z1"},
	}))

	onsite, err := r.OnSite(ctx, "Z1")
	require.NoError(t, err)
	assert.Equal(t, []string{"W1", "W4"}, onsite)

	onsite, err = r.OnSite(ctx, "Z9")
	require.NoError(t, err)
	assert.Empty(t, onsite)
}

func TestConsumeAppliesQueuedTaps(t *testing.T) {
	ctx := context.Background()
	q := queue.NewInMemory(4)
	pub := queue.TapPublisher{Queue: q}
	require.NoError(t, pub.PublishTap(ctx, attendance.TapEvent{Action: attendance.ActionCheckIn, WorkerID: "W1", ZoneID: "Z1"}))
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "noise", Body: []byte(`{}`)}))
	require.NoError(t, pub.PublishTap(ctx, attendance.TapEvent{Action: attendance.ActionCheckIn, WorkerID: "W2", ZoneID: "Z1"}))

	consumeCtx, cancel := context.WithCancel(ctx)
	msgs, err := q.Consume(consumeCtx)
	require.NoError(t, err)

	r := New(NewMemoryBackend())
	done := make(chan struct{})
	go func() {
		r.Consume(ctx, msgs)
		close(done)
	}()

	require.Eventually(t, func() bool {
		onsite, _ := r.OnSite(ctx, "Z1")
		return len(onsite) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
