package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intake-labs/ire/pkg/broker"
)

func TestMemoryDeliverAndAck(t *testing.T) {
	b := broker.NewMemory(8, 3)
	defer b.Close()

	require.NoError(t, b.Enqueue(context.Background(), broker.Job{MessageID: "m-1", RunID: "r-1"}))

	d, err := b.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "m-1", d.Job.MessageID)
	assert.Equal(t, 1, d.Attempt)
	require.NoError(t, b.Ack(context.Background(), d))
}

func TestMemoryNackRedelivers(t *testing.T) {
	b := broker.NewMemory(8, 3)
	defer b.Close()

	require.NoError(t, b.Enqueue(context.Background(), broker.Job{MessageID: "m-1", RunID: "r-1"}))

	d, err := b.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Nack(context.Background(), d))

	d2, err := b.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "m-1", d2.Job.MessageID)
	assert.Equal(t, 2, d2.Attempt)
}

func TestMemoryDeadLetterAfterMaxAttempts(t *testing.T) {
	b := broker.NewMemory(8, 2)
	defer b.Close()

	require.NoError(t, b.Enqueue(context.Background(), broker.Job{MessageID: "m-1", RunID: "r-1"}))

	for i := 0; i < 2; i++ {
		d, err := b.Dequeue(context.Background())
		require.NoError(t, err)
		require.NoError(t, b.Nack(context.Background(), d))
	}

	dead := b.Dead()
	require.Len(t, dead, 1)
	assert.Equal(t, "m-1", dead[0].Job.MessageID)
	assert.Equal(t, 2, dead[0].Attempt)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.Dequeue(ctx)
	require.Error(t, err, "dead-lettered job must not be redelivered")
}

func TestMemoryDequeueHonorsContext(t *testing.T) {
	b := broker.NewMemory(1, 3)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := b.Dequeue(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFileLeaseExclusion(t *testing.T) {
	dir := t.TempDir()
	a, err := broker.NewFileLease(dir, time.Minute)
	require.NoError(t, err)
	b, err := broker.NewFileLease(dir, time.Minute)
	require.NoError(t, err)

	got, err := a.Acquire(context.Background(), "m-1")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = b.Acquire(context.Background(), "m-1")
	require.NoError(t, err)
	assert.False(t, got, "held lease must not be acquirable")

	require.NoError(t, a.Refresh(context.Background(), "m-1"))
	require.NoError(t, a.Release(context.Background(), "m-1"))

	got, err = b.Acquire(context.Background(), "m-1")
	require.NoError(t, err)
	assert.True(t, got, "released lease must be acquirable")
}

func TestFileLeaseExpiryTakeover(t *testing.T) {
	dir := t.TempDir()
	a, err := broker.NewFileLease(dir, time.Millisecond)
	require.NoError(t, err)
	b, err := broker.NewFileLease(dir, time.Minute)
	require.NoError(t, err)

	got, err := a.Acquire(context.Background(), "m-1")
	require.NoError(t, err)
	require.True(t, got)

	time.Sleep(5 * time.Millisecond)

	got, err = b.Acquire(context.Background(), "m-1")
	require.NoError(t, err)
	assert.True(t, got, "expired lease must be taken over")

	err = a.Refresh(context.Background(), "m-1")
	require.Error(t, err, "old holder must notice the takeover")
}
