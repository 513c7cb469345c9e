package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePreservesOrder(t *testing.T) {
	q := NewQueue(8)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Publish(ctx, Event{Kind: KindInput, At: time.Unix(int64(i), 0)}))
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		ev := <-q.Events()
		assert.Equal(t, int64(i), ev.At.Unix())
	}
}

func TestQueuePublishStampsTime(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Publish(context.Background(), Event{Kind: KindAlert}))
	ev := <-q.Events()
	assert.False(t, ev.At.IsZero())
}

func TestQueuePublishHonoursCancellation(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Publish(context.Background(), Event{Kind: KindInput}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Publish(ctx, Event{Kind: KindInput})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
