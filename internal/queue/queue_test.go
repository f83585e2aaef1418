package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexwire/chatgate/internal/model"
)

func msg(id string) *model.OutboundMessage {
	return &model.OutboundMessage{ID: id, TenantID: "t1", To: "peer", Body: []byte("hi")}
}

func TestQueue_FIFO(t *testing.T) {
	q := New(10)
	require.NoError(t, q.Enqueue(msg("a")))
	require.NoError(t, q.Enqueue(msg("b")))
	require.NoError(t, q.Enqueue(msg("c")))

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		m, err := q.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, m.ID)
		q.Ack(m.ID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_CapacityBackpressure(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Enqueue(msg("a")))
	require.NoError(t, q.Enqueue(msg("b")))
	assert.ErrorIs(t, q.Enqueue(msg("c")), ErrFull)

	// freeing the head admits new messages again
	q.Ack("a")
	assert.NoError(t, q.Enqueue(msg("c")))
}

func TestQueue_NextKeepsHeadUntilAck(t *testing.T) {
	q := New(10)
	require.NoError(t, q.Enqueue(msg("a")))

	ctx := context.Background()
	m1, err := q.Next(ctx)
	require.NoError(t, err)
	m2, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, m1.ID, m2.ID)

	q.Ack("a")
	assert.Equal(t, 0, q.Len())
}

func TestQueue_NextBlocksUntilEnqueue(t *testing.T) {
	q := New(10)

	got := make(chan string, 1)
	go func() {
		m, err := q.Next(context.Background())
		if err == nil {
			got <- m.ID
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(msg("late")))

	select {
	case id := <-got:
		assert.Equal(t, "late", id)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up on enqueue")
	}
}

func TestQueue_NextHonorsContext(t *testing.T) {
	q := New(10)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_Close(t *testing.T) {
	q := New(10)
	require.NoError(t, q.Enqueue(msg("a")))
	require.NoError(t, q.Enqueue(msg("b")))

	pending := q.Close()
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "b", pending[1].ID)

	assert.ErrorIs(t, q.Enqueue(msg("c")), ErrClosed)

	_, err := q.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	// double close is a no-op
	assert.Nil(t, q.Close())
}
