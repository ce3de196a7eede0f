package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTrip(t *testing.T) {
	msg, err := NewEventMessage(TypeAttendanceMarked, Event{CourseID: "c1", SessionID: "s1", StudentID: "u1"})
	require.NoError(t, err)

	got := deserialize(serialize(msg))
	assert.Equal(t, TypeAttendanceMarked, got.Type)

	evt, err := got.Event()
	require.NoError(t, err)
	assert.Equal(t, "c1", evt.CourseID)
	assert.Equal(t, "s1", evt.SessionID)
	assert.Equal(t, "u1", evt.StudentID)
}

func TestDeserializeWithoutType(t *testing.T) {
	got := deserialize("raw-body")
	assert.Empty(t, got.Type)
	assert.Equal(t, "raw-body", string(got.Body))
}

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	out, err := q.Consume(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, Message{Type: TypeSessionClosed, Body: []byte(`{}`)}))

	select {
	case msg := <-out:
		assert.Equal(t, TypeSessionClosed, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	select {
	case _, ok := <-out:
		assert.False(t, ok, "channel should close after cancel")
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "b"}), context.DeadlineExceeded)
}
