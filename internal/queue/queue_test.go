package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestInMemory_PublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewInMemory(4)

	require.NoError(t, q.Publish(ctx, Message{Type: "certificate.issued", Body: []byte(`{"reg":"FE123"}`)}))
	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	msg := receive(t, ch)
	assert.Equal(t, "certificate.issued", msg.Type)
	assert.JSONEq(t, `{"reg":"FE123"}`, string(msg.Body))

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestInMemory_FullBufferDrops(t *testing.T) {
	q := NewInMemory(1)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, Message{Type: "a"}))
	require.ErrorIs(t, q.Publish(ctx, Message{Type: "b"}), ErrFull)
}

func TestInMemory_CanceledPublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, NewInMemory(1).Publish(ctx, Message{}), context.Canceled)
}

func TestRedisQueue_PublishConsume(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewRedisQueue(client, "")

	require.NoError(t, q.Publish(ctx, Message{Type: "certificate.issued", Body: []byte("one|with pipe")}))
	require.NoError(t, q.Publish(ctx, Message{Type: "certificate.issued", Body: []byte("two")}))
	assert.True(t, mr.Exists("certify:issued"))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	first := receive(t, ch)
	assert.Equal(t, "certificate.issued", first.Type)
	assert.Equal(t, "one|with pipe", string(first.Body), "FIFO order and pipes in body survive")
	assert.Equal(t, "two", string(receive(t, ch).Body))
}

func TestDeserialize(t *testing.T) {
	assert.Equal(t, Message{Type: "t", Body: []byte("b|c")}, deserialize("t|b|c"))
	assert.Equal(t, Message{Body: []byte("raw")}, deserialize("raw"))
	assert.Equal(t, "t|b", serialize(Message{Type: "t", Body: []byte("b")}))
}

func TestNATSMessageMapping(t *testing.T) {
	m := toNATS("certify.issued", Message{Type: "certificate.issued", Body: []byte("x")})
	assert.Equal(t, "certify.issued", m.Subject)
	assert.Equal(t, Message{Type: "certificate.issued", Body: []byte("x")}, fromNATS(m))
}

func TestNATSQueue_PublishConsume(t *testing.T) {
	ns := natstest.RunRandClientPortServer()
	t.Cleanup(ns.Shutdown)
	conn, err := DialNATS(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewNATSQueue(conn, "certify.test."+time.Now().Format("150405.000000"))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Flush())
	require.NoError(t, q.Publish(ctx, Message{Type: "certificate.issued", Body: []byte("hello")}))

	msg := receive(t, ch)
	assert.Equal(t, "hello", string(msg.Body))
}
