package queue

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

const typeHeader = "Certify-Type"

// NATSQueue publishes to a subject and consumes through a queue group, so
// several workers share the stream.
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	group   string
}

// DialNATS connects to url.
func DialNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("certify"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

// NewNATSQueue builds a queue on an existing connection.
func NewNATSQueue(conn *nats.Conn, subject string) *NATSQueue {
	if subject == "" {
		subject = "certify.issued"
	}
	return &NATSQueue{conn: conn, subject: subject, group: "certify-workers"}
}

// Publish sends msg with its type in a header.
func (q *NATSQueue) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.conn.PublishMsg(toNATS(q.subject, msg))
}

// Consume subscribes in the queue group until ctx ends.
func (q *NATSQueue) Consume(ctx context.Context) (<-chan Message, error) {
	in := make(chan *nats.Msg, 64)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, q.group, in)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", q.subject, err)
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case m := <-in:
				select {
				case out <- fromNATS(m):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func toNATS(subject string, msg Message) *nats.Msg {
	m := nats.NewMsg(subject)
	m.Header.Set(typeHeader, msg.Type)
	m.Data = msg.Body
	return m
}

func fromNATS(m *nats.Msg) Message {
	return Message{Type: m.Header.Get(typeHeader), Body: m.Data}
}
