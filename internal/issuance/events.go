package issuance

import (
	"context"
	"encoding/json"
	"fmt"

	"certify/internal/queue"
)

// EventIssued is the queue message type published after a certificate is
// produced. Its body is the JSON IssuanceRecord.
const EventIssued = "certificate.issued"

// Publisher is the write side of a queue.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// QueueNotifier publishes issuance events on a queue.
type QueueNotifier struct {
	pub Publisher
}

func NewQueueNotifier(pub Publisher) *QueueNotifier {
	return &QueueNotifier{pub: pub}
}

func (n *QueueNotifier) Notify(ctx context.Context, rec IssuanceRecord) error {
	msg, err := EncodeIssued(rec)
	if err != nil {
		return err
	}
	return n.pub.Publish(ctx, msg)
}

// EncodeIssued builds the queue message for rec.
func EncodeIssued(rec IssuanceRecord) (queue.Message, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return queue.Message{}, fmt.Errorf("encode issuance event: %w", err)
	}
	return queue.Message{Type: EventIssued, Body: body}, nil
}

// DecodeIssued parses an EventIssued message.
func DecodeIssued(msg queue.Message) (IssuanceRecord, error) {
	if msg.Type != EventIssued {
		return IssuanceRecord{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var rec IssuanceRecord
	if err := json.Unmarshal(msg.Body, &rec); err != nil {
		return IssuanceRecord{}, fmt.Errorf("decode issuance event: %w", err)
	}
	if !rec.Track.Valid() {
		return IssuanceRecord{}, fmt.Errorf("issuance event has unknown track %q", rec.Track)
	}
	return rec, nil
}
