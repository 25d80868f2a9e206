package publish

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"

	"paperTrading/internal/model"
)

type recordingWriter struct {
	messages []kafka.Message
	closed   bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherKeysByEntityID(t *testing.T) {
	writer := &recordingWriter{}
	publisher := NewKafkaPublisherWithWriter(writer, "paper.entities", nil)

	entity := model.Entity{
		ID:   "0xabc00000000",
		Kind: model.KindOwnershipTransferred,
		OwnershipTransferred: &model.OwnershipTransferred{
			PreviousOwner: "0x0000000000000000000000000000000000000000",
			NewOwner:      "0x1111111111111111111111111111111111111111",
		},
	}
	if err := publisher.Publish(context.Background(), []model.Entity{entity}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != string(entity.ID) {
		t.Fatalf("key mismatch: %s", msg.Key)
	}

	var decoded Message
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != model.KindOwnershipTransferred || decoded.Entity.OwnershipTransferred.NewOwner != entity.OwnershipTransferred.NewOwner {
		t.Fatalf("payload mismatch: %+v", decoded)
	}

	if err := publisher.Publish(context.Background(), nil); err != nil || len(writer.messages) != 1 {
		t.Fatalf("empty publish should be a no-op")
	}
	if err := publisher.Close(); err != nil || !writer.closed {
		t.Fatalf("close not forwarded")
	}
}
