package bus

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DeadLetter is the record written to the dead-letter topic.
type DeadLetter struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"` // base64
	ErrorMessage  string `json:"error_message"`
	FailedAt      string `json:"failed_at"` // RFC3339
	EventKind     string `json:"event_kind,omitempty"`
	EventID       string `json:"event_id,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
}

// DLQPublisher writes poison messages to a dedicated topic.
type DLQPublisher struct {
	logger *zap.Logger
	pub    Publisher
	topic  string
}

func NewDLQPublisher(logger *zap.Logger, pub Publisher, topic string) *DLQPublisher {
	return &DLQPublisher{logger: logger, pub: pub, topic: topic}
}

// Topic returns the dead-letter topic name.
func (p *DLQPublisher) Topic() string {
	return p.topic
}

// Publish records msg together with cause. kind, eventID and orderID are
// whatever could be recovered from the body, possibly empty.
func (p *DLQPublisher) Publish(ctx context.Context, msg Message, cause error, kind, eventID, orderID string) error {
	errorMsg := "unknown error"
	if cause != nil {
		errorMsg = cause.Error()
	}

	value, err := json.Marshal(DeadLetter{
		OriginalTopic: msg.Topic,
		OriginalKey:   msg.Key,
		OriginalValue: base64.StdEncoding.EncodeToString(msg.Body),
		ErrorMessage:  errorMsg,
		FailedAt:      time.Now().UTC().Format(time.RFC3339),
		EventKind:     kind,
		EventID:       eventID,
		OrderID:       orderID,
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	if err := p.pub.Publish(ctx, Message{Topic: p.topic, Key: msg.Key, Body: value}); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}

	p.logger.Warn("message sent to DLQ",
		zap.String("dlq_topic", p.topic),
		zap.String("original_topic", msg.Topic),
		zap.String("order_id", orderID),
		zap.String("error", errorMsg),
	)
	return nil
}
