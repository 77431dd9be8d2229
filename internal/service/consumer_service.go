// FILE: internal/service/consumer_service.go
package service

import (
	"context"
	"encoding/json"
	"time"

	"image-labeler-be/internal/pkg/logger"
	"image-labeler-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
)

// EventForwarder ships events outside the process (NATS in production).
type EventForwarder interface {
	Publish(ctx context.Context, event events.Event) error
}

type IConsumerService interface {
	Consume(ctx context.Context) error
}

type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	audit      logger.ILogger
	forwarder  EventForwarder
}

// NewConsumerService writes every labeler event to the audit log and, when
// forwarder is non-nil, relays it to the external bus.
func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	audit logger.ILogger,
	forwarder EventForwarder,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		audit:      audit,
		forwarder:  forwarder,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var event events.BaseEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		cs.audit.Error("EVENTS", "Failed to unmarshal event", map[string]interface{}{
			"error":      err.Error(),
			"message_id": msg.UUID,
		})
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	details := map[string]interface{}{
		"event_type":  event.Type,
		"occurred_at": event.OccurredAt.Format(time.RFC3339Nano),
	}
	for k, v := range event.Data {
		details[k] = v
	}
	if event.Type == events.TypeAnalysisFailed {
		cs.audit.Warn("AUDIT", event.Type, details)
	} else {
		cs.audit.Info("AUDIT", event.Type, details)
	}

	if cs.forwarder != nil {
		fctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := cs.forwarder.Publish(fctx, event); err != nil {
			cs.audit.Warn("EVENTS", "Failed to forward event", map[string]interface{}{
				"event_type": event.Type,
				"error":      err.Error(),
			})
		}
		cancel()
	}

	msg.Ack()
}
