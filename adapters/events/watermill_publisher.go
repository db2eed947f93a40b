package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/layer-3/ferryman/core"
	"github.com/layer-3/ferryman/ports"
)

const (
	// SettledTopic carries committed settlements.
	SettledTopic = "ferryman.settled"
	// FailedTopic carries permanent settlement failures.
	FailedTopic = "ferryman.failed"
)

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishSettlement publishes a terminal settlement outcome. Committed and
// failed settlements go to separate topics so consumers can subscribe to
// either.
func (p *WatermillPublisher) PublishSettlement(ctx context.Context, event *core.SettlementEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := SettledTopic
	if event.State == string(core.AttemptFailed) {
		topic = FailedTopic
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	msg.Metadata.Set("payment_key", event.PaymentKey)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
