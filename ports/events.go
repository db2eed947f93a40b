package ports

import (
	"context"

	"github.com/layer-3/ferryman/core"
)

// EventPublisher notifies other instances about terminal settlement outcomes
type EventPublisher interface {
	PublishSettlement(ctx context.Context, event *core.SettlementEvent) error
}
