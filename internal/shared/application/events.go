package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/queuecast/queuecast/internal/shared/domain"
	"github.com/queuecast/queuecast/internal/shared/infrastructure/eventbus"
)

// eventEnvelope is the wire form of a domain event.
type eventEnvelope struct {
	EventID       uuid.UUID `json:"event_id"`
	AggregateID   uuid.UUID `json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	RoutingKey    string    `json:"routing_key"`
	OccurredAt    time.Time `json:"occurred_at"`
	Event         any       `json:"event"`
}

// PublishDomainEvents drains the uncommitted events of the given aggregates
// and publishes them, best effort, after the owning transaction committed.
// Publish failures are logged and swallowed: billing state is the source of
// truth and event delivery never gates it.
func PublishDomainEvents(ctx context.Context, publisher eventbus.Publisher, logger *slog.Logger, roots ...domain.AggregateRoot) {
	if publisher == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, root := range roots {
		for _, ev := range root.DomainEvents() {
			body, err := json.Marshal(eventEnvelope{
				EventID:       ev.EventID(),
				AggregateID:   ev.AggregateID(),
				AggregateType: ev.AggregateType(),
				RoutingKey:    ev.RoutingKey(),
				OccurredAt:    ev.OccurredAt(),
				Event:         ev,
			})
			if err != nil {
				logger.Error("failed to encode domain event",
					"routing_key", ev.RoutingKey(),
					"error", err,
				)
				continue
			}
			if err := publisher.Publish(ctx, ev.RoutingKey(), body); err != nil {
				logger.Warn("failed to publish domain event",
					"routing_key", ev.RoutingKey(),
					"error", err,
				)
			}
		}
		root.ClearDomainEvents()
	}
}
