// Package events announces stored tiles and finished runs on a message
// broker as JSON documents.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/wisepythagoras/matilda/internal/worker/domain"
)

// Routing keys
const (
	RoutingKeyTileStored  = "tile.stored"
	RoutingKeyRunFinished = "run.finished"

	contentTypeJSON = "application/json"
)

// Broker is the transport the publisher writes to. *rabbitmq.Client
// satisfies it.
type Broker interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Publisher implements worker.Publisher on top of a Broker
type Publisher struct {
	broker Broker
	logger *slog.Logger
	tiles  bool
}

// NewPublisher creates a new Publisher. When tiles is false only run
// summaries are published.
func NewPublisher(broker Broker, logger *slog.Logger, tiles bool) *Publisher {
	return &Publisher{
		broker: broker,
		logger: logger,
		tiles:  tiles,
	}
}

// PublishTile announces a tile written to the store
func (p *Publisher) PublishTile(ctx context.Context, event *domain.TileEvent) error {
	if !p.tiles {
		return nil
	}
	return p.publish(ctx, RoutingKeyTileStored, event)
}

// PublishRun announces the final state of a run
func (p *Publisher) PublishRun(ctx context.Context, run *domain.Run) error {
	if err := p.publish(ctx, RoutingKeyRunFinished, run); err != nil {
		return err
	}

	p.logger.Info("Run summary published",
		slog.String("run_id", run.RunID),
		slog.String("status", run.Status),
	)
	return nil
}

func (p *Publisher) publish(ctx context.Context, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", routingKey, err)
	}

	if err := p.broker.PublishWithRetry(ctx, routingKey, body, contentTypeJSON); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", routingKey, err)
	}
	return nil
}
