// Package redis publishes asset lifecycle events on a Redis pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tendant/simple-assets/pkg/simpleassets"
)

const (
	EventAssetCreated = "asset.created"
	EventAssetDeleted = "asset.deleted"
)

// Message is the JSON payload published for every event
type Message struct {
	Event      string              `json:"event"`
	AssetID    string              `json:"asset_id"`
	OwnerType  string              `json:"owner_type"`
	OwnerID    string              `json:"owner_id"`
	AssetType  string              `json:"asset_type"`
	URL        string              `json:"url,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
	Asset      *simpleassets.Asset `json:"asset,omitempty"`
}

// Sink implements simpleassets.EventSink
type Sink struct {
	client  redis.UniversalClient
	channel string
	now     func() time.Time
}

// New creates a sink publishing to channel
func New(client redis.UniversalClient, channel string) *Sink {
	return &Sink{client: client, channel: channel, now: time.Now}
}

func (s *Sink) AssetCreated(ctx context.Context, asset *simpleassets.Asset) error {
	return s.publish(ctx, EventAssetCreated, asset)
}

func (s *Sink) AssetDeleted(ctx context.Context, asset *simpleassets.Asset) error {
	return s.publish(ctx, EventAssetDeleted, asset)
}

func (s *Sink) publish(ctx context.Context, event string, asset *simpleassets.Asset) error {
	msg := Message{
		Event:      event,
		AssetID:    asset.ID.String(),
		OwnerType:  string(asset.Owner.Type),
		OwnerID:    asset.Owner.ID,
		AssetType:  string(asset.Type),
		URL:        asset.URL,
		OccurredAt: s.now().UTC(),
	}
	if event == EventAssetCreated {
		msg.Asset = asset
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event, err)
	}
	return nil
}
