package gateway

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Topic name constructors for the two topic families.
func presenceTopic(username string) string { return "presence:" + username }
func channelTopic(channelID string) string { return "channel:" + channelID }

// Publisher writes encoded frames to broker topics. One publisher handle serves the whole process.
type Publisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewPublisher creates a topic publisher.
func NewPublisher(rdb *redis.Client, logger zerolog.Logger) *Publisher {
	return &Publisher{rdb: rdb, log: logger}
}

// Publish writes a frame to a topic. The broker provides single-topic total order, so every subscriber observes a
// topic's frames in publish order.
func (p *Publisher) Publish(ctx context.Context, topic string, frame []byte) error {
	if err := p.rdb.Publish(ctx, topic, frame).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
