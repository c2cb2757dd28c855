// Package stream fans engine progress events out to external
// consumers over Redis pub/sub, so dashboards and workers can follow a
// generation run without holding an HTTP connection to this process.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"server/internal/engine"
)

const DefaultChannel = "engine.events"

// RedisPublisher mirrors broadcaster events onto a Redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
	cancel  func()
}

// NewRedisPublisher connects and verifies the Redis endpoint.
func NewRedisPublisher(url, channel string, logger zerolog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}, nil
}

// Watch drains a broadcaster subscription into Redis until Close.
// Publish failures are logged and dropped; the engine never blocks on
// a slow broker.
func (p *RedisPublisher) Watch(b *engine.Broadcaster) {
	events, cancel := b.Subscribe()
	p.cancel = cancel
	go func() {
		for e := range events {
			p.publish(e)
		}
	}()
}

func (p *RedisPublisher) publish(e engine.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error().Err(err).Msg("encode event for redis")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Warn().Err(err).Str("channel", p.channel).Msg("redis publish failed")
	}
}

// Close detaches from the broadcaster and closes the connection.
func (p *RedisPublisher) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	return p.client.Close()
}
