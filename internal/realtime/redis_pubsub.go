package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// EventsChannel is the Redis channel classroom broadcasts are mirrored to.
	EventsChannel = "classroom:events"
	eventTTL      = 5 * time.Second
	mirrorBuffer  = 1024
)

// redisPayload is the message published to Redis for observers.
type redisPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// Publisher is the subset of go-redis used by the mirror. *redis.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisMirror publishes hub broadcasts to a Redis channel. Mirror never blocks the caller;
// Run drains the queue.
type RedisMirror struct {
	client  Publisher
	channel string
	logger  *zap.Logger
	queue   chan redisPayload
}

// NewRedisMirror creates a mirror publishing to channel (EventsChannel when empty).
func NewRedisMirror(client Publisher, channel string, logger *zap.Logger) *RedisMirror {
	if channel == "" {
		channel = EventsChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisMirror{
		client:  client,
		channel: channel,
		logger:  logger,
		queue:   make(chan redisPayload, mirrorBuffer),
	}
}

// Mirror queues an event for publishing. Events are discarded when the queue is full.
func (r *RedisMirror) Mirror(event string, data []byte) {
	p := redisPayload{Event: event, Data: append(json.RawMessage(nil), data...), At: time.Now().Unix()}
	select {
	case r.queue <- p:
	default:
		r.logger.Warn("redis mirror queue full, event not mirrored", zap.String("event", event))
	}
}

// Run publishes queued events until ctx is done.
func (r *RedisMirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-r.queue:
			if err := r.publish(ctx, p); err != nil {
				r.logger.Warn("redis mirror publish failed", zap.String("event", p.Event), zap.Error(err))
			}
		}
	}
}

func (r *RedisMirror) publish(ctx context.Context, p redisPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, eventTTL)
	defer cancel()
	return r.client.Publish(ctx, r.channel, body).Err()
}
