package realtime

import (
	"context"
	"encoding/json"

	"github.com/marketingguide/mgai-api/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ProgressChannel is the Redis channel that carries progress between instances.
const ProgressChannel = "mgai:progress"

// ProgressMessageType is the envelope type of progress messages.
const ProgressMessageType = "document.progress"

// LocalPublisher broadcasts progress to this instance's hub only.
type LocalPublisher struct {
	hub *Hub
}

// NewLocalPublisher creates a publisher for single-instance deployments.
func NewLocalPublisher(hub *Hub) *LocalPublisher {
	return &LocalPublisher{hub: hub}
}

// PublishProgress implements port.ProgressPublisher.
func (p *LocalPublisher) PublishProgress(_ context.Context, ev *domain.ProgressEvent) {
	deliver(p.hub, ev)
}

func deliver(hub *Hub, ev *domain.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		hub.logger.Error("realtime: marshal progress", zap.Error(err))
		return
	}
	hub.BroadcastToRoom(ProjectRoom(ev.ProjectID), &Message{Type: ProgressMessageType, Data: data})
}

// RedisPublisher publishes progress to Redis so every instance's Relay
// delivers it to its own clients.
type RedisPublisher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisPublisher creates a publisher backed by Redis pub/sub.
func NewRedisPublisher(rdb *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, logger: logger}
}

// PublishProgress implements port.ProgressPublisher. Failures are logged;
// progress is advisory and the document row stays the source of truth.
func (p *RedisPublisher) PublishProgress(ctx context.Context, ev *domain.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("realtime: marshal progress", zap.Error(err))
		return
	}
	if err := p.rdb.Publish(ctx, ProgressChannel, data).Err(); err != nil {
		p.logger.Warn("realtime: publish progress",
			zap.String("document_id", ev.DocumentID),
			zap.Error(err),
		)
	}
}

// Relay forwards progress published on Redis into the local hub.
type Relay struct {
	rdb *redis.Client
	hub *Hub
}

// NewRelay creates a relay.
func NewRelay(rdb *redis.Client, hub *Hub) *Relay {
	return &Relay{rdb: rdb, hub: hub}
}

// Run subscribes and relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, ProgressChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.hub.logger.Warn("realtime: malformed relay payload", zap.Error(err))
				continue
			}
			deliver(r.hub, &ev)
		}
	}
}
