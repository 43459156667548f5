package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"diagrammer-backend/internal/models"
)

// SessionChannel is the pub/sub channel carrying one session's events.
func SessionChannel(sessionID uuid.UUID) string {
	return "session_updates:" + sessionID.String()
}

// RedisPublisher fans session events out to every WebSocket hub subscribed to the session.
type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(redisClient *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: redisClient}
}

// PublishUpdate sends a WebSocket update via Redis pub/sub
func (p *RedisPublisher) PublishUpdate(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", msg.Type, err)
	}
	return p.redis.Publish(ctx, SessionChannel(sessionID), data).Err()
}
