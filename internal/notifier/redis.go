package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/inmobiliario/crawlsched/internal/domain"
	"github.com/inmobiliario/crawlsched/internal/logger"
)

// StreamName is the Redis stream execution events are published to.
const StreamName = "crawlsched:executions"

// RedisNotifier publishes execution events to a Redis stream.
type RedisNotifier struct {
	client *redis.Client
	log    logger.Logger
}

// NewRedisNotifier creates a Redis-backed notifier.
// Returns nil if client is nil, and a nil notifier no-ops.
func NewRedisNotifier(client *redis.Client, log logger.Logger) *RedisNotifier {
	if client == nil {
		return nil
	}
	return &RedisNotifier{
		client: client,
		log:    log,
	}
}

// NotifyExecution sends an execution event to the Redis stream.
func (n *RedisNotifier) NotifyExecution(ctx context.Context, event *domain.ExecutionEvent) error {
	if n == nil || n.client == nil {
		return nil // No-op if notifier not configured
	}

	// Ensure event has ID and timestamp
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	result := n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName,
		Values: map[string]any{
			"event": string(payload),
		},
	})

	if publishErr := result.Err(); publishErr != nil {
		if n.log != nil {
			n.log.Error("Failed to publish execution event",
				logger.String("execution_id", event.ExecutionID),
				logger.String("status", event.Status),
				logger.Error(publishErr),
			)
		}
		return fmt.Errorf("publish to stream: %w", publishErr)
	}

	if n.log != nil {
		n.log.Debug("Published execution event",
			logger.String("execution_id", event.ExecutionID),
			logger.String("status", event.Status),
			logger.String("stream_id", result.Val()),
		)
	}

	return nil
}

// Close releases the underlying Redis connection.
func (n *RedisNotifier) Close() error {
	if n == nil || n.client == nil {
		return nil
	}
	return n.client.Close()
}

var _ Notifier = (*RedisNotifier)(nil)
