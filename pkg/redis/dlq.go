package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DLQStream is the Redis stream holding messages that could not be processed.
const DLQStream = "saga_dlq"

// EmitToDLQ sidelines an undecodable or poisoned message to the dead-letter
// Redis stream for offline inspection.
func EmitToDLQ(ctx context.Context, client *redis.Client, log *zap.Logger, topic string, raw []byte, cause error) error {
	values := map[string]interface{}{
		"topic":   topic,
		"message": string(raw),
		"error":   cause.Error(),
	}
	_, dlqErr := client.XAdd(ctx, &redis.XAddArgs{
		Stream: DLQStream,
		Values: values,
	}).Result()
	if dlqErr != nil && log != nil {
		log.Error("Failed to emit to DLQ", zap.Error(dlqErr), zap.String("topic", topic))
	}
	return dlqErr
}
