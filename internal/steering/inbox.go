package steering

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/circuitbreaker"
)

const (
	pendingKeyPrefix = "meridian:steering:pending:"
	pendingTTL       = 30 * time.Minute
)

// Inbox buffers steering commands submitted before a session reaches its
// steering checkpoint. Commands queued here are drained in submission order
// when the checkpoint opens, so an early command is never lost.
type Inbox struct {
	redis  *circuitbreaker.RedisWrapper
	logger *zap.Logger
}

func NewInbox(redis *circuitbreaker.RedisWrapper, logger *zap.Logger) *Inbox {
	return &Inbox{redis: redis, logger: logger}
}

func pendingKey(sessionID uuid.UUID) string {
	return pendingKeyPrefix + sessionID.String()
}

// Enqueue appends a command to the session's pending queue.
func (i *Inbox) Enqueue(ctx context.Context, sessionID uuid.UUID, cmd Command) error {
	raw, err := cmd.Encode()
	if err != nil {
		return err
	}
	key := pendingKey(sessionID)
	if err := i.redis.RPush(ctx, key, raw); err != nil {
		return fmt.Errorf("queue steering command: %w", err)
	}
	if err := i.redis.Expire(ctx, key, pendingTTL); err != nil {
		i.logger.Warn("Failed to set pending queue TTL",
			zap.String("session_id", sessionID.String()),
			zap.Error(err),
		)
	}
	return nil
}

// Drain returns all queued commands in submission order and clears the queue.
// Commands that fail to decode are skipped with a log line rather than
// poisoning the rest of the queue.
func (i *Inbox) Drain(ctx context.Context, sessionID uuid.UUID) ([]Command, error) {
	key := pendingKey(sessionID)
	raws, err := i.redis.LRange(ctx, key, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read pending steering commands: %w", err)
	}
	if len(raws) == 0 {
		return nil, nil
	}

	cmds := make([]Command, 0, len(raws))
	for _, raw := range raws {
		cmd, err := Decode(raw)
		if err != nil {
			i.logger.Warn("Dropping undecodable pending steering command",
				zap.String("session_id", sessionID.String()),
				zap.Error(err),
			)
			continue
		}
		cmds = append(cmds, cmd)
	}

	if err := i.redis.Del(ctx, key); err != nil {
		i.logger.Warn("Failed to clear pending steering queue",
			zap.String("session_id", sessionID.String()),
			zap.Error(err),
		)
	}
	return cmds, nil
}
