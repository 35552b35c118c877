package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// SaveStreamCheckpoint records the last acked sequence token for a
// partition.
func (s *Store) SaveStreamCheckpoint(ctx context.Context, partition int, token string) error {
	if err := s.client.Set(ctx, checkpointKey(partition), token, 0).Err(); err != nil {
		return fmt.Errorf("orderflow/redis: save checkpoint: %w", err)
	}
	return nil
}

// GetStreamCheckpoint returns the last saved token for a partition, or
// "" when none has been saved.
func (s *Store) GetStreamCheckpoint(ctx context.Context, partition int) (string, error) {
	token, err := s.client.Get(ctx, checkpointKey(partition)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("orderflow/redis: get checkpoint: %w", err)
	}
	return token, nil
}
