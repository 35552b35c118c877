package bunstore

import (
	"context"
	"fmt"
	"time"
)

// SaveStreamCheckpoint records the last acked sequence token for a
// partition, upserting on the partition key.
func (s *Store) SaveStreamCheckpoint(ctx context.Context, partition int, token string) error {
	m := &checkpointModel{
		Partition: partition,
		Token:     token,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (partition) DO UPDATE").
		Set("token = EXCLUDED.token").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("orderflow/bun: save checkpoint: %w", err)
	}
	return nil
}

// GetStreamCheckpoint returns the last saved token for a partition, or
// "" when none has been saved.
func (s *Store) GetStreamCheckpoint(ctx context.Context, partition int) (string, error) {
	m := new(checkpointModel)
	err := s.db.NewSelect().Model(m).
		Where("partition = ?", partition).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("orderflow/bun: get checkpoint: %w", err)
	}
	return m.Token, nil
}
