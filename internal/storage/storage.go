package storage

import (
	"context"

	"github.com/ag-wnl/sol-amm-v3/internal/model"
)

// Storage is the journal sink for committed pool operations.
type Storage interface {
	PutEventBatch(ctx context.Context, events []model.PoolEvent) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) PutEventBatch(context.Context, []model.PoolEvent) error { return nil }

// Multi fans a batch out to every sink, stopping at the first error.
type Multi []Storage

func (m Multi) PutEventBatch(ctx context.Context, events []model.PoolEvent) error {
	for _, s := range m {
		if err := s.PutEventBatch(ctx, events); err != nil {
			return err
		}
	}
	return nil
}
