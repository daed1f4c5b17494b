// Package storage defines the persistence interface and its implementations.
package storage

import "context"

// Storage is the interface for all persistence operations.
//
// The processed-file set and the per-customer row history are logically
// append-only: no method removes an entry from either. The scheduler cycle
// is their sole writer; on-demand request paths only read.
type Storage interface {
	HasProcessed(ctx context.Context, fileUID string) (bool, error)
	MarkProcessed(ctx context.Context, fileUID string) error

	NewRows(ctx context.Context, customerBIN string, rows []string) ([]string, error)
	RecordRows(ctx context.Context, customerBIN string, rows []string) error

	Subscribe(ctx context.Context, userID int64) error
	Unsubscribe(ctx context.Context, userID int64) error
	IsSubscribed(ctx context.Context, userID int64) (bool, error)
	ListSubscribers(ctx context.Context) ([]int64, error)

	SetEmail(ctx context.Context, userID int64, address string) error
	Email(ctx context.Context, userID int64) (string, error)

	Close() error
}
