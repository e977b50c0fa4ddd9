package port

import "context"

type SnapshotRepository interface {
	// Get reads the value stored under key, found is false when nothing is stored
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set overwrites the value stored under key
	Set(ctx context.Context, key, value string) error
}
