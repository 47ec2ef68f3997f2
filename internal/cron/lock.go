package cron

import "context"

// Lock coordinates exclusive cron runs across worker instances.
// *redis.Lock satisfies it.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}
