// Package storage defines the single read-only seam the core consumes
// from external, durable storage: the latest synced ledger version. No
// durable state is owned by the core itself (spec.md §6, "Persisted
// state: none is owned by the core"); on-disk storage engines are an
// explicit non-goal, so this package narrows to exactly the lookup the
// Subscription Manager's SubscriptionProgressStopped detection needs.
package storage

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// VersionProvider is the read-only interface the core consumes.
// Satisfied structurally by RedisStore below, and by any test fake.
type VersionProvider interface {
	LatestSyncedVersion(ctx context.Context) (uint64, error)
}

// RedisStore reads the latest synced ledger version from a single
// Redis key maintained by the external storage engine. Grounded on the
// teacher's app/bootup.go Redis client construction (password/
// no-password branch, ping check at startup); narrowed here to one
// read-only accessor instead of the teacher's full mempool-backed
// client.
type RedisStore struct {
	client *redis.Client
	key    string
}

// Dial connects to Redis using the same options shape as the teacher's
// bootup.SetGround: network/address/db always set, password only if
// non-empty. Pings once before returning so startup fails fast on a
// bad connection, matching the teacher's behavior.
func Dial(ctx context.Context, network, addr, password string, db int, latestSyncedVersionKey string) (*RedisStore, error) {
	opts := &redis.Options{
		Network: network,
		Addr:    addr,
		DB:      db,
	}
	if password != "" {
		opts.Password = password
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("storage: redis ping: %w", err)
	}

	return &RedisStore{client: client, key: latestSyncedVersionKey}, nil
}

// LatestSyncedVersion reads the external storage engine's current
// synced ledger version.
func (s *RedisStore) LatestSyncedVersion(ctx context.Context) (uint64, error) {
	v, err := s.client.Get(ctx, s.key).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: get %s: %w", s.key, err)
	}
	return v, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// FakeStore is an in-memory VersionProvider for tests and for the
// single-node dev-mode wiring in cmd/node.
type FakeStore struct {
	Version uint64
	Err     error
}

func (f *FakeStore) LatestSyncedVersion(ctx context.Context) (uint64, error) {
	return f.Version, f.Err
}
