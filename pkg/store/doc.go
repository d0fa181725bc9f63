// Package store provides persistence backends for document snapshots.
//
// Every backend implements Store. LoadSnapshot returns (nil, nil) for a
// document that was never saved, so callers can tell "absent" from a
// backend failure.
//
// # Backends
//
//   - MemoryStore: in-process map. The default, and what tests use.
//   - BoltStore: a single bbolt file, for single-node deployments.
//   - PostgresStore: one row per document through a pgx pool.
//   - RedisStore: one key per document, shared between nodes.
//   - S3Store: one object per document.
//
// The key-value backends (bolt, redis, s3) share one binary record layout,
// see EncodeRecord.
//
// # Change notification
//
// NotifyingStore wraps any Store and reports every successful save to a
// Notifier. RedisNotifier publishes those changes on a Redis channel so
// other services (search indexers, exporters) can react:
//
//	base := store.NewRedisStore(rdb)
//	s := store.NewNotifyingStore(base, store.NewRedisNotifier(rdb), logger)
package store
