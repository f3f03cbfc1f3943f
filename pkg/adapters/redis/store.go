// Package redis mirrors recorded snapshots into Redis so other processes can
// read and follow the lineage.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/aretw0/lineage/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "lineage:"

// Store implements ports.SnapshotSink and ports.SnapshotReader using Redis.
//
// Keys, relative to the prefix:
//
//	snapshot:<id>        JSON record
//	index                ZSET of ids scored by timestamp (unix micros)
//	children:<parent>    SET of child ids
//	events               pub/sub channel carrying each record
type Store struct {
	client *backend.Client
	owned  bool
	prefix string
	ttl    time.Duration

	closeOnce sync.Once
	closeErr  error
}

type Option func(*Store)

// WithTTL sets the expiration for snapshot and children keys.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options. The store owns the client.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	store := NewFromClient(rdb, opts...)
	store.owned = true
	return store
}

// NewFromClient creates a new Redis store from an existing client.
// Close does not close a client the store did not create.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
		ttl:    0, // No expiration by default
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) key(id string) string {
	return s.prefix + "snapshot:" + id
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

func (s *Store) childrenKey(id string) string {
	return s.prefix + "children:" + id
}

// Channel is the pub/sub channel records are published on.
func (s *Store) Channel() string {
	return s.prefix + "events"
}

// Write persists the record, indexes it and publishes it in one pipeline.
func (s *Store) Write(ctx context.Context, snap *domain.Snapshot) error {
	rec := snap.Record()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := s.client.Pipeline()

	// 1. Record with TTL (0 = no expiration)
	pipe.Set(ctx, s.key(rec.ID), data, s.ttl)

	// 2. Chronological index
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  float64(snap.Timestamp().UnixMicro()),
		Member: rec.ID,
	})

	// 3. Reverse edges
	for _, p := range rec.Parents {
		pipe.SAdd(ctx, s.childrenKey(p), rec.ID)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.childrenKey(p), s.ttl)
		}
	}

	// 4. Followers
	pipe.Publish(ctx, s.Channel(), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write snapshot to redis: %w", err)
	}
	return nil
}

// Load retrieves a record from Redis.
func (s *Store) Load(ctx context.Context, id string) (domain.SnapshotRecord, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return domain.SnapshotRecord{}, domain.ErrSnapshotNotFound
		}
		return domain.SnapshotRecord{}, fmt.Errorf("failed to get from redis: %w", err)
	}

	var rec domain.SnapshotRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return rec, nil
}

// List returns indexed ids oldest first. With a TTL set, index entries older
// than the TTL are pruned first (lazy cleanup).
func (s *Store) List(ctx context.Context) ([]string, error) {
	if s.ttl > 0 {
		cutoff := time.Now().Add(-s.ttl).UnixMicro()
		err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", "("+strconv.FormatInt(cutoff, 10)).Err()
		if err != nil {
			return nil, fmt.Errorf("failed to prune expired snapshots: %w", err)
		}
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return ids, nil
}

// Children returns the ids recorded with id as a parent, sorted.
func (s *Store) Children(ctx context.Context, id string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.childrenKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read children: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// Watch subscribes to the events channel. The returned channel is closed when
// ctx ends; malformed messages are skipped.
func (s *Store) Watch(ctx context.Context) (<-chan domain.SnapshotRecord, error) {
	sub := s.client.Subscribe(ctx, s.Channel())
	// Wait for confirmation so no publish after Watch returns is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.Channel(), err)
	}

	out := make(chan domain.SnapshotRecord)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var rec domain.SnapshotRecord
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					continue
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the redis client if the store created it. Idempotent.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.owned {
			s.closeErr = s.client.Close()
		}
	})
	return s.closeErr
}
