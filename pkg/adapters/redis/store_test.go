package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/lineage/pkg/adapters/redis"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/aretw0/lineage/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := setup(t)
	store := redis.NewFromClient(client)
	ports.RunSinkContract(t, store)
}

func TestRedisStore_OwnedClientContract(t *testing.T) {
	mr, _ := setup(t)
	store := redis.New(mr.Addr(), "", 0)
	ports.RunSinkContract(t, store)
}

func TestRedisStore_IndexAndChildren(t *testing.T) {
	_, client := setup(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	root := domain.NewSnapshot(domain.SnapshotParams{ID: "root", Timestamp: base.Add(time.Second), Operation: "load"})
	left := domain.NewSnapshot(domain.SnapshotParams{ID: "left", Timestamp: base.Add(3 * time.Second), Operation: "x", Parents: []string{"root"}})
	right := domain.NewSnapshot(domain.SnapshotParams{ID: "right", Timestamp: base.Add(2 * time.Second), Operation: "y", Parents: []string{"root"}})
	for _, s := range []*domain.Snapshot{root, left, right} {
		require.NoError(t, store.Write(ctx, s))
	}

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "right", "left"}, ids, "index is ordered by timestamp")

	kids, err := store.Children(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, []string{"left", "right"}, kids)

	kids, err = store.Children(ctx, "left")
	require.NoError(t, err)
	assert.Empty(t, kids)
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := setup(t)

	// Create store with 1s TTL
	store := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()
	snap := domain.NewSnapshot(domain.SnapshotParams{ID: "ephemeral", Operation: "load", Parents: []string{"p"}})

	require.NoError(t, store.Write(ctx, snap))
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "ephemeral")

	// Fast Forward time in miniredis (for Key Expiration)
	mr.FastForward(2 * time.Second)

	_, err = store.Load(ctx, "ephemeral")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	assert.False(t, mr.Exists("lineage:children:p"))

	// The index is pruned against wall time, so wait past the TTL.
	time.Sleep(1200 * time.Millisecond)

	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := setup(t)

	// Custom Prefix
	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()

	err := store.Write(ctx, domain.NewSnapshot(domain.SnapshotParams{ID: "s1", Operation: "load", Parents: []string{"s0"}}))
	require.NoError(t, err)

	assert.True(t, mr.Exists("custom:app:snapshot:s1"), "Expected key with custom prefix to exist")
	assert.True(t, mr.Exists("custom:app:index"), "Expected index with custom prefix to exist")
	assert.True(t, mr.Exists("custom:app:children:s0"))
	assert.Equal(t, "custom:app:events", store.Channel())
}

func TestRedisStore_Watch(t *testing.T) {
	_, client := setup(t)
	store := redis.NewFromClient(client)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := store.Watch(ctx)
	require.NoError(t, err)

	snap := domain.NewSnapshot(domain.SnapshotParams{ID: "live", Operation: "merge", Shape: domain.Shape{2, 2}})
	require.NoError(t, store.Write(context.Background(), snap))

	select {
	case rec := <-events:
		assert.Equal(t, "live", rec.ID)
		assert.Equal(t, []int{2, 2}, rec.Shape)
	case <-time.After(2 * time.Second):
		t.Fatal("no record received on the events channel")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-events
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}
