package queue

import (
	"context"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort(nat.Port("6379/tcp")).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(termCtx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRedisStoreLifecycle(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	store := NewRedisStore(rdb, zap.NewNop())

	recs, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Empty(t, recs)

	created := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.Put(ctx, JobRecord{
		ID:        "job-1",
		Kind:      KindVideo,
		Content:   "caption",
		ImageURLs: []string{"https://cdn.example/a.jpg"},
		Media:     []byte{0x00, 0x01, 0xff},
		MediaType: "video/mp4",
		CreatedAt: created,
	}))
	require.NoError(t, store.Put(ctx, JobRecord{
		ID:        "job-2",
		Kind:      KindVideo,
		Content:   "another",
		Media:     []byte("b"),
		MediaType: "video/mp4",
		CreatedAt: created.Add(time.Second),
	}))

	recs, err = store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	byID := map[string]JobRecord{}
	for _, rec := range recs {
		byID[rec.ID] = rec
	}
	require.Equal(t, "caption", byID["job-1"].Content)
	require.Equal(t, []byte{0x00, 0x01, 0xff}, byID["job-1"].Media)
	require.Equal(t, []string{"https://cdn.example/a.jpg"}, byID["job-1"].ImageURLs)
	require.True(t, created.Equal(byID["job-1"].CreatedAt))

	require.NoError(t, store.Delete(ctx, "job-1"))
	require.NoError(t, store.Delete(ctx, "job-1"))

	recs, err = store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "job-2", recs[0].ID)
}

func TestRedisStoreSkipsCorruptRecords(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	store := NewRedisStore(rdb, zap.NewNop())

	require.NoError(t, store.Put(ctx, JobRecord{
		ID: "job-ok", Kind: KindVideo, Media: []byte("a"), MediaType: "video/mp4", CreatedAt: time.Now(),
	}))
	require.NoError(t, rdb.HSet(ctx, jobsKey, "job-bad", "{not json").Err())

	recs, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "job-ok", recs[0].ID)
}
