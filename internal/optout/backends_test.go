package optout

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spamstop/internal/config"
)

func newTestRedis(t *testing.T) (*RedisRepository, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := NewRedis(client, "spamstop:opted_out")
	t.Cleanup(func() { repo.Close() })
	return repo, mr
}

func newTestSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := OpenSQLite(filepath.Join(t.TempDir(), "spam_list", "opted_out.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

// exerciseRepository runs the shared contract against a backend.
func exerciseRepository(t *testing.T, repo Repository) {
	ctx := context.Background()
	added := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ok, err := repo.Contains(ctx, "5551234567")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Add(ctx, Entry{Number: "5559999999", Source: "bulk", RunID: "r1", AddedAt: added}))
	require.NoError(t, repo.Add(ctx, Entry{Number: "5551234567", Source: "unsubscribe", RunID: "r1", AddedAt: added}))
	require.NoError(t, repo.Add(ctx, Entry{Number: "5551234567", Source: "purge", RunID: "r2", AddedAt: added}))

	ok, err = repo.Contains(ctx, "5551234567")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "5551234567", list[0].Number)
	assert.Equal(t, "unsubscribe", list[0].Source, "first add wins")
	assert.Equal(t, "r1", list[0].RunID)
	assert.True(t, added.Equal(list[0].AddedAt), "added_at round-trips: %v", list[0].AddedAt)
	assert.Equal(t, "5559999999", list[1].Number)

	require.NoError(t, repo.Flush(ctx))

	require.NoError(t, repo.Remove(ctx, "5551234567"))
	assert.ErrorIs(t, repo.Remove(ctx, "5551234567"), ErrNotFound)

	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteRepository_Contract(t *testing.T) {
	exerciseRepository(t, newTestSQLite(t))
}

func TestRedisRepository_Contract(t *testing.T) {
	repo, _ := newTestRedis(t)
	exerciseRepository(t, repo)
}

func TestRedisRepository_ListWithoutMetadata(t *testing.T) {
	repo, mr := newTestRedis(t)
	_, err := mr.SAdd("spamstop:opted_out", "5550000002", "5550000001")
	require.NoError(t, err)

	list, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "5550000001", list[0].Number)
	assert.Empty(t, list[0].Source)
}

func TestRedisRepository_RemoveDropsMetadata(t *testing.T) {
	repo, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, Entry{Number: "5551234567", Source: "purge"}))
	assert.True(t, mr.Exists("spamstop:opted_out:meta"))

	require.NoError(t, repo.Remove(ctx, "5551234567"))
	assert.False(t, mr.Exists("spamstop:opted_out:meta"), "hash removed with its last field")
}

func TestSQLiteRepository_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opted_out.db")
	ctx := context.Background()

	repo, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, repo.Add(ctx, Entry{Number: "5551234567", Source: "purge"}))
	require.NoError(t, repo.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	ok, err := reopened.Contains(ctx, "5551234567")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen_SelectsBackend(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	fileRepo, err := Open(ctx, config.OptOutConfig{FilePath: filepath.Join(dir, "list.txt")})
	require.NoError(t, err)
	assert.IsType(t, &FileRepository{}, fileRepo)

	sqliteRepo, err := Open(ctx, config.OptOutConfig{Backend: "sqlite", SQLitePath: filepath.Join(dir, "o.db")})
	require.NoError(t, err)
	defer sqliteRepo.Close()
	assert.IsType(t, &SQLiteRepository{}, sqliteRepo)

	mr := miniredis.RunT(t)
	redisRepo, err := Open(ctx, config.OptOutConfig{Backend: "redis", RedisAddr: mr.Addr(), RedisKey: "k"})
	require.NoError(t, err)
	defer redisRepo.Close()
	assert.IsType(t, &RedisRepository{}, redisRepo)

	_, err = Open(ctx, config.OptOutConfig{Backend: "postgres"})
	assert.Error(t, err)
}

func TestOpen_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Open(ctx, config.OptOutConfig{Backend: "redis", RedisAddr: addr, RedisKey: "k"})
	assert.Error(t, err)
}
