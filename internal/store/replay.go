package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayJournal guarda las huellas de códigos consumidos para que el set
// anti-replay sobreviva reinicios. Nunca recibe el código en claro.
type ReplayJournal interface {
	Add(ctx context.Context, fingerprint string, usedAt time.Time) error
	// Load retorna huella -> momento de uso.
	Load(ctx context.Context) (map[string]time.Time, error)
	// Prune elimina huellas usadas antes de cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryJournal implementa ReplayJournal en memoria.
type MemoryJournal struct {
	mu   sync.Mutex
	data map[string]time.Time
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{data: make(map[string]time.Time)}
}

func (j *MemoryJournal) Add(_ context.Context, fp string, at time.Time) error {
	j.mu.Lock()
	j.data[fp] = at
	j.mu.Unlock()
	return nil
}

func (j *MemoryJournal) Load(context.Context) (map[string]time.Time, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]time.Time, len(j.data))
	for k, v := range j.data {
		out[k] = v
	}
	return out, nil
}

func (j *MemoryJournal) Prune(_ context.Context, cutoff time.Time) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for k, v := range j.data {
		if v.Before(cutoff) {
			delete(j.data, k)
			n++
		}
	}
	return n, nil
}

// RedisJournal guarda las huellas en un ZSET con score = unix millis de uso.
type RedisJournal struct {
	client *redis.Client
	key    string
}

// NewRedisJournal crea el journal bajo {prefix}:replay.
func NewRedisJournal(client *redis.Client, prefix string) *RedisJournal {
	if prefix == "" {
		prefix = "lobbygate"
	}
	return &RedisJournal{client: client, key: prefix + ":replay"}
}

func (j *RedisJournal) Add(ctx context.Context, fp string, at time.Time) error {
	return j.client.ZAdd(ctx, j.key, redis.Z{Score: float64(at.UnixMilli()), Member: fp}).Err()
}

func (j *RedisJournal) Load(ctx context.Context) (map[string]time.Time, error) {
	zs, err := j.client.ZRangeWithScores(ctx, j.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(zs))
	for _, z := range zs {
		fp, ok := z.Member.(string)
		if !ok {
			continue
		}
		out[fp] = time.UnixMilli(int64(z.Score)).UTC()
	}
	return out, nil
}

func (j *RedisJournal) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := j.client.ZRemRangeByScore(ctx, j.key, "-inf", "("+strconv.FormatInt(cutoff.UnixMilli(), 10)).Result()
	return int(n), err
}
