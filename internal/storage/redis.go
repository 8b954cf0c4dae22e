package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"leetbot/pkg/logx"
)

const defaultRedisKey = "leetbot:subscribers"

// redisStore keeps the set as a Redis set of decimal chat IDs.
type redisStore struct {
	rdb *redis.Client
	key string
	log logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Backend, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	key := strings.TrimSpace(cfg.Redis.Key)
	if key == "" {
		key = defaultRedisKey
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Fail fast if the connection is bad.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &redisStore{rdb: rdb, key: key, log: log}, nil
}

func (s *redisStore) Load(ctx context.Context) ([]int64, error) {
	members, err := s.rdb.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	return parseMembers(members)
}

// Save replaces the set inside MULTI/EXEC.
func (s *redisStore) Save(ctx context.Context, ids []int64) error {
	members := formatMembers(ids)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.key)
		if len(members) > 0 {
			p.SAdd(ctx, s.key, members...)
		}
		return nil
	})
	return err
}

func (s *redisStore) Close() error { return s.rdb.Close() }

func parseMembers(members []string) ([]int64, error) {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: redis member %q", ErrCorrupt, m)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func formatMembers(ids []int64) []any {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out
}
