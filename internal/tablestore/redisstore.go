package tablestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// deleted rows are first overwritten with the tombstone, then LREM'd. JSON rows
// always start with '[' so it cannot collide with a real row.
const tombstone = "__deleted__"

// RedisStore keeps each table as a Redis list of JSON-encoded rows under tbl:<name>.
// Element 0 is the header row.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps rdb and seeds header rows for empty tables.
func NewRedisStore(ctx context.Context, rdb *redis.Client) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("nil redis client")
	}
	s := &RedisStore{rdb: rdb}
	for _, t := range Tables() {
		if err := s.ensureHeader(ctx, t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// OpenRedis parses a redis:// URL and pings the server before wrapping it.
func OpenRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(ctx, rdb)
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func tableKey(table string) string { return "tbl:" + strings.TrimSpace(table) }

func (s *RedisStore) ensureHeader(ctx context.Context, table string) error {
	h, err := Headers(table)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	key := tableKey(table)
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.LLen(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, raw)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) Append(ctx context.Context, table string, row Row) error {
	if _, err := Headers(table); err != nil {
		return err
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	if err := s.rdb.RPush(ctx, tableKey(table), raw).Err(); err != nil {
		return fmt.Errorf("append %s: %w", table, err)
	}
	return nil
}

func (s *RedisStore) GetAllRows(ctx context.Context, table string) ([]Row, error) {
	if _, err := Headers(table); err != nil {
		return nil, err
	}
	items, err := s.rdb.LRange(ctx, tableKey(table), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	out := make([]Row, 0, len(items))
	for _, it := range items {
		if it == tombstone {
			continue
		}
		var r Row
		if err := json.Unmarshal([]byte(it), &r); err != nil {
			return nil, fmt.Errorf("unmarshal %s row: %w", table, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) UpdateRow(ctx context.Context, table string, index int, row Row) error {
	if _, err := Headers(table); err != nil {
		return err
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	key := tableKey(table)
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		if err := checkIndex(index, int(n)); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LSet(ctx, key, int64(index), raw)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) DeleteRow(ctx context.Context, table string, index int) error {
	if _, err := Headers(table); err != nil {
		return err
	}
	key := tableKey(table)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		if err := checkIndex(index, int(n)); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LSet(ctx, key, int64(index), tombstone)
			pipe.LRem(ctx, key, 1, tombstone)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("delete %s row %d: concurrent modification: %w", table, index, err)
	}
	return err
}
