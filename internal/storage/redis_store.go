package storage

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic retries of one Update under contention.
const maxTxRetries = 16

// RedisStore keeps each box as a plain string key. Writes of one Apply call
// are sent as a single MULTI/EXEC block; Update additionally WATCHes every
// key it reads so a concurrent writer aborts and retries the group.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &RedisStore{client: c, prefix: prefix}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	return getBytes(r.client.Get(ctx, r.redisKey(key)))
}

func (r *RedisStore) Apply(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.queue(ctx, pipe, ops)
		return nil
	})
	return err
}

func (r *RedisStore) Update(ctx context.Context, fn TxFunc) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			ops, err := fn(ctx, &watchReader{tx: tx, store: r})
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if len(ops) == 0 {
					// EXEC of a read-only group still checks the watched keys
					pipe.Ping(ctx)
				}
				r.queue(ctx, pipe, ops)
				return nil
			})
			return err
		})
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) queue(ctx context.Context, pipe redis.Pipeliner, ops []Op) {
	for _, op := range ops {
		if op.Delete {
			pipe.Del(ctx, r.redisKey(op.Key))
			continue
		}
		pipe.Set(ctx, r.redisKey(op.Key), op.Value, 0)
	}
}

func (r *RedisStore) redisKey(key []byte) string { return redisKey(r.prefix, key) }

// watchReader WATCHes each key before reading it.
type watchReader struct {
	tx    *redis.Tx
	store *RedisStore
}

func (w *watchReader) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	k := w.store.redisKey(key)
	if err := w.tx.Watch(ctx, k).Err(); err != nil {
		return nil, false, err
	}
	return getBytes(w.tx.Get(ctx, k))
}

func getBytes(cmd *redis.StringCmd) ([]byte, bool, error) {
	v, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// box keys are binary; hex keeps them readable in redis-cli
func redisKey(prefix string, key []byte) string { return prefix + hex.EncodeToString(key) }
