package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 8

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	URL      string // redis://... takes precedence over Addr
	Password string
	DB       int
	PoolSize int
	Prefix   string
	TTL      time.Duration // 0 keeps jobs forever
}

// RedisStore persists jobs as JSON documents in Redis so they survive a
// process restart.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "docingest:"
	}

	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + "job:" + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "jobs"
}

func (s *RedisStore) channel() string {
	return s.prefix + "job-events"
}

func (s *RedisStore) Create(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(job.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis create: %w", err)
	}
	if !ok {
		return ErrExists
	}

	score := float64(job.CreatedAt.UnixNano())
	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
		return fmt.Errorf("redis index: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decode(data)
}

// Update runs fn inside an optimistic WATCH/MULTI transaction and publishes
// the new state on the job events channel.
func (s *RedisStore) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	key := s.key(id)
	var updated *Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}

		job, err := decode(data)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}

		out, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			pipe.Publish(ctx, s.channel(), out)
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("redis update %s: too much contention", id)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	s.client.ZRem(ctx, s.indexKey(), id)
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all live jobs, newest first. Index entries whose job has
// expired are pruned.
func (s *RedisStore) List(ctx context.Context) ([]*Job, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make([]*Job, 0, len(vals))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		job, err := decode([]byte(str))
		if err != nil {
			continue
		}
		out = append(out, job)
	}
	if len(stale) > 0 {
		s.client.ZRem(ctx, s.indexKey(), stale...)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Watch implements Watcher over Redis Pub/Sub.
func (s *RedisStore) Watch(ctx context.Context, id string) (<-chan *Job, error) {
	sub := s.client.Subscribe(ctx, s.channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	// read after subscribing so no update between the two is lost
	current, err := s.Get(ctx, id)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan *Job, 1)
	out <- current
	if current.Status.Terminal() {
		_ = sub.Close()
		close(out)
		return out, nil
	}

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
				job, err := decode([]byte(msg.Payload))
				if err != nil || job.ID != id {
					continue
				}
				select {
				case out <- job:
				case <-ctx.Done():
					return
				}
				if job.Status.Terminal() {
					return
				}
			}
		}
	}()
	return out, nil
}

func decode(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}
