package results

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

const defaultRedisPrefix = "reco:results:"

// RedisStore keeps reports in Redis. Each report is a JSON string key;
// a sorted set scored by creation time indexes them for listing.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // 0 keeps reports forever
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("parsing redis URL: %v", err))
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "connecting to redis", err)
	}

	return &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
		ttl:    ttl,
	}, nil
}

func (rs *RedisStore) reportKey(id string) string { return rs.prefix + "report:" + id }
func (rs *RedisStore) indexKey() string          { return rs.prefix + "index" }

func (rs *RedisStore) Save(ctx context.Context, report *Report) error {
	if err := ValidateID(report.ID); err != nil {
		return err
	}

	data, err := json.Marshal(report)
	if err != nil {
		return errors.InternalError("encoding report", err)
	}

	pipe := rs.client.TxPipeline()
	pipe.Set(ctx, rs.reportKey(report.ID), data, rs.ttl)
	pipe.ZAdd(ctx, rs.indexKey(), redis.Z{
		Score:  float64(report.CreatedAt.UnixMilli()),
		Member: report.ID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(errors.CodeUnavailable, "saving report", err)
	}
	return nil
}

func (rs *RedisStore) Get(ctx context.Context, id string) (*Report, error) {
	data, err := rs.client.Get(ctx, rs.reportKey(id)).Bytes()
	if err == redis.Nil {
		return nil, errors.NotFoundError("report")
	}
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnavailable, "loading report", err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.InternalError("decoding report", err)
	}
	return &r, nil
}

func (rs *RedisStore) List(ctx context.Context) ([]*Report, error) {
	ids, err := rs.client.ZRevRange(ctx, rs.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnavailable, "listing reports", err)
	}
	if len(ids) == 0 {
		return []*Report{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rs.reportKey(id)
	}

	values, err := rs.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnavailable, "loading reports", err)
	}

	reports := make([]*Report, 0, len(values))
	// Index entries whose report key expired are pruned here.
	var stale []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var r Report
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			continue // Skip invalid entries
		}
		reports = append(reports, &r)
	}

	if len(stale) > 0 {
		rs.client.ZRem(ctx, rs.indexKey(), stale...)
	}

	sortNewestFirst(reports)
	return reports, nil
}

func (rs *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := rs.client.TxPipeline()
	pipe.Del(ctx, rs.reportKey(id))
	pipe.ZRem(ctx, rs.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(errors.CodeUnavailable, "deleting report", err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (rs *RedisStore) Ping(ctx context.Context) error {
	if err := rs.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(errors.CodeUnavailable, "redis ping failed", err)
	}
	return nil
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
