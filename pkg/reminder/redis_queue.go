package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"odometer-backend/pkg/redis"

	goredis "github.com/redis/go-redis/v9"
)

// claimScript pops due keys from the schedule and returns payload and
// revision pairs in one atomic step, so a request is claimed by exactly one
// worker.
var claimScript = goredis.NewScript(`
local keys = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, k in ipairs(keys) do
	redis.call('ZREM', KEYS[1], k)
	local payload = redis.call('HGET', KEYS[2], k)
	redis.call('HDEL', KEYS[2], k)
	if payload then
		table.insert(out, payload)
		table.insert(out, redis.call('HGET', KEYS[3], k) or '0')
	end
end
return out
`)

// requeueScript stores a claimed request again only while its key has no
// pending request and still carries the revision seen at claim time.
var requeueScript = goredis.NewScript(`
local rev = redis.call('HGET', KEYS[3], ARGV[1]) or '0'
if rev ~= ARGV[2] or redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
redis.call('HINCRBY', KEYS[3], ARGV[1], 1)
return 1
`)

// RedisDispatcher keeps pending reminders in a sorted set scored by fire time
// (unix ms) with the request bodies in a hash. A second hash counts the
// revisions of every key.
type RedisDispatcher struct {
	client      *redis.Client
	scheduleKey string
	payloadKey  string
	revisionKey string
	now         func() time.Time
}

func NewRedisDispatcher(client *redis.Client, keyPrefix string) *RedisDispatcher {
	return &RedisDispatcher{
		client:      client,
		scheduleKey: keyPrefix + "schedule",
		payloadKey:  keyPrefix + "payloads",
		revisionKey: keyPrefix + "revisions",
		now:         time.Now,
	}
}

func (d *RedisDispatcher) Schedule(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	fireAt := req.DueAt(d.now())
	req.FireAt = fireAt
	req.FireNow = false

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode reminder %s: %w", req.Key, err)
	}

	_, err = d.client.GetClient().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, d.payloadKey, req.Key, payload)
		pipe.ZAdd(ctx, d.scheduleKey, goredis.Z{Score: float64(fireAt.UnixMilli()), Member: req.Key})
		pipe.HIncrBy(ctx, d.revisionKey, req.Key, 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule reminder %s: %w", req.Key, err)
	}
	return nil
}

func (d *RedisDispatcher) Cancel(ctx context.Context, key string) error {
	_, err := d.client.GetClient().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, d.scheduleKey, key)
		pipe.HDel(ctx, d.payloadKey, key)
		pipe.HIncrBy(ctx, d.revisionKey, key, 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel reminder %s: %w", key, err)
	}
	return nil
}

func (d *RedisDispatcher) Due(ctx context.Context, now time.Time, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = 100
	}

	raw, err := claimScript.Run(ctx, d.client.GetClient(),
		[]string{d.scheduleKey, d.payloadKey, d.revisionKey},
		strconv.FormatInt(now.UnixMilli(), 10), limit,
	).StringSlice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim due reminders: %w", err)
	}

	requests := make([]Request, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		var req Request
		if err := json.Unmarshal([]byte(raw[i]), &req); err != nil {
			log.Printf("Dropping undecodable reminder payload: %v", err)
			continue
		}
		req.Revision, err = strconv.ParseInt(raw[i+1], 10, 64)
		if err != nil {
			log.Printf("Reminder %s has a bad revision %q: %v", req.Key, raw[i+1], err)
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func (d *RedisDispatcher) Requeue(ctx context.Context, req Request) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}

	fireAt := req.DueAt(d.now())
	req.FireAt = fireAt
	req.FireNow = false

	payload, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("encode reminder %s: %w", req.Key, err)
	}

	stored, err := requeueScript.Run(ctx, d.client.GetClient(),
		[]string{d.scheduleKey, d.payloadKey, d.revisionKey},
		req.Key, strconv.FormatInt(req.Revision, 10), payload, fireAt.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("requeue reminder %s: %w", req.Key, err)
	}
	return stored == 1, nil
}

// Pending returns the stored request for key, if one is scheduled.
func (d *RedisDispatcher) Pending(ctx context.Context, key string) (*Request, bool, error) {
	payload, err := d.client.GetClient().HGet(ctx, d.payloadKey, key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var req Request
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return nil, false, err
	}
	return &req, true, nil
}

// PendingCount returns the number of scheduled reminders.
func (d *RedisDispatcher) PendingCount(ctx context.Context) (int64, error) {
	return d.client.GetClient().ZCard(ctx, d.scheduleKey).Result()
}
