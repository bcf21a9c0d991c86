package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time check that RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// Redis key layout. Work items survive process restarts; a standalone
// worker process (cmd/worker) can drain the queue the API fills.
const (
	redisRunKey      = "catwalk:queue:run"      // list of ready correlation keys
	redisDelayKey    = "catwalk:queue:delay"    // zset of delayed keys scored by retry time
	redisActiveKey   = "catwalk:queue:active"   // set of claimed keys
	redisItemPrefix  = "catwalk:queue:item:"    // item JSON per key
	redisFinishedKey = "catwalk:queue:finished" // capped list of finished records
	redisDoneCounter = "catwalk:queue:done:"    // counters per result
)

// RedisQueue is a Redis-backed Queue for multi-process deployments. The
// layout is a ready list consumed with BRPOP, a delay zset drained by a
// mover tick, and one JSON blob per item whose existence doubles as the
// dedupe key.
type RedisQueue struct {
	rdb    *redis.Client
	retain Retention
	tick   time.Duration

	stop   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
}

// RedisOption configures a RedisQueue.
type RedisOption func(*RedisQueue)

// WithRedisRetention overrides the finished-item retention cap.
func WithRedisRetention(r Retention) RedisOption {
	return func(q *RedisQueue) {
		q.retain = r
	}
}

// WithRedisTick overrides the delay-mover tick.
func WithRedisTick(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		q.tick = d
	}
}

// NewRedisQueue creates a running Redis-backed queue. The client is
// owned by the caller.
func NewRedisQueue(rdb *redis.Client, opts ...RedisOption) *RedisQueue {
	q := &RedisQueue{
		rdb:    rdb,
		retain: DefaultRetention(),
		tick:   time.Second,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.wg.Add(1)
	go q.scheduler()
	return q
}

// Enqueue adds a work item. The SET NX on the item blob is the dedupe:
// a second enqueue for the same key fails while the first is in flight.
func (q *RedisQueue) Enqueue(ctx context.Context, item Item) error {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("queue: marshal item: %w", err)
	}

	ok, err := q.rdb.SetNX(ctx, redisItemPrefix+item.Key, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("queue: store item: %w", err)
	}
	if !ok {
		return ErrDuplicate
	}

	if item.NotBefore.After(time.Now()) {
		err = q.rdb.ZAdd(ctx, redisDelayKey, redis.Z{
			Score:  float64(item.NotBefore.Unix()),
			Member: item.Key,
		}).Err()
	} else {
		err = q.rdb.LPush(ctx, redisRunKey, item.Key).Err()
	}
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// Dequeue blocks on the ready list, claiming the popped key.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Item, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.stop:
			return nil, ErrClosed
		default:
		}

		res, err := q.rdb.BRPop(ctx, time.Second, redisRunKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("queue: dequeue: %w", err)
		}
		if len(res) != 2 {
			continue
		}
		key := res[1]

		item, err := q.claim(ctx, key)
		if err != nil {
			return nil, err
		}
		if item == nil {
			// Item removed while waiting in the ready list.
			continue
		}
		return item, nil
	}
}

// claim loads the item blob, bumps its attempt, and marks it active.
func (q *RedisQueue) claim(ctx context.Context, key string) (*Item, error) {
	raw, err := q.rdb.Get(ctx, redisItemPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: load item: %w", err)
	}

	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("queue: unmarshal item: %w", err)
	}
	item.Attempt++

	updated, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal item: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, redisItemPrefix+key, updated, 0)
	pipe.SAdd(ctx, redisActiveKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue: claim item: %w", err)
	}
	return &item, nil
}

// Ack finishes an active item and retains a capped outcome record.
func (q *RedisQueue) Ack(ctx context.Context, key string, result Result, note string) error {
	removed, err := q.rdb.SRem(ctx, redisActiveKey, key).Result()
	if err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	if removed == 0 {
		return ErrNotActive
	}

	record, err := json.Marshal(finishedItem{
		Key:        key,
		Result:     result,
		Note:       note,
		FinishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("queue: marshal finished record: %w", err)
	}

	keep := int64(q.retain.MaxCompleted + q.retain.MaxFailed)
	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, redisItemPrefix+key)
	pipe.Incr(ctx, redisDoneCounter+string(result))
	pipe.LPush(ctx, redisFinishedKey, record)
	pipe.LTrim(ctx, redisFinishedKey, 0, keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	return nil
}

// Retry moves an active item to the delay zset.
func (q *RedisQueue) Retry(ctx context.Context, key string, delay time.Duration) error {
	removed, err := q.rdb.SRem(ctx, redisActiveKey, key).Result()
	if err != nil {
		return fmt.Errorf("queue: retry: %w", err)
	}
	if removed == 0 {
		return ErrNotActive
	}

	err = q.rdb.ZAdd(ctx, redisDelayKey, redis.Z{
		Score:  float64(time.Now().Add(delay).Unix()),
		Member: key,
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: retry: %w", err)
	}
	return nil
}

// Remove discards a queued or delayed item. Active items report false.
func (q *RedisQueue) Remove(ctx context.Context, key string) (bool, error) {
	active, err := q.rdb.SIsMember(ctx, redisActiveKey, key).Result()
	if err != nil {
		return false, fmt.Errorf("queue: remove: %w", err)
	}
	if active {
		return false, nil
	}

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, redisRunKey, 0, key)
	pipe.ZRem(ctx, redisDelayKey, key)
	del := pipe.Del(ctx, redisItemPrefix+key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("queue: remove: %w", err)
	}
	return del.Val() > 0, nil
}

// Stats reports queue depth counters.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.TxPipeline()
	run := pipe.LLen(ctx, redisRunKey)
	delayed := pipe.ZCard(ctx, redisDelayKey)
	active := pipe.SCard(ctx, redisActiveKey)
	completed := pipe.Get(ctx, redisDoneCounter+string(ResultCompleted))
	failed := pipe.Get(ctx, redisDoneCounter+string(ResultFailed))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("queue: stats: %w", err)
	}

	return Stats{
		Waiting:   int(run.Val() + delayed.Val()),
		Active:    int(active.Val()),
		Completed: counterVal(completed),
		Failed:    counterVal(failed),
	}, nil
}

// Close stops the delay mover. Queue contents stay in Redis.
func (q *RedisQueue) Close() error {
	q.closed.Do(func() {
		close(q.stop)
	})
	q.wg.Wait()
	return nil
}

// scheduler drains due items from the delay zset into the ready list.
func (q *RedisQueue) scheduler() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.tick)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = q.moveDue(ctx)
			cancel()
		}
	}
}

// moveDue promotes delayed keys whose retry time has passed, in the enq
// pipeline pattern.
func (q *RedisQueue) moveDue(ctx context.Context) error {
	keys, err := q.rdb.ZRangeByScore(ctx, redisDelayKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(time.Now().Unix(), 10),
		Count: 128,
	}).Result()
	if err != nil || len(keys) == 0 {
		return err
	}

	pipe := q.rdb.TxPipeline()
	for _, key := range keys {
		pipe.LPush(ctx, redisRunKey, key)
		pipe.ZRem(ctx, redisDelayKey, key)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// counterVal parses a counter GET, treating a missing key as zero.
func counterVal(cmd *redis.StringCmd) int {
	n, err := strconv.Atoi(cmd.Val())
	if err != nil {
		return 0
	}
	return n
}
