package gate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Advancer moves users from the front of a schedule's waiting line into the
// pass set. Implementations must never let the live pass set exceed
// capacity, even when TryIssuePass runs concurrently.
type Advancer interface {
	Advance(ctx context.Context, scheduleID uint64, now time.Time, capacity int, ttl time.Duration) (int, error)
	Name() string
}

// NewAdvancer selects an engine by name: "lua" (default) or "watch".
func NewAdvancer(name string, rdb *redis.Client) (Advancer, error) {
	switch name {
	case "", "lua":
		return &LuaAdvancer{rdb: rdb}, nil
	case "watch":
		return &WatchAdvancer{rdb: rdb, MaxRetries: 8}, nil
	}
	return nil, fmt.Errorf("unknown advance engine %q", name)
}

// LuaAdvancer runs the whole batch as one server-side script.
type LuaAdvancer struct {
	rdb *redis.Client
}

func NewLuaAdvancer(rdb *redis.Client) *LuaAdvancer { return &LuaAdvancer{rdb: rdb} }

func (a *LuaAdvancer) Name() string { return "lua" }

func (a *LuaAdvancer) Advance(ctx context.Context, scheduleID uint64, now time.Time, capacity int, ttl time.Duration) (int, error) {
	nowMs := now.UnixMilli()
	ttlMs := ttl.Milliseconds()
	n, err := advanceScript.Run(ctx, a.rdb,
		[]string{WaitingKey(scheduleID), PassSetKey(scheduleID), SeqKey(scheduleID)},
		nowMs, capacity, ttlMs, TokenKeyPrefix(scheduleID), sid(scheduleID), nowMs+ttlMs,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("advance schedule %d: %w", scheduleID, err)
	}
	return int(n), nil
}

// ErrAdvanceContended is returned when the optimistic transaction kept
// losing to concurrent writers.
var ErrAdvanceContended = errors.New("advance: too much contention")

// WatchAdvancer computes the batch client-side and commits it with
// WATCH/MULTI/EXEC on the waiting line and the pass set, so any concurrent
// change to either aborts and retries the batch.
type WatchAdvancer struct {
	rdb        *redis.Client
	MaxRetries int
}

func NewWatchAdvancer(rdb *redis.Client) *WatchAdvancer {
	return &WatchAdvancer{rdb: rdb, MaxRetries: 8}
}

func (a *WatchAdvancer) Name() string { return "watch" }

func (a *WatchAdvancer) Advance(ctx context.Context, scheduleID uint64, now time.Time, capacity int, ttl time.Duration) (int, error) {
	if capacity <= 0 {
		return 0, nil
	}
	waiting := WaitingKey(scheduleID)
	passZ := PassSetKey(scheduleID)
	nowMs := now.UnixMilli()
	expMs := float64(nowMs + ttl.Milliseconds())

	var issued int
	txf := func(tx *redis.Tx) error {
		issued = 0
		live, err := tx.ZCount(ctx, passZ, "("+strconv.FormatInt(nowMs, 10), "+inf").Result()
		if err != nil {
			return err
		}
		deficit := int64(capacity) - live
		if deficit <= 0 {
			return nil
		}
		head, err := tx.ZRange(ctx, waiting, 0, deficit-1).Result()
		if err != nil || len(head) == 0 {
			return err
		}

		fresh := make([]string, 0, len(head))
		for _, uid := range head {
			score, zerr := tx.ZScore(ctx, passZ, uid).Result()
			hasToken, eerr := tx.Exists(ctx, TokenKeyPrefix(scheduleID)+uid).Result()
			if zerr != nil && !errors.Is(zerr, redis.Nil) {
				return zerr
			}
			if eerr != nil {
				return eerr
			}
			if zerr == nil && int64(score) > nowMs && hasToken == 1 {
				continue
			}
			fresh = append(fresh, uid)
		}

		// Sequence numbers are reserved outside the transaction; an aborted
		// attempt only leaves gaps.
		var seqEnd int64
		if len(fresh) > 0 {
			if seqEnd, err = a.rdb.IncrBy(ctx, SeqKey(scheduleID), int64(len(fresh))).Result(); err != nil {
				return err
			}
		}
		seq := seqEnd - int64(len(fresh))

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.ZRemRangeByScore(ctx, passZ, "-inf", strconv.FormatInt(nowMs, 10))
			for _, uid := range head {
				p.ZRem(ctx, waiting, uid)
			}
			for _, uid := range fresh {
				seq++
				token := fmt.Sprintf("%d:%s:%d:%d", scheduleID, uid, nowMs, seq)
				p.Set(ctx, TokenKeyPrefix(scheduleID)+uid, token, ttl)
				p.ZAdd(ctx, passZ, redis.Z{Score: expMs, Member: uid})
			}
			return nil
		})
		if err == nil {
			issued = len(fresh)
		}
		return err
	}

	for i := 0; i < a.MaxRetries; i++ {
		err := a.rdb.Watch(ctx, txf, waiting, passZ)
		if err == nil {
			return issued, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return 0, fmt.Errorf("advance schedule %d: %w", scheduleID, err)
		}
	}
	return 0, ErrAdvanceContended
}
