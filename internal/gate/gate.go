// Package gate implements the waiting-line admission gate on Redis.
//
// A schedule has a FIFO waiting line (sorted set scored by first-seen time)
// and a bounded set of pass holders. A pass lives in two places that must
// agree: a token string key with a TTL and a pass-set member scored by its
// absolute expiry. Either half missing or stale invalidates the pass; stale
// halves are cleaned lazily on read.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/concert-ticketing/internal/model"
)

// NotQueued is the position reported for a user who is not in the line.
const NotQueued int64 = -1

// Issue outcomes reported by TryIssuePass.
const (
	CodeHasPass = "HAS_PASS"
	CodeIssued  = "ISSUED"
	CodeFull    = "FULL"
	CodeWait    = "WAIT"
)

type Gate struct {
	rdb *redis.Client
	now func() time.Time
}

type Option func(*Gate)

// WithClock overrides the wall clock used for queue scores and pass expiry.
func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

func New(rdb *redis.Client, opts ...Option) *Gate {
	g := &Gate{rdb: rdb, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g
}

func member(userID uint64) string { return strconv.FormatUint(userID, 10) }

// Enter puts the user in line, keeping the first-seen timestamp on repeat
// calls, and returns the 1-based position.
func (g *Gate) Enter(ctx context.Context, scheduleID, userID uint64) (int64, error) {
	key := WaitingKey(scheduleID)
	m := member(userID)
	if err := g.rdb.ZAddNX(ctx, key, redis.Z{Score: float64(g.now().UnixMilli()), Member: m}).Err(); err != nil {
		return NotQueued, fmt.Errorf("queue enter: %w", err)
	}
	return g.Position(ctx, scheduleID, userID)
}

// Position returns the 1-based position in line or NotQueued.
func (g *Gate) Position(ctx context.Context, scheduleID, userID uint64) (int64, error) {
	rank, err := g.rdb.ZRank(ctx, WaitingKey(scheduleID), member(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return NotQueued, nil
	}
	if err != nil {
		return NotQueued, fmt.Errorf("queue position: %w", err)
	}
	return rank + 1, nil
}

// GetPass returns the caller's live pass, or nil. A half-present or expired
// pass is removed before returning nil.
func (g *Gate) GetPass(ctx context.Context, scheduleID, userID uint64) (*model.QueuePass, error) {
	tokenKey := TokenKey(scheduleID, userID)
	token, err := g.rdb.Get(ctx, tokenKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	score, zerr := g.rdb.ZScore(ctx, PassSetKey(scheduleID), member(userID)).Result()
	if zerr != nil && !errors.Is(zerr, redis.Nil) {
		return nil, zerr
	}
	nowMs := g.now().UnixMilli()
	if token == "" || errors.Is(zerr, redis.Nil) || int64(score) <= nowMs {
		if token != "" || zerr == nil {
			if err := g.ReleasePass(ctx, scheduleID, userID); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	return &model.QueuePass{Token: token, ExpiresAt: time.UnixMilli(int64(score)).UTC()}, nil
}

// TryIssuePass atomically returns the caller's live pass or issues a new
// one when a slot is free and the caller is within the first capacity
// ranks. It returns a nil pass with code FULL or WAIT otherwise. Callers
// not yet in line are enqueued.
func (g *Gate) TryIssuePass(ctx context.Context, scheduleID, userID uint64, capacity int, ttl time.Duration) (*model.QueuePass, string, error) {
	now := g.now().UnixMilli()
	ttlMs := ttl.Milliseconds()
	keys := []string{WaitingKey(scheduleID), PassSetKey(scheduleID), TokenKey(scheduleID, userID), SeqKey(scheduleID)}
	res, err := issuePassScript.Run(ctx, g.rdb, keys,
		now, capacity, ttlMs, member(userID), sid(scheduleID), now+ttlMs,
	).Slice()
	if err != nil {
		return nil, "", fmt.Errorf("issue pass: %w", err)
	}
	if len(res) != 3 {
		return nil, "", fmt.Errorf("issue pass: unexpected reply %v", res)
	}
	token, _ := res[0].(string)
	code, _ := res[2].(string)
	if token == "" {
		return nil, code, nil
	}
	expStr, _ := res[1].(string)
	exp, err := strconv.ParseFloat(expStr, 64)
	if err != nil {
		return nil, code, fmt.Errorf("issue pass: bad expiry %q", expStr)
	}
	return &model.QueuePass{Token: token, ExpiresAt: time.UnixMilli(int64(exp)).UTC()}, code, nil
}

// ValidatePass trusts only equality with the canonical token string.
func (g *Gate) ValidatePass(ctx context.Context, scheduleID, userID uint64, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	cur, err := g.rdb.Get(ctx, TokenKey(scheduleID, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return cur == token, nil
}

// ReleasePass drops both halves of the caller's pass.
func (g *Gate) ReleasePass(ctx context.Context, scheduleID, userID uint64) error {
	_, err := g.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, TokenKey(scheduleID, userID))
		p.ZRem(ctx, PassSetKey(scheduleID), member(userID))
		return nil
	})
	return err
}

// ActiveSchedules lists schedules that currently have someone waiting.
func (g *Gate) ActiveSchedules(ctx context.Context) ([]uint64, error) {
	var out []uint64
	iter := g.rdb.Scan(ctx, 0, waitingPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		if id, ok := scheduleFromWaitingKey(iter.Val()); ok {
			out = append(out, id)
		}
	}
	return out, iter.Err()
}

// PassCount returns the size of the pass set, including not-yet-evicted
// expired members.
func (g *Gate) PassCount(ctx context.Context, scheduleID uint64) (int64, error) {
	return g.rdb.ZCard(ctx, PassSetKey(scheduleID)).Result()
}

// Waiting returns the number of users in line.
func (g *Gate) Waiting(ctx context.Context, scheduleID uint64) (int64, error) {
	return g.rdb.ZCard(ctx, WaitingKey(scheduleID)).Result()
}
