// Package lock implements owner-tagged advisory locks on Redis: SET NX PX to
// acquire, compare-and-delete to release. They are a latency optimisation
// and an election device; they never authorise a durable write on their own.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes KEYS[1] only when it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type Locker struct {
	rdb *redis.Client
}

func NewLocker(rdb *redis.Client) *Locker { return &Locker{rdb: rdb} }

// Acquire sets key to owner for ttl if nobody holds it.
func (l *Locker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("lock: ttl must be positive")
	}
	ok, err := l.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock acquire %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes key if it is still held by owner and reports whether it did.
// A lock that expired and was taken by someone else is left alone.
func (l *Locker) Release(ctx context.Context, key, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.rdb, []string{key}, owner).Int64()
	if err != nil {
		return false, fmt.Errorf("lock release %s: %w", key, err)
	}
	return n == 1, nil
}

// Owner returns the current holder of key; ok is false when it is free.
func (l *Locker) Owner(ctx context.Context, key string) (owner string, ok bool, err error) {
	v, err := l.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SeatLocks is the per-seat fast-path exclusion used by the hold path.
type SeatLocks struct {
	l *Locker
}

func NewSeatLocks(l *Locker) *SeatLocks { return &SeatLocks{l: l} }

func SeatKey(scheduleID uint64, seatNo string) string {
	return "seat:lock:" + strconv.FormatUint(scheduleID, 10) + ":" + seatNo
}

func (s *SeatLocks) Lock(ctx context.Context, scheduleID uint64, seatNo string, ownerID uint64, ttl time.Duration) (bool, error) {
	return s.l.Acquire(ctx, SeatKey(scheduleID, seatNo), strconv.FormatUint(ownerID, 10), ttl)
}

func (s *SeatLocks) Release(ctx context.Context, scheduleID uint64, seatNo string, ownerID uint64) error {
	_, err := s.l.Release(ctx, SeatKey(scheduleID, seatNo), strconv.FormatUint(ownerID, 10))
	return err
}

// Owner returns the user holding the seat lock, if any.
func (s *SeatLocks) Owner(ctx context.Context, scheduleID uint64, seatNo string) (uint64, bool, error) {
	v, ok, err := s.l.Owner(ctx, SeatKey(scheduleID, seatNo))
	if err != nil || !ok {
		return 0, false, err
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("seat lock %s: bad owner %q", SeatKey(scheduleID, seatNo), v)
	}
	return id, true, nil
}
