// Package redisstore adapts a Redis-compatible server to the store.Store
// contract. Every conditional mutation runs as a server-side Lua script, so
// each operation is one atomic round trip; there is no client-side
// read-modify-write anywhere.
//
// A record is a hash:
//
//	value     - framed bytes, opaque to this package
//	lockUntil - logical deadline, unix milliseconds
//	lockOwner - fencing token of the in-flight refresher
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/herdcache/store"
)

var ErrNilClient = errors.New("redisstore: nil client")

// readAndLockScript returns {value, lockUntil, lockOwner, acquired}. The
// claim happens iff the record is absent or logically expired; the returned
// fields are always the pre-claim state. EXPIRE is armed only when the call
// creates the record, so a claim on an existing record never shortens its
// physical retention.
var readAndLockScript = goredis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'value')
local lu = redis.call('HGET', KEYS[1], 'lockUntil')
local lo = redis.call('HGET', KEYS[1], 'lockOwner')
if lu == false or tonumber(lu) <= tonumber(ARGV[1]) then
	redis.call('HSET', KEYS[1], 'lockUntil', ARGV[2], 'lockOwner', ARGV[3])
	if v == false and lu == false then
		redis.call('EXPIRE', KEYS[1], ARGV[4])
	end
	return {v, lu, lo, 1}
end
return {v, lu, lo, 0}
`)

// writeResultScript settles a loader result under the caller's fencing
// token. A mismatch means a newer owner took over; nothing is mutated.
var writeResultScript = goredis.NewScript(`
local lo = redis.call('HGET', KEYS[1], 'lockOwner')
if lo ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'value', ARGV[2], 'lockUntil', ARGV[3])
redis.call('HDEL', KEYS[1], 'lockOwner')
redis.call('EXPIRE', KEYS[1], ARGV[4])
return 1
`)

// unlockScript expires the lock at now, fencing-checked.
var unlockScript = goredis.NewScript(`
local lo = redis.call('HGET', KEYS[1], 'lockOwner')
if lo ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'lockUntil', ARGV[2])
redis.call('HDEL', KEYS[1], 'lockOwner')
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

// tagDeletedScript marks an existing record logically expired. A live lock
// (owner set and lockUntil still in the future) is left untouched so an
// in-flight refresh is not clobbered; its writeResult settles the record.
var tagDeletedScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local lu = redis.call('HGET', KEYS[1], 'lockUntil')
local lo = redis.call('HGET', KEYS[1], 'lockOwner')
if lo == false or lu == false or tonumber(lu) <= tonumber(ARGV[1]) then
	redis.call('HSET', KEYS[1], 'lockUntil', ARGV[1])
	redis.call('HDEL', KEYS[1], 'lockOwner')
end
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 1
`)

type Store struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool
}

var _ store.Store = (*Store)(nil)

type Config struct {
	Client      goredis.UniversalClient
	KeyPrefix   string // optional namespace prepended to every key, e.g. "cache:user:"
	CloseClient bool   // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Store{rdb: cfg.Client, prefix: cfg.KeyPrefix, closeClient: cfg.CloseClient}, nil
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) ReadAndLock(ctx context.Context, key string, now time.Time, owner string, until time.Time, physTTL time.Duration) (store.Record, bool, error) {
	res, err := readAndLockScript.Run(ctx, s.rdb, []string{s.key(key)},
		now.UnixMilli(), until.UnixMilli(), owner, ttlSeconds(physTTL)).Slice()
	if err != nil {
		return store.Record{}, false, err
	}
	if len(res) != 4 {
		return store.Record{}, false, fmt.Errorf("redisstore: unexpected reply of %d elements", len(res))
	}
	rec, err := parseRecord(res[0], res[1], res[2])
	if err != nil {
		return store.Record{}, false, err
	}
	acquired, _ := res[3].(int64)
	return rec, acquired == 1, nil
}

func (s *Store) WriteResult(ctx context.Context, key, owner string, value []byte, validUntil time.Time, physTTL time.Duration) (bool, error) {
	wrote, err := writeResultScript.Run(ctx, s.rdb, []string{s.key(key)},
		owner, value, validUntil.UnixMilli(), ttlSeconds(physTTL)).Int()
	if err != nil {
		return false, err
	}
	return wrote == 1, nil
}

func (s *Store) Unlock(ctx context.Context, key, owner string, now time.Time, physTTL time.Duration) error {
	return unlockScript.Run(ctx, s.rdb, []string{s.key(key)},
		owner, now.UnixMilli(), ttlSeconds(physTTL)).Err()
}

func (s *Store) TagDeleted(ctx context.Context, key string, now time.Time, physTTL time.Duration) error {
	return tagDeletedScript.Run(ctx, s.rdb, []string{s.key(key)},
		now.UnixMilli(), ttlSeconds(physTTL)).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

// parseRecord maps the script's {value, lockUntil, lockOwner} triple onto a
// Record. Absent hash fields come back as RESP nulls.
func parseRecord(v, lu, lo any) (store.Record, error) {
	var rec store.Record
	if s, ok := v.(string); ok {
		rec.Value = []byte(s)
		rec.HasValue = true
	}
	if s, ok := lu.(string); ok {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return store.Record{}, fmt.Errorf("redisstore: bad lockUntil %q: %w", s, err)
		}
		rec.LockUntil = time.UnixMilli(ms)
	}
	if s, ok := lo.(string); ok {
		rec.Owner = s
	}
	return rec, nil
}

// ttlSeconds converts a retention to whole EXPIRE seconds, rounding up so a
// sub-second retention never becomes an immediate delete.
func ttlSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
