package gate

import "github.com/redis/go-redis/v9"

// issuePassScript admits one user if a slot is free and the user is at the
// front of the line.
//
// KEYS: waiting, passZ, token, seq
// ARGV: nowMs, capacity, ttlMs, userId, scheduleId, expiresAtMs
// returns {token, expiresAtMs, code}; code is HAS_PASS, ISSUED, FULL, WAIT,
// BAD_CAP or BAD_TTL.
var issuePassScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
local uid = ARGV[4]
if (not cap) or cap <= 0 then return {'', '0', 'BAD_CAP'} end
if (not ttl) or ttl <= 0 then return {'', '0', 'BAD_TTL'} end

local existing = redis.call('GET', KEYS[3])
if existing then
  local exp = redis.call('ZSCORE', KEYS[2], uid)
  if exp and tonumber(exp) > now then
    redis.call('ZREM', KEYS[1], uid)
    return {existing, exp, 'HAS_PASS'}
  end
  redis.call('DEL', KEYS[3])
end
redis.call('ZREM', KEYS[2], uid)
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])

local rank = redis.call('ZRANK', KEYS[1], uid)
if not rank then
  redis.call('ZADD', KEYS[1], 'NX', ARGV[1], uid)
  rank = redis.call('ZRANK', KEYS[1], uid)
end

if redis.call('ZCARD', KEYS[2]) >= cap then
  return {'', '0', 'FULL'}
end
if (not rank) or tonumber(rank) >= cap then
  return {'', '0', 'WAIT'}
end

local seq = redis.call('INCR', KEYS[4])
local token = ARGV[5] .. ':' .. uid .. ':' .. ARGV[1] .. ':' .. seq
redis.call('SET', KEYS[3], token, 'PX', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[6], uid)
redis.call('ZREM', KEYS[1], uid)
return {token, ARGV[6], 'ISSUED'}
`)

// advanceScript pops up to (capacity - live passes) users off the front of
// the waiting line and issues each a pass. Users who already hold a live
// pass are dropped from the line without a second pass.
//
// KEYS: waiting, passZ, seq
// ARGV: nowMs, capacity, ttlMs, tokenKeyPrefix, scheduleId, expiresAtMs
// returns the number of passes issued.
var advanceScript = redis.NewScript(`
local cap = tonumber(ARGV[2])
if (not cap) or cap <= 0 then return 0 end
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
local deficit = cap - redis.call('ZCARD', KEYS[2])
local issued = 0
while issued < deficit do
  local popped = redis.call('ZPOPMIN', KEYS[1])
  if #popped == 0 then break end
  local uid = popped[1]
  local tokenKey = ARGV[4] .. uid
  local live = redis.call('ZSCORE', KEYS[2], uid)
  if not (live and redis.call('EXISTS', tokenKey) == 1) then
    local seq = redis.call('INCR', KEYS[3])
    local token = ARGV[5] .. ':' .. uid .. ':' .. ARGV[1] .. ':' .. seq
    redis.call('SET', tokenKey, token, 'PX', ARGV[3])
    redis.call('ZADD', KEYS[2], ARGV[6], uid)
    issued = issued + 1
  end
end
return issued
`)
