package budgets

// Lua scripts for atomic ledger operations. A single script execution is the
// linearization point for all reserve/commit/release traffic on one account,
// which keeps the hard-mode invariant intact when multiple gateway instances
// share the same Redis backend.

const (
	// reserveScript atomically evaluates the enforcement mode and, if the
	// reservation is admitted, increments the account's reserved spend and
	// records the reservation hash.
	//
	// Keys:
	//   KEYS[1] - account hash (fields: limit, committed, reserved, mode,
	//             threshold, alerted; amounts in micro-units)
	//   KEYS[2] - reservation hash
	//
	// Args:
	//   ARGV[1] - reservation amount in micro-units (integer)
	//   ARGV[2] - reservation TTL in seconds (integer)
	//   ARGV[3] - alert policy ("fire_once" or "fire_always")
	//
	// Returns: {admitted, projected, limit, over_limit, threshold_crossed}
	reserveScript = `
local acct = KEYS[1]
local res = KEYS[2]
local amount = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local policy = ARGV[3]

local limit = tonumber(redis.call('HGET', acct, 'limit') or '0')
local committed = tonumber(redis.call('HGET', acct, 'committed') or '0')
local reserved = tonumber(redis.call('HGET', acct, 'reserved') or '0')
local mode = redis.call('HGET', acct, 'mode')
if not mode or mode == '' then mode = 'hard' end
local threshold = tonumber(redis.call('HGET', acct, 'threshold') or '0')

local projected = committed + reserved + amount
local over = 0
local crossed = 0

if limit > 0 and projected > limit then
    if mode == 'hard' then
        return {0, projected, limit, 0, 0}
    end
    over = 1
end

if limit > 0 and mode == 'warn' and threshold > 0 then
    if projected * 100 >= limit * threshold then
        local fired = redis.call('HGET', acct, 'alerted')
        if policy == 'fire_always' or fired ~= '1' then
            redis.call('HSET', acct, 'alerted', '1')
            crossed = 1
        end
    end
end

redis.call('HINCRBY', acct, 'reserved', amount)
redis.call('HSET', res, 'state', 'reserved', 'amount', amount)
redis.call('EXPIRE', res, ttl)
return {1, projected, limit, over, crossed}
`

	// settleScript commits or releases a reservation exactly once. The
	// reservation state flips inside the same script execution that adjusts
	// the account, so a concurrent duplicate settle observes 'settled'.
	//
	// Keys:
	//   KEYS[1] - reservation hash
	//   KEYS[2] - account hash
	//
	// Args:
	//   ARGV[1] - actual cost in micro-units for commit, or "" for release
	//
	// Returns: 1 applied, -1 unknown reservation, -2 already settled
	settleScript = `
local res = KEYS[1]
local acct = KEYS[2]

local state = redis.call('HGET', res, 'state')
if not state then
    return -1
end
if state ~= 'reserved' then
    return -2
end

local amount = tonumber(redis.call('HGET', res, 'amount'))
redis.call('HSET', res, 'state', 'settled')
redis.call('HINCRBY', acct, 'reserved', -amount)
if ARGV[1] ~= '' then
    redis.call('HINCRBY', acct, 'committed', tonumber(ARGV[1]))
end
return 1
`
)
