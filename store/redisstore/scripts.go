package redisstore

import "github.com/redis/go-redis/v9"

// staleViews is returned by the write and delete scripts when the caller's
// index definitions are older than the stored ones.
const staleViews = -1

// KEYS[1] = data key, KEYS[2] = index version key,
// KEYS[1+2i], KEYS[2+2i] = view set and view expiry set.
// ARGV[1] = mode (set|nx|xx), ARGV[2] = value, ARGV[3] = ttl ms, ARGV[4] = member,
// ARGV[5] = expiry unix ms (0 = none), ARGV[6] = caller's index version,
// ARGV[6+i] = "1" when view i emits the key.
const writeScript = `
local version = redis.call("GET", KEYS[2]) or "0"
if version ~= ARGV[6] then
  return -1
end

local mode = ARGV[1]
local ttl = tonumber(ARGV[3])
local ok
if mode == "nx" then
  if ttl > 0 then
    ok = redis.call("SET", KEYS[1], ARGV[2], "PX", ttl, "NX")
  else
    ok = redis.call("SET", KEYS[1], ARGV[2], "NX")
  end
elseif mode == "xx" then
  if ttl > 0 then
    ok = redis.call("SET", KEYS[1], ARGV[2], "PX", ttl, "XX")
  else
    ok = redis.call("SET", KEYS[1], ARGV[2], "XX")
  end
else
  if ttl > 0 then
    ok = redis.call("SET", KEYS[1], ARGV[2], "PX", ttl)
  else
    ok = redis.call("SET", KEYS[1], ARGV[2])
  end
end
if not ok then
  return 0
end

local member = ARGV[4]
local expires = tonumber(ARGV[5])
local views = (#KEYS - 2) / 2
for i = 1, views do
  local view = KEYS[1 + 2 * i]
  local vexp = KEYS[2 + 2 * i]
  if ARGV[6 + i] == "1" then
    redis.call("ZADD", view, 0, member)
    if expires > 0 then
      redis.call("ZADD", vexp, expires, member)
    else
      redis.call("ZREM", vexp, member)
    end
  else
    redis.call("ZREM", view, member)
    redis.call("ZREM", vexp, member)
  end
end
return 1
`

var writeLua = redis.NewScript(writeScript)

// KEYS[1] = data key, KEYS[2] = index version key, KEYS[3..] = view sets and
// view expiry sets. ARGV[1] = member, ARGV[2] = caller's index version.
const deleteScript = `
local version = redis.call("GET", KEYS[2]) or "0"
if version ~= ARGV[2] then
  return -1
end

local deleted = redis.call("DEL", KEYS[1])
for i = 3, #KEYS do
  redis.call("ZREM", KEYS[i], ARGV[1])
end
return deleted
`

var deleteLua = redis.NewScript(deleteScript)

// KEYS[1] = counter key. ARGV[1] = delta, ARGV[2] = initial.
const incrementScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  redis.call("SET", KEYS[1], ARGV[2])
  return tonumber(ARGV[2])
end
return redis.call("INCRBY", KEYS[1], ARGV[1])
`

var incrementLua = redis.NewScript(incrementScript)

// KEYS[1] = view set, KEYS[2] = view expiry set.
// ARGV[1] = now unix ms, ARGV[2] = lex min, ARGV[3] = lex max, ARGV[4] = count|keys.
const queryScript = `
local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
local n = #expired
local i = 1
while i <= n do
  local j = math.min(i + 499, n)
  redis.call("ZREM", KEYS[1], unpack(expired, i, j))
  redis.call("ZREM", KEYS[2], unpack(expired, i, j))
  i = j + 1
end
if ARGV[4] == "count" then
  return redis.call("ZLEXCOUNT", KEYS[1], ARGV[2], ARGV[3])
end
return redis.call("ZRANGEBYLEX", KEYS[1], ARGV[2], ARGV[3])
`

var queryLua = redis.NewScript(queryScript)
