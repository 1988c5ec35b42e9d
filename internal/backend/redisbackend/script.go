package redisbackend

import "github.com/redis/go-redis/v9"

// publishScript performs the entire publish step (§4.1, §4.2) as a single
// atomic unit: allocate global_id and message_id, append to both backlogs,
// trim, refresh TTLs and fan out -- all inside one Lua execution, so no
// other publisher on the same store can interleave.
//
// KEYS[1] global id counter
// KEYS[2] per-channel id counter
// KEYS[3] per-channel backlog (zset)
// KEYS[4] global backlog (zset)
// ARGV[1] channel name
// ARGV[2] payload
// ARGV[3] max_backlog_size (0 disables channel trimming)
// ARGV[4] max_global_backlog_size (0 disables global trimming)
// ARGV[5] clear_every
// ARGV[6] max_backlog_age_seconds (0 disables TTL refresh)
// ARGV[7] fan-out channel name
// ARGV[8] scope token (empty string if the message carries no
//         user/group/client/site scoping; see message.EncodeScope)
//
// Returns the assigned message_id.
var publishScript = redis.NewScript(`
local global_id = redis.call('INCR', KEYS[1])
local message_id = redis.call('INCR', KEYS[2])
local header = global_id .. '|' .. message_id .. '|' .. ARGV[1]
if ARGV[8] ~= '' then
  header = header .. '|' .. ARGV[8]
end
local encoded = header .. '\n' .. ARGV[2]

redis.call('ZADD', KEYS[3], message_id, encoded)
redis.call('ZADD', KEYS[4], global_id, encoded)

local max_backlog_size = tonumber(ARGV[3])
local clear_every = tonumber(ARGV[5])
if clear_every < 1 then clear_every = 1 end

if max_backlog_size > 0 and message_id > max_backlog_size and (message_id % clear_every) == 0 then
  redis.call('ZREMRANGEBYSCORE', KEYS[3], '-inf', message_id - max_backlog_size)
end

local max_global_backlog_size = tonumber(ARGV[4])
if max_global_backlog_size > 0 and global_id > max_global_backlog_size and (global_id % clear_every) == 0 then
  redis.call('ZREMRANGEBYSCORE', KEYS[4], '-inf', global_id - max_global_backlog_size)
end

local max_age = tonumber(ARGV[6])
if max_age > 0 then
  redis.call('EXPIRE', KEYS[3], max_age)
  redis.call('EXPIRE', KEYS[4], max_age)
end

redis.call('PUBLISH', ARGV[7], encoded)

return message_id
`)
