package redis

import "github.com/redis/go-redis/v9"

// Every trace key shares the {trace id} hash tag so scripts stay on one slot.
//
// KEYS[1] = trace hash, KEYS[2] = expected, KEYS[3] = unexpected,
// KEYS[4] = context details, KEYS[5] = history list.

// createTraceScript stores a new trace.
// ARGV[1..5] = topic, resolution, errors, created_at, resolved_at
// ARGV[6] = expected count, then (context, resolution, detail) triples
// then unexpected count and triples, then history entries.
// Returns 0 when the trace already exists and 1 otherwise.
var createTraceScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], "topic", ARGV[1], "resolution", ARGV[2], "errors", ARGV[3],
    "created_at", ARGV[4], "resolved_at", ARGV[5])
local i = 6
for _, target in ipairs({KEYS[2], KEYS[3]}) do
    local n = tonumber(ARGV[i])
    i = i + 1
    for _ = 1, n do
        redis.call("HSET", target, ARGV[i], ARGV[i + 1])
        redis.call("HSET", KEYS[4], ARGV[i], ARGV[i + 2])
        i = i + 3
    end
end
while i <= #ARGV do
    redis.call("RPUSH", KEYS[5], ARGV[i])
    i = i + 1
end
return 1
`)

// reportContextScript appends a report and records its resolution.
// ARGV = context, resolution, detail, history entry.
// Returns -1 missing trace, 0 recorded, 1 already resolved, 2 unexpected.
var reportContextScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return -1
end
redis.call("RPUSH", KEYS[5], ARGV[4])
local current = redis.call("HGET", KEYS[2], ARGV[1])
if not current then
    redis.call("HSET", KEYS[3], ARGV[1], ARGV[2])
    redis.call("HSET", KEYS[4], ARGV[1], ARGV[3])
    return 2
end
if current ~= "pending" then
    return 1
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("HSET", KEYS[4], ARGV[1], ARGV[3])
return 0
`)

// completeTraceScript resolves a pending trace.
// ARGV = resolution, errors, resolved_at.
// Returns -1 missing trace, 0 already terminal, 1 applied.
var completeTraceScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "resolution")
if not current then
    return -1
end
if current ~= "pending" then
    return 0
end
redis.call("HSET", KEYS[1], "resolution", ARGV[1], "errors", ARGV[2], "resolved_at", ARGV[3])
return 1
`)

// startSegmentScript creates or restarts a segment.
// KEYS[1] = segment hash, ARGV[1] = started_at.
// Returns -1 when the segment is pending or succeeded, else the attempt count.
var startSegmentScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "resolution")
if current and current ~= "failure" then
    return -1
end
local attempts = redis.call("HINCRBY", KEYS[1], "attempts", 1)
redis.call("HSET", KEYS[1], "resolution", "pending", "error", "", "started_at", ARGV[1], "finished_at", "")
return attempts
`)

// finishSegmentScript resolves a pending segment.
// KEYS[1] = segment hash, ARGV = resolution, error, finished_at.
// Returns -1 missing segment, 0 not pending, 1 applied.
var finishSegmentScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "resolution")
if not current then
    return -1
end
if current ~= "pending" then
    return 0
end
redis.call("HSET", KEYS[1], "resolution", ARGV[1], "error", ARGV[2], "finished_at", ARGV[3])
return 1
`)
