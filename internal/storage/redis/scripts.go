package redis

const (
	// putScript atomically sets a batch of values and records their logical keys
	putScript = `
local index_key = KEYS[1]       -- {prefix}:keys

-- ARGV is a flat list of (redis_key, logical_key, value) triples
for i = 1, #ARGV, 3 do
  redis.call('SET', ARGV[i], ARGV[i + 2])
  redis.call('SADD', index_key, ARGV[i + 1])
end

return 'OK'
`

	// deleteScript atomically removes values and their index entries
	deleteScript = `
local index_key = KEYS[1]       -- {prefix}:keys

-- ARGV is a flat list of (redis_key, logical_key) pairs
for i = 1, #ARGV, 2 do
  redis.call('DEL', ARGV[i])
  redis.call('SREM', index_key, ARGV[i + 1])
end

return 'OK'
`
)
