package redis

const (
	luaAppendEvents = `
		-- Append events to the stream list and the global order list, but only
		-- if neither list moved since the caller read their lengths.
		-- KEYS[1] = stream events key
		-- KEYS[2] = global order key
		-- ARGV[1] = expected stream length
		-- ARGV[2] = expected global length
		-- ARGV[3..N] = stored event JSON, versions already stamped
		-- Returns: {1, streamLen, globalLen} on success, {0, streamLen, globalLen} otherwise

		local streamLen = redis.call('LLEN', KEYS[1])
		local globalLen = redis.call('LLEN', KEYS[2])

		if streamLen ~= tonumber(ARGV[1]) or globalLen ~= tonumber(ARGV[2]) then
			return {0, streamLen, globalLen}
		end

		for i = 3, #ARGV do
			redis.call('RPUSH', KEYS[1], ARGV[i])
			redis.call('RPUSH', KEYS[2], ARGV[i])
		end

		return {1, redis.call('LLEN', KEYS[1]), redis.call('LLEN', KEYS[2])}
		`
)
