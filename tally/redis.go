// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package tally

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/danielhkuo/livepoll/models"
)

const (
	keyPrefix     = "livepoll:tally:"
	versionPrefix = "livepoll:tally-version:"
)

// adjustScript runs ZINCRBY after checking the counter cannot go negative,
// and bumps the poll version. Scripts execute atomically, so concurrent
// adjustments from any number of service instances are linearizable per poll.
var adjustScript = redis.NewScript(`
local current = tonumber(redis.call('ZSCORE', KEYS[1], ARGV[1]) or '0')
local delta = tonumber(ARGV[2])
if current + delta < 0 then
	return redis.error_reply('UNDERFLOW')
end
local n = redis.call('ZINCRBY', KEYS[1], delta, ARGV[1])
redis.call('INCR', KEYS[2])
return tonumber(n)
`)

// snapshotScript reads the counters and the version they belong to.
var snapshotScript = redis.NewScript(`
local version = tonumber(redis.call('GET', KEYS[2]) or '0')
return {version, redis.call('ZRANGE', KEYS[1], 0, -1, 'WITHSCORES')}
`)

// resetScript replaces the counters only if nothing moved them since the
// caller's snapshot. ARGV is the expected version followed by option/count
// pairs.
var resetScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[2]) or '0')
if current ~= tonumber(ARGV[1]) then
	return redis.error_reply('STALE')
end
redis.call('DEL', KEYS[1])
for i = 2, #ARGV, 2 do
	redis.call('ZADD', KEYS[1], ARGV[i + 1], ARGV[i])
end
return redis.call('INCR', KEYS[2])
`)

// RedisStore keeps each poll's counters in a sorted set keyed by option id,
// next to a version counter.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func pollKeys(pollID string) []string {
	return []string{keyPrefix + pollID, versionPrefix + pollID}
}

func (s *RedisStore) Adjust(ctx context.Context, pollID, optionID string, delta int64) (int64, error) {
	if err := checkDelta(delta); err != nil {
		return 0, err
	}
	n, err := adjustScript.Run(ctx, s.client, pollKeys(pollID), optionID, delta).Int64()
	if err != nil {
		if strings.Contains(err.Error(), "UNDERFLOW") {
			return 0, fmt.Errorf("option %s in poll %s: %w", optionID, pollID, ErrUnderflow)
		}
		return 0, fmt.Errorf("adjust tally: %w: %v", models.ErrUnavailable, err)
	}
	return n, nil
}

func (s *RedisStore) Snapshot(ctx context.Context, pollID string) (models.Tally, error) {
	res, err := snapshotScript.Run(ctx, s.client, pollKeys(pollID)).Slice()
	if err != nil {
		return models.Tally{}, fmt.Errorf("snapshot tally: %w: %v", models.ErrUnavailable, err)
	}
	if len(res) != 2 {
		return models.Tally{}, fmt.Errorf("snapshot tally: %w: unexpected reply %v", models.ErrUnavailable, res)
	}
	version, _ := res[0].(int64)
	flat, _ := res[1].([]any)

	counts := make(map[string]int64, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		option, ok := flat[i].(string)
		if !ok {
			continue
		}
		score, err := parseScore(flat[i+1])
		if err != nil {
			return models.Tally{}, fmt.Errorf("snapshot tally: option %s: %w", option, err)
		}
		counts[option] = score
	}

	t := models.NewTally(pollID, counts)
	t.Version = version
	return t, nil
}

func (s *RedisStore) Reset(ctx context.Context, pollID string, version int64, counts map[string]int64) (int64, error) {
	if err := checkCounts(pollID, counts); err != nil {
		return 0, err
	}
	args := make([]any, 0, 1+2*len(counts))
	args = append(args, version)
	for option, count := range counts {
		args = append(args, option, count)
	}

	next, err := resetScript.Run(ctx, s.client, pollKeys(pollID), args...).Int64()
	if err != nil {
		if strings.Contains(err.Error(), "STALE") {
			return 0, fmt.Errorf("poll %s moved past version %d: %w", pollID, version, ErrStale)
		}
		return 0, fmt.Errorf("reset tally: %w: %v", models.ErrUnavailable, err)
	}
	return next, nil
}

// parseScore reads a sorted-set score, which scripts return as a string.
func parseScore(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("unexpected score %T", v)
	}
}
