package authgate

import (
	"context"
	"fmt"
	"time"

	"github.com/throttlekit/authgate/cache"
)

const (
	rotateStatusGone    int64 = 0
	rotateStatusUnbound int64 = 1
	rotateStatusRotated int64 = 2
)

const (
	invalidateStatusUnbound int64 = -1
	invalidateStatusAbsent  int64 = 0
	invalidateStatusRemoved int64 = 1
)

// Metadata records are accessID|subject|issuedAtUnix; the scripts read
// single fields with string.match instead of pulling a JSON parser into the
// hot path.

const saveSessionScript = `
redis.call("SET", KEYS[1], ARGV[1], "EX", tonumber(ARGV[3]))
redis.call("ZADD", KEYS[2], tonumber(ARGV[4]), ARGV[2])
redis.call("EXPIRE", KEYS[2], tonumber(ARGV[3]))
return 1
`

const rotateSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end

local access_id = string.match(data, "^([^|]+)|")
if access_id ~= ARGV[1] then
  return {1}
end

redis.call("SET", KEYS[2], ARGV[4], "EX", tonumber(ARGV[5]))
redis.call("ZADD", KEYS[3], tonumber(ARGV[6]), ARGV[3])
redis.call("EXPIRE", KEYS[3], tonumber(ARGV[5]))
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[3], ARGV[2])

return {2}
`

const invalidateSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  redis.call("ZREM", KEYS[2], ARGV[1])
  return 0
end

if ARGV[2] ~= "" then
  local access_id = string.match(data, "^([^|]+)|")
  if access_id ~= ARGV[2] then
    return -1
  end
end

if ARGV[3] ~= "" then
  local subject = string.match(data, "^[^|]+|(.*)|%d+$")
  if subject ~= ARGV[3] then
    return -1
  end
end

redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`

const searchSessionScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, tonumber(ARGV[1]) - tonumber(ARGV[2]))

local ids = redis.call("ZRANGE", KEYS[1], 0, -1)
local live = {}
for _, id in ipairs(ids) do
  if redis.call("EXISTS", ARGV[3] .. id) == 1 then
    live[#live + 1] = id
  else
    redis.call("ZREM", KEYS[1], id)
  end
end

return live
`

var (
	saveSessionLua       = cache.NewScript(saveSessionScript)
	rotateSessionLua     = cache.NewScript(rotateSessionScript)
	invalidateSessionLua = cache.NewScript(invalidateSessionScript)
	searchSessionLua     = cache.NewScript(searchSessionScript)
)

// AtomicService is the [TokenService] for scriptable backends. Rotation,
// invalidation, and session search execute as single server-side scripts, so
// no interleaving or process crash can observe a half-applied mutation: the
// old record is gone exactly when the new one exists.
type AtomicService struct {
	core
}

// NewAtomicService builds a script-backed service. The cache must support
// atomic scripts; use [NewLockService] for backends that do not.
func NewAtomicService(c cache.Cache, cfg Config) (*AtomicService, error) {
	base, err := newCore(c, cfg)
	if err != nil {
		return nil, err
	}
	if !c.Scriptable() {
		return nil, cache.ErrScriptsUnsupported
	}
	return &AtomicService{core: base}, nil
}

// CreateToken implements [TokenService].
//
//	Performance: 1 script round trip (SET + ZADD + EXPIRE).
func (s *AtomicService) CreateToken(ctx context.Context, claims Claims) (TokenPair, error) {
	pair, accessClaims, refreshClaims, err := s.mintPair(claims)
	if err != nil {
		return TokenPair{}, err
	}

	meta := RefreshMetadata{
		RefreshID: refreshClaims.ID,
		AccessID:  accessClaims.ID,
		Subject:   refreshClaims.Subject,
		IssuedAt:  refreshClaims.IssuedAt,
	}

	_, err = s.cache.Run(ctx, saveSessionLua,
		[]string{
			refreshKey(s.config.KeyPrefix, meta.RefreshID),
			subjectIndexKey(s.config.KeyPrefix, meta.Subject),
		},
		meta.Encode(),
		meta.RefreshID,
		int64(s.config.RefreshTTL/time.Second),
		meta.IssuedAt.Unix(),
	)
	if err != nil {
		s.config.Metrics.Inc(MetricCacheError)
		s.config.Logger.Error().Err(err).Msg("session save script failed")
		return TokenPair{}, err
	}

	s.config.Metrics.Inc(MetricTokenIssued)
	return pair, nil
}

// ValidateAccessToken implements [TokenService].
func (s *AtomicService) ValidateAccessToken(access string) (Claims, error) {
	return s.validateAccessToken(access)
}

// ValidateRefreshToken implements [TokenService].
func (s *AtomicService) ValidateRefreshToken(ctx context.Context, access, refresh string) (Claims, error) {
	return s.validateRefreshToken(ctx, access, refresh)
}

// UpdateToken implements [TokenService]. The pairing check and the record
// swap happen inside one script, so exactly one of any set of concurrent
// rotations of the same refresh token observes the old record and wins.
//
//	Performance: 1 script round trip.
func (s *AtomicService) UpdateToken(ctx context.Context, claims Claims, access, refresh string) (TokenPair, error) {
	accessClaims, refreshClaims, err := s.decodePair(access, refresh)
	if err != nil {
		return TokenPair{}, err
	}

	claims, err = rotationSubject(claims, refreshClaims.Subject)
	if err != nil {
		return TokenPair{}, err
	}

	pair, newAccess, newRefresh, err := s.mintPair(claims)
	if err != nil {
		return TokenPair{}, err
	}

	meta := RefreshMetadata{
		RefreshID: newRefresh.ID,
		AccessID:  newAccess.ID,
		Subject:   newRefresh.Subject,
		IssuedAt:  newRefresh.IssuedAt,
	}

	result, err := s.cache.Run(ctx, rotateSessionLua,
		[]string{
			refreshKey(s.config.KeyPrefix, refreshClaims.ID),
			refreshKey(s.config.KeyPrefix, meta.RefreshID),
			subjectIndexKey(s.config.KeyPrefix, meta.Subject),
		},
		accessClaims.ID,
		refreshClaims.ID,
		meta.RefreshID,
		meta.Encode(),
		int64(s.config.RefreshTTL/time.Second),
		meta.IssuedAt.Unix(),
	)
	if err != nil {
		s.config.Metrics.Inc(MetricCacheError)
		s.config.Logger.Error().Err(err).Msg("rotation script failed")
		return TokenPair{}, err
	}

	status, err := scriptStatus(result)
	if err != nil {
		return TokenPair{}, err
	}

	switch status {
	case rotateStatusGone:
		s.config.Metrics.Inc(MetricRotationConflict)
		return TokenPair{}, ErrTokenAlreadyRotated
	case rotateStatusUnbound:
		return TokenPair{}, ErrTokenUnbound
	case rotateStatusRotated:
		s.config.Metrics.Inc(MetricTokenRotated)
		return pair, nil
	default:
		return TokenPair{}, fmt.Errorf("%w: unknown rotation script status %d", ErrCacheUnavailable, status)
	}
}

// InvalidateToken implements [TokenService]. Idempotent when the record is
// already gone.
func (s *AtomicService) InvalidateToken(ctx context.Context, access, refresh string) error {
	accessClaims, refreshClaims, err := s.decodePair(access, refresh)
	if err != nil {
		return err
	}

	return s.invalidate(ctx, refreshClaims.Subject, refreshClaims.ID, accessClaims.ID, "")
}

// InvalidateSession implements [TokenService]. The target record must belong
// to the caller's subject; the check runs inside the script.
func (s *AtomicService) InvalidateSession(ctx context.Context, access, refresh, refreshID string) error {
	claims, err := s.validateRefreshToken(ctx, access, refresh)
	if err != nil {
		return err
	}

	return s.invalidate(ctx, claims.Subject, refreshID, "", claims.Subject)
}

func (s *AtomicService) invalidate(ctx context.Context, subject, refreshID, expectAccessID, expectSubject string) error {
	result, err := s.cache.Run(ctx, invalidateSessionLua,
		[]string{
			refreshKey(s.config.KeyPrefix, refreshID),
			subjectIndexKey(s.config.KeyPrefix, subject),
		},
		refreshID,
		expectAccessID,
		expectSubject,
	)
	if err != nil {
		s.config.Metrics.Inc(MetricCacheError)
		s.config.Logger.Error().Err(err).Msg("invalidation script failed")
		return err
	}

	status, ok := result.(int64)
	if !ok {
		return fmt.Errorf("%w: invalid invalidation script response", ErrCacheUnavailable)
	}

	switch status {
	case invalidateStatusUnbound:
		return ErrTokenUnbound
	case invalidateStatusAbsent:
		return nil
	case invalidateStatusRemoved:
		s.config.Metrics.Inc(MetricTokenInvalidated)
		return nil
	default:
		return fmt.Errorf("%w: unknown invalidation script status %d", ErrCacheUnavailable, status)
	}
}

// ActiveSessions implements [TokenService]. The script prunes aged and
// vanished entries before returning, so the result only names refresh ids
// whose records are currently live.
func (s *AtomicService) ActiveSessions(ctx context.Context, access, refresh string) ([]string, error) {
	claims, err := s.validateRefreshToken(ctx, access, refresh)
	if err != nil {
		return nil, err
	}

	result, err := s.cache.Run(ctx, searchSessionLua,
		[]string{subjectIndexKey(s.config.KeyPrefix, claims.Subject)},
		time.Now().Unix(),
		int64(s.config.RefreshTTL/time.Second),
		refreshKey(s.config.KeyPrefix, ""),
	)
	if err != nil {
		s.config.Metrics.Inc(MetricCacheError)
		s.config.Logger.Error().Err(err).Msg("session search script failed")
		return nil, err
	}

	raw, ok := result.([]any)
	if !ok {
		if result == nil {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: invalid search script response", ErrCacheUnavailable)
	}

	ids := make([]string, 0, len(raw))
	for _, entry := range raw {
		switch v := entry.(type) {
		case string:
			ids = append(ids, v)
		case []byte:
			ids = append(ids, string(v))
		default:
			return nil, fmt.Errorf("%w: invalid search script entry", ErrCacheUnavailable)
		}
	}

	return ids, nil
}

func scriptStatus(result any) (int64, error) {
	parts, ok := result.([]any)
	if !ok || len(parts) == 0 {
		return 0, fmt.Errorf("%w: invalid script response", ErrCacheUnavailable)
	}
	status, ok := parts[0].(int64)
	if !ok {
		return 0, fmt.Errorf("%w: invalid script status", ErrCacheUnavailable)
	}
	return status, nil
}
