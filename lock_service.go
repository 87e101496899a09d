package authgate

import (
	"context"
	"errors"
	"strings"

	"github.com/throttlekit/authgate/cache"
)

// LockService is the [TokenService] for cache backends without atomic
// scripting. Multi-step mutations are serialized through a per-subject
// lease lock; a crashed holder blocks other callers for at most
// [Config.LockLease].
//
// Rotation ordering under the lock is write-new-then-delete-old, so a crash
// mid-rotation can leave a subject with an extra live record but never with
// zero.
type LockService struct {
	core
}

// NewLockService builds a lock-based service over any cache backend.
func NewLockService(c cache.Cache, cfg Config) (*LockService, error) {
	base, err := newCore(c, cfg)
	if err != nil {
		return nil, err
	}
	return &LockService{core: base}, nil
}

// CreateToken implements [TokenService].
func (s *LockService) CreateToken(ctx context.Context, claims Claims) (TokenPair, error) {
	pair, accessClaims, refreshClaims, err := s.mintPair(claims)
	if err != nil {
		return TokenPair{}, err
	}

	lock, err := s.lockSubject(ctx, refreshClaims.Subject)
	if err != nil {
		return TokenPair{}, err
	}
	defer s.unlock(ctx, lock)

	if err := s.saveSession(ctx, accessClaims, refreshClaims); err != nil {
		return TokenPair{}, err
	}

	s.config.Metrics.Inc(MetricTokenIssued)
	return pair, nil
}

// ValidateAccessToken implements [TokenService].
func (s *LockService) ValidateAccessToken(access string) (Claims, error) {
	return s.validateAccessToken(access)
}

// ValidateRefreshToken implements [TokenService].
func (s *LockService) ValidateRefreshToken(ctx context.Context, access, refresh string) (Claims, error) {
	return s.validateRefreshToken(ctx, access, refresh)
}

// UpdateToken implements [TokenService]. The old record is re-checked under
// the lock, so of any set of concurrent rotations of the same refresh token
// exactly one succeeds and the rest fail with ErrTokenAlreadyRotated.
func (s *LockService) UpdateToken(ctx context.Context, claims Claims, access, refresh string) (TokenPair, error) {
	accessClaims, refreshClaims, err := s.decodePair(access, refresh)
	if err != nil {
		return TokenPair{}, err
	}

	claims, err = rotationSubject(claims, refreshClaims.Subject)
	if err != nil {
		return TokenPair{}, err
	}

	lock, err := s.lockSubject(ctx, refreshClaims.Subject)
	if err != nil {
		return TokenPair{}, err
	}
	defer s.unlock(ctx, lock)

	meta, err := s.loadMetadata(ctx, refreshClaims.ID)
	if err != nil {
		if errors.Is(err, ErrTokenAlreadyRotated) {
			s.config.Metrics.Inc(MetricRotationConflict)
		}
		return TokenPair{}, err
	}
	if err := verifyBinding(meta, accessClaims); err != nil {
		return TokenPair{}, err
	}

	pair, newAccess, newRefresh, err := s.mintPair(claims)
	if err != nil {
		return TokenPair{}, err
	}

	// Write new, then delete old.
	if err := s.saveSession(ctx, newAccess, newRefresh); err != nil {
		return TokenPair{}, err
	}
	if err := s.dropSession(ctx, refreshClaims.Subject, refreshClaims.ID); err != nil {
		return TokenPair{}, err
	}

	s.config.Metrics.Inc(MetricTokenRotated)
	return pair, nil
}

// InvalidateToken implements [TokenService].
func (s *LockService) InvalidateToken(ctx context.Context, access, refresh string) error {
	accessClaims, refreshClaims, err := s.decodePair(access, refresh)
	if err != nil {
		return err
	}

	lock, err := s.lockSubject(ctx, refreshClaims.Subject)
	if err != nil {
		return err
	}
	defer s.unlock(ctx, lock)

	meta, err := s.loadMetadata(ctx, refreshClaims.ID)
	if err != nil {
		// Already retired: pruning the index is all that is left to do.
		if errors.Is(err, ErrTokenAlreadyRotated) {
			return s.dropSession(ctx, refreshClaims.Subject, refreshClaims.ID)
		}
		return err
	}
	if err := verifyBinding(meta, accessClaims); err != nil {
		return err
	}

	if err := s.dropSession(ctx, refreshClaims.Subject, refreshClaims.ID); err != nil {
		return err
	}

	s.config.Metrics.Inc(MetricTokenInvalidated)
	return nil
}

// InvalidateSession implements [TokenService].
func (s *LockService) InvalidateSession(ctx context.Context, access, refresh, refreshID string) error {
	claims, err := s.validateRefreshToken(ctx, access, refresh)
	if err != nil {
		return err
	}

	lock, err := s.lockSubject(ctx, claims.Subject)
	if err != nil {
		return err
	}
	defer s.unlock(ctx, lock)

	meta, err := s.loadMetadata(ctx, refreshID)
	if err != nil {
		if errors.Is(err, ErrTokenAlreadyRotated) {
			return s.dropSession(ctx, claims.Subject, refreshID)
		}
		return err
	}
	if meta.Subject != claims.Subject {
		return ErrTokenUnbound
	}

	if err := s.dropSession(ctx, claims.Subject, refreshID); err != nil {
		return err
	}

	s.config.Metrics.Inc(MetricTokenInvalidated)
	return nil
}

// ActiveSessions implements [TokenService]. Expired entries are pruned from
// the index as they are discovered.
func (s *LockService) ActiveSessions(ctx context.Context, access, refresh string) ([]string, error) {
	claims, err := s.validateRefreshToken(ctx, access, refresh)
	if err != nil {
		return nil, err
	}

	lock, err := s.lockSubject(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	defer s.unlock(ctx, lock)

	ids, err := s.readIndex(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}

	live := make([]string, 0, len(ids))
	for _, id := range ids {
		_, err := s.cache.Get(ctx, refreshKey(s.config.KeyPrefix, id))
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				continue
			}
			return nil, err
		}
		live = append(live, id)
	}

	if len(live) != len(ids) {
		if err := s.writeIndex(ctx, claims.Subject, live); err != nil {
			return nil, err
		}
	}

	return live, nil
}

func (s *LockService) lockSubject(ctx context.Context, subject string) (cache.Lock, error) {
	lock, err := s.cache.AcquireLock(ctx, subjectLockName(s.config.KeyPrefix, subject), s.config.LockLease)
	if err != nil {
		s.config.Metrics.Inc(MetricCacheError)
		return nil, err
	}
	return lock, nil
}

func (s *LockService) unlock(ctx context.Context, lock cache.Lock) {
	if err := lock.Release(ctx); err != nil {
		s.config.Logger.Warn().Err(err).Msg("lock release failed")
	}
}

// saveSession writes the metadata record and appends the refresh id to the
// subject index. Caller holds the subject lock.
func (s *LockService) saveSession(ctx context.Context, accessClaims, refreshClaims Claims) error {
	meta := RefreshMetadata{
		RefreshID: refreshClaims.ID,
		AccessID:  accessClaims.ID,
		Subject:   refreshClaims.Subject,
		IssuedAt:  refreshClaims.IssuedAt,
	}

	if err := s.cache.Set(ctx, refreshKey(s.config.KeyPrefix, meta.RefreshID), meta.Encode(), s.config.RefreshTTL); err != nil {
		s.config.Metrics.Inc(MetricCacheError)
		return err
	}

	ids, err := s.readIndex(ctx, meta.Subject)
	if err != nil {
		return err
	}
	return s.writeIndex(ctx, meta.Subject, append(ids, meta.RefreshID))
}

// dropSession deletes the metadata record and prunes the refresh id from the
// subject index. Caller holds the subject lock.
func (s *LockService) dropSession(ctx context.Context, subject, refreshID string) error {
	if err := s.cache.Delete(ctx, refreshKey(s.config.KeyPrefix, refreshID)); err != nil {
		s.config.Metrics.Inc(MetricCacheError)
		return err
	}

	ids, err := s.readIndex(ctx, subject)
	if err != nil {
		return err
	}

	remaining := ids[:0]
	for _, id := range ids {
		if id != refreshID {
			remaining = append(remaining, id)
		}
	}

	return s.writeIndex(ctx, subject, remaining)
}

func (s *LockService) readIndex(ctx context.Context, subject string) ([]string, error) {
	value, err := s.cache.Get(ctx, subjectIndexKey(s.config.KeyPrefix, subject))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, nil
		}
		s.config.Metrics.Inc(MetricCacheError)
		return nil, err
	}
	if value == "" {
		return nil, nil
	}
	return strings.Split(value, ","), nil
}

func (s *LockService) writeIndex(ctx context.Context, subject string, ids []string) error {
	key := subjectIndexKey(s.config.KeyPrefix, subject)

	var err error
	if len(ids) == 0 {
		err = s.cache.Delete(ctx, key)
	} else {
		err = s.cache.Set(ctx, key, strings.Join(ids, ","), s.config.RefreshTTL)
	}
	if err != nil {
		s.config.Metrics.Inc(MetricCacheError)
	}
	return err
}
