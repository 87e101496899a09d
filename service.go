package authgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/throttlekit/authgate/cache"
	"github.com/throttlekit/authgate/jwt"
)

// TokenService is the token lifecycle contract implemented by
// [AtomicService] and [LockService].
//
// Access tokens are validated statelessly. Refresh tokens are only usable
// while their server-side metadata record exists and is bound to the access
// token they were issued with; rotation retires the old record and writes the
// successor in one indivisible step, so exactly one of any set of concurrent
// rotations of the same token wins.
type TokenService interface {
	// CreateToken issues a fresh access/refresh pair for claims.Subject and
	// records the pairing. Claims.ID, IssuedAt, and ExpiresAt are assigned by
	// the service.
	CreateToken(ctx context.Context, claims Claims) (TokenPair, error)

	// ValidateAccessToken verifies an access token by signature and expiry
	// alone. No cache round trip; issued access tokens are not individually
	// revocable.
	ValidateAccessToken(access string) (Claims, error)

	// ValidateRefreshToken verifies the pair: the refresh token must decode,
	// be unexpired, have a live metadata record, and that record must name
	// the presented access token. The access token may be expired but must
	// carry a valid signature.
	ValidateRefreshToken(ctx context.Context, access, refresh string) (Claims, error)

	// UpdateToken rotates the pair: validates it, then atomically replaces
	// the metadata record with one for a freshly issued pair. A caller that
	// finds the old record gone fails with ErrTokenAlreadyRotated.
	UpdateToken(ctx context.Context, claims Claims, access, refresh string) (TokenPair, error)

	// InvalidateToken retires the pair's refresh metadata, making any future
	// use of the refresh token fail. Idempotent when already retired.
	InvalidateToken(ctx context.Context, access, refresh string) error

	// InvalidateSession retires another session of the same subject, named
	// by its refresh id as returned from ActiveSessions. Idempotent.
	InvalidateSession(ctx context.Context, access, refresh, refreshID string) error

	// ActiveSessions lists the subject's currently-active refresh ids,
	// lazily dropping entries whose records have expired.
	ActiveSessions(ctx context.Context, access, refresh string) ([]string, error)
}

// core carries the state shared by both service implementations: the codec,
// the cache handle, and issuance configuration. It holds no mutable state.
type core struct {
	cache  cache.Cache
	codec  *jwt.Codec
	config Config
}

func newCore(c cache.Cache, cfg Config) (core, error) {
	if c == nil {
		return core{}, errors.New("authgate: nil cache")
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return core{}, err
	}

	codec, err := jwt.NewCodec(cfg.SecretKey, cfg.Algorithm)
	if err != nil {
		return core{}, err
	}

	return core{cache: c, codec: codec, config: cfg}, nil
}

// mintPair issues a fresh access/refresh pair from the caller's claims.
// Subject and Scopes are taken from the input; ids and timestamps are always
// assigned here.
func (s *core) mintPair(claims Claims) (TokenPair, Claims, Claims, error) {
	now := time.Now()

	accessClaims := Claims{
		Subject:   claims.Subject,
		ID:        jwt.NewTokenID(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.config.AccessTTL),
		Scopes:    claims.Scopes,
	}
	refreshClaims := Claims{
		Subject:   claims.Subject,
		ID:        jwt.NewTokenID(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.config.RefreshTTL),
		Scopes:    claims.Scopes,
	}

	access, err := s.codec.Encode(accessClaims)
	if err != nil {
		return TokenPair{}, Claims{}, Claims{}, err
	}
	refresh, err := s.codec.Encode(refreshClaims)
	if err != nil {
		return TokenPair{}, Claims{}, Claims{}, err
	}

	return TokenPair{Access: access, Refresh: refresh}, accessClaims, refreshClaims, nil
}

// decodePair decodes both tokens of a presented pair. The refresh token must
// be unexpired; the access token only needs a valid signature, since pairs
// are typically presented for rotation after the access token has expired.
func (s *core) decodePair(access, refresh string) (Claims, Claims, error) {
	if access == "" || refresh == "" {
		return Claims{}, Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, errMissingToken)
	}

	accessClaims, err := s.codec.DecodeExpired(access)
	if err != nil {
		return Claims{}, Claims{}, err
	}
	refreshClaims, err := s.codec.Decode(refresh)
	if err != nil {
		return Claims{}, Claims{}, err
	}

	return accessClaims, refreshClaims, nil
}

// loadMetadata reads the refresh record. A missing record means the token was
// rotated, invalidated, or aged out.
func (s *core) loadMetadata(ctx context.Context, refreshID string) (RefreshMetadata, error) {
	value, err := s.cache.Get(ctx, refreshKey(s.config.KeyPrefix, refreshID))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return RefreshMetadata{}, ErrTokenAlreadyRotated
		}
		s.config.Metrics.Inc(MetricCacheError)
		s.config.Logger.Error().Err(err).Str("refresh_id", refreshID).Msg("refresh metadata read failed")
		return RefreshMetadata{}, err
	}

	return DecodeRefreshMetadata(refreshID, value)
}

// verifyBinding enforces the access/refresh pairing.
func verifyBinding(meta RefreshMetadata, accessClaims Claims) error {
	if meta.AccessID != accessClaims.ID {
		return ErrTokenUnbound
	}
	return nil
}

// rotationSubject enforces that rotation cannot move a session to another
// subject: the caller's claims either omit the subject or repeat it.
func rotationSubject(claims Claims, current string) (Claims, error) {
	if claims.Subject == "" {
		claims.Subject = current
	}
	if claims.Subject != current {
		return Claims{}, fmt.Errorf("%w: subject mismatch", ErrTokenInvalid)
	}
	return claims, nil
}

func (s *core) validateAccessToken(access string) (Claims, error) {
	return s.codec.Decode(access)
}

func (s *core) validateRefreshToken(ctx context.Context, access, refresh string) (Claims, error) {
	accessClaims, refreshClaims, err := s.decodePair(access, refresh)
	if err != nil {
		s.config.Metrics.Inc(MetricRefreshRejected)
		return Claims{}, err
	}

	meta, err := s.loadMetadata(ctx, refreshClaims.ID)
	if err != nil {
		if !errors.Is(err, ErrCacheUnavailable) {
			s.config.Metrics.Inc(MetricRefreshRejected)
		}
		return Claims{}, err
	}
	if err := verifyBinding(meta, accessClaims); err != nil {
		s.config.Metrics.Inc(MetricRefreshRejected)
		return Claims{}, err
	}

	return refreshClaims, nil
}
