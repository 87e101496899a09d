package authgate

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/throttlekit/authgate/jwt"
)

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultLockLease  = 5 * time.Second
)

// Config holds token issuance settings. Zero durations take the documented
// defaults; SecretKey is the only required field.
type Config struct {
	// SecretKey is the signing key material. A PEM private key selects an
	// asymmetric algorithm, anything else is used as an HMAC secret.
	SecretKey []byte

	// Algorithm optionally pins the signing algorithm. It must match the one
	// inferred from SecretKey; leave empty to accept the inferred choice.
	Algorithm jwt.Algorithm

	// AccessTTL is the access token lifetime. Default 1h.
	AccessTTL time.Duration

	// RefreshTTL is the refresh token and metadata lifetime. Default 168h.
	RefreshTTL time.Duration

	// KeyPrefix namespaces every cache key written by the service.
	KeyPrefix string

	// LockLease bounds how long a crashed LockService holder can block other
	// callers. Default 5s. Ignored by AtomicService.
	LockLease time.Duration

	// Metrics receives operation counters when non-nil.
	Metrics *Metrics

	// Logger receives infrastructure failure logs. Defaults to a nop logger.
	Logger zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.AccessTTL <= 0 {
		c.AccessTTL = defaultAccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = defaultRefreshTTL
	}
	if c.LockLease <= 0 {
		c.LockLease = defaultLockLease
	}
	return c
}

func (c Config) validate() error {
	if len(c.SecretKey) == 0 {
		return errors.New("authgate: missing secret key")
	}
	if c.RefreshTTL < c.AccessTTL {
		return errors.New("authgate: refresh TTL shorter than access TTL")
	}
	return nil
}
