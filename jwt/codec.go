package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Algorithm identifies a JWT signing algorithm supported by the codec.
type Algorithm string

const (
	// AlgHS256 is an HMAC-SHA256 symmetric signature.
	AlgHS256 Algorithm = "HS256"
	// AlgHS384 is an HMAC-SHA384 symmetric signature.
	AlgHS384 Algorithm = "HS384"
	// AlgHS512 is an HMAC-SHA512 symmetric signature.
	AlgHS512 Algorithm = "HS512"
	// AlgEdDSA is an Ed25519 asymmetric signature.
	AlgEdDSA Algorithm = "EdDSA"
	// AlgRS256 is an RSA-SHA256 asymmetric signature.
	AlgRS256 Algorithm = "RS256"
	// AlgES256 is an ECDSA-P256 asymmetric signature.
	AlgES256 Algorithm = "ES256"
)

// ErrTokenExpired is returned by [Codec.Decode] when the token is
// structurally valid and correctly signed but past its expiry.
var ErrTokenExpired = errors.New("token expired")

// ErrTokenInvalid is returned by [Codec.Decode] for malformed tokens, bad
// signatures, and claims that violate the required shape.
var ErrTokenInvalid = errors.New("invalid token")

// Claims is the structured record carried by every issued token.
// Subject must be non-empty and ExpiresAt must be after IssuedAt.
type Claims struct {
	Subject   string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Scopes    []string
}

// Validate checks the required claims shape.
func (c Claims) Validate() error {
	if strings.TrimSpace(c.Subject) == "" {
		return fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if c.ID == "" {
		return fmt.Errorf("%w: missing token id", ErrTokenInvalid)
	}
	if !c.ExpiresAt.After(c.IssuedAt) {
		return fmt.Errorf("%w: expiry not after issuance", ErrTokenInvalid)
	}
	return nil
}

type wireClaims struct {
	Scopes []string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies claims. It is stateless and safe for concurrent
// use; the algorithm and key material are fixed at construction.
type Codec struct {
	algorithm Algorithm
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// NewCodec builds a codec from key material. algorithm may be empty, in which
// case it is inferred from the key shape; when set, it must match the
// inferred one.
func NewCodec(secretKey []byte, algorithm Algorithm) (*Codec, error) {
	if len(secretKey) == 0 {
		return nil, errors.New("jwt: empty secret key")
	}

	codec, err := codecFromKey(secretKey)
	if err != nil {
		return nil, err
	}

	if algorithm != "" && algorithm != codec.algorithm {
		return nil, fmt.Errorf("jwt: key material selects %s, configured algorithm is %s", codec.algorithm, algorithm)
	}

	return codec, nil
}

func codecFromKey(secretKey []byte) (*Codec, error) {
	if key, err := jwt.ParseEdPrivateKeyFromPEM(secretKey); err == nil {
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("jwt: unsupported EdDSA key type")
		}
		return &Codec{
			algorithm: AlgEdDSA,
			method:    jwt.SigningMethodEdDSA,
			signKey:   priv,
			verifyKey: priv.Public(),
		}, nil
	}

	if key, err := jwt.ParseRSAPrivateKeyFromPEM(secretKey); err == nil {
		return &Codec{
			algorithm: AlgRS256,
			method:    jwt.SigningMethodRS256,
			signKey:   key,
			verifyKey: &key.PublicKey,
		}, nil
	}

	if key, err := jwt.ParseECPrivateKeyFromPEM(secretKey); err == nil {
		return &Codec{
			algorithm: AlgES256,
			method:    jwt.SigningMethodES256,
			signKey:   key,
			verifyKey: &key.PublicKey,
		}, nil
	}

	alg, method := symmetricMethod(len(secretKey))
	return &Codec{
		algorithm: alg,
		method:    method,
		signKey:   secretKey,
		verifyKey: secretKey,
	}, nil
}

// symmetricMethod picks HMAC strength from the secret length.
func symmetricMethod(size int) (Algorithm, jwt.SigningMethod) {
	switch {
	case size < 48:
		return AlgHS256, jwt.SigningMethodHS256
	case size < 64:
		return AlgHS384, jwt.SigningMethodHS384
	default:
		return AlgHS512, jwt.SigningMethodHS512
	}
}

// Algorithm returns the algorithm the codec signs with.
func (c *Codec) Algorithm() Algorithm { return c.algorithm }

// Encode signs claims into an opaque token string.
func (c *Codec) Encode(claims Claims) (string, error) {
	if err := claims.Validate(); err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(c.method, wireClaims{
		Scopes: claims.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			ID:        claims.ID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})

	return token.SignedString(c.signKey)
}

// Decode verifies a token string and returns its claims. Expired tokens fail
// with [ErrTokenExpired]; every other failure maps to [ErrTokenInvalid].
func (c *Codec) Decode(tokenStr string) (Claims, error) {
	return c.decode(tokenStr, false)
}

// DecodeExpired verifies a token's signature and shape but tolerates an
// elapsed expiry. Rotation presents pairs whose access token has usually
// already expired; its identity still matters for the pairing check.
func (c *Codec) DecodeExpired(tokenStr string) (Claims, error) {
	return c.decode(tokenStr, true)
}

func (c *Codec) decode(tokenStr string, allowExpired bool) (Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if allowExpired {
		options = []jwt.ParserOption{
			jwt.WithValidMethods([]string{c.method.Alg()}),
			jwt.WithoutClaimsValidation(),
		}
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &wireClaims{}, func(t *jwt.Token) (any, error) {
		return c.verifyKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	wire, ok := token.Claims.(*wireClaims)
	if !ok || !token.Valid {
		return Claims{}, ErrTokenInvalid
	}
	if wire.IssuedAt == nil || wire.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: missing timestamps", ErrTokenInvalid)
	}

	claims := Claims{
		Subject:   wire.Subject,
		ID:        wire.RegisteredClaims.ID,
		IssuedAt:  wire.IssuedAt.Time,
		ExpiresAt: wire.ExpiresAt.Time,
		Scopes:    wire.Scopes,
	}
	if err := claims.Validate(); err != nil {
		return Claims{}, err
	}

	return claims, nil
}

// NewTokenID generates a unique token identifier (jti).
func NewTokenID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
