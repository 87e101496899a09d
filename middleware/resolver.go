package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	authgate "github.com/throttlekit/authgate"
	"github.com/throttlekit/authgate/jwt"
)

// AccessValidator is the slice of the token service contract the middleware
// needs for authenticated callers.
type AccessValidator interface {
	ValidateAccessToken(access string) (authgate.Claims, error)
}

// AnonResolver produces a stable identity for requests without credentials.
// Implementations may set response headers (for example, a session cookie).
type AnonResolver interface {
	Resolve(w http.ResponseWriter, r *http.Request) (authgate.Identity, error)
}

const defaultAnonCookie = "ag-session"

// AnonSessionResolver identifies unauthenticated callers by a signed session
// token carried in a cookie. A request without a (valid) cookie is issued a
// fresh session on the spot, so every caller has a stable identity from its
// first request on.
type AnonSessionResolver struct {
	codec      *jwt.Codec
	cookieName string
	ttl        time.Duration
}

// NewAnonSessionResolver builds a resolver signing sessions with secret.
// cookieName defaults to "ag-session" and ttl to 30 days.
func NewAnonSessionResolver(secret []byte, cookieName string, ttl time.Duration) (*AnonSessionResolver, error) {
	codec, err := jwt.NewCodec(secret, "")
	if err != nil {
		return nil, err
	}
	if cookieName == "" {
		cookieName = defaultAnonCookie
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &AnonSessionResolver{codec: codec, cookieName: cookieName, ttl: ttl}, nil
}

// Resolve implements [AnonResolver].
func (ar *AnonSessionResolver) Resolve(w http.ResponseWriter, r *http.Request) (authgate.Identity, error) {
	if cookie, err := r.Cookie(ar.cookieName); err == nil {
		claims, decErr := ar.codec.Decode(cookie.Value)
		if decErr == nil {
			return anonIdentity(claims.Subject), nil
		}
		// Expired or tampered cookie: fall through and reissue.
	}

	now := time.Now()
	subject := "anon:" + jwt.NewTokenID()
	token, err := ar.codec.Encode(authgate.Claims{
		Subject:   subject,
		ID:        jwt.NewTokenID(),
		IssuedAt:  now,
		ExpiresAt: now.Add(ar.ttl),
	})
	if err != nil {
		return authgate.Identity{}, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ar.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ar.ttl / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return anonIdentity(subject), nil
}

func anonIdentity(subject string) authgate.Identity {
	return authgate.Identity{Identifier: subject, Anonymous: true}
}

var errNoBearer = errors.New("no bearer token")

func bearerToken(value string) (string, error) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) || value == bearer {
		return "", errNoBearer
	}
	return value[len(bearer):], nil
}
