package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	authgate "github.com/throttlekit/authgate"
	"github.com/throttlekit/authgate/ratelimit"
)

// Audience selects which identity class a [Rule] applies to.
type Audience uint8

const (
	// Anyone applies the rule to every resolved identity.
	Anyone Audience = iota
	// Authenticated applies the rule only to callers with a valid access
	// token.
	Authenticated
	// Anonymous applies the rule only to session-identified callers.
	Anonymous
)

// Rule attaches one rate-limit policy to an operation. When MatchScopes is
// non-empty the rule additionally applies only to identities carrying at
// least one of the listed claim scopes.
type Rule struct {
	Policy      ratelimit.Policy
	Applies     Audience
	MatchScopes []string
}

func (r Rule) appliesTo(id authgate.Identity) bool {
	switch r.Applies {
	case Authenticated:
		if id.Anonymous {
			return false
		}
	case Anonymous:
		if !id.Anonymous {
			return false
		}
	}

	if len(r.MatchScopes) == 0 {
		return true
	}
	for _, want := range r.MatchScopes {
		for _, have := range id.Scopes {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Option configures an [Admission].
type Option func(*Admission)

// WithAccessValidator enables bearer-token authentication through the given
// token service.
func WithAccessValidator(v AccessValidator) Option {
	return func(a *Admission) { a.auth = v }
}

// WithAnonResolver replaces the anonymous-identity resolver.
func WithAnonResolver(r AnonResolver) Option {
	return func(a *Admission) { a.anon = r }
}

// WithLogger wires a logger for denials and resolver failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Admission) { a.logger = logger }
}

// Admission intercepts inbound requests: it resolves an identity, evaluates
// the operation's attached rules in order, and either rejects the request or
// passes it on with the identity installed in the context.
type Admission struct {
	limiter *ratelimit.Limiter
	auth    AccessValidator
	anon    AnonResolver
	logger  zerolog.Logger
}

// New creates an [Admission] over the given limiter. Without
// [WithAccessValidator] every caller is treated as anonymous; without
// [WithAnonResolver] requests lacking credentials are rejected with 401.
func New(limiter *ratelimit.Limiter, opts ...Option) *Admission {
	a := &Admission{
		limiter: limiter,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Limit returns a middleware enforcing the given rules, evaluated in
// declaration order with the first denial short-circuiting.
func (a *Admission) Limit(rules ...Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := a.resolve(w, r)
			if !ok {
				return
			}

			for _, rule := range rules {
				if !rule.appliesTo(identity) {
					continue
				}

				decision, err := a.limiter.Check(r.Context(), rule.Policy, identity.Identifier)
				if err != nil {
					a.logger.Error().Err(err).Str("scope", rule.Policy.Scope).Msg("admission check failed")
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				if !decision.Allowed {
					a.deny(w, identity, rule, decision.RetryAfter)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

// resolve produces the request identity, writing the rejection response
// itself when resolution fails.
func (a *Admission) resolve(w http.ResponseWriter, r *http.Request) (authgate.Identity, bool) {
	token, err := bearerToken(r.Header.Get("Authorization"))
	if err == nil && a.auth != nil {
		claims, validateErr := a.auth.ValidateAccessToken(token)
		if validateErr != nil {
			// Presented credentials that fail never downgrade to anonymous.
			a.logger.Debug().Err(validateErr).Msg("bearer token rejected")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return authgate.Identity{}, false
		}
		return authgate.Identity{
			Identifier: claims.Subject,
			Scopes:     claims.Scopes,
		}, true
	}

	if a.anon == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return authgate.Identity{}, false
	}

	identity, err := a.anon.Resolve(w, r)
	if err != nil {
		a.logger.Error().Err(err).Msg("anonymous identity resolution failed")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return authgate.Identity{}, false
	}
	return identity, true
}

func (a *Admission) deny(w http.ResponseWriter, id authgate.Identity, rule Rule, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}

	a.logger.Info().
		Str("identity", id.Identifier).
		Str("scope", rule.Policy.Scope).
		Int("retry_after", seconds).
		Msg("request denied by rate limit")

	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	http.Error(w, "too many requests", http.StatusTooManyRequests)
}
