package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authgate "github.com/throttlekit/authgate"
	"github.com/throttlekit/authgate/cache"
	"github.com/throttlekit/authgate/ratelimit"
)

var testSecret = []byte("middleware-test-secret-material")

type staticValidator struct {
	claims authgate.Claims
	err    error
}

func (v staticValidator) ValidateAccessToken(string) (authgate.Claims, error) {
	return v.claims, v.err
}

func okHandler() (http.Handler, *authgate.Identity) {
	captured := &authgate.Identity{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := IdentityFromContext(r.Context()); ok {
			*captured = id
		}
		w.WriteHeader(http.StatusOK)
	}), captured
}

func newTestAdmission(t *testing.T, opts ...Option) *Admission {
	t.Helper()
	limiter := ratelimit.New(cache.NewMemory())
	return New(limiter, opts...)
}

func anonResolver(t *testing.T) *AnonSessionResolver {
	t.Helper()
	resolver, err := NewAnonSessionResolver(testSecret, "", 0)
	require.NoError(t, err)
	return resolver
}

func TestAdmissionAuthenticatedIdentity(t *testing.T) {
	validator := staticValidator{claims: authgate.Claims{Subject: "alice", Scopes: []string{"read"}}}
	admission := newTestAdmission(t, WithAccessValidator(validator), WithAnonResolver(anonResolver(t)))

	handler, captured := okHandler()
	wrapped := admission.Limit(Rule{
		Policy:  ratelimit.Policy{Scope: "api", MaxRequests: 10, Interval: time.Minute},
		Applies: Authenticated,
	})(handler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", captured.Identifier)
	assert.Equal(t, []string{"read"}, captured.Scopes)
	assert.False(t, captured.Anonymous)
}

func TestAdmissionInvalidBearerRejected(t *testing.T) {
	validator := staticValidator{err: authgate.ErrTokenInvalid}
	admission := newTestAdmission(t, WithAccessValidator(validator), WithAnonResolver(anonResolver(t)))

	handler, _ := okHandler()
	wrapped := admission.Limit()(handler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tampered")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	// Bad credentials never downgrade to an anonymous identity.
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmissionAnonymousCookieIssued(t *testing.T) {
	admission := newTestAdmission(t, WithAnonResolver(anonResolver(t)))

	handler, captured := okHandler()
	wrapped := admission.Limit()(handler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, captured.Anonymous)
	assert.NotEmpty(t, captured.Identifier)
	firstIdentity := captured.Identifier

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "ag-session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	// Presenting the cookie again keeps the same identity and sets nothing.
	second := httptest.NewRequest(http.MethodGet, "/", nil)
	second.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, second)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, firstIdentity, captured.Identifier)
}

func TestAdmissionNoCredentialsNoResolver(t *testing.T) {
	admission := newTestAdmission(t)

	handler, _ := okHandler()
	wrapped := admission.Limit()(handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmissionDeniesOverBudget(t *testing.T) {
	validator := staticValidator{claims: authgate.Claims{Subject: "alice"}}
	admission := newTestAdmission(t, WithAccessValidator(validator))

	handler, _ := okHandler()
	wrapped := admission.Limit(Rule{
		Policy: ratelimit.Policy{Scope: "api", MaxRequests: 2, Interval: time.Minute},
	})(handler)

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer some-token")
		return r
	}

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req())
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 60)
}

func TestAdmissionRuleOrderShortCircuits(t *testing.T) {
	validator := staticValidator{claims: authgate.Claims{Subject: "alice"}}
	limiter := ratelimit.New(cache.NewMemory())
	admission := New(limiter, WithAccessValidator(validator))

	handler, _ := okHandler()
	tight := ratelimit.Policy{Scope: "tight", MaxRequests: 1, Interval: time.Minute}
	loose := ratelimit.Policy{Scope: "loose", MaxRequests: 100, Interval: time.Minute}
	wrapped := admission.Limit(Rule{Policy: tight}, Rule{Policy: loose})(handler)

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer some-token")
		return r
	}

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req())
	require.Equal(t, http.StatusOK, rec.Code)

	// The tight rule denies before the loose rule's counter is touched.
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	decision, err := limiter.Check(context.Background(), loose, "alice")
	require.NoError(t, err)
	// One increment from the admitted request, one from this check.
	assert.Equal(t, int64(98), decision.Remaining)
}

func TestAdmissionAudienceSelection(t *testing.T) {
	validator := staticValidator{claims: authgate.Claims{Subject: "alice", Scopes: []string{"export"}}}
	admission := newTestAdmission(t, WithAccessValidator(validator), WithAnonResolver(anonResolver(t)))

	handler, _ := okHandler()
	wrapped := admission.Limit(Rule{
		Policy:  ratelimit.Policy{Scope: "anon", MaxRequests: 1, Interval: time.Minute},
		Applies: Anonymous,
	})(handler)

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer some-token")
		return r
	}

	// An authenticated caller is untouched by an anonymous-only rule.
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req())
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestAdmissionScopeMatchedRule(t *testing.T) {
	validator := staticValidator{claims: authgate.Claims{Subject: "alice", Scopes: []string{"read"}}}
	admission := newTestAdmission(t, WithAccessValidator(validator))

	handler, _ := okHandler()
	wrapped := admission.Limit(Rule{
		Policy:      ratelimit.Policy{Scope: "exports", MaxRequests: 1, Interval: time.Minute},
		Applies:     Authenticated,
		MatchScopes: []string{"export"},
	})(handler)

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer some-token")
		return r
	}

	// The caller lacks the export scope, so the rule never applies.
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req())
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestAdmissionFailClosedOnInfraError(t *testing.T) {
	validator := staticValidator{claims: authgate.Claims{Subject: "alice"}}
	limiter := ratelimit.New(unavailableCache{})
	admission := New(limiter, WithAccessValidator(validator))

	handler, _ := okHandler()
	wrapped := admission.Limit(Rule{
		Policy: ratelimit.Policy{Scope: "api", MaxRequests: 10, Interval: time.Minute},
	})(handler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type unavailableCache struct {
	cache.Cache
}

func (unavailableCache) IncrementAndGet(context.Context, string, time.Duration) (int64, error) {
	return 0, cache.ErrUnavailable
}

func TestBearerToken(t *testing.T) {
	token, err := bearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = bearerToken("")
	assert.ErrorIs(t, err, errNoBearer)
	_, err = bearerToken("Basic abc")
	assert.ErrorIs(t, err, errNoBearer)
	_, err = bearerToken("Bearer ")
	assert.ErrorIs(t, err, errNoBearer)
}
