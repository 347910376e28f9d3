package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-reservation/internal/config"
	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/utils"
)

type stubAuth map[string]utils.Claims

func (s stubAuth) Authenticate(raw string) (utils.Claims, error) {
	c, ok := s[raw]
	if !ok {
		return utils.Claims{}, errors.New("bad token")
	}
	return c, nil
}

func protected(roles ...model.Role) *echo.Echo {
	e := echo.New()
	auth := stubAuth{
		"user-token":   {UserID: "u1", Role: "user"},
		"vendor-token": {UserID: "v1", Role: "vendor"},
	}
	g := e.Group("/v1", JWTAuth(auth), RequireRole(roles...))
	g.GET("/me", func(c echo.Context) error {
		id, err := identity.CurrentUserID(c.Request().Context())
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, id+":"+c.Get("role").(string))
	})
	return e
}

func do(e *echo.Echo, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAndRole(t *testing.T) {
	e := protected(model.RoleVendor)

	assert.Equal(t, http.StatusUnauthorized, do(e, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, "forged").Code)
	assert.Equal(t, http.StatusForbidden, do(e, "user-token").Code)

	rec := do(e, "vendor-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1:vendor", rec.Body.String())
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.7")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/bookings")

	cfg := config.RateLimitConfig{Prefix: "parking:rl", KeyStrategy: "user_route"}
	assert.Equal(t, "parking:rl:user:anon:route:POST /v1/bookings", buildRateKey(cfg, c))

	c.Set("user_id", "u1")
	assert.Equal(t, "parking:rl:user:u1:route:POST /v1/bookings", buildRateKey(cfg, c))

	cfg.KeyStrategy = "ip"
	assert.Equal(t, "parking:rl:ip:10.0.0.7", buildRateKey(cfg, c))
}

func TestParseBucketReply(t *testing.T) {
	res, err := parseBucketReply([]interface{}{int64(0), int64(0), int64(1500)})
	require.NoError(t, err)
	assert.False(t, res.allowed)
	assert.Equal(t, 1500*time.Millisecond, res.retry)

	res, err = parseBucketReply([]interface{}{int64(1), int64(29), int64(0)})
	require.NoError(t, err)
	assert.True(t, res.allowed)
	assert.EqualValues(t, 29, res.remaining)

	_, err = parseBucketReply("OK")
	assert.Error(t, err)
}

func TestWithoutRedisEverythingPasses(t *testing.T) {
	e := echo.New()
	e.GET("/v1/lots", func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
		NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil),
		NewRedisCache(config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}}, nil))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/lots", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-Cache"))
	}
}

func TestCacheKeyIncludesQuery(t *testing.T) {
	e := echo.New()
	cfg := config.CacheConfig{Prefix: "parking:cache"}
	key := func(target string) string {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
		c.SetPath("/v1/lots")
		return cacheKey(cfg, c)
	}
	assert.Equal(t, key("/v1/lots?page=1"), key("/v1/lots?page=1"))
	assert.NotEqual(t, key("/v1/lots?page=1"), key("/v1/lots?page=2"))
	assert.Contains(t, key("/v1/lots"), "parking:cache:")
}

func TestBodyRecorderStopsAtLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &bodyRecorder{ResponseWriter: rec, status: http.StatusOK, limit: 4}
	_, _ = w.Write([]byte("abc"))
	_, _ = w.Write([]byte("def"))
	assert.True(t, w.truncated)
	assert.Equal(t, "abcdef", rec.Body.String())
	assert.Equal(t, "abc", w.buf.String())
}
