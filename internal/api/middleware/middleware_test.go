package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func get(r http.Handler, remote string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = remote
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitPerClient(t *testing.T) {
	r := newRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2, IdleTTL: time.Minute}))

	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1:1000", nil).Code)
	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1:1000", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "10.0.0.1:1000", nil).Code)

	// Another client has its own budget.
	assert.Equal(t, http.StatusOK, get(r, "10.0.0.2:1000", nil).Code)
}

func TestRateLimitEvictsIdleClients(t *testing.T) {
	now := time.Unix(1000, 0)
	set := &limiterSet{
		cfg:  RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute},
		now:  func() time.Time { return now },
		byIP: make(map[string]*client),
	}
	r := newRouter(rateLimit(set))

	get(r, "10.0.0.1:1000", nil)
	get(r, "10.0.0.2:1000", nil)
	require.Equal(t, 2, set.size())

	now = now.Add(2 * time.Minute)
	get(r, "10.0.0.3:1000", nil)
	assert.Equal(t, 1, set.size())
}

func TestGlobalRateLimit(t *testing.T) {
	r := newRouter(GlobalRateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))

	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1:1000", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "10.0.0.2:1000", nil).Code)
}

func TestCORSOrigins(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		r := newRouter(CORS(DefaultCORSConfig().WithOrigins([]string{"*"})))
		w := get(r, "10.0.0.1:1000", map[string]string{"Origin": "http://anywhere.test"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("restricted", func(t *testing.T) {
		r := newRouter(CORS(DefaultCORSConfig().WithOrigins([]string{"http://app.test"})))

		w := get(r, "10.0.0.1:1000", map[string]string{"Origin": "http://app.test"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "http://app.test", w.Header().Get("Access-Control-Allow-Origin"))

		w = get(r, "10.0.0.1:1000", map[string]string{"Origin": "http://evil.test"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
