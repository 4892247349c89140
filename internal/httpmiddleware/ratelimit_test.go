package httpmiddleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleTokenBucket_RefillsOverTime(t *testing.T) {
	clock := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(2, 60)
	l.now = func() time.Time { return clock }

	assert.True(t, l.allow("1.2.3.4"))
	assert.True(t, l.allow("1.2.3.4"))
	assert.False(t, l.allow("1.2.3.4"))
	assert.True(t, l.allow("5.6.7.8"), "keys are independent")

	clock = clock.Add(time.Second)
	assert.True(t, l.allow("1.2.3.4"), "one token per second at 60/min")
	assert.False(t, l.allow("1.2.3.4"))
}

func TestRedisFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := time.Date(2025, 3, 1, 10, 0, 5, 0, time.UTC)
	l := NewRedisFixedWindow(client, 2)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "request %d", i)
	}

	key := "certify:ratelimit:1.2.3.4:" + "1740823200"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 2*time.Minute, mr.TTL(key))

	clock = clock.Add(time.Minute)
	ok, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok, "new window")
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("redis down") }

func TestRateLimit_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	serve := func(l Limiter) int {
		r := gin.New()
		r.Use(RateLimit(l))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		return w.Code
	}

	bucket := NewSimpleTokenBucket(1, 1)
	assert.Equal(t, http.StatusOK, serve(bucket))
	assert.Equal(t, http.StatusTooManyRequests, serve(bucket))
	assert.Equal(t, http.StatusOK, serve(errLimiter{}), "limiter errors fail open")
}
