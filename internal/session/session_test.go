package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestCookieAttributes(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteCookie(rec, true)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != "wallet-connected" || c.Value != "true" {
		t.Fatalf("unexpected cookie %s=%s", c.Name, c.Value)
	}
	if c.Path != "/" || c.MaxAge != 86400 || c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected attributes path=%s max-age=%d samesite=%v", c.Path, c.MaxAge, c.SameSite)
	}
}

func TestCookieClear(t *testing.T) {
	c := Cookie(false)
	if c.MaxAge >= 0 || c.Value != "" {
		t.Fatalf("cleared cookie must expire immediately: %+v", c)
	}
}

func TestCookieConnected(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	if CookieConnected(req) {
		t.Fatal("request without cookie must not be connected")
	}
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "false"})
	if CookieConnected(req) {
		t.Fatal("only the literal true value counts")
	}

	req = httptest.NewRequest(http.MethodGet, "/audit", nil)
	req.AddCookie(Cookie(true))
	if !CookieConnected(req) {
		t.Fatal("expected connected request")
	}
}

func TestMemoryFlagExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewMemoryFlag(0)
	f.now = func() time.Time { return now }

	if ok, _ := f.Connected(ctx); ok {
		t.Fatal("fresh flag must be unset")
	}
	if err := f.SetConnected(ctx, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	now = now.Add(23 * time.Hour)
	if ok, _ := f.Connected(ctx); !ok {
		t.Fatal("flag must survive within the ttl")
	}
	now = now.Add(2 * time.Hour)
	if ok, _ := f.Connected(ctx); ok {
		t.Fatal("flag must expire after 24h")
	}

	_ = f.SetConnected(ctx, true)
	_ = f.SetConnected(ctx, false)
	if ok, _ := f.Connected(ctx); ok {
		t.Fatal("cleared flag must be unset")
	}
}

type fakeRedis struct {
	values map[string]time.Duration
	err    error
}

func (r *fakeRedis) Set(_ context.Context, key string, _ any, ttl time.Duration) *redis.StatusCmd {
	if r.err != nil {
		return redis.NewStatusResult("", r.err)
	}
	r.values[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (r *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := r.values[k]; ok {
			delete(r.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, r.err)
}

func (r *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	if r.err != nil {
		return redis.NewIntResult(0, r.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := r.values[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisFlag(t *testing.T) {
	ctx := context.Background()
	backend := &fakeRedis{values: make(map[string]time.Duration)}
	f := newRedisFlag(backend, "", 0)

	if err := f.SetConnected(ctx, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ttl := backend.values["auditfi:wallet-connected"]; ttl != 24*time.Hour {
		t.Fatalf("unexpected ttl %s", ttl)
	}
	if ok, err := f.Connected(ctx); err != nil || !ok {
		t.Fatalf("expected connected, got %v %v", ok, err)
	}
	if err := f.SetConnected(ctx, false); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if ok, _ := f.Connected(ctx); ok {
		t.Fatal("expected cleared flag")
	}

	backend.err = errors.New("connection reset")
	if _, err := f.Connected(ctx); err == nil {
		t.Fatal("expected backend error to surface")
	}
}

func TestNewRedisFlagRequiresAddress(t *testing.T) {
	if _, err := NewRedisFlag(context.Background(), RedisConfig{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}
