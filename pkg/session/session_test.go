package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryStore_SaveGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}

	sess := &Session{ID: "s-1", ConsumerKey: "consumer"}
	if err := s.Save(ctx, sess, time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ConsumerKey != "consumer" {
		t.Errorf("ConsumerKey = %q, want consumer", got.ConsumerKey)
	}

	// Returned sessions are copies.
	got.ConsumerKey = "mutated"
	again, _ := s.Get(ctx, "s-1")
	if again.ConsumerKey != "consumer" {
		t.Errorf("stored session was mutated through a returned copy")
	}

	if err := s.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "s-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "s-1"); err != nil {
		t.Errorf("Delete(unknown) = %v, want nil", err)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	_ = s.Save(ctx, &Session{ID: "old"}, time.Minute)
	now = now.Add(2 * time.Minute)

	if _, err := s.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(expired) err = %v, want ErrNotFound", err)
	}

	_ = s.Save(ctx, &Session{ID: "a"}, time.Minute)
	now = now.Add(2 * time.Minute)
	_ = s.Save(ctx, &Session{ID: "b"}, time.Minute)
	if n := s.Len(); n != 1 {
		t.Errorf("Len = %d after save swept expired entries, want 1", n)
	}
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisStore(client, "test:")

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}

	if err := s.Save(ctx, &Session{ID: "s-1", ConsumerKey: "consumer"}, 10*time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !mr.Exists("test:session:s-1") {
		t.Fatal("expected session key in redis")
	}
	if ttl := mr.TTL("test:session:s-1"); ttl != 10*time.Minute {
		t.Errorf("TTL = %v, want 10m", ttl)
	}

	got, err := s.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ConsumerKey != "consumer" {
		t.Errorf("ConsumerKey = %q, want consumer", got.ConsumerKey)
	}

	mr.FastForward(11 * time.Minute)
	if _, err := s.Get(ctx, "s-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after TTL err = %v, want ErrNotFound", err)
	}
}

func TestRedisStore_CorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisStore(client, "")

	_ = mr.Set("session:bad", "not json")
	_, err := s.Get(context.Background(), "bad")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Get(corrupt) err = %v, want decode error", err)
	}
}

// trustHandler trusts the consumer named by the X-Consumer header and
// reports the consumer key seen before trusting.
func trustHandler(m *Manager) http.Handler {
	return m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen", ConsumerKey(r.Context()))
		if c := r.Header.Get("X-Consumer"); c != "" {
			if err := m.Trust(r.Context(), c); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestManager_TrustSetsCookieAndRestores(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, Config{Secure: true})
	h := trustHandler(m)

	// First request: no cookie, trust establishes the session.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Consumer", "consumer-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("X-Seen") != "" {
		t.Errorf("first request saw consumer %q, want none", rec.Header().Get("X-Seen"))
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != DefaultCookieName {
		t.Errorf("cookie name = %q, want %q", c.Name, DefaultCookieName)
	}
	if !c.HttpOnly || !c.Secure {
		t.Errorf("cookie HttpOnly=%v Secure=%v, want both true", c.HttpOnly, c.Secure)
	}
	if c.MaxAge != int(DefaultTTL.Seconds()) {
		t.Errorf("cookie MaxAge = %d, want %d", c.MaxAge, int(DefaultTTL.Seconds()))
	}

	// Second request: cookie restores the consumer.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Seen"); got != "consumer-1" {
		t.Errorf("second request saw consumer %q, want consumer-1", got)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("existing session should not reissue the cookie")
	}
}

func TestManager_RetrustKeepsSessionID(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, Config{CookieName: "sid"})
	h := trustHandler(m)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Consumer", "consumer-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	id := rec.Result().Cookies()[0].Value

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: id})
	req.Header.Set("X-Consumer", "consumer-2")
	h.ServeHTTP(httptest.NewRecorder(), req)

	sess, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.ConsumerKey != "consumer-2" {
		t.Errorf("ConsumerKey = %q, want consumer-2", sess.ConsumerKey)
	}
	if store.Len() != 1 {
		t.Errorf("store holds %d sessions, want 1", store.Len())
	}
}

func TestManager_UnknownCookieIgnored(t *testing.T) {
	m := NewManager(NewMemoryStore(), Config{})
	h := trustHandler(m)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "forged"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("X-Seen"); got != "" {
		t.Errorf("forged cookie yielded consumer %q", got)
	}
}

func TestTrustWithoutMiddleware(t *testing.T) {
	m := NewManager(NewMemoryStore(), Config{})
	if err := m.Trust(context.Background(), "c"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Trust err = %v, want ErrNoSession", err)
	}
	if got := ConsumerKey(context.Background()); got != "" {
		t.Errorf("ConsumerKey = %q, want empty", got)
	}
}
