package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
)

type storedValue struct {
	value string
	ttl   time.Duration
}

// keyStore mimics the redis commands the middleware relies on.
type keyStore map[string]storedValue

func (s keyStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := s[key]; ok {
		return v.value, nil
	}
	return "", redis.Nil
}

func (s keyStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, taken := s[key]; taken {
		return false, nil
	}
	s[key] = storedValue{value: value.(string), ttl: ttl}
	return true, nil
}

func (s keyStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	s[key] = storedValue{value: value.(string), ttl: ttl}
	return nil
}

func (s keyStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s, key)
	}
	return nil
}

func (s keyStore) IdempotencyKey(scope, id string) string { return scope + "#" + id }

func (s keyStore) only(t *testing.T) (idempotencyRecord, time.Duration) {
	t.Helper()
	if len(s) != 1 {
		t.Fatalf("expected exactly one key, have %d", len(s))
	}
	for _, v := range s {
		var rec idempotencyRecord
		if err := json.Unmarshal([]byte(v.value), &rec); err != nil {
			t.Fatalf("decode record: %v", err)
		}
		return rec, v.ttl
	}
	return idempotencyRecord{}, 0
}

var bookingCustomer = uuid.MustParse("7d3f1c52-2b1e-4a8e-9a41-5f0c2d7e8b10")

func bookingRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return asCustomer(req, bookingCustomer)
}

// countingHandler answers with status and counts how often it ran.
func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"data":{"status":"pending"}}`))
	})
}

func TestRouteTTLSelection(t *testing.T) {
	for _, tc := range []struct {
		method, path string
		want         time.Duration
	}{
		{http.MethodPost, "/api/v1/appointments", criticalIdempotencyTTL},
		{http.MethodPost, "/api/v1/appointments/123/accept", defaultIdempotencyTTL},
		{http.MethodPost, "/api/v1/notifications/abc/read", defaultIdempotencyTTL},
		{http.MethodPost, "/api/v1/notifications/read-all", defaultIdempotencyTTL},
		{http.MethodDelete, "/api/v1/notifications/abc", defaultIdempotencyTTL},
		{http.MethodPost, "/api/v1/appointments/123/accept/extra", 0},
		{http.MethodGet, "/api/v1/appointments", 0},
		{http.MethodGet, "/api/v1/wallet", 0},
	} {
		ttl, ok := routeTTL(tc.method, tc.path)
		if ok != (tc.want > 0) || ttl != tc.want {
			t.Fatalf("%s %s: ttl=%v ok=%v, want %v", tc.method, tc.path, ttl, ok, tc.want)
		}
	}
}

func TestIdempotencyIgnoresRequestsWithoutKey(t *testing.T) {
	store := keyStore{}
	var calls int
	handler := Idempotency(store, nil)(countingHandler(&calls, http.StatusCreated))

	for range 2 {
		handler.ServeHTTP(httptest.NewRecorder(), bookingRequest(`{"craftsman_id":"c1"}`, ""))
	}
	if calls != 2 || len(store) != 0 {
		t.Fatalf("calls=%d stored=%d", calls, len(store))
	}
}

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	store := keyStore{}
	var calls int
	handler := Idempotency(store, nil)(countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, bookingRequest(`{"craftsman_id":"c1"}`, "book-1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, bookingRequest(`{"craftsman_id":"c1"}`, "book-1"))

	if calls != 1 {
		t.Fatalf("handler ran %d times", calls)
	}
	if second.Code != http.StatusCreated || second.Header().Get(replayedHeader) != "true" {
		t.Fatalf("replay = %d headers %v", second.Code, second.Header())
	}
	if second.Body.String() != first.Body.String() || second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("replayed body %q differs from %q", second.Body.String(), first.Body.String())
	}
	if rec, ttl := store.only(t); rec.InFlight || ttl != criticalIdempotencyTTL {
		t.Fatalf("final record %+v ttl %v", rec, ttl)
	}
}

func TestIdempotencyReleasesKeyAfterServerError(t *testing.T) {
	store := keyStore{}
	var calls int
	failing := Idempotency(store, nil)(countingHandler(&calls, http.StatusBadGateway))
	failing.ServeHTTP(httptest.NewRecorder(), bookingRequest(`{}`, "retry-me"))
	if len(store) != 0 {
		t.Fatal("5xx response must not be stored")
	}

	resp := httptest.NewRecorder()
	Idempotency(store, nil)(countingHandler(&calls, http.StatusCreated)).ServeHTTP(resp, bookingRequest(`{}`, "retry-me"))
	if resp.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("retry should reach the handler: code=%d calls=%d", resp.Code, calls)
	}
}

func TestIdempotencyConflicts(t *testing.T) {
	t.Run("different body", func(t *testing.T) {
		store := keyStore{}
		var calls int
		handler := Idempotency(store, nil)(countingHandler(&calls, http.StatusCreated))
		handler.ServeHTTP(httptest.NewRecorder(), bookingRequest(`{"craftsman_id":"c1"}`, "xyz"))

		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, bookingRequest(`{"craftsman_id":"c2"}`, "xyz"))
		assertIdempotencyConflict(t, resp)
	})

	t.Run("duplicate while first is running", func(t *testing.T) {
		store := keyStore{}
		calls := 0
		var mw func(http.Handler) http.Handler
		var inner http.Handler
		inner = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls++
			if calls == 1 {
				dup := httptest.NewRecorder()
				mw(inner).ServeHTTP(dup, bookingRequest(`{"craftsman_id":"c1"}`, "race"))
				assertIdempotencyConflict(t, dup)
			}
			w.WriteHeader(http.StatusCreated)
		})
		mw = Idempotency(store, nil)

		resp := httptest.NewRecorder()
		mw(inner).ServeHTTP(resp, bookingRequest(`{"craftsman_id":"c1"}`, "race"))
		if resp.Code != http.StatusCreated || calls != 1 {
			t.Fatalf("code=%d calls=%d", resp.Code, calls)
		}
		if rec, _ := store.only(t); rec.InFlight || rec.Status != http.StatusCreated {
			t.Fatalf("reservation not replaced: %+v", rec)
		}
	})
}

func TestIdempotencyRejectsOversizedKey(t *testing.T) {
	var calls int
	resp := httptest.NewRecorder()
	Idempotency(keyStore{}, nil)(countingHandler(&calls, http.StatusCreated)).
		ServeHTTP(resp, bookingRequest(`{}`, strings.Repeat("k", maxIdempotencyKeyLen+1)))
	if resp.Code != http.StatusBadRequest || calls != 0 {
		t.Fatalf("code=%d calls=%d", resp.Code, calls)
	}
}

func assertIdempotencyConflict(t *testing.T, resp *httptest.ResponseRecorder) {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != http.StatusConflict || payload.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected 409 %s, got %d %s", pkgerrors.CodeIdempotency, resp.Code, payload.Error.Code)
	}
}
