package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	paymobwebhook "github.com/herfa-app/herfa-backend/internal/webhooks/paymob"
	"github.com/herfa-app/herfa-backend/pkg/outbox/idempotency"
)

const testSecret = "paymob_hmac_test"

func TestPaymobWebhook_SuccessAndIdempotent(t *testing.T) {
	payload := buildCallback(t, "90001", true)
	service := &fakePaymobService{}
	handler := PaymobWebhook(service, testSecret, newGuard(t), nil)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paymob", bytes.NewReader(payload))
		req.Header.Set("hmac", paymobwebhook.Sign(testSecret, payload))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d (%s)", i, rec.Code, rec.Body.String())
		}
	}
	if service.calls != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.calls)
	}
}

func TestPaymobWebhook_SignatureFromQuery(t *testing.T) {
	payload := buildCallback(t, "90002", true)
	service := &fakePaymobService{}
	handler := PaymobWebhook(service, testSecret, newGuard(t), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paymob?hmac="+paymobwebhook.Sign(testSecret, payload), bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}
}

func TestPaymobWebhook_InvalidSignature(t *testing.T) {
	payload := buildCallback(t, "90003", true)
	service := &fakePaymobService{}
	handler := PaymobWebhook(service, testSecret, newGuard(t), nil)

	for _, sig := range []string{"", "deadbeef", "not-hex"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paymob", bytes.NewReader(payload))
		if sig != "" {
			req.Header.Set("hmac", sig)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("signature %q: expected 401, got %d", sig, rec.Code)
		}
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestPaymobWebhook_NoSecretSkipsVerification(t *testing.T) {
	payload := buildCallback(t, "90004", true)
	service := &fakePaymobService{}
	handler := PaymobWebhook(service, "", newGuard(t), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paymob", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestPaymobWebhook_FailureReleasesGuard(t *testing.T) {
	payload := buildCallback(t, "90005", true)
	service := &fakePaymobService{err: errors.New("db down")}
	handler := PaymobWebhook(service, "", newGuard(t), nil)

	serve := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paymob", bytes.NewReader(payload))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := serve(); code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", code)
	}
	service.err = nil
	if code := serve(); code != http.StatusOK {
		t.Fatalf("expected retry to succeed, got %d", code)
	}
	if service.calls != 2 {
		t.Fatalf("expected retry to reach the service, call count %d", service.calls)
	}
}

func TestPaymobWebhook_MalformedBody(t *testing.T) {
	service := &fakePaymobService{}
	handler := PaymobWebhook(service, "", newGuard(t), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paymob", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func buildCallback(t *testing.T, id string, success bool) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"type": "TRANSACTION",
		"obj": map[string]any{
			"id":           json.Number(id),
			"success":      success,
			"amount_cents": 15000,
			"order": map[string]any{
				"id":                json.Number("5500"),
				"merchant_order_id": uuid.NewString() + "_1",
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal callback: %v", err)
	}
	return payload
}

func newGuard(t *testing.T) *idempotency.Guard {
	t.Helper()
	guard, err := idempotency.NewGuard(newInMemoryStore(), "paymob-webhook", time.Minute)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

type fakePaymobService struct {
	calls int
	err   error
}

func (f *fakePaymobService) HandleCallback(ctx context.Context, cb *paymobwebhook.Callback) (*paymobwebhook.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &paymobwebhook.Result{Outcome: paymobwebhook.OutcomeCredited}, nil
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("herfa:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
