package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/herfa-app/herfa-backend/pkg/auth"
	"github.com/herfa-app/herfa-backend/pkg/config"
	"github.com/herfa-app/herfa-backend/pkg/enums"
)

func testJWT() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "herfa", ExpirationMinutes: 60}
}

func keysFor(t *testing.T, cfg config.JWTConfig) *auth.Keys {
	t.Helper()
	keys, err := auth.NewKeys(cfg)
	if err != nil {
		t.Fatalf("NewKeys: %v", err)
	}
	return keys
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(keysFor(t, testJWT()), nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(keysFor(t, testJWT()), nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsForeignIssuer(t *testing.T) {
	other := testJWT()
	other.Issuer = "someone-else"
	token := mintTestToken(t, other, uuid.New(), enums.UserRoleCustomer)
	handler := Auth(keysFor(t, testJWT()), nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsNonBearerScheme(t *testing.T) {
	handler := Auth(keysFor(t, testJWT()), nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthAllowsValidToken(t *testing.T) {
	cfg := testJWT()
	userID := uuid.New()
	token := mintTestToken(t, cfg, userID, enums.UserRoleCraftsman)

	var (
		gotUser uuid.UUID
		gotRole enums.UserRole
		gotOK   bool
	)
	handler := Auth(keysFor(t, cfg), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotRole, gotOK = Actor(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !gotOK || gotUser != userID {
		t.Fatalf("expected actor %s got %s (ok=%v)", userID, gotUser, gotOK)
	}
	if gotRole != enums.UserRoleCraftsman {
		t.Fatalf("expected role craftsman got %s", gotRole)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(nil, enums.UserRoleAdmin, enums.UserRoleCraftsman)(okHandler())

	for role, want := range map[enums.UserRole]int{
		enums.UserRoleAdmin:     http.StatusOK,
		enums.UserRoleCraftsman: http.StatusOK,
		enums.UserRoleCustomer:  http.StatusForbidden,
		"":                      http.StatusUnauthorized,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: uuid.New(), Role: role}))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != want {
			t.Fatalf("role %q: expected %d got %d", role, want, resp.Code)
		}
	}
}

func asCustomer(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(WithPrincipal(req.Context(), Principal{UserID: userID, Role: enums.UserRoleCustomer}))
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, userID uuid.UUID, role enums.UserRole) string {
	t.Helper()
	token, err := keysFor(t, cfg).Issue(time.Now(), auth.Identity{UserID: userID, Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}
