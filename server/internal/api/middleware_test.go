package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fleetd-io/fleetd/server/internal/auth"
)

func newTestJWTManager(t *testing.T) *auth.JWTManager {
	t.Helper()
	mgr, err := auth.NewJWTManagerGenerated("fleetd-test")
	if err != nil {
		t.Fatalf("NewJWTManagerGenerated: %v", err)
	}
	return mgr
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticateRejectsMissingHeader(t *testing.T) {
	mgr := newTestJWTManager(t)
	h := Authenticate(mgr)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthenticateRejectsMalformedHeader(t *testing.T) {
	mgr := newTestJWTManager(t)
	h := Authenticate(mgr)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	req.Header.Set("Authorization", "Basic not-a-bearer-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthenticateRejectsInvalidToken(t *testing.T) {
	mgr := newTestJWTManager(t)
	h := Authenticate(mgr)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthenticateAcceptsValidTokenAndStoresClaims(t *testing.T) {
	mgr := newTestJWTManager(t)
	token, err := mgr.GenerateAccessToken("user-1", "person@example.com", "operator")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	var gotClaims *auth.Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = claimsFromCtx(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := Authenticate(mgr)(next)

	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotClaims == nil {
		t.Fatal("claims not stored in request context")
	}
	if gotClaims.UserID != "user-1" || gotClaims.Role != "operator" {
		t.Errorf("claims = %+v, want UserID=user-1 Role=operator", gotClaims)
	}
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	h := RequireRole("admin")(next)

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req = withClaims(req, &auth.Claims{UserID: "u1", Role: "admin"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if !called {
		t.Error("next handler was not called for matching role")
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRequireRoleRejectsMismatchedRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not be called")
	})
	h := RequireRole("admin")(next)

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req = withClaims(req, &auth.Claims{UserID: "u1", Role: "viewer"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRequireRoleRejectsMissingClaims(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not be called")
	})
	h := RequireRole("admin")(next)

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// withClaims injects claims into the request context the same way Authenticate
// does, letting RequireRole tests run without a real JWT round-trip.
func withClaims(r *http.Request, claims *auth.Claims) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), contextKeyUser, claims))
}
