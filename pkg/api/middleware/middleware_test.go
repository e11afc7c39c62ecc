package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinalytics/platform/pkg/api/auth"
	"github.com/clinalytics/platform/pkg/common/logger"
	"github.com/clinalytics/platform/pkg/common/models"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newManager(t *testing.T) *auth.JWTManager {
	t.Helper()
	manager, err := auth.NewJWTManager("0123456789abcdef0123456789abcdef", "clinalytics", "clinalytics-api", time.Hour)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	return manager
}

func TestAuthenticateRejectsMissingToken(t *testing.T) {
	handler := Authenticate(newManager(t))(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	handler := Authenticate(newManager(t))(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticateStoresPrincipal(t *testing.T) {
	manager := newManager(t)
	principal := models.Principal{ID: uuid.New(), Role: "analyst", Email: "analyst@example.com"}
	token, err := manager.IssueToken(principal)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	var seen *models.Principal
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Authenticate(manager)(inner)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen == nil || seen.ID != principal.ID || seen.Role != "analyst" {
		t.Fatalf("expected principal in context, got %+v", seen)
	}
}

func TestRequireRole(t *testing.T) {
	manager := newManager(t)
	token, err := manager.IssueToken(models.Principal{ID: uuid.New(), Role: "admin"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	allowed := Authenticate(manager)(RequireRole("admin")(okHandler()))
	denied := Authenticate(manager)(RequireRole("auditor")(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	allowed.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	denied.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong role, got %d", rec.Code)
	}
}

func TestRequireRoleWithoutPrincipal(t *testing.T) {
	handler := RequireRole("admin")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRateLimitExhaustsBurst(t *testing.T) {
	handler := RateLimit(1, 2)(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("expected first two requests to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third request limited, got %v", codes)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS headers on preflight")
	}
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := BodyLimit(4)(inner)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}
