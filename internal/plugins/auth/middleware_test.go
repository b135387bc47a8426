package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/mossfield/farmstead/internal/apperror"
)

// mockAuthService stubs the one method the middleware touches.
type mockAuthService struct {
	AuthService
	validateFn func(ctx context.Context, token string) (*Session, error)
}

func (m *mockAuthService) ValidateSession(ctx context.Context, token string) (*Session, error) {
	return m.validateFn(ctx, token)
}

func gateRequest(t *testing.T, svc AuthService, cookie *http.Cookie, admin bool) (*httptest.ResponseRecorder, *Session) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/account/me", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen *Session
	handler := func(c echo.Context) error {
		seen = GetSession(c)
		return c.NoContent(http.StatusOK)
	}

	wrapped := RequireSession(svc)(handler)
	if admin {
		wrapped = RequireSession(svc)(RequireAdmin()(handler))
	}
	if err := wrapped(c); err != nil {
		rec.WriteHeader(apperror.SafeCode(err))
	}
	return rec, seen
}

func TestRequireSessionMissingCookie(t *testing.T) {
	svc := &mockAuthService{validateFn: func(context.Context, string) (*Session, error) {
		t.Fatal("store consulted without a cookie")
		return nil, nil
	}}

	rec, _ := gateRequest(t, svc, nil, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireSessionInvalidToken(t *testing.T) {
	svc := &mockAuthService{validateFn: func(context.Context, string) (*Session, error) {
		return nil, apperror.NewUnauthorized("session expired or invalid")
	}}

	cookie := &http.Cookie{Name: SessionCookieName, Value: "stale-token"}
	rec, _ := gateRequest(t, svc, cookie, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireSessionAttachesSession(t *testing.T) {
	session := &Session{UserID: 7, Username: "greta", LoggedIn: true, Role: "farmer"}
	svc := &mockAuthService{validateFn: func(_ context.Context, token string) (*Session, error) {
		if token != "good-token" {
			t.Errorf("validated token %q", token)
		}
		return session, nil
	}}

	cookie := &http.Cookie{Name: SessionCookieName, Value: "good-token"}
	rec, seen := gateRequest(t, svc, cookie, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.UserID != 7 {
		t.Errorf("handler saw session %+v", seen)
	}
}

func TestRequireAdminFailsClosed(t *testing.T) {
	tests := []struct {
		name string
		role string
		want int
	}{
		{"admin passes", "admin", http.StatusOK},
		{"farmer denied", "farmer", http.StatusForbidden},
		{"no role denied", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{validateFn: func(context.Context, string) (*Session, error) {
				return &Session{UserID: 7, LoggedIn: true, Role: tt.role}, nil
			}}

			cookie := &http.Cookie{Name: SessionCookieName, Value: "good-token"}
			rec, _ := gateRequest(t, svc, cookie, true)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
