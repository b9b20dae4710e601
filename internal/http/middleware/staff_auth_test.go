package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/hotel-pms-backend/internal/tenancy"
)

func TestStaffJWTMissingSecret(t *testing.T) {
	rec := serveStaff(t, "", "", uuid.New().String())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestStaffJWTMissingHeader(t *testing.T) {
	rec := serveStaff(t, "secret", "", uuid.New().String())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestStaffJWTInvalidToken(t *testing.T) {
	property := uuid.New()
	rec := serveStaff(t, "secret", signedStaffToken(t, "wrong", "staff:ana", property.String()), property.String())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestStaffJWTRequiresPropertyHeader(t *testing.T) {
	property := uuid.New()
	rec := serveStaff(t, "secret", signedStaffToken(t, "secret", "staff:ana", property.String()), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestStaffJWTRejectsOtherProperty(t *testing.T) {
	rec := serveStaff(t, "secret", signedStaffToken(t, "secret", "staff:ana", uuid.New().String()), uuid.New().String())
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, rec.Code)
	}
}

func TestStaffJWTValidToken(t *testing.T) {
	property := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/x/approve", nil)
	req.Header.Set("Authorization", "Bearer "+signedStaffToken(t, "secret", "staff:ana", property.String()))
	req.Header.Set(PropertyHeader, property.String())
	rec := httptest.NewRecorder()

	called := false
	StaffJWT("secret")(PropertyScope(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if staff, _ := tenancy.StaffIDFromContext(r.Context()); staff != "staff:ana" {
			t.Fatalf("expected staff id in context, got %q", staff)
		}
		if got, _ := tenancy.PropertyIDFromContext(r.Context()); got != property {
			t.Fatalf("expected property %s in context, got %s", property, got)
		}
		if _, ok := StaffClaimsFromContext(r.Context()); !ok {
			t.Fatalf("expected staff claims in context")
		}
		w.WriteHeader(http.StatusOK)
	}))).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestStaffJWTWildcardProperty(t *testing.T) {
	property := uuid.New().String()
	rec := serveStaff(t, "secret", signedStaffToken(t, "secret", "staff:ops", "*"), property)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := StaffJWT("secret")(RequireRole("ops")(ok))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ops/webhook-events", nil)
	req.Header.Set("Authorization", "Bearer "+signedStaffToken(t, "secret", "staff:ana", "*"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status %d for front desk role, got %d", http.StatusForbidden, rec.Code)
	}

	req.Header.Set("Authorization", "Bearer "+signedRoleToken(t, "secret", "staff:ops", "ops"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d for ops role, got %d", http.StatusOK, rec.Code)
	}
}

func TestServiceKey(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	cases := []struct {
		name     string
		key, got string
		want     int
	}{
		{"match", "svc-key", "svc-key", http.StatusOK},
		{"mismatch", "svc-key", "other", http.StatusUnauthorized},
		{"missing", "svc-key", "", http.StatusUnauthorized},
		{"unconfigured", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/bookings/x/submit", nil)
			if tc.got != "" {
				req.Header.Set(ServiceKeyHeader, tc.got)
			}
			rec := httptest.NewRecorder()
			ServiceKey(tc.key)(ok).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func serveStaff(t *testing.T, secret, token, property string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings/x/overstay", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if property != "" {
		req.Header.Set(PropertyHeader, property)
	}
	rec := httptest.NewRecorder()
	StaffJWT(secret)(PropertyScope(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))).ServeHTTP(rec, req)
	return rec
}

func signedStaffToken(t *testing.T, secret, subject string, properties ...string) string {
	t.Helper()
	return signClaims(t, secret, StaffClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
		Properties: properties,
		Role:       "front_desk",
	})
}

func signedRoleToken(t *testing.T, secret, subject, role string) string {
	t.Helper()
	return signClaims(t, secret, StaffClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
		Role: role,
	})
}

func signClaims(t *testing.T, secret string, claims StaffClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
