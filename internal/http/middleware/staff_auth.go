package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/hotel-pms-backend/internal/api/httperr"
	"github.com/wolfman30/hotel-pms-backend/internal/tenancy"
)

type contextKey string

const staffClaimsKey contextKey = "staffClaims"

// PropertyHeader selects which property a staff request acts on.
const PropertyHeader = "X-Property-Id"

// ServiceKeyHeader authenticates internal collaborators.
const ServiceKeyHeader = "X-Service-Key"

// allProperties in the properties claim grants every property.
const allProperties = "*"

// StaffClaims is the console token. Subject is the staff id recorded on
// decisions.
type StaffClaims struct {
	jwt.RegisteredClaims
	Properties []string `json:"properties"`
	Role       string   `json:"role,omitempty"`
}

// CanAccess reports whether the token is scoped to propertyID.
func (c *StaffClaims) CanAccess(propertyID uuid.UUID) bool {
	return slices.Contains(c.Properties, allProperties) || slices.Contains(c.Properties, propertyID.String())
}

// StaffJWT enforces an HMAC-signed staff token.
func StaffJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				httperr.Message(w, http.StatusUnauthorized, "unauthorized", "staff auth disabled")
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				httperr.Message(w, http.StatusUnauthorized, "unauthorized", "missing authorization header")
				return
			}
			claims := &StaffClaims{}
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid || strings.TrimSpace(claims.Subject) == "" {
				httperr.Message(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), staffClaimsKey, claims)
			ctx = tenancy.WithStaffID(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PropertyScope requires X-Property-Id to name a property the token covers.
// It must run after StaffJWT.
func PropertyScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := StaffClaimsFromContext(r.Context())
		if !ok {
			httperr.Message(w, http.StatusUnauthorized, "unauthorized", "missing staff token")
			return
		}
		propertyID, err := uuid.Parse(strings.TrimSpace(r.Header.Get(PropertyHeader)))
		if err != nil {
			httperr.Message(w, http.StatusBadRequest, "invalid_input", "missing or invalid "+PropertyHeader)
			return
		}
		if !claims.CanAccess(propertyID) {
			httperr.Message(w, http.StatusForbidden, "forbidden", "token is not scoped to this property")
			return
		}
		next.ServeHTTP(w, r.WithContext(tenancy.WithPropertyID(r.Context(), propertyID)))
	})
}

// RequireRole admits tokens carrying role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := StaffClaimsFromContext(r.Context())
			if !ok || claims.Role != role {
				httperr.Message(w, http.StatusForbidden, "forbidden", role+" role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StaffClaimsFromContext returns staff JWT claims if present.
func StaffClaimsFromContext(ctx context.Context) (*StaffClaims, bool) {
	claims, ok := ctx.Value(staffClaimsKey).(*StaffClaims)
	return claims, ok
}

// ServiceKey guards internal endpoints called by other services.
func ServiceKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(ServiceKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				httperr.Message(w, http.StatusUnauthorized, "unauthorized", "invalid service key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
