package api

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
)

// Roles allowed to publish results.
const (
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

// Claims are the reviewer token claims.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type ctxKey int

const ctxKeyClaims ctxKey = iota

// RequireReviewer rejects requests without a valid HS256 bearer token
// whose role is reviewer or admin.
func RequireReviewer(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 {
				writeError(w, http.StatusServiceUnavailable, "reviewer auth is not configured")
				return
			}
			raw := bearerFromHeader(r.Header.Get("Authorization"))
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := parseClaims(raw, key)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if !slices.Contains([]string{RoleReviewer, RoleAdmin}, claims.Role) {
				writeError(w, http.StatusForbidden, "reviewer role required")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFrom returns the claims stored by RequireReviewer.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(*Claims)
	return c, ok
}

func parseClaims(raw string, key []byte) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(_ *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, eris.Wrap(err, "api: parse token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, eris.New("api: token invalid")
	}
	return claims, nil
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
