package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
)

type contextKey string

const privateClaimsKey contextKey = "privateClaims"

// ErrorWriter renders a rejected request.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// PrivateJWT guards the private API with an HMAC-signed bearer token. An
// empty secret leaves the routes open.
func PrivateJWT(secret string, writeError ErrorWriter) func(http.Handler) http.Handler {
	if writeError == nil {
		writeError = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), apperrors.StatusCode(err))
		}
	}
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, r, apperrors.Unauthorized("missing authorization header"))
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writeError(w, r, apperrors.Unauthorized("invalid token"))
				return
			}
			ctx := context.WithValue(r.Context(), privateClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrivateClaimsFromContext returns the caller's JWT claims if present.
func PrivateClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(privateClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}
