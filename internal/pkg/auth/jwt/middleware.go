package jwt

import (
	"context"
	"net/http"
	"strings"

	"dospill/internal/pkg/errs"
	"dospill/internal/pkg/logx"
	"dospill/internal/pkg/resp"
)

type contextKey string

// ContextAuthPayloadKey stores the parsed *Payload in the request context.
const ContextAuthPayloadKey contextKey = "auth_payload"

// tokenFromRequest reads a bearer token from the Authorization header, falling back to
// the "token" query parameter (browsers cannot set headers on websocket upgrades).
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// IdentityExtractorMiddleware parses a token when present and stores its Payload in the
// context. Missing or invalid tokens leave the request anonymous; it never rejects.
func IdentityExtractorMiddleware(secretKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := tokenFromRequest(r)
			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}

			payload, err := ParseToken(tokenString, secretKey)
			if err != nil {
				logx.Warn("Invalid or expired token, treating as anonymous", "error", err.Error())
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ContextAuthPayloadKey, payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects requests whose context carries no admin payload.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetPayloadFromContext(r).IsAdmin() {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetPayloadFromContext returns the payload stored by IdentityExtractorMiddleware, or nil.
func GetPayloadFromContext(r *http.Request) *Payload {
	payload, _ := r.Context().Value(ContextAuthPayloadKey).(*Payload)
	return payload
}
