package jwt

import (
	"context"
	"net/http"
	"strings"

	"fanchat/internal/pkg/errs"
	"fanchat/internal/pkg/logx"
	"fanchat/internal/pkg/resp"
)

// Define Context Key for storing the identity, preventing key collisions with other packages.
type contextKey string

const (
	// ContextIdentityKey is the key used to store the parsed *IdentityPayload in the request Context.
	ContextIdentityKey contextKey = "identity_payload"
)

// IdentityExtractorMiddleware attempts to extract and validate an identity token from the
// request header. It injects the payload into the Context upon success. It does NOT interrupt
// the request on failure or missing token; RequireIdentity does that.
func IdentityExtractorMiddleware(secretKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Expected format: "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				next.ServeHTTP(w, r)
				return
			}

			payload, err := ParseIdentityToken(parts[1], secretKey)
			if err != nil {
				logx.Warn("Invalid or expired identity token, treating as anonymous", "error", err.Error())
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithIdentity(r.Context(), payload)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireIdentity rejects requests that carry no valid identity with 401.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetIdentityFromContext(r) == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithIdentity stores payload in ctx.
func WithIdentity(ctx context.Context, payload *IdentityPayload) context.Context {
	return context.WithValue(ctx, ContextIdentityKey, payload)
}

// GetIdentityFromContext safely extracts the authenticated identity from the request Context.
// A nil return means the caller is anonymous.
func GetIdentityFromContext(r *http.Request) *IdentityPayload {
	payload, ok := r.Context().Value(ContextIdentityKey).(*IdentityPayload)

	if !ok {
		return nil
	}

	return payload
}
