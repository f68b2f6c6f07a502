package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jonwraymond/sendguard/observe"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, code int, kind string, err error) {
	w.Header().Set("Content-Type", "application/json")
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="sendguard"`)
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{Error: err.Error(), Kind: kind})
}

// Middleware authenticates every request and attaches the identity to the
// request context. Rejected credentials get 401; authenticator failures 500.
func Middleware(authn Authenticator, logger observe.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observe.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			res, err := authn.Authenticate(ctx, r.Header)
			if err != nil {
				logger.Error(ctx, "authentication failed", observe.F("error", err))
				writeError(w, http.StatusInternalServerError, "internal", errors.New("authentication unavailable"))
				return
			}
			if !res.Authenticated() {
				cause := ErrInvalidCredentials
				if res != nil && res.Err != nil {
					cause = res.Err
				}
				logger.Warn(ctx, "request rejected",
					observe.F("path", r.URL.Path),
					observe.F("error", cause),
				)
				writeError(w, http.StatusUnauthorized, "unauthenticated", cause)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, res.Identity)))
		})
	}
}

// RequireRole rejects requests whose identity lacks role. It must run
// after Middleware.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if id == nil {
				writeError(w, http.StatusUnauthorized, "unauthenticated", ErrMissingCredentials)
				return
			}
			if !id.HasRole(role) {
				writeError(w, http.StatusForbidden, "forbidden", ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
