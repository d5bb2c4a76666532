package auth

import (
	"errors"
	"net/http"
)

// HTTPMiddleware requires a valid bearer token before calling next. Callers
// wrap only the routes of protected methods.
func HTTPMiddleware(next http.Handler, jwtSecret string) http.Handler {
	return NewVerifier(jwtSecret).Middleware(next)
}

// Middleware answers 401 to requests without a valid bearer token.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := v.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			msg := err.Error()
			// Parser details stay in the server.
			if errors.Is(err, ErrInvalidToken) {
				msg = ErrInvalidToken.Error()
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="scd"`)
			http.Error(w, msg, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
