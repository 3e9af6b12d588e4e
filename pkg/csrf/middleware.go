package csrf

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// Middleware enforces the double-submit check on unsafe methods: the header
// token must equal the cookie token and carry a valid signature.
// It panics if cfg has no secret.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if cfg.Secret == "" {
		panic(ErrMissingSecret)
	}
	cfg = cfg.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if safeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if err := Check(r, cfg); err != nil {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Check validates the request's cookie and header tokens.
func Check(r *http.Request, cfg Config) error {
	cfg = cfg.withDefaults()

	cookie, ok := ParseCookie(r.Header.Get("Cookie"), cfg.CookieName)
	if !ok || cookie == "" {
		return ErrInvalidToken
	}
	header := r.Header.Get(cfg.HeaderName)
	if header == "" {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
		return ErrTokenMismatch
	}
	return VerifyToken(header, cfg.Secret)
}

// IssueHandler sets a fresh CSRF cookie and returns the token as
// {"token": "..."} for the client to echo in the header.
func IssueHandler(cfg Config) http.HandlerFunc {
	if cfg.Secret == "" {
		panic(ErrMissingSecret)
	}
	cfg = cfg.withDefaults()

	return func(w http.ResponseWriter, r *http.Request) {
		token, err := GenerateToken(cfg.Secret)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		w.Header().Add("Set-Cookie", BuildCookieHeader(cfg.CookieName, token, cfg.Secure))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
	}
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
