// Package csrf implements a signed double-submit cookie guard.
//
// Tokens have the form "<random>.<signature>" where random is 32 bytes of
// crypto/rand output and signature is an HMAC-SHA256 over it, both hex
// encoded. The MAC key is derived from the configured secret with HKDF, so the
// raw secret is never used as a key directly.
//
// IssueHandler sets the token as an HttpOnly, SameSite=Lax cookie and returns
// it in the response body. Clients echo it back in the X-CSRF-Token header on
// POST, PUT, PATCH and DELETE requests; Middleware rejects requests whose
// header and cookie differ or whose signature does not verify.
//
//	r.Get("/csrf", csrf.IssueHandler(cfg))
//	r.With(csrf.Middleware(cfg)).Post("/plugins/test-clock/advance", h)
package csrf
