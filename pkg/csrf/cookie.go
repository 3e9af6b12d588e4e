package csrf

import "strings"

// ParseCookie extracts name from a Cookie header value.
func ParseCookie(header, name string) (string, bool) {
	for part := range strings.SplitSeq(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k != name {
			continue
		}
		return v, true
	}
	return "", false
}

// BuildCookieHeader renders a Set-Cookie value for the CSRF cookie.
func BuildCookieHeader(name, value string, secure bool) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteString("=")
	b.WriteString(value)
	b.WriteString("; HttpOnly; SameSite=Lax; Path=/")
	if secure {
		b.WriteString("; Secure")
	}
	return b.String()
}
