package csrf

const (
	DefaultCookieName = "__billsdk_csrf"
	DefaultHeaderName = "X-CSRF-Token"
)

// Config configures the double-submit guard.
type Config struct {
	Secret     string `env:"CSRF_SECRET,required"`
	CookieName string `env:"CSRF_COOKIE_NAME" envDefault:"__billsdk_csrf"`
	HeaderName string `env:"CSRF_HEADER_NAME" envDefault:"X-CSRF-Token"`
	Secure     bool   `env:"CSRF_SECURE" envDefault:"true"` // append Secure to the cookie; disable only for plain-HTTP development
}

func (c Config) withDefaults() Config {
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.HeaderName == "" {
		c.HeaderName = DefaultHeaderName
	}
	return c
}
