package oidc

import "time"

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// WithExpirySkew provides an optional expiry skew duration used when a
// TokenSet checks whether it's expired.
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*tokenOptions); ok {
			v.withExpirySkew = d
		}
	}
}

// WithNow provides an optional "current time" function. It's only
// intended for tests which need a deterministic clock.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *tokenOptions:
			v.withNow = now
		case *sessionManagerOptions:
			v.withNow = now
		}
	}
}
