package oidc

import (
	"encoding/base64"
	"fmt"

	uuid "github.com/hashicorp/go-uuid"
)

// DefaultIDLength is the number of random bytes backing an ID generated
// by NewID. 16 bytes of entropy is sufficient for a CSRF state token.
const DefaultIDLength = 16

// NewID generates a URL-safe random ID with an optional prefix. The ID
// generated is suitable for a login request's state parameter.
//
// Supported options: WithPrefix
func NewID(opt ...Option) (string, error) {
	const op = "oidc.NewID"
	opts := getIDOpts(opt...)
	data, err := uuid.GenerateRandomBytes(DefaultIDLength)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate id: %w", op, ErrIDGeneratorFailed)
	}
	id := base64.RawURLEncoding.EncodeToString(data)
	switch {
	case opts.withPrefix != "":
		return fmt.Sprintf("%s_%s", opts.withPrefix, id), nil
	default:
		return id, nil
	}
}

// idOptions is the set of available options for NewID
type idOptions struct {
	withPrefix string
}

// idDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func idDefaults() idOptions {
	return idOptions{}
}

func getIDOpts(opt ...Option) idOptions {
	opts := idDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPrefix provides an optional prefix for a generated ID.
func WithPrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*idOptions); ok {
			o.withPrefix = prefix
		}
	}
}
