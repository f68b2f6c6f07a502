package auth

import (
	"context"
	"net/http"
)

// CompositeAuthenticator tries authenticators in order and returns the
// first that supports the request.
type CompositeAuthenticator struct {
	authenticators []Authenticator
}

// NewCompositeAuthenticator creates a composite authenticator. Nil entries
// are skipped.
func NewCompositeAuthenticator(auths ...Authenticator) *CompositeAuthenticator {
	c := &CompositeAuthenticator{}
	for _, a := range auths {
		if a != nil {
			c.authenticators = append(c.authenticators, a)
		}
	}
	return c
}

// Name returns "composite".
func (c *CompositeAuthenticator) Name() string {
	return "composite"
}

// Len returns the number of configured authenticators.
func (c *CompositeAuthenticator) Len() int {
	return len(c.authenticators)
}

// Supports reports whether any authenticator supports the request.
func (c *CompositeAuthenticator) Supports(h http.Header) bool {
	for _, a := range c.authenticators {
		if a.Supports(h) {
			return true
		}
	}
	return false
}

// Authenticate delegates to the first authenticator that supports the
// request. A presented but invalid credential does not fall through to the
// next authenticator.
func (c *CompositeAuthenticator) Authenticate(ctx context.Context, h http.Header) (*Result, error) {
	for _, a := range c.authenticators {
		if a.Supports(h) {
			return a.Authenticate(ctx, h)
		}
	}
	return reject(ErrMissingCredentials), nil
}

var _ Authenticator = (*CompositeAuthenticator)(nil)
