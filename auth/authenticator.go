package auth

import (
	"context"
	"net/http"
)

// Authenticator validates credentials and returns an identity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: a rejected credential is reported in Result; the error return
//   is reserved for internal failures such as an unreachable key store.
type Authenticator interface {
	Name() string

	// Supports reports whether the request carries a credential this
	// authenticator understands.
	Supports(h http.Header) bool

	Authenticate(ctx context.Context, h http.Header) (*Result, error)
}

// Result is the outcome of an authentication attempt.
type Result struct {
	Identity *Identity

	// Err explains a rejection; nil when Identity is set.
	Err error
}

// Authenticated reports whether the attempt produced an identity.
func (r *Result) Authenticated() bool {
	return r != nil && r.Identity != nil
}

func accept(id *Identity) *Result {
	return &Result{Identity: id}
}

func reject(err error) *Result {
	return &Result{Err: err}
}
