package secret

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// RefPrefix starts a secret reference.
const RefPrefix = "secretref:"

// Resolver resolves ${VAR} and secretref: references in configured values.
type Resolver struct {
	providers map[string]Provider
	lookup    LookupFunc
	strict    bool
}

// NewResolver creates a resolver over providers. In strict mode a provider
// returning an empty value is an error.
func NewResolver(strict bool, providers ...Provider) *Resolver {
	r := &Resolver{
		providers: make(map[string]Provider),
		strict:    strict,
	}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// NewDefaultResolver returns a strict resolver with the env and file
// providers. lookup replaces os.LookupEnv for both expansion and the env
// provider when non-nil.
func NewDefaultResolver(lookup LookupFunc, fileBase string) *Resolver {
	r := NewResolver(true, NewEnvProvider(lookup), NewFileProvider(fileBase))
	r.lookup = lookup
	return r
}

// ResolveValue expands variables, then resolves a whole-value or inline
// secret reference.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	lookup := r.lookup
	if lookup == nil {
		lookup = defaultLookup
	}
	expanded, err := Expand(value, lookup)
	if err != nil {
		return "", err
	}

	if provider, ref, ok := ParseSecretRef(expanded); ok {
		return r.resolveOne(ctx, provider, ref)
	}
	return r.resolveInline(ctx, expanded)
}

// ResolveInPlace resolves each pointed-to value, stopping at the first error.
// Empty values are left alone.
func (r *Resolver) ResolveInPlace(ctx context.Context, fields map[string]*string) error {
	for name, p := range fields {
		if p == nil || *p == "" {
			continue
		}
		v, err := r.ResolveValue(ctx, *p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", name, err)
		}
		*p = v
	}
	return nil
}

// ParseSecretRef splits a whole-value reference secretref:<provider>:<ref>.
func ParseSecretRef(value string) (provider, ref string, ok bool) {
	rest, found := strings.CutPrefix(value, RefPrefix)
	if !found {
		return "", "", false
	}
	provider, ref, found = strings.Cut(rest, ":")
	if !found || provider == "" || ref == "" {
		return "", "", false
	}
	return provider, ref, true
}

func (r *Resolver) resolveOne(ctx context.Context, providerName, ref string) (string, error) {
	p, ok := r.providers[providerName]
	if !ok {
		return "", fmt.Errorf("secret: provider %q is not registered", providerName)
	}
	v, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if r.strict && v == "" {
		return "", errors.New("secret: provider " + providerName + " returned an empty value")
	}
	return v, nil
}

var inlineRefPattern = regexp.MustCompile(`secretref:([^:\s]+):(\S+)`)

func (r *Resolver) resolveInline(ctx context.Context, value string) (string, error) {
	matches := inlineRefPattern.FindAllStringSubmatchIndex(value, -1)
	out := value
	// Replace from the end so earlier indexes stay valid.
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		v, err := r.resolveOne(ctx, out[m[2]:m[3]], out[m[4]:m[5]])
		if err != nil {
			return "", err
		}
		out = out[:m[0]] + v + out[m[1]:]
	}
	return out, nil
}
