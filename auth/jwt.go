package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the JWT authenticator.
type JWTConfig struct {
	// Issuer is the required iss claim, if set.
	Issuer string

	// Audience is the required aud claim, if set.
	Audience string

	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration

	// Now overrides the clock.
	Now func() time.Time
}

// Claims is the token body sendguard issues and accepts.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

const bearerPrefix = "Bearer "

// signingMethods are the HMAC algorithms accepted for verification.
var signingMethods = []string{"HS256", "HS384", "HS512"}

// JWTAuthenticator validates HMAC-signed bearer tokens.
type JWTAuthenticator struct {
	config JWTConfig
	secret []byte
	parser *jwt.Parser
}

// NewJWTAuthenticator creates a JWT authenticator keyed by secret.
func NewJWTAuthenticator(config JWTConfig, secret []byte) *JWTAuthenticator {
	if config.Now == nil {
		config.Now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(signingMethods),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(config.Now),
	}
	if config.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(config.Leeway))
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}

	return &JWTAuthenticator{
		config: config,
		secret: secret,
		parser: jwt.NewParser(opts...),
	}
}

// Name returns "jwt".
func (a *JWTAuthenticator) Name() string {
	return string(MethodJWT)
}

// Supports reports whether a bearer token is present.
func (a *JWTAuthenticator) Supports(h http.Header) bool {
	return strings.HasPrefix(h.Get("Authorization"), bearerPrefix)
}

// Authenticate verifies the token signature and registered claims.
func (a *JWTAuthenticator) Authenticate(_ context.Context, h http.Header) (*Result, error) {
	raw, ok := strings.CutPrefix(h.Get("Authorization"), bearerPrefix)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return reject(ErrMissingCredentials), nil
	}

	var claims Claims
	_, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return reject(ErrTokenExpired), nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return reject(ErrTokenMalformed), nil
	case err != nil:
		return reject(fmt.Errorf("%w: %w", ErrInvalidCredentials, err)), nil
	}

	if claims.Subject == "" {
		return reject(fmt.Errorf("%w: token has no subject", ErrInvalidCredentials)), nil
	}

	id := &Identity{
		Principal: claims.Subject,
		Roles:     claims.Roles,
		Method:    MethodJWT,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return accept(id), nil
}

// TokenSpec describes a token to issue.
type TokenSpec struct {
	Subject  string
	Roles    []string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// SignToken issues an HS256 token for spec.
func SignToken(secret []byte, spec TokenSpec, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: signing secret is empty")
	}
	if spec.Subject == "" {
		return "", errors.New("auth: token subject is required")
	}
	if spec.TTL <= 0 {
		spec.TTL = time.Hour
	}

	claims := Claims{
		Roles: spec.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   spec.Subject,
			Issuer:    spec.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(spec.TTL)),
		},
	}
	if spec.Audience != "" {
		claims.Audience = jwt.ClaimStrings{spec.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

var _ Authenticator = (*JWTAuthenticator)(nil)
