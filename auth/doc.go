// Package auth authenticates callers of the sendguard HTTP API.
//
// Two credentials are accepted: an API key in the X-API-Key header, checked
// against SHA-256 hashes, and an HMAC-signed bearer JWT. Each yields an
// Identity carrying roles; RequireRole gates routes on them.
//
//	authn := auth.NewCompositeAuthenticator(
//	    auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{}, keys),
//	    auth.NewJWTAuthenticator(auth.JWTConfig{Issuer: "sendguard"}, secret),
//	)
//	r.Use(auth.Middleware(authn, logger))
//	r.With(auth.RequireRole(auth.RoleSender)).Post("/v1/sends", h)
package auth
