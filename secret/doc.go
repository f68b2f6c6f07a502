// Package secret resolves credentials referenced from configuration.
//
// A configured value may contain ${VAR} references, expanded strictly (a
// missing variable is an error), and secretref:<provider>:<ref> references
// resolved through a Provider. Two providers are built in:
//
//	secretref:env:SMTP_PASSWORD       reads an environment variable
//	secretref:file:/run/secrets/jwt   reads a mounted secret file
//
// Resolved values are never logged.
package secret
