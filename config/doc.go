// Package config loads sendguard's runtime configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// SENDGUARD_* environment variables. A .env file in the working directory
// contributes to the environment without overriding variables that are
// already set. Credential fields may hold ${VAR} references or
// secretref:env:NAME and secretref:file:/path references, which are resolved
// before validation.
//
// Durations are written as Go duration strings ("250ms", "1m").
package config
