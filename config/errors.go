package config

import "errors"

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("config: invalid configuration")

	// ErrInvalidEnv indicates a SENDGUARD_* variable that could not be parsed.
	ErrInvalidEnv = errors.New("config: invalid environment override")
)
