package model

import "errors"

// ErrConfigNotFound is returned when no service is configured for a
// repository URL. Callers treat it as "ignored", not as a failure.
var ErrConfigNotFound = errors.New("service config not found")
