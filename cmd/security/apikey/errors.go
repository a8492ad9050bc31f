package apikey

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyMissing  = errors.New("api key missing")
	ErrKeyMismatch = errors.New("api key mismatch")
)
