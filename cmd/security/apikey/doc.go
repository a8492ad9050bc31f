// Package apikey verifies the shared X-API-KEY secret used by internal callers.
//
// Comparison is done over SHA-256 digests of both values so that neither the
// content nor the length of the configured key leaks through timing.
//
// An empty configured key disables verification: every request is accepted.
package apikey
