//go:build tools

// Package dasma pins code generators (mockgen) in go.mod so `go generate`
// works on a fresh checkout.
package dasma

import (
	_ "go.uber.org/mock/mockgen"
)
