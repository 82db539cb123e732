//go:build tools
// +build tools

// Package tools documents development tool dependencies with pinned versions.
//
// Pinned tool versions:
//   - mockgen: v0.6.0 (go.uber.org/mock/mockgen)
//
// Note: CLI tools cannot be imported as packages. Install mockgen with
// `go install go.uber.org/mock/mockgen@v0.6.0`.
package tools

import (
	// gomock is an importable library used by generated mocks
	_ "go.uber.org/mock/gomock"
)
