//go:build contract

// Package contract contains Pact contract testing infrastructure for the
// execution engine's HTTP surface.
//
// Prerequisites:
//   - Install Pact FFI: go install github.com/pact-foundation/pact-go/v2/command/pact-go@latest && pact-go install
//
// Run consumer tests: go test -tags contract -run TestConsumer ./test/contract
// Run provider tests: go test -tags contract -run TestProvider ./test/contract
// Run all: go test -tags contract ./test/contract
package contract

import (
	"os"
	"path/filepath"
)

const (
	// ProviderName is the execution engine's Pact provider name.
	ProviderName = "relaygate-engine"

	// DefaultConsumerName is the default consumer name for tests.
	DefaultConsumerName = "EngineConsumer"

	// PactDir is the directory where generated pact files are stored.
	PactDir = "./pacts"
)

// PactConfig holds configuration for Pact tests.
type PactConfig struct {
	Consumer string
	Provider string
	PactDir  string
	LogLevel string
}

// DefaultConfig returns a PactConfig with sensible defaults.
func DefaultConfig() PactConfig {
	logLevel := os.Getenv("PACT_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "WARN"
	}

	return PactConfig{
		Consumer: DefaultConsumerName,
		Provider: ProviderName,
		PactDir:  getPactDir(),
		LogLevel: logLevel,
	}
}

func getPactDir() string {
	if wd, err := os.Getwd(); err == nil {
		pactDir := filepath.Join(wd, "pacts")
		if _, err := os.Stat(pactDir); err == nil {
			return pactDir
		}
		if err := os.MkdirAll(pactDir, 0o755); err == nil {
			return pactDir
		}
	}
	return "./pacts"
}
