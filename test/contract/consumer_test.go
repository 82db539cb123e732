//go:build contract

package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/pact-foundation/pact-go/v2/consumer"
	"github.com/pact-foundation/pact-go/v2/matchers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	// MockTenantKey is the x-api-key value consumer tests present: the
	// key half of tenant-a's configured "tenant:key" pair.
	MockTenantKey = "test-key-0123456789"
)

// TestConsumerHealthEndpoint verifies the liveness endpoint's fixed body.
func TestConsumerHealthEndpoint(t *testing.T) {
	config := DefaultConfig()

	mockProvider, err := consumer.NewV4Pact(consumer.MockHTTPProviderConfig{
		Consumer: config.Consumer,
		Provider: config.Provider,
		PactDir:  config.PactDir,
	})
	require.NoError(t, err, "failed to create mock provider")

	err = mockProvider.
		AddInteraction().
		UponReceiving("a request to the health endpoint").
		WithRequest("GET", "/healthz").
		WillRespondWith(200, func(b *consumer.V4ResponseBuilder) {
			b.Header("Content-Type", matchers.Like("application/json"))
			b.JSONBody(map[string]interface{}{"ok": matchers.Like(true)})
		}).
		ExecuteTest(t, func(config consumer.MockServerConfig) error {
			resp, err := http.Get(fmt.Sprintf("http://%s:%d/healthz", config.Host, config.Port))
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("expected status 200, got %d", resp.StatusCode)
			}
			return nil
		})

	assert.NoError(t, err, "health endpoint contract failed")
}

// TestConsumerSubmitExecution verifies the submission endpoint's accepted shape.
func TestConsumerSubmitExecution(t *testing.T) {
	config := DefaultConfig()

	mockProvider, err := consumer.NewV4Pact(consumer.MockHTTPProviderConfig{
		Consumer: config.Consumer,
		Provider: config.Provider,
		PactDir:  config.PactDir,
	})
	require.NoError(t, err, "failed to create mock provider")

	body := map[string]interface{}{
		"language": "python",
		"code":     "print('ok')",
		"limits": map[string]interface{}{
			"cpu_cores":           1,
			"memory_mb":           256,
			"timeout_ms":          5000,
			"max_processes":       4,
			"max_file_size_bytes": 65536,
			"max_output_bytes":    65536,
		},
	}

	err = mockProvider.
		AddInteraction().
		Given("the tenant is authorized").
		UponReceiving("a request to submit an execution").
		WithRequest("POST", "/v1/executions", func(b *consumer.V4RequestBuilder) {
			b.Header("x-api-key", matchers.Like(MockTenantKey))
			b.Header("Content-Type", matchers.Like("application/json"))
			b.JSONBody(body)
		}).
		WillRespondWith(202, func(b *consumer.V4ResponseBuilder) {
			b.Header("Content-Type", matchers.Like("application/json"))
			b.JSONBody(map[string]interface{}{
				"id":     matchers.Like("0193e456-7e89-7123-a456-426614174000"),
				"status": matchers.Like("queued"),
			})
		}).
		ExecuteTest(t, func(config consumer.MockServerConfig) error {
			payload, _ := json.Marshal(body)
			req, err := http.NewRequest(http.MethodPost,
				fmt.Sprintf("http://%s:%d/v1/executions", config.Host, config.Port),
				bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("x-api-key", MockTenantKey)
			req.Header.Set("Content-Type", "application/json")

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("expected status 202, got %d", resp.StatusCode)
			}
			return nil
		})

	assert.NoError(t, err, "submit execution contract failed")
}

// TestConsumerGetExecutionSummary verifies the summary lookup shape.
func TestConsumerGetExecutionSummary(t *testing.T) {
	config := DefaultConfig()

	mockProvider, err := consumer.NewV4Pact(consumer.MockHTTPProviderConfig{
		Consumer: config.Consumer,
		Provider: config.Provider,
		PactDir:  config.PactDir,
	})
	require.NoError(t, err, "failed to create mock provider")

	executionID := "0193e456-7e89-7123-a456-426614174000"

	err = mockProvider.
		AddInteraction().
		Given("an execution record exists").
		UponReceiving("a request for an execution's summary").
		WithRequest("GET", "/v1/executions/"+executionID, func(b *consumer.V4RequestBuilder) {
			b.Header("x-api-key", matchers.Like(MockTenantKey))
		}).
		WillRespondWith(200, func(b *consumer.V4ResponseBuilder) {
			b.Header("Content-Type", matchers.Like("application/json"))
			b.JSONBody(map[string]interface{}{
				"id":     matchers.Like(executionID),
				"status": matchers.Like("succeeded"),
			})
		}).
		ExecuteTest(t, func(config consumer.MockServerConfig) error {
			req, err := http.NewRequest(http.MethodGet,
				fmt.Sprintf("http://%s:%d/v1/executions/%s", config.Host, config.Port, executionID), nil)
			if err != nil {
				return err
			}
			req.Header.Set("x-api-key", MockTenantKey)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("expected status 200, got %d", resp.StatusCode)
			}
			return nil
		})

	assert.NoError(t, err, "execution summary contract failed")
}
