package camunda

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicemart/internal/common/config"
	apperrors "voicemart/internal/common/errors"
)

func testClient() *Client {
	return &Client{config: &ClientConfig{
		ConnectionTimeout: time.Second,
		RetryConfig:       &RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}}
}

func TestExecuteWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantCode  apperrors.ErrorCode
	}{
		{name: "first try", errs: []error{nil}, wantCalls: 1},
		{
			name:      "transient then ok",
			errs:      []error{errors.New("rpc error: Unavailable"), nil},
			wantCalls: 2,
		},
		{
			name:      "permanent",
			errs:      []error{errors.New("permission denied")},
			wantCalls: 1,
			wantCode:  apperrors.ErrCodeExternalService,
		},
		{
			name: "retries exhausted",
			errs: []error{
				errors.New("context deadline exceeded"),
				errors.New("context deadline exceeded"),
				errors.New("context deadline exceeded"),
			},
			wantCalls: 3,
			wantCode:  apperrors.ErrCodeTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := testClient().ExecuteWithRetry(context.Background(), "topology", func(context.Context) error {
				e := tt.errs[calls]
				calls++
				return e
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.Normalize(err).Code)
		})
	}
}

func TestExecuteWithRetry_Cancelled(t *testing.T) {
	c := testClient()
	c.config.RetryConfig.BaseDelay = time.Hour
	c.config.RetryConfig.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.ExecuteWithRetry(ctx, "topology", func(context.Context) error {
		return errors.New("connection refused")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientConfigFrom(t *testing.T) {
	cc := ClientConfigFrom(config.CamundaConfig{BrokerAddress: "zeebe:26500", Timeout: 2500})
	assert.Equal(t, "zeebe:26500", cc.GatewayAddress)
	assert.Equal(t, 2500*time.Millisecond, cc.ConnectionTimeout)
	assert.Equal(t, 30*time.Second, cc.RequestTimeout)
	assert.True(t, cc.UsePlaintextConnection)
}
