package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/muchaco/council/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:   maxRetries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SuccessFirstTry(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())

	calls := 0
	v, err := Do(context.Background(), r, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesRetryableErrors(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())

	calls := 0
	v, err := Do(context.Background(), r, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, types.NewError(types.ErrGatewayRateLimit, "slow down").WithRetryable(true)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())

	calls := 0
	_, err := Do(context.Background(), r, func(context.Context) (int, error) {
		calls++
		return 0, types.NewError(types.ErrGatewayAuthentication, "bad key")
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, types.ErrGatewayAuthentication, types.GetErrorCode(err))
}

func TestDo_ExhaustedKeepsLastError(t *testing.T) {
	var retries []int
	p := fastPolicy(2)
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) }
	r := New(p, zap.NewNop())

	_, err := Do(context.Background(), r, func(context.Context) (int, error) {
		return 0, types.NewError(types.ErrGateway, "503").WithRetryable(true)
	})

	assert.Equal(t, types.ErrGateway, types.GetErrorCode(err))
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDo_ContextCancelled(t *testing.T) {
	p := fastPolicy(5)
	p.InitialDelay = time.Second
	p.MaxDelay = time.Second
	r := New(p, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Do(ctx, r, func(context.Context) (int, error) {
		return 0, types.NewError(types.ErrGateway, "x").WithRetryable(true)
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDo_CustomShouldRetry(t *testing.T) {
	sentinel := errors.New("transient")
	p := fastPolicy(1)
	p.ShouldRetry = func(err error) bool { return errors.Is(err, sentinel) }
	r := New(p, zap.NewNop())

	calls := 0
	_, err := Do(context.Background(), r, func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, calls)
}

func TestRetryer_Delay(t *testing.T) {
	r := New(Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}, nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestNew_NormalizesPolicy(t *testing.T) {
	r := New(Policy{MaxRetries: -1, Multiplier: 0.5}, nil)
	assert.Equal(t, 0, r.policy.MaxRetries)
	assert.Equal(t, 2.0, r.policy.Multiplier)
	assert.NotNil(t, r.policy.ShouldRetry)
}
