package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsNoOp(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	// All recording paths must be safe without initialized instruments.
	ctx := context.Background()
	p.RecordCycle(ctx)
	p.RecordError(ctx, errors.New("boom"))

	spanCtx, done := p.TrackStage(ctx, "validation")
	assert.NotNil(t, spanCtx)
	done(errors.New("stage failed"))

	assert.NoError(t, p.Shutdown(ctx))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "gatewright", cfg.ServiceName)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestTracerAvailableWhenDisabled(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, p.Tracer())
}
