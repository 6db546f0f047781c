package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "omomi", "test", true)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestMeterAndTracer_UsableWithoutInit(t *testing.T) {
	counter, err := Meter("omomi/test").Int64Counter("omomi.test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	_, span := Tracer("omomi/test").Start(context.Background(), "op")
	span.End()
}
