package siridb

import (
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerInstallsGlobalTracer(t *testing.T) {
	closer, err := InitTracer("siridb-test", 1.0)
	require.NoError(t, err)
	defer closer.Close()

	span := opentracing.StartSpan("test-op")
	assert.NotNil(t, span)
	span.Finish()
}
