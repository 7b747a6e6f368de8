package grpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_ReusesConnection(t *testing.T) {
	p := NewPool(WithInterceptor(LoggingInterceptor(zap.NewNop())))

	a, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	b, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := p.GetConnection("localhost:50052")
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	require.NoError(t, p.Close())
}

func TestPool_ReplacesClosedConnection(t *testing.T) {
	p := NewPool()
	t.Cleanup(func() { _ = p.Close() })

	a, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}
