package health

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetcore/pkg/types"
)

func TestTCPChecker_HealthyPort(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	cfg := types.HealthCheckConfig{
		Port:        port,
		IntervalMs:  10_000,
		TimeoutMs:   1_000,
		MaxFailures: 3,
		Type:        types.HealthCheckTypeTCP,
	}

	checker, err := NewChecker("127.0.0.1", cfg)
	require.NoError(t, err)
	assert.Equal(t, types.HealthCheckTypeTCP, checker.Type())

	result := checker.Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
}

func TestTCPChecker_UnreachablePort(t *testing.T) {
	cfg := types.HealthCheckConfig{
		Port:        1,
		IntervalMs:  10_000,
		TimeoutMs:   100,
		MaxFailures: 3,
		Type:        types.HealthCheckTypeTCP,
	}

	checker, err := NewChecker("127.0.0.1", cfg)
	require.NoError(t, err)

	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
}
