package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cuemby/fleetcore/pkg/types"
)

// TCPChecker performs a bare TCP dial. TCP checks have no response body to
// assert against, so cfg.Custom is ignored when Type is TCP.
type TCPChecker struct {
	address string
	timeout time.Duration
}

func newTCPChecker(address string, cfg types.HealthCheckConfig) *TCPChecker {
	return &TCPChecker{
		address: fmt.Sprintf("%s:%d", address, cfg.Port),
		timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
	}
}

func (t *TCPChecker) Type() types.HealthCheckType { return types.HealthCheckTypeTCP }

func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("connection failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	defer conn.Close()

	return Result{Healthy: true, Message: fmt.Sprintf("TCP connection to %s successful", t.address), CheckedAt: start, Duration: time.Since(start)}
}
