package doctor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// checkGRPCHealth asks target's grpc.health.v1 service for overall status.
func checkGRPCHealth(ctx context.Context, target string, timeout time.Duration) Check {
	const name = "backend.grpc_health"
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("dial %q: %v", target, err)}
	}
	defer conn.Close()

	conn.Connect()
	if err := waitForReady(ctx, conn); err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s not ready: %v", target, err)}
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("health check failed: %v", err)}
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s reports %s", target, resp.GetStatus())}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s serving", target)}
}

// waitForReady blocks until the connection enters Ready or fails.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}
