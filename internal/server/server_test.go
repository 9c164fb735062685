package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ChuLiYu/sheetflow/internal/executor"
	"github.com/ChuLiYu/sheetflow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T, exec Lifecycle) (*Server, *grpc.ClientConn) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := New(exec)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func statusOf(t *testing.T, conn *grpc.ClientConn, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := Check(context.Background(), conn, service)
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServingWhileRunning(t *testing.T) {
	e, err := executor.New(2)
	require.NoError(t, err)
	defer e.Close(time.Second)

	_, conn := startServer(t, e)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, statusOf(t, conn, ServiceName))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, statusOf(t, conn, ""))
}

func TestUnknownService(t *testing.T) {
	e, err := executor.New(1)
	require.NoError(t, err)
	defer e.Close(time.Second)

	_, conn := startServer(t, e)

	_, err = Check(context.Background(), conn, "nope")
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestWatchReportsDraining(t *testing.T) {
	e, err := executor.New(1)
	require.NoError(t, err)

	srv, conn := startServer(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watched := make(chan struct{})
	go func() {
		srv.Watch(ctx)
		close(watched)
	}()

	// Hold the executor in Draining with one running request.
	release := make(chan struct{})
	started := make(chan struct{})
	e.Submit(types.RequestFunc(func() (types.Response, error) {
		close(started)
		<-release
		return nil, nil
	}))
	<-started

	closed := make(chan struct{})
	go func() {
		e.Close(5 * time.Second)
		close(closed)
	}()

	assert.Eventually(t, func() bool {
		return statusOf(t, conn, ServiceName) == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, statusOf(t, conn, ""), "server itself is still up while draining")

	close(release)
	<-closed

	select {
	case <-watched:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after termination")
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, statusOf(t, conn, ""))
}

func TestWatchStopsOnContext(t *testing.T) {
	e, err := executor.New(1)
	require.NoError(t, err)
	defer e.Close(time.Second)

	srv, conn := startServer(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Watch(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch ignored cancellation")
	}
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, statusOf(t, conn, ServiceName))
}

func TestProbeUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := Probe(ctx, "127.0.0.1:1", ServiceName)
	assert.Error(t, err)
}
