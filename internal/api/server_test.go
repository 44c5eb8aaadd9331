package api

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-changepoint/internal/config"
	cpv1 "github.com/miradorstack/mirador-changepoint/internal/grpc/changepointv1"
)

type echoDetector struct {
	cpv1.UnimplementedDetectorServer
}

func (echoDetector) Detect(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return in, nil
}

type panickingDetector struct {
	cpv1.UnimplementedDetectorServer
}

func (panickingDetector) Detect(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	panic("index out of range")
}

func startBufServer(t *testing.T, srv cpv1.DetectorServer) *grpc.ClientConn {
	t.Helper()
	return startBufServerWithConfig(t, config.ServerConfig{GracefulTimeout: time.Second}, srv)
}

func startBufServerWithConfig(t *testing.T, cfg config.ServerConfig, srv cpv1.DetectorServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := NewServerWithListener(lis, cfg, srv, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = server.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServerRoutesDetectorCalls(t *testing.T) {
	conn := startBufServer(t, echoDetector{})
	client := cpv1.NewDetectorClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in := mustStruct(t, map[string]any{"ping": "pong"})
	out, err := client.Detect(ctx, in)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if out.GetFields()["ping"].GetStringValue() != "pong" {
		t.Fatalf("unexpected echo %v", out)
	}

	_, err = client.GetRun(ctx, in)
	if status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected unimplemented, got %v", err)
	}
}

func TestServerRegistersHealth(t *testing.T) {
	conn := startBufServer(t, echoDetector{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: cpv1.ServiceName})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status %v", resp.GetStatus())
	}
}

func TestServerRecoversFromHandlerPanic(t *testing.T) {
	conn := startBufServer(t, panickingDetector{})
	client := cpv1.NewDetectorClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Detect(ctx, mustStruct(t, map[string]any{"series": []any{}}))
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected internal, got %v", err)
	}

	// The server keeps serving after the panic.
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health after panic: %v %v", resp, err)
	}
}

func TestServerEnforcesMaxRecvSize(t *testing.T) {
	cfg := config.ServerConfig{GracefulTimeout: time.Second, MaxRecvMsgBytes: 1024}
	conn := startBufServerWithConfig(t, cfg, echoDetector{})
	client := cpv1.NewDetectorClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Detect(ctx, mustStruct(t, map[string]any{"note": "small"})); err != nil {
		t.Fatalf("small request: %v", err)
	}
	_, err := client.Detect(ctx, mustStruct(t, map[string]any{"note": strings.Repeat("x", 4096)}))
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected resource exhausted for oversized request, got %v", err)
	}
}
