package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/incident-rca/internal/config"
)

type fakeEngine struct {
	resp *structpb.Struct
	err  error
	got  *structpb.Struct

	explained int
}

func (f *fakeEngine) AnalyzeIncident(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f.got = req
	return f.resp, f.err
}

func (f *fakeEngine) ExplainHypothesis(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f.got = req
	f.explained++
	return f.resp, f.err
}

func (f *fakeEngine) HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return ToStructHealth("SERVING", 0)
}

func startBufconnServer(t *testing.T, engine RCAEngineServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServerWithListener(config.ServerConfig{GracefulTimeout: time.Second}, lis, engine)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServerRoundTrip(t *testing.T) {
	resp, err := structpb.NewStruct(map[string]interface{}{"incident_id": "inc-1", "confidence": 0.9})
	require.NoError(t, err)
	engine := &fakeEngine{resp: resp}
	conn := startBufconnServer(t, engine)

	req, err := structpb.NewStruct(map[string]interface{}{"incident_id": "inc-1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := NewRCAEngineClient(conn)
	out, err := client.AnalyzeIncident(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0.9, out.GetFields()["confidence"].GetNumberValue())
	assert.Equal(t, "inc-1", engine.got.GetFields()["incident_id"].GetStringValue())

	health, err := client.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SERVING", health.GetFields()["status"].GetStringValue())

	served, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, served.GetStatus())
}

func TestServerPropagatesStatus(t *testing.T) {
	engine := &fakeEngine{err: status.Error(codes.InvalidArgument, "incident_id is required")}
	conn := startBufconnServer(t, engine)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := NewRCAEngineClient(conn).AnalyzeIncident(ctx, &structpb.Struct{})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServerExplainHypothesis(t *testing.T) {
	resp, err := structpb.NewStruct(map[string]interface{}{"hypothesis_id": "hyp-a"})
	require.NoError(t, err)
	engine := &fakeEngine{resp: resp}
	conn := startBufconnServer(t, engine)

	req, err := structpb.NewStruct(map[string]interface{}{"incident_id": "inc-1", "hypothesis_id": "hyp-a"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := NewRCAEngineClient(conn).ExplainHypothesis(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "hyp-a", out.GetFields()["hypothesis_id"].GetStringValue())
	assert.Equal(t, 1, engine.explained)
}
