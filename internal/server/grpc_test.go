package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

func startGRPC(t *testing.T) (*Server, *grpc.ClientConn) {
	t.Helper()
	s, _, _ := newTestServer()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(s)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return s, conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(in)
	require.NoError(t, err)
	out := new(structpb.Struct)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = conn.Invoke(ctx, "/"+GRPCServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPC_IngestAndList(t *testing.T) {
	_, conn := startGRPC(t)

	out, err := invoke(t, conn, "Ingest", map[string]any{
		"service": "api", "level": "INFO", "message": "over grpc", "durationMs": 12,
	})
	require.NoError(t, err)
	require.True(t, out.Fields["ok"].GetBoolValue())
	require.Equal(t, "ev-1", out.Fields["id"].GetStringValue())

	list, err := invoke(t, conn, "ListEvents", map[string]any{"service": "api", "limit": 10})
	require.NoError(t, err)
	items := list.Fields["items"].GetListValue().GetValues()
	require.Len(t, items, 1)
	item := items[0].GetStructValue().GetFields()
	require.Equal(t, "over grpc", item["message"].GetStringValue())
	require.Equal(t, float64(12), item["durationMs"].GetNumberValue())
	_, isNull := item["spanId"].GetKind().(*structpb.Value_NullValue)
	require.True(t, isNull)
}

func TestGRPC_IngestValidation(t *testing.T) {
	_, conn := startGRPC(t)
	_, err := invoke(t, conn, "Ingest", map[string]any{"service": "api"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	require.Contains(t, status.Convert(err).Message(), "level")
	require.Contains(t, status.Convert(err).Message(), "message")
}

func TestGRPC_GetTrace(t *testing.T) {
	_, conn := startGRPC(t)
	for _, in := range []map[string]any{
		{"service": "api", "level": "INFO", "message": "root", "traceId": "t1", "spanId": "a"},
		{"service": "db", "level": "INFO", "message": "child", "traceId": "t1", "spanId": "b", "parentSpanId": "a"},
	} {
		_, err := invoke(t, conn, "Ingest", in)
		require.NoError(t, err)
	}

	out, err := invoke(t, conn, "GetTrace", map[string]any{"traceId": "t1"})
	require.NoError(t, err)
	roots := out.Fields["roots"].GetListValue().GetValues()
	require.Len(t, roots, 1)
	children := roots[0].GetStructValue().Fields["children"].GetListValue().GetValues()
	require.Len(t, children, 1)
	require.Equal(t, "b", children[0].GetStructValue().Fields["spanId"].GetStringValue())
	require.Len(t, out.Fields["raw"].GetListValue().GetValues(), 2)
}

func TestGRPC_Subscribe(t *testing.T) {
	s, conn := startGRPC(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, "/"+GRPCServiceName+"/Subscribe")
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&emptypb.Empty{}))
	require.NoError(t, stream.CloseSend())
	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	_, err = invoke(t, conn, "Ingest", map[string]any{"service": "api", "level": "ERROR", "message": "streamed"})
	require.NoError(t, err)

	env := new(structpb.Struct)
	require.NoError(t, stream.RecvMsg(env))
	require.Equal(t, "event", env.Fields["type"].GetStringValue())
	require.Equal(t, "streamed", env.Fields["data"].GetStructValue().Fields["message"].GetStringValue())

	cancel()
	require.Eventually(t, func() bool { return s.Hub().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestGRPC_Health(t *testing.T) {
	_, conn := startGRPC(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: GRPCServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
