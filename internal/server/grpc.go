package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/query"
)

// GRPCServiceName is the fully qualified name of the TraceQL gRPC service.
// Requests and responses are google.protobuf.Struct documents shaped like
// the HTTP JSON bodies.
const GRPCServiceName = "traceql.v1.TraceQL"

// TraceQLServer is the gRPC service implemented by the server.
type TraceQLServer interface {
	Ingest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTrace(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*emptypb.Empty, grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*TraceQLServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Ingest", TraceQLServer.Ingest),
		unaryMethod("ListEvents", TraceQLServer.ListEvents),
		unaryMethod("GetTrace", TraceQLServer.GetTrace),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "Subscribe",
		Handler:       subscribeHandler,
		ServerStreams: true,
	}},
	Metadata: "traceql/v1/traceql.proto",
}

func unaryMethod(name string, call func(TraceQLServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TraceQLServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + GRPCServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TraceQLServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TraceQLServer).Subscribe(in, stream)
}

// NewGRPCServer creates a gRPC server with standard interceptors,
// registers the TraceQL service, health checking and reflection, and
// returns the server ready to serve.
func NewGRPCServer(s *Server) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor,
			StreamLoggingInterceptor,
		),
	)

	srv.RegisterService(&serviceDesc, &grpcService{s: s})

	hs := health.NewServer()
	hs.SetServingStatus(GRPCServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	reflection.Register(srv)
	return srv
}

// grpcService adapts Server to TraceQLServer.
type grpcService struct {
	s *Server
}

func (g *grpcService) Ingest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	body, err := protojson.Marshal(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "encode submission: %v", err)
	}
	e, err := g.s.Ingest(ctx, body)
	if err != nil {
		return nil, g.toStatus(err)
	}
	return toStruct(ingestResponse{OK: true, ID: e.ID})
}

func (g *grpcService) ListEvents(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	filter := model.EventFilter{
		Service: fields["service"].GetStringValue(),
		Level:   model.Level(fields["level"].GetStringValue()),
		Search:  strings.TrimSpace(fields["q"].GetStringValue()),
		Limit:   model.DefaultLimit,
	}
	if v, ok := fields["limit"]; ok {
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); isNum {
			filter.Limit = model.ClampLimit(int(v.GetNumberValue()))
		} else {
			filter.Limit = query.ParseLimit(v.GetStringValue())
		}
	}
	items, err := g.s.Events(ctx, filter)
	if err != nil {
		return nil, g.toStatus(err)
	}
	return toStruct(eventsResponse{Items: items})
}

func (g *grpcService) GetTrace(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	res, err := g.s.Trace(ctx, in.GetFields()["traceId"].GetStringValue())
	if err != nil {
		return nil, g.toStatus(err)
	}
	return toStruct(res)
}

// Subscribe streams every event accepted after the call starts, one Struct
// envelope per event.
func (g *grpcService) Subscribe(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	remote := "grpc"
	if p, ok := peer.FromContext(ctx); ok {
		remote = p.Addr.String()
	}
	hub := g.s.hub
	obs := hub.Register(remote)
	defer hub.Deregister(obs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-obs.Messages():
			if !ok {
				return status.Error(codes.Unavailable, "subscription closed")
			}
			env := new(structpb.Struct)
			if err := protojson.Unmarshal(msg, env); err != nil {
				return status.Errorf(codes.Internal, "decode envelope: %v", err)
			}
			if err := stream.SendMsg(env); err != nil {
				hub.Fail(obs, err)
				return err
			}
		}
	}
}

// toStatus maps an operation error onto a gRPC status.
func (g *grpcService) toStatus(err error) error {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return status.Error(codes.InvalidArgument, verr.Error())
	}
	var serr *model.StorageError
	if errors.As(err, &serr) {
		g.s.log.Error("storage failure", "op", serr.Op, "error", serr.Err)
		return status.Error(codes.Internal, "storage failure")
	}
	return status.Error(codes.Internal, err.Error())
}

// toStruct converts v to a Struct through its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
