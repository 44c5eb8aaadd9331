// Package changepointv1 holds the gRPC service descriptor for changepoint.v1.Detector.
//
// Requests and responses are google.protobuf.Struct values carrying the JSON documents
// defined in internal/models, so the descriptor is maintained by hand instead of
// being generated from a .proto file.
package changepointv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "changepoint.v1.Detector"

	Detector_Detect_FullMethodName = "/changepoint.v1.Detector/Detect"
	Detector_GetRun_FullMethodName = "/changepoint.v1.Detector/GetRun"
	Detector_Health_FullMethodName = "/changepoint.v1.Detector/Health"
)

// DetectorClient is the client API for the Detector service.
type DetectorClient interface {
	Detect(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Health(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type detectorClient struct {
	cc grpc.ClientConnInterface
}

// NewDetectorClient wraps a client connection.
func NewDetectorClient(cc grpc.ClientConnInterface) DetectorClient {
	return &detectorClient{cc: cc}
}

func (c *detectorClient) Detect(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, Detector_Detect_FullMethodName, in, opts...)
}

func (c *detectorClient) GetRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, Detector_GetRun_FullMethodName, in, opts...)
}

func (c *detectorClient) Health(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, Detector_Health_FullMethodName, in, opts...)
}

func (c *detectorClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// DetectorServer is the server API for the Detector service.
type DetectorServer interface {
	Detect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedDetectorServer can be embedded to satisfy DetectorServer.
type UnimplementedDetectorServer struct{}

func (UnimplementedDetectorServer) Detect(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Detect not implemented")
}

func (UnimplementedDetectorServer) GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetRun not implemented")
}

func (UnimplementedDetectorServer) Health(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Health not implemented")
}

// RegisterDetectorServer attaches srv to the registrar.
func RegisterDetectorServer(s grpc.ServiceRegistrar, srv DetectorServer) {
	s.RegisterService(&Detector_ServiceDesc, srv)
}

func unaryHandler(method string, call func(DetectorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DetectorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(DetectorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Detector_ServiceDesc is the grpc.ServiceDesc for the Detector service.
var Detector_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DetectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Detect",
			Handler:    unaryHandler(Detector_Detect_FullMethodName, DetectorServer.Detect),
		},
		{
			MethodName: "GetRun",
			Handler:    unaryHandler(Detector_GetRun_FullMethodName, DetectorServer.GetRun),
		},
		{
			MethodName: "Health",
			Handler:    unaryHandler(Detector_Health_FullMethodName, DetectorServer.Health),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "changepoint/v1/detector.proto",
}
