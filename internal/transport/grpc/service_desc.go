package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "tutoring.v1.BookingService"

// BookingServiceServer is the server API for tutoring.v1.BookingService.
// Requests and responses travel as google.protobuf.Struct.
type BookingServiceServer interface {
	ProposeSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BookSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WithdrawSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompleteSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RescheduleSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAvailableSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRules(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RulesForDate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenWindows(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SweepExpired(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type rpcFunc func(BookingServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, fn rpcFunc) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(BookingServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(srv.(BookingServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var BookingServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BookingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("ProposeSession", BookingServiceServer.ProposeSession),
		unaryMethod("BookSession", BookingServiceServer.BookSession),
		unaryMethod("CancelBooking", BookingServiceServer.CancelBooking),
		unaryMethod("WithdrawSession", BookingServiceServer.WithdrawSession),
		unaryMethod("CompleteSession", BookingServiceServer.CompleteSession),
		unaryMethod("RescheduleSession", BookingServiceServer.RescheduleSession),
		unaryMethod("GetSession", BookingServiceServer.GetSession),
		unaryMethod("ListSessions", BookingServiceServer.ListSessions),
		unaryMethod("ListAvailableSessions", BookingServiceServer.ListAvailableSessions),
		unaryMethod("AddRule", BookingServiceServer.AddRule),
		unaryMethod("UpdateRule", BookingServiceServer.UpdateRule),
		unaryMethod("RemoveRule", BookingServiceServer.RemoveRule),
		unaryMethod("ListRules", BookingServiceServer.ListRules),
		unaryMethod("RulesForDate", BookingServiceServer.RulesForDate),
		unaryMethod("OpenWindows", BookingServiceServer.OpenWindows),
		unaryMethod("SweepExpired", BookingServiceServer.SweepExpired),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tutoring/v1/booking.proto",
}

func RegisterBookingServiceServer(s grpc.ServiceRegistrar, srv BookingServiceServer) {
	s.RegisterService(&BookingServiceDesc, srv)
}

// BookingServiceClient calls tutoring.v1.BookingService on a connection.
type BookingServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewBookingServiceClient(cc grpc.ClientConnInterface) *BookingServiceClient {
	return &BookingServiceClient{cc: cc}
}

// Call invokes method by name, e.g. "BookSession".
func (c *BookingServiceClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
