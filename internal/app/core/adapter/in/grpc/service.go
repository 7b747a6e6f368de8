package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName gRPC 服務全名
const ServiceName = "ledger.v1.LedgerService"

// 方法全名，client 以 conn.Invoke 呼叫
const (
	MethodGetBalance     = "/" + ServiceName + "/GetBalance"
	MethodGetAllBalances = "/" + ServiceName + "/GetAllBalances"
	MethodUpdateBalance  = "/" + ServiceName + "/UpdateBalance"
	MethodTransfer       = "/" + ServiceName + "/Transfer"
	MethodReconcile      = "/" + ServiceName + "/Reconcile"
)

// LedgerServiceServer 以 google.protobuf.Struct 作為 request/response，
// 不需要額外產生 pb 程式碼
type LedgerServiceServer interface {
	GetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAllBalances(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Transfer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reconcile(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterLedgerServiceServer 註冊到 grpc.Server
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

func unaryHandler(
	fullMethod string,
	call func(LedgerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// LedgerServiceDesc 手寫的 ServiceDesc
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetBalance",
			Handler:    unaryHandler(MethodGetBalance, LedgerServiceServer.GetBalance),
		},
		{
			MethodName: "GetAllBalances",
			Handler:    unaryHandler(MethodGetAllBalances, LedgerServiceServer.GetAllBalances),
		},
		{
			MethodName: "UpdateBalance",
			Handler:    unaryHandler(MethodUpdateBalance, LedgerServiceServer.UpdateBalance),
		},
		{
			MethodName: "Transfer",
			Handler:    unaryHandler(MethodTransfer, LedgerServiceServer.Transfer),
		},
		{
			MethodName: "Reconcile",
			Handler:    unaryHandler(MethodReconcile, LedgerServiceServer.Reconcile),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.proto",
}
