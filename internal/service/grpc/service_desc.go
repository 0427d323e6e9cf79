package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Полные имена сервиса и методов reconcile.v1.
const (
	ServiceName              = "reconcile.v1.ReconcileService"
	MethodReconcile          = "/reconcile.v1.ReconcileService/Reconcile"
	MethodLatestSnapshot     = "/reconcile.v1.ReconcileService/LatestSnapshot"
	serviceDescriptorFileRef = "reconcile/v1/reconcile.proto"
)

// ReconcileServer это серверная сторона reconcile.v1.ReconcileService.
// Запросы и ответы: google.protobuf.Struct с JSON-структурой.
type ReconcileServer interface {
	Reconcile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	LatestSnapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ReconcileServiceDesc описывает сервис для grpc.Server.
var ReconcileServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReconcileServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Reconcile", Handler: reconcileHandler},
		{MethodName: "LatestSnapshot", Handler: latestSnapshotHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: serviceDescriptorFileRef,
}

// RegisterReconcileServiceServer регистрирует реализацию на сервере.
func RegisterReconcileServiceServer(s grpc.ServiceRegistrar, srv ReconcileServer) {
	s.RegisterService(&ReconcileServiceDesc, srv)
}

func reconcileHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReconcileServer).Reconcile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodReconcile}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReconcileServer).Reconcile(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func latestSnapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReconcileServer).LatestSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodLatestSnapshot}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReconcileServer).LatestSnapshot(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ReconcileClient это клиент reconcile.v1.ReconcileService.
type ReconcileClient struct {
	cc grpc.ClientConnInterface
}

// NewReconcileClient создаёт клиента поверх соединения.
func NewReconcileClient(cc grpc.ClientConnInterface) *ReconcileClient {
	return &ReconcileClient{cc: cc}
}

// Reconcile вызывает запуск сверки на сервере.
func (c *ReconcileClient) Reconcile(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodReconcile, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestSnapshot запрашивает последний снапшот workspace.
func (c *ReconcileClient) LatestSnapshot(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodLatestSnapshot, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
