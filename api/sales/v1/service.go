package salesv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	SalesService_CreateSale_FullMethodName     = "/sales.v1.SalesService/CreateSale"
	SalesService_GetSale_FullMethodName        = "/sales.v1.SalesService/GetSale"
	SalesService_ListSales_FullMethodName      = "/sales.v1.SalesService/ListSales"
	SalesService_UpdateSale_FullMethodName     = "/sales.v1.SalesService/UpdateSale"
	SalesService_CancelSale_FullMethodName     = "/sales.v1.SalesService/CancelSale"
	SalesService_CancelSaleItem_FullMethodName = "/sales.v1.SalesService/CancelSaleItem"
	SalesService_DeleteSale_FullMethodName     = "/sales.v1.SalesService/DeleteSale"
	SalesService_GetSaleHistory_FullMethodName = "/sales.v1.SalesService/GetSaleHistory"
)

// SalesServiceServer — серверная часть API продаж.
type SalesServiceServer interface {
	CreateSale(context.Context, *CreateSaleRequest) (*CreateSaleResponse, error)
	GetSale(context.Context, *GetSaleRequest) (*GetSaleResponse, error)
	ListSales(context.Context, *ListSalesRequest) (*ListSalesResponse, error)
	UpdateSale(context.Context, *UpdateSaleRequest) (*UpdateSaleResponse, error)
	CancelSale(context.Context, *CancelSaleRequest) (*CancelSaleResponse, error)
	CancelSaleItem(context.Context, *CancelSaleItemRequest) (*CancelSaleItemResponse, error)
	DeleteSale(context.Context, *DeleteSaleRequest) (*DeleteSaleResponse, error)
	GetSaleHistory(context.Context, *GetSaleHistoryRequest) (*GetSaleHistoryResponse, error)
}

// UnimplementedSalesServiceServer отвечает Unimplemented на все методы.
type UnimplementedSalesServiceServer struct{}

func (UnimplementedSalesServiceServer) CreateSale(context.Context, *CreateSaleRequest) (*CreateSaleResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateSale not implemented")
}
func (UnimplementedSalesServiceServer) GetSale(context.Context, *GetSaleRequest) (*GetSaleResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetSale not implemented")
}
func (UnimplementedSalesServiceServer) ListSales(context.Context, *ListSalesRequest) (*ListSalesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListSales not implemented")
}
func (UnimplementedSalesServiceServer) UpdateSale(context.Context, *UpdateSaleRequest) (*UpdateSaleResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateSale not implemented")
}
func (UnimplementedSalesServiceServer) CancelSale(context.Context, *CancelSaleRequest) (*CancelSaleResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CancelSale not implemented")
}
func (UnimplementedSalesServiceServer) CancelSaleItem(context.Context, *CancelSaleItemRequest) (*CancelSaleItemResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CancelSaleItem not implemented")
}
func (UnimplementedSalesServiceServer) DeleteSale(context.Context, *DeleteSaleRequest) (*DeleteSaleResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method DeleteSale not implemented")
}
func (UnimplementedSalesServiceServer) GetSaleHistory(context.Context, *GetSaleHistoryRequest) (*GetSaleHistoryResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetSaleHistory not implemented")
}

// RegisterSalesServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterSalesServiceServer(s grpc.ServiceRegistrar, srv SalesServiceServer) {
	s.RegisterService(&SalesService_ServiceDesc, srv)
}

// unaryHandler собирает обработчик метода: декодирует запрос и прогоняет его через interceptor.
func unaryHandler[Req any, Resp any](fullMethod string, call func(SalesServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SalesServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SalesServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SalesService_ServiceDesc — дескриптор sales.v1.SalesService.
var SalesService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "sales.v1.SalesService",
	HandlerType: (*SalesServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSale", Handler: unaryHandler(SalesService_CreateSale_FullMethodName, SalesServiceServer.CreateSale)},
		{MethodName: "GetSale", Handler: unaryHandler(SalesService_GetSale_FullMethodName, SalesServiceServer.GetSale)},
		{MethodName: "ListSales", Handler: unaryHandler(SalesService_ListSales_FullMethodName, SalesServiceServer.ListSales)},
		{MethodName: "UpdateSale", Handler: unaryHandler(SalesService_UpdateSale_FullMethodName, SalesServiceServer.UpdateSale)},
		{MethodName: "CancelSale", Handler: unaryHandler(SalesService_CancelSale_FullMethodName, SalesServiceServer.CancelSale)},
		{MethodName: "CancelSaleItem", Handler: unaryHandler(SalesService_CancelSaleItem_FullMethodName, SalesServiceServer.CancelSaleItem)},
		{MethodName: "DeleteSale", Handler: unaryHandler(SalesService_DeleteSale_FullMethodName, SalesServiceServer.DeleteSale)},
		{MethodName: "GetSaleHistory", Handler: unaryHandler(SalesService_GetSaleHistory_FullMethodName, SalesServiceServer.GetSaleHistory)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sales/v1/sales_service",
}

// SalesServiceClient — клиент API продаж.
type SalesServiceClient interface {
	CreateSale(ctx context.Context, in *CreateSaleRequest, opts ...grpc.CallOption) (*CreateSaleResponse, error)
	GetSale(ctx context.Context, in *GetSaleRequest, opts ...grpc.CallOption) (*GetSaleResponse, error)
	ListSales(ctx context.Context, in *ListSalesRequest, opts ...grpc.CallOption) (*ListSalesResponse, error)
	UpdateSale(ctx context.Context, in *UpdateSaleRequest, opts ...grpc.CallOption) (*UpdateSaleResponse, error)
	CancelSale(ctx context.Context, in *CancelSaleRequest, opts ...grpc.CallOption) (*CancelSaleResponse, error)
	CancelSaleItem(ctx context.Context, in *CancelSaleItemRequest, opts ...grpc.CallOption) (*CancelSaleItemResponse, error)
	DeleteSale(ctx context.Context, in *DeleteSaleRequest, opts ...grpc.CallOption) (*DeleteSaleResponse, error)
	GetSaleHistory(ctx context.Context, in *GetSaleHistoryRequest, opts ...grpc.CallOption) (*GetSaleHistoryResponse, error)
}

type salesServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSalesServiceClient создаёт клиента; все вызовы идут с content-subtype json.
func NewSalesServiceClient(cc grpc.ClientConnInterface) SalesServiceClient {
	return &salesServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, callOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *salesServiceClient) CreateSale(ctx context.Context, in *CreateSaleRequest, opts ...grpc.CallOption) (*CreateSaleResponse, error) {
	return invoke[CreateSaleResponse](ctx, c.cc, SalesService_CreateSale_FullMethodName, in, opts)
}

func (c *salesServiceClient) GetSale(ctx context.Context, in *GetSaleRequest, opts ...grpc.CallOption) (*GetSaleResponse, error) {
	return invoke[GetSaleResponse](ctx, c.cc, SalesService_GetSale_FullMethodName, in, opts)
}

func (c *salesServiceClient) ListSales(ctx context.Context, in *ListSalesRequest, opts ...grpc.CallOption) (*ListSalesResponse, error) {
	return invoke[ListSalesResponse](ctx, c.cc, SalesService_ListSales_FullMethodName, in, opts)
}

func (c *salesServiceClient) UpdateSale(ctx context.Context, in *UpdateSaleRequest, opts ...grpc.CallOption) (*UpdateSaleResponse, error) {
	return invoke[UpdateSaleResponse](ctx, c.cc, SalesService_UpdateSale_FullMethodName, in, opts)
}

func (c *salesServiceClient) CancelSale(ctx context.Context, in *CancelSaleRequest, opts ...grpc.CallOption) (*CancelSaleResponse, error) {
	return invoke[CancelSaleResponse](ctx, c.cc, SalesService_CancelSale_FullMethodName, in, opts)
}

func (c *salesServiceClient) CancelSaleItem(ctx context.Context, in *CancelSaleItemRequest, opts ...grpc.CallOption) (*CancelSaleItemResponse, error) {
	return invoke[CancelSaleItemResponse](ctx, c.cc, SalesService_CancelSaleItem_FullMethodName, in, opts)
}

func (c *salesServiceClient) DeleteSale(ctx context.Context, in *DeleteSaleRequest, opts ...grpc.CallOption) (*DeleteSaleResponse, error) {
	return invoke[DeleteSaleResponse](ctx, c.cc, SalesService_DeleteSale_FullMethodName, in, opts)
}

func (c *salesServiceClient) GetSaleHistory(ctx context.Context, in *GetSaleHistoryRequest, opts ...grpc.CallOption) (*GetSaleHistoryResponse, error) {
	return invoke[GetSaleHistoryResponse](ctx, c.cc, SalesService_GetSaleHistory_FullMethodName, in, opts)
}
