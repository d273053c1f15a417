package salesv1

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

type fakeClientConn struct {
	invoke func(context.Context, string, any, any, ...grpc.CallOption) error
}

func (f *fakeClientConn) Invoke(ctx context.Context, method string, args any, reply any, opts ...grpc.CallOption) error {
	if f.invoke == nil {
		return errors.New("unexpected Invoke call")
	}
	return f.invoke(ctx, method, args, reply, opts...)
}

func (f *fakeClientConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("not implemented")
}

type testSalesService struct {
	UnimplementedSalesServiceServer
}

func (testSalesService) GetSale(_ context.Context, req *GetSaleRequest) (*GetSaleResponse, error) {
	return &GetSaleResponse{Sale: &Sale{Id: req.GetSaleId()}}, nil
}

func TestSalesServiceClientMethods(t *testing.T) {
	methods := map[string]int{}
	conn := &fakeClientConn{
		invoke: func(_ context.Context, method string, _ any, reply any, opts ...grpc.CallOption) error {
			methods[method]++
			hasSubtype := false
			for _, opt := range opts {
				if sub, ok := opt.(grpc.ContentSubtypeCallOption); ok && sub.ContentSubtype == CodecName {
					hasSubtype = true
				}
			}
			if !hasSubtype {
				t.Fatalf("%s called without json content-subtype", method)
			}
			if out, ok := reply.(*GetSaleResponse); ok {
				out.Sale = &Sale{Id: "sale-1"}
			}
			return nil
		},
	}

	client := NewSalesServiceClient(conn)
	ctx := context.Background()

	resp, err := client.GetSale(ctx, &GetSaleRequest{SaleId: "sale-1"})
	if err != nil || resp.Sale.Id != "sale-1" {
		t.Fatalf("GetSale failed: %v %+v", err, resp)
	}
	calls := []func() error{
		func() error { _, err := client.CreateSale(ctx, &CreateSaleRequest{}); return err },
		func() error { _, err := client.ListSales(ctx, &ListSalesRequest{}); return err },
		func() error { _, err := client.UpdateSale(ctx, &UpdateSaleRequest{}); return err },
		func() error { _, err := client.CancelSale(ctx, &CancelSaleRequest{}); return err },
		func() error { _, err := client.CancelSaleItem(ctx, &CancelSaleItemRequest{}); return err },
		func() error { _, err := client.DeleteSale(ctx, &DeleteSaleRequest{}); return err },
		func() error { _, err := client.GetSaleHistory(ctx, &GetSaleHistoryRequest{}); return err },
	}
	for _, call := range calls {
		if err := call(); err != nil {
			t.Fatalf("call failed: %v", err)
		}
	}

	for _, method := range []string{
		SalesService_CreateSale_FullMethodName,
		SalesService_GetSale_FullMethodName,
		SalesService_ListSales_FullMethodName,
		SalesService_UpdateSale_FullMethodName,
		SalesService_CancelSale_FullMethodName,
		SalesService_CancelSaleItem_FullMethodName,
		SalesService_DeleteSale_FullMethodName,
		SalesService_GetSaleHistory_FullMethodName,
	} {
		if methods[method] != 1 {
			t.Fatalf("expected method %s called exactly once, got %d", method, methods[method])
		}
	}
}

func TestSalesServiceClientError(t *testing.T) {
	conn := &fakeClientConn{invoke: func(context.Context, string, any, any, ...grpc.CallOption) error {
		return status.Error(codes.Internal, "boom")
	}}
	client := NewSalesServiceClient(conn)

	resp, err := client.CancelSale(context.Background(), &CancelSaleRequest{SaleId: "s"})
	if status.Code(err) != codes.Internal || resp != nil {
		t.Fatalf("expected Internal error and nil response, got %v %+v", err, resp)
	}
}

func TestUnimplementedSalesServiceServer(t *testing.T) {
	var srv UnimplementedSalesServiceServer
	ctx := context.Background()

	for name, call := range map[string]func() error{
		"CreateSale":     func() error { _, err := srv.CreateSale(ctx, nil); return err },
		"GetSale":        func() error { _, err := srv.GetSale(ctx, nil); return err },
		"ListSales":      func() error { _, err := srv.ListSales(ctx, nil); return err },
		"UpdateSale":     func() error { _, err := srv.UpdateSale(ctx, nil); return err },
		"CancelSale":     func() error { _, err := srv.CancelSale(ctx, nil); return err },
		"CancelSaleItem": func() error { _, err := srv.CancelSaleItem(ctx, nil); return err },
		"DeleteSale":     func() error { _, err := srv.DeleteSale(ctx, nil); return err },
		"GetSaleHistory": func() error { _, err := srv.GetSaleHistory(ctx, nil); return err },
	} {
		if err := call(); status.Code(err) != codes.Unimplemented {
			t.Fatalf("%s expected Unimplemented error, got %v", name, err)
		}
	}
}

func TestServiceDescHandlers(t *testing.T) {
	srv := testSalesService{}
	var handler grpc.MethodHandler
	for _, m := range SalesService_ServiceDesc.Methods {
		if m.MethodName == "GetSale" {
			handler = m.Handler
		}
	}
	if handler == nil {
		t.Fatal("GetSale handler is missing")
	}

	if _, err := handler(srv, context.Background(), func(any) error { return errors.New("decode failed") }, nil); err == nil {
		t.Fatal("expected decode error")
	}

	decode := func(v any) error {
		v.(*GetSaleRequest).SaleId = "sale-7"
		return nil
	}
	resp, err := handler(srv, context.Background(), decode, nil)
	if err != nil || resp.(*GetSaleResponse).Sale.Id != "sale-7" {
		t.Fatalf("handler without interceptor failed: %v", err)
	}

	intercepted := false
	resp, err = handler(srv, context.Background(), decode, func(ctx context.Context, req any, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (any, error) {
		intercepted = true
		if info.FullMethod != SalesService_GetSale_FullMethodName {
			t.Fatalf("unexpected full method: %s", info.FullMethod)
		}
		return h(ctx, req)
	})
	if err != nil || !intercepted || resp.(*GetSaleResponse).Sale.Id != "sale-7" {
		t.Fatalf("handler with interceptor failed: %v intercepted=%v", err, intercepted)
	}
}

func TestRegisterAndServiceDescriptor(t *testing.T) {
	g := grpc.NewServer()
	RegisterSalesServiceServer(g, testSalesService{})

	if got, want := SalesService_ServiceDesc.ServiceName, "sales.v1.SalesService"; got != want {
		t.Fatalf("unexpected service name: got %s want %s", got, want)
	}
	if len(SalesService_ServiceDesc.Methods) != 8 {
		t.Fatalf("expected 8 method descriptors, got %d", len(SalesService_ServiceDesc.Methods))
	}
	if _, ok := g.GetServiceInfo()["sales.v1.SalesService"]; !ok {
		t.Fatal("service is not registered")
	}
}

func TestJSONCodecRegistered(t *testing.T) {
	codec := encoding.GetCodec(CodecName)
	if codec == nil {
		t.Fatal("json codec is not registered")
	}

	data, err := codec.Marshal(&CreateSaleRequest{CustomerId: "c-1", Items: []*LineItem{{ProductId: "p-1", Quantity: 2}}})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded CreateSaleRequest
	if err := codec.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.GetCustomerId() != "c-1" || len(decoded.Items) != 1 || decoded.Items[0].Quantity != 2 {
		t.Fatalf("unexpected decoded request: %+v", decoded)
	}
	if err := codec.Unmarshal(nil, &decoded); err != nil {
		t.Fatalf("empty payload should decode to zero message: %v", err)
	}
}

func TestNilSafeGetters(t *testing.T) {
	var resp *CreateSaleResponse
	if resp.GetSale().GetId() != "" {
		t.Fatal("nil response must yield empty sale id")
	}
	if id := (&CreateSaleResponse{}).GetSale().GetId(); id != "" {
		t.Fatalf("expected empty id without sale, got %q", id)
	}
	if id := (&CreateSaleResponse{Sale: &Sale{Id: "sale-1"}}).GetSale().GetId(); id != "sale-1" {
		t.Fatalf("expected sale-1, got %q", id)
	}
}
