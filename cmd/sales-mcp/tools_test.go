package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	salesv1 "github.com/vladislavdragonenkov/sales/api/sales/v1"
	"github.com/vladislavdragonenkov/sales/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/sales/internal/service/grpc"
	"github.com/vladislavdragonenkov/sales/internal/service/sales"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
)

func newTestTools(t *testing.T) (*toolServer, *memory.ProductStore) {
	t.Helper()
	ctx := context.Background()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	entry := logger.WithField("component", "test")

	products := memory.NewProductStore()
	dir := memory.NewDirectory()
	require.NoError(t, dir.PutCustomer(ctx, domain.Customer{ID: "cust-alice", Name: "Alice Martin"}))
	require.NoError(t, dir.PutBranch(ctx, domain.Branch{ID: "branch-downtown", Name: "Downtown"}))
	for _, p := range []domain.Product{
		{ID: "prod-coffee", Name: "Coffee beans 1kg", Price: decimal.RequireFromString("10.00"), Stock: 100},
		{ID: "prod-tea", Name: "Green tea 250g", Price: decimal.RequireFromString("4.00"), Stock: 50},
	} {
		_, err := products.Upsert(ctx, p)
		require.NoError(t, err)
	}

	svc := sales.NewService(memory.NewSaleRepository(), products, dir, dir, nil, entry,
		sales.WithTimeline(memory.NewTimelineRepository()))
	listener := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer()
	salesv1.RegisterSalesServiceServer(server, grpcsvc.NewSalesService(svc, memory.NewIdempotencyRepository(), time.Hour, entry))
	go func() { _ = server.Serve(listener) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})

	return &toolServer{client: salesv1.NewSalesServiceClient(conn), timeout: 5 * time.Second}, products
}

func call(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	switch content := result.Content[0].(type) {
	case mcp.TextContent:
		return content.Text
	case *mcp.TextContent:
		return content.Text
	default:
		t.Fatalf("unexpected content type %T", result.Content[0])
		return ""
	}
}

func decodeResult[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()
	require.False(t, result.IsError, resultText(t, result))
	var out T
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	return out
}

func stockOf(t *testing.T, products *memory.ProductStore, id string) int64 {
	t.Helper()
	product, err := products.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return product.Stock
}

func TestTools_SaleLifecycle(t *testing.T) {
	tools, products := newTestTools(t)
	ctx := context.Background()

	created, err := tools.handleCreateSale(ctx, call("create_sale", map[string]interface{}{
		"number":      "S-1",
		"date":        "2026-03-01",
		"customer_id": "cust-alice",
		"branch_id":   "branch-downtown",
		"items": []interface{}{
			map[string]interface{}{"product_id": "prod-coffee", "quantity": float64(4)},
			map[string]interface{}{"product_id": "prod-tea", "quantity": float64(2)},
		},
	}))
	require.NoError(t, err)
	createResp := decodeResult[salesv1.CreateSaleResponse](t, created)
	sale := createResp.Sale
	require.NotEmpty(t, sale.Id)
	require.Equal(t, "Alice Martin", sale.CustomerName)
	require.Equal(t, "44.00", sale.TotalAmount, "four coffees get the 10 percent tier")
	require.Equal(t, int64(96), stockOf(t, products, "prod-coffee"))

	got, err := tools.handleGetSale(ctx, call("get_sale", map[string]interface{}{"sale_id": sale.Id}))
	require.NoError(t, err)
	require.Equal(t, sale.Id, decodeResult[salesv1.GetSaleResponse](t, got).Sale.Id)

	updated, err := tools.handleUpdateSale(ctx, call("update_sale", map[string]interface{}{
		"sale_id":     sale.Id,
		"customer_id": "cust-alice",
		"branch_id":   "branch-downtown",
		"items": []interface{}{
			map[string]interface{}{"product_id": "prod-coffee", "quantity": float64(10)},
		},
	}))
	require.NoError(t, err)
	updateResp := decodeResult[salesv1.UpdateSaleResponse](t, updated)
	require.Equal(t, int32(1), updateResp.ChangedItems)
	require.Equal(t, int32(1), updateResp.RemovedItems)
	require.Equal(t, "80.00", updateResp.Sale.TotalAmount)
	require.Equal(t, int64(90), stockOf(t, products, "prod-coffee"))
	require.Equal(t, int64(50), stockOf(t, products, "prod-tea"))

	cancelled, err := tools.handleCancelSaleItem(ctx, call("cancel_sale_item", map[string]interface{}{
		"sale_id":    sale.Id,
		"product_id": "prod-coffee",
	}))
	require.NoError(t, err)
	itemResp := decodeResult[salesv1.CancelSaleItemResponse](t, cancelled)
	require.Len(t, itemResp.Restorations, 1)
	require.True(t, itemResp.Restorations[0].Restored)
	require.Equal(t, int64(100), stockOf(t, products, "prod-coffee"))

	cancelledSale, err := tools.handleCancelSale(ctx, call("cancel_sale", map[string]interface{}{"sale_id": sale.Id}))
	require.NoError(t, err)
	require.Equal(t, salesv1.SaleStatusCancelled, decodeResult[salesv1.CancelSaleResponse](t, cancelledSale).Sale.Status)

	history, err := tools.handleSaleHistory(ctx, call("sale_history", map[string]interface{}{"sale_id": sale.Id}))
	require.NoError(t, err)
	require.NotEmpty(t, decodeResult[salesv1.GetSaleHistoryResponse](t, history).Events)

	listed, err := tools.handleListSales(ctx, call("list_sales", map[string]interface{}{"page": float64(1), "page_size": float64(5)}))
	require.NoError(t, err)
	listResp := decodeResult[salesv1.ListSalesResponse](t, listed)
	require.Equal(t, int32(1), listResp.TotalCount)
	require.Equal(t, int32(5), listResp.PageSize)
}

func TestTools_ApiErrorsAreToolErrors(t *testing.T) {
	tools, _ := newTestTools(t)
	ctx := context.Background()

	missing, err := tools.handleGetSale(ctx, call("get_sale", map[string]interface{}{"sale_id": "nope"}))
	require.NoError(t, err)
	require.True(t, missing.IsError)
	require.Contains(t, resultText(t, missing), "NotFound")
	require.Contains(t, resultText(t, missing), "reason=not_found")

	tooMany, err := tools.handleCreateSale(ctx, call("create_sale", map[string]interface{}{
		"customer_id": "cust-alice",
		"branch_id":   "branch-downtown",
		"items":       []interface{}{map[string]interface{}{"product_id": "prod-coffee", "quantity": float64(21)}},
	}))
	require.NoError(t, err)
	require.True(t, tooMany.IsError)
	require.Contains(t, resultText(t, tooMany), "InvalidArgument")
}

func TestTools_ArgumentValidation(t *testing.T) {
	tools := &toolServer{client: salesv1.NewSalesServiceClient(nil), timeout: time.Second}
	ctx := context.Background()

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    any
		want    string
	}{
		{name: "get without id", handler: tools.handleGetSale, args: map[string]interface{}{}, want: "sale_id is required"},
		{name: "blank id", handler: tools.handleCancelSale, args: map[string]interface{}{"sale_id": "  "}, want: "sale_id is required"},
		{name: "cancel item without product", handler: tools.handleCancelSaleItem, args: map[string]interface{}{"sale_id": "s-1"}, want: "product_id is required"},
		{name: "create without items", handler: tools.handleCreateSale, args: map[string]interface{}{"customer_id": "c"}, want: "items is required"},
		{name: "create with empty items", handler: tools.handleCreateSale, args: map[string]interface{}{"items": []interface{}{}}, want: "items must not be empty"},
		{name: "items of wrong shape", handler: tools.handleUpdateSale, args: map[string]interface{}{"sale_id": "s-1", "items": "prod-coffee"}, want: "items must be an array"},
		{name: "history without id", handler: tools.handleSaleHistory, args: nil, want: "sale_id is required"},
		{name: "arguments not an object", handler: tools.handleListSales, args: []interface{}{"x"}, want: "invalid arguments"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := tc.handler(ctx, mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: tc.args}})
			require.NoError(t, err)
			require.True(t, result.IsError)
			require.Contains(t, resultText(t, result), tc.want)
		})
	}
}

type recordingClient struct {
	salesv1.SalesServiceClient
	keys []string
}

func (c *recordingClient) CancelSale(ctx context.Context, req *salesv1.CancelSaleRequest, _ ...grpc.CallOption) (*salesv1.CancelSaleResponse, error) {
	md, _ := metadata.FromOutgoingContext(ctx)
	c.keys = append(c.keys, strings.Join(md.Get(grpcsvc.IdempotencyKeyHeader), ","))
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("call without deadline")
	}
	return &salesv1.CancelSaleResponse{Sale: &salesv1.Sale{Id: req.SaleId}}, nil
}

func (c *recordingClient) ListSales(context.Context, *salesv1.ListSalesRequest, ...grpc.CallOption) (*salesv1.ListSalesResponse, error) {
	return nil, errors.New("connection refused")
}

func TestTools_IdempotencyKeyAndPlainErrors(t *testing.T) {
	client := &recordingClient{}
	tools := &toolServer{client: client, timeout: time.Second}
	ctx := context.Background()

	_, err := tools.handleCancelSale(ctx, call("cancel_sale", map[string]interface{}{"sale_id": "s-1", "idempotency_key": "key-1"}))
	require.NoError(t, err)
	_, err = tools.handleCancelSale(ctx, call("cancel_sale", map[string]interface{}{"sale_id": "s-1"}))
	require.NoError(t, err)
	require.Equal(t, []string{"key-1", ""}, client.keys)

	result, err := tools.handleListSales(ctx, call("list_sales", nil))
	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Equal(t, "connection refused", resultText(t, result))
}

func TestDescribeError(t *testing.T) {
	require.Equal(t, "plain", describeError(errors.New("plain")))
	require.Equal(t, "Aborted: version conflict", describeError(status.Error(codes.Aborted, "version conflict")))
}

func TestNewMCPServerRegistersTools(t *testing.T) {
	s := newMCPServer(&toolServer{timeout: time.Second})
	require.NotNil(t, s)

	names := []string{}
	for _, tool := range []mcp.Tool{
		createSaleTool(), getSaleTool(), listSalesTool(), updateSaleTool(),
		cancelSaleTool(), cancelSaleItemTool(), saleHistoryTool(),
	} {
		require.Equal(t, "object", tool.InputSchema.Type)
		names = append(names, tool.Name)
	}
	require.Equal(t, []string{
		"create_sale", "get_sale", "list_sales", "update_sale",
		"cancel_sale", "cancel_sale_item", "sale_history",
	}, names)
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(nil, func(string) string { return "" })
	require.NoError(t, err)
	require.Equal(t, config{addr: defaultGRPCAddr, timeout: defaultTimeout}, cfg)

	cfg, err = parseConfig(nil, func(key string) string {
		if key == envGRPCAddr {
			return " sales:50051 "
		}
		return ""
	})
	require.NoError(t, err)
	require.Equal(t, "sales:50051", cfg.addr)

	cfg, err = parseConfig([]string{"-addr=flag:1", "-timeout=2s"}, func(string) string { return "env:1" })
	require.NoError(t, err)
	require.Equal(t, config{addr: "flag:1", timeout: 2 * time.Second}, cfg)

	_, err = parseConfig([]string{"-timeout=0s"}, func(string) string { return "" })
	require.ErrorContains(t, err, "timeout must be > 0")

	_, err = parseConfig([]string{"-bogus"}, func(string) string { return "" })
	require.Error(t, err)
}
