package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	salesv1 "github.com/vladislavdragonenkov/sales/api/sales/v1"
	grpcsvc "github.com/vladislavdragonenkov/sales/internal/service/grpc"
)

const (
	serverName    = "sales-mcp"
	serverVersion = "1.0.0"
)

var errInvalidArguments = errors.New("invalid arguments")

// toolServer переводит вызовы MCP-инструментов в вызовы gRPC API продаж.
type toolServer struct {
	client  salesv1.SalesServiceClient
	timeout time.Duration
}

func newMCPServer(tools *toolServer) *server.MCPServer {
	s := server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false))
	s.AddTool(createSaleTool(), tools.handleCreateSale)
	s.AddTool(getSaleTool(), tools.handleGetSale)
	s.AddTool(listSalesTool(), tools.handleListSales)
	s.AddTool(updateSaleTool(), tools.handleUpdateSale)
	s.AddTool(cancelSaleTool(), tools.handleCancelSale)
	s.AddTool(cancelSaleItemTool(), tools.handleCancelSaleItem)
	s.AddTool(saleHistoryTool(), tools.handleSaleHistory)
	return s
}

var lineItemsSchema = map[string]interface{}{
	"type":        "array",
	"description": "Sale lines; a product may appear only once",
	"items": map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"product_id":   map[string]interface{}{"type": "string"},
			"product_name": map[string]interface{}{"type": "string", "description": "Optional, defaults to catalog name"},
			"quantity":     map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 20},
			"unit_price":   map[string]interface{}{"type": "string", "description": "Optional decimal, defaults to catalog price"},
		},
		"required": []string{"product_id", "quantity"},
	},
}

var idempotencyKeySchema = map[string]interface{}{
	"type":        "string",
	"description": "Optional idempotency key; repeating a call with the same key replays the first response",
}

func saleIDSchema() map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": "Sale identifier"}
}

func createSaleTool() mcp.Tool {
	return mcp.Tool{
		Name:        "create_sale",
		Description: "Create a sale: reserves stock and applies quantity discounts (4-9 units 10%, 10-20 units 20%)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"number":          map[string]interface{}{"type": "string", "description": "Optional sale number"},
				"date":            map[string]interface{}{"type": "string", "description": "Optional sale date (YYYY-MM-DD or RFC 3339)"},
				"customer_id":     map[string]interface{}{"type": "string"},
				"branch_id":       map[string]interface{}{"type": "string"},
				"items":           lineItemsSchema,
				"idempotency_key": idempotencyKeySchema,
			},
			Required: []string{"customer_id", "branch_id", "items"},
		},
	}
}

func getSaleTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_sale",
		Description: "Get a sale by id",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"sale_id": saleIDSchema()},
			Required:   []string{"sale_id"},
		},
	}
}

func listSalesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_sales",
		Description: "List sales page by page",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"page":      map[string]interface{}{"type": "integer", "minimum": 1, "default": 1},
				"page_size": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 100, "default": 10},
			},
		},
	}
}

func updateSaleTool() mcp.Tool {
	return mcp.Tool{
		Name:        "update_sale",
		Description: "Replace the lines of an active sale; stock is adjusted by the difference",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sale_id":         saleIDSchema(),
				"date":            map[string]interface{}{"type": "string"},
				"customer_id":     map[string]interface{}{"type": "string"},
				"branch_id":       map[string]interface{}{"type": "string"},
				"items":           lineItemsSchema,
				"idempotency_key": idempotencyKeySchema,
			},
			Required: []string{"sale_id", "customer_id", "branch_id", "items"},
		},
	}
}

func cancelSaleTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cancel_sale",
		Description: "Cancel a sale and restore stock of its active lines",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sale_id":         saleIDSchema(),
				"idempotency_key": idempotencyKeySchema,
			},
			Required: []string{"sale_id"},
		},
	}
}

func cancelSaleItemTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cancel_sale_item",
		Description: "Cancel one line of a sale and restore its stock",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sale_id":         saleIDSchema(),
				"product_id":      map[string]interface{}{"type": "string"},
				"idempotency_key": idempotencyKeySchema,
			},
			Required: []string{"sale_id", "product_id"},
		},
	}
}

func saleHistoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "sale_history",
		Description: "List lifecycle events recorded for a sale",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"sale_id": saleIDSchema()},
			Required:   []string{"sale_id"},
		},
	}
}

func (s *toolServer) handleCreateSale(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := lineItems(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx, cancel := s.callContext(ctx, args)
	defer cancel()
	resp, err := s.client.CreateSale(ctx, &salesv1.CreateSaleRequest{
		Number:     stringArg(args, "number"),
		Date:       stringArg(args, "date"),
		CustomerId: stringArg(args, "customer_id"),
		BranchId:   stringArg(args, "branch_id"),
		Items:      items,
	})
	return result(resp, err)
}

func (s *toolServer) handleGetSale(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	saleID, err := requiredString(args, "sale_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx, cancel := s.callContext(ctx, nil)
	defer cancel()
	resp, err := s.client.GetSale(ctx, &salesv1.GetSaleRequest{SaleId: saleID})
	return result(resp, err)
}

func (s *toolServer) handleListSales(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx, cancel := s.callContext(ctx, nil)
	defer cancel()
	resp, err := s.client.ListSales(ctx, &salesv1.ListSalesRequest{
		Page:     int32(intArg(args, "page", 1)),
		PageSize: int32(intArg(args, "page_size", 10)),
	})
	return result(resp, err)
}

func (s *toolServer) handleUpdateSale(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	saleID, err := requiredString(args, "sale_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := lineItems(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx, cancel := s.callContext(ctx, args)
	defer cancel()
	resp, err := s.client.UpdateSale(ctx, &salesv1.UpdateSaleRequest{
		SaleId:     saleID,
		Date:       stringArg(args, "date"),
		CustomerId: stringArg(args, "customer_id"),
		BranchId:   stringArg(args, "branch_id"),
		Items:      items,
	})
	return result(resp, err)
}

func (s *toolServer) handleCancelSale(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	saleID, err := requiredString(args, "sale_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx, cancel := s.callContext(ctx, args)
	defer cancel()
	resp, err := s.client.CancelSale(ctx, &salesv1.CancelSaleRequest{SaleId: saleID})
	return result(resp, err)
}

func (s *toolServer) handleCancelSaleItem(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	saleID, err := requiredString(args, "sale_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	productID, err := requiredString(args, "product_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx, cancel := s.callContext(ctx, args)
	defer cancel()
	resp, err := s.client.CancelSaleItem(ctx, &salesv1.CancelSaleItemRequest{SaleId: saleID, ProductId: productID})
	return result(resp, err)
}

func (s *toolServer) handleSaleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	saleID, err := requiredString(args, "sale_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx, cancel := s.callContext(ctx, nil)
	defer cancel()
	resp, err := s.client.GetSaleHistory(ctx, &salesv1.GetSaleHistoryRequest{SaleId: saleID})
	return result(resp, err)
}

// callContext ограничивает вызов таймаутом и прокидывает idempotency_key в metadata.
func (s *toolServer) callContext(ctx context.Context, args map[string]interface{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	if key := stringArg(args, "idempotency_key"); key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, grpcsvc.IdempotencyKeyHeader, key)
	}
	return ctx, cancel
}

// result упаковывает ответ в JSON; ошибки API возвращаются как результат с IsError,
// чтобы клиент видел код и причину.
func result(resp any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return mcp.NewToolResultError(describeError(err)), nil
	}
	body, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

func describeError(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return err.Error()
	}
	text := fmt.Sprintf("%s: %s", st.Code(), st.Message())
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok {
			text += fmt.Sprintf(" (reason=%s)", info.GetReason())
			break
		}
	}
	return text
}

func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, errInvalidArguments
	}
	return args, nil
}

func stringArg(args map[string]interface{}, key string) string {
	value, _ := args[key].(string)
	return strings.TrimSpace(value)
}

func requiredString(args map[string]interface{}, key string) (string, error) {
	value := stringArg(args, key)
	if value == "" {
		return "", fmt.Errorf("%w: %s is required", errInvalidArguments, key)
	}
	return value, nil
}

func intArg(args map[string]interface{}, key string, defaultValue int) int {
	switch value := args[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	default:
		return defaultValue
	}
}

// lineItems разбирает items через JSON: так поля совпадают с LineItem API.
func lineItems(args map[string]interface{}) ([]*salesv1.LineItem, error) {
	raw, ok := args["items"]
	if !ok {
		return nil, fmt.Errorf("%w: items is required", errInvalidArguments)
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: items: %v", errInvalidArguments, err)
	}
	var items []*salesv1.LineItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: items must be an array of {product_id, quantity}", errInvalidArguments)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: items must not be empty", errInvalidArguments)
	}
	return items, nil
}
