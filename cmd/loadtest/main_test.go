package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	salesv1 "github.com/vladislavdragonenkov/sales/api/sales/v1"
	grpcsvc "github.com/vladislavdragonenkov/sales/internal/service/grpc"
)

// fakeClient записывает вызовы и ключи идемпотентности.
type fakeClient struct {
	salesv1.SalesServiceClient

	mu        sync.Mutex
	calls     []string
	keys      []string
	createErr error
	saleID    string
	update    *salesv1.UpdateSaleRequest
}

func (f *fakeClient) record(ctx context.Context, method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		f.keys = append(f.keys, md.Get(grpcsvc.IdempotencyKeyHeader)...)
	}
}

func (f *fakeClient) CreateSale(ctx context.Context, _ *salesv1.CreateSaleRequest, _ ...grpc.CallOption) (*salesv1.CreateSaleResponse, error) {
	f.record(ctx, "CreateSale")
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &salesv1.CreateSaleResponse{Sale: &salesv1.Sale{Id: f.saleID}}, nil
}

func (f *fakeClient) UpdateSale(ctx context.Context, req *salesv1.UpdateSaleRequest, _ ...grpc.CallOption) (*salesv1.UpdateSaleResponse, error) {
	f.record(ctx, "UpdateSale")
	f.mu.Lock()
	f.update = req
	f.mu.Unlock()
	return &salesv1.UpdateSaleResponse{}, nil
}

func (f *fakeClient) CancelSale(ctx context.Context, _ *salesv1.CancelSaleRequest, _ ...grpc.CallOption) (*salesv1.CancelSaleResponse, error) {
	f.record(ctx, "CancelSale")
	return &salesv1.CancelSaleResponse{}, nil
}

func (f *fakeClient) CancelSaleItem(ctx context.Context, _ *salesv1.CancelSaleItemRequest, _ ...grpc.CallOption) (*salesv1.CancelSaleItemResponse, error) {
	f.record(ctx, "CancelSaleItem")
	return &salesv1.CancelSaleItemResponse{}, nil
}

func testConfig(mode loadMode) config {
	return config{
		total:       1,
		concurrency: 1,
		connections: 1,
		timeout:     time.Second,
		mode:        mode,
		customerID:  "cust-1",
		branchID:    "branch-1",
		products:    []string{"p-1", "p-2"},
		quantity:    3,
		prefix:      "LT",
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(nil, io.Discard)
	require.NoError(t, err)
	require.Equal(t, modeCreate, cfg.mode)
	require.Equal(t, []string{"prod-coffee", "prod-tea"}, cfg.products)
	require.False(t, cfg.totalSet)
	require.Equal(t, "count:400", cfg.target())

	cfg, err = parseConfig([]string{
		"-mode", " create-update ", "-duration", "2m", "-total", "50",
		"-products", "a, b,,a", "-cancel-rate", "30",
	}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, modeCreateUpdate, cfg.mode)
	require.Equal(t, []string{"a", "b"}, cfg.products)
	require.True(t, cfg.totalSet)
	require.Equal(t, "duration:2m0s,max-total:50", cfg.target())

	_, err = parseConfig([]string{"-duration", "30s", "-total", "0"}, io.Discard)
	require.ErrorContains(t, err, "total must be positive")

	cfg, err = parseConfig([]string{"-duration", "30s"}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, "duration:30s", cfg.target())
}

func TestParseConfig_Errors(t *testing.T) {
	tests := map[string]struct {
		args []string
		want string
	}{
		"mode":        {[]string{"-mode", "create-pay"}, "unsupported mode"},
		"concurrency": {[]string{"-concurrency", "0"}, "concurrency must be positive"},
		"cancel rate": {[]string{"-cancel-rate", "101"}, "cancel-rate"},
		"quantity":    {[]string{"-quantity", "20"}, "quantity must be within 1..19"},
		"products":    {[]string{"-products", " , "}, "at least one product"},
		"customer":    {[]string{"-customer", " "}, "customer is required"},
		"timeout":     {[]string{"-timeout", "0s"}, "timeout must be positive"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseConfig(tc.args, io.Discard)
			require.ErrorContains(t, err, tc.want)
		})
	}

	_, err := parseConfig([]string{"-h"}, io.Discard)
	require.ErrorIs(t, err, flag.ErrHelp)
}

func TestPlan(t *testing.T) {
	methods := func(steps []step) []string {
		names := make([]string, len(steps))
		for i, s := range steps {
			names[i] = s.method
		}
		return names
	}

	require.Equal(t, []string{"CreateSale"}, methods(plan(testConfig(modeCreate), 0)))
	require.Equal(t, []string{"CreateSale", "CancelSaleItem"}, methods(plan(testConfig(modeCreateCancelItem), 0)))
	require.Equal(t, []string{"CreateSale", "CancelSale"}, methods(plan(testConfig(modeCreateCancel), 0)))

	cfg := testConfig(modeCreateUpdate)
	cfg.cancelRate = 25
	require.Equal(t, []string{"CreateSale", "UpdateSale", "CancelSale"}, methods(plan(cfg, 124)))
	require.Equal(t, []string{"CreateSale", "UpdateSale"}, methods(plan(cfg, 125)))
}

func TestRunScenario_UpdateAndKeys(t *testing.T) {
	client := &fakeClient{saleID: "sale-1"}
	rec := newRecorder()
	cfg := testConfig(modeCreateUpdate)
	cfg.cancelRate = 100

	require.NoError(t, runScenario(context.Background(), client, cfg, "run", 7, rec))
	require.Equal(t, []string{"CreateSale", "UpdateSale", "CancelSale"}, client.calls)
	require.Equal(t, []string{"lt-createsale-run-7", "lt-updatesale-run-7", "lt-cancelsale-run-7"}, client.keys)

	// первая позиция +1, последняя убрана
	require.Len(t, client.update.Items, 1)
	require.Equal(t, int32(4), client.update.Items[0].Quantity)
	require.Equal(t, "sale-1", client.update.SaleId)

	result := rec.report(time.Now(), time.Second)
	require.EqualValues(t, 1, result.SuccessScenarios)
	require.EqualValues(t, 1, result.Methods["UpdateSale"].Calls)
	require.NotContains(t, result.Methods, scenarioName)
}

func TestRunScenario_StopsOnFirstError(t *testing.T) {
	client := &fakeClient{createErr: status.Error(codes.FailedPrecondition, "insufficient stock")}
	rec := newRecorder()

	err := runScenario(context.Background(), client, testConfig(modeCreateCancel), "run", 1, rec)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.Equal(t, []string{"CreateSale"}, client.calls)

	result := rec.report(time.Now(), time.Second)
	require.EqualValues(t, 1, result.FailedScenarios)
	require.EqualValues(t, 1, result.Methods["CreateSale"].Codes["FailedPrecondition"])
}

func TestRunScenario_EmptySaleID(t *testing.T) {
	rec := newRecorder()
	err := runScenario(context.Background(), &fakeClient{}, testConfig(modeCreateCancelItem), "run", 1, rec)
	require.ErrorIs(t, err, errEmptySaleID)
	require.EqualValues(t, 1, rec.report(time.Now(), 0).Methods["CreateSale"].Codes["Internal"])
}

func TestRunWorkers(t *testing.T) {
	ok := &fakeClient{saleID: "sale-1"}
	broken := &fakeClient{createErr: status.Error(codes.Unavailable, "down")}
	cfg := testConfig(modeCreate)
	cfg.total = 10
	cfg.concurrency = 3

	rec := newRecorder()
	failed := runWorkers(context.Background(), []salesv1.SalesServiceClient{ok, broken}, cfg, "run", rec)
	require.EqualValues(t, 5, failed)

	result := rec.report(time.Now(), time.Second)
	require.EqualValues(t, 10, result.TotalScenarios)
	require.EqualValues(t, 5, result.FailedScenarios)
	require.InDelta(t, 0.5, result.ErrorRate, 1e-9)
	require.InDelta(t, 10, result.RPS, 1e-9)
}

func TestRunWorkers_DurationBound(t *testing.T) {
	cfg := testConfig(modeCreate)
	cfg.duration = 30 * time.Millisecond
	cfg.concurrency = 2

	rec := newRecorder()
	runWorkers(context.Background(), []salesv1.SalesServiceClient{&fakeClient{saleID: "s"}}, cfg, "run", rec)
	require.Positive(t, rec.report(time.Now(), time.Second).TotalScenarios)

	cfg.totalSet = true
	cfg.total = 3
	cfg.duration = time.Minute
	rec = newRecorder()
	runWorkers(context.Background(), []salesv1.SalesServiceClient{&fakeClient{saleID: "s"}}, cfg, "run", rec)
	require.EqualValues(t, 3, rec.report(time.Now(), time.Second).TotalScenarios)
}

func TestSummarize(t *testing.T) {
	require.Equal(t, latencySummary{}, summarize(nil))

	var latencies []time.Duration
	for i := 100; i >= 1; i-- {
		latencies = append(latencies, time.Duration(i)*time.Millisecond)
	}
	got := summarize(latencies)
	require.Equal(t, latencySummary{Min: 1, Max: 100, Avg: 50.5, P50: 50, P95: 95, P99: 99}, got)

	single := summarize([]time.Duration{1500 * time.Microsecond})
	require.InDelta(t, 1.5, single.P99, 1e-9)
}

func TestWriteText(t *testing.T) {
	rec := newRecorder()
	rec.observe(scenarioName, time.Millisecond, codes.OK)
	rec.observe("UpdateSale", time.Millisecond, codes.OK)
	rec.observe("CreateSale", time.Millisecond, codes.Aborted)

	var out bytes.Buffer
	writeText(&out, rec.report(time.Now(), time.Second), testConfig(modeCreateUpdate))

	text := out.String()
	require.Contains(t, text, "loadtest mode=create-update run=count:1")
	require.Less(t, strings.Index(text, "CreateSale"), strings.Index(text, "UpdateSale"))
	require.NotContains(t, text, "  "+scenarioName)
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, writeJSON(path, report{TotalScenarios: 2, Methods: map[string]methodReport{}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.EqualValues(t, 2, decoded.TotalScenarios)

	require.ErrorContains(t, writeJSON("../report.json", report{}), "escapes the working directory")
	require.ErrorContains(t, writeJSON(".", report{}), "must name a file")
}

type smokeServer struct {
	salesv1.UnimplementedSalesServiceServer
}

func (smokeServer) CreateSale(_ context.Context, req *salesv1.CreateSaleRequest) (*salesv1.CreateSaleResponse, error) {
	return &salesv1.CreateSaleResponse{Sale: &salesv1.Sale{Id: "sale-" + req.Number}}, nil
}

func TestRun_Smoke(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	salesv1.RegisterSalesServiceServer(srv, smokeServer{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	output := filepath.Join(t.TempDir(), "smoke.json")
	var stdout bytes.Buffer
	err = run(context.Background(), []string{
		"-addr", lis.Addr().String(), "-total", "5", "-concurrency", "2",
		"-connections", "1", "-timeout", "2s", "-output", output,
	}, &stdout, io.Discard)
	require.NoError(t, err)
	require.Contains(t, stdout.String(), "scenarios total=5 ok=5 failed=0")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.EqualValues(t, 5, decoded.SuccessScenarios)

	err = run(context.Background(), []string{
		"-addr", lis.Addr().String(), "-total", "2", "-mode", "create-cancel", "-connections", "1",
	}, io.Discard, io.Discard)
	require.True(t, errors.Is(err, errScenariosFailed), "CancelSale is unimplemented on the smoke server: %v", err)
}
