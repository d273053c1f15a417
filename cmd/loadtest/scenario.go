package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	salesv1 "github.com/vladislavdragonenkov/sales/api/sales/v1"
	grpcsvc "github.com/vladislavdragonenkov/sales/internal/service/grpc"
)

// scenarioName — строка отчёта со сценарием целиком.
const scenarioName = "scenario"

var errEmptySaleID = errors.New("CreateSale returned an empty sale id")

// saleRun — состояние одного сценария.
type saleRun struct {
	cfg    config
	client salesv1.SalesServiceClient
	runID  string
	index  int
	saleID string
}

// step — один RPC сценария.
type step struct {
	method string
	call   func(ctx context.Context, run *saleRun) error
}

var (
	createStep = step{"CreateSale", func(ctx context.Context, run *saleRun) error {
		resp, err := run.client.CreateSale(ctx, &salesv1.CreateSaleRequest{
			Number:     fmt.Sprintf("%s-%s-%d", run.cfg.prefix, run.runID, run.index),
			CustomerId: run.cfg.customerID,
			BranchId:   run.cfg.branchID,
			Items:      lineItems(run.cfg.products, run.cfg.quantity),
		})
		if err != nil {
			return err
		}
		if run.saleID = resp.GetSale().GetId(); run.saleID == "" {
			return errEmptySaleID
		}
		return nil
	}}

	// updateStep добавляет единицу к первой позиции и убирает последнюю, если позиций несколько
	updateStep = step{"UpdateSale", func(ctx context.Context, run *saleRun) error {
		items := lineItems(run.cfg.products, run.cfg.quantity)
		items[0].Quantity++
		if len(items) > 1 {
			items = items[:len(items)-1]
		}
		_, err := run.client.UpdateSale(ctx, &salesv1.UpdateSaleRequest{
			SaleId:     run.saleID,
			CustomerId: run.cfg.customerID,
			BranchId:   run.cfg.branchID,
			Items:      items,
		})
		return err
	}}

	cancelItemStep = step{"CancelSaleItem", func(ctx context.Context, run *saleRun) error {
		_, err := run.client.CancelSaleItem(ctx, &salesv1.CancelSaleItemRequest{SaleId: run.saleID, ProductId: run.cfg.products[0]})
		return err
	}}

	cancelStep = step{"CancelSale", func(ctx context.Context, run *saleRun) error {
		_, err := run.client.CancelSale(ctx, &salesv1.CancelSaleRequest{SaleId: run.saleID})
		return err
	}}
)

// plan собирает шаги сценария с номером index.
func plan(cfg config, index int) []step {
	switch cfg.mode {
	case modeCreateCancelItem:
		return []step{createStep, cancelItemStep}
	case modeCreateCancel:
		return []step{createStep, cancelStep}
	case modeCreateUpdate:
		if index%100 < cfg.cancelRate {
			return []step{createStep, updateStep, cancelStep}
		}
		return []step{createStep, updateStep}
	default:
		return []step{createStep}
	}
}

// runScenario выполняет шаги по очереди до первой ошибки. Каждый RPC идёт со своим
// idempotency-key и таймаутом, время пишется в rec.
func runScenario(ctx context.Context, client salesv1.SalesServiceClient, cfg config, runID string, index int, rec *recorder) error {
	run := &saleRun{cfg: cfg, client: client, runID: runID, index: index}
	started := time.Now()

	var err error
	for _, s := range plan(cfg, index) {
		if err = callStep(ctx, s, run, rec); err != nil {
			break
		}
	}
	rec.observe(scenarioName, time.Since(started), codeOf(err))
	return err
}

func callStep(ctx context.Context, s step, run *saleRun, rec *recorder) error {
	key := fmt.Sprintf("lt-%s-%s-%d", strings.ToLower(s.method), run.runID, run.index)
	ctx, cancel := context.WithTimeout(ctx, run.cfg.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, grpcsvc.IdempotencyKeyHeader, key)

	started := time.Now()
	err := s.call(ctx, run)
	rec.observe(s.method, time.Since(started), codeOf(err))
	return err
}

func lineItems(products []string, quantity int) []*salesv1.LineItem {
	items := make([]*salesv1.LineItem, len(products))
	for i, id := range products {
		items[i] = &salesv1.LineItem{ProductId: id, Quantity: int32(quantity)} //nolint:gosec // quantity проверен в config
	}
	return items
}

func codeOf(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, errEmptySaleID):
		return codes.Internal
	default:
		return status.Code(err)
	}
}
