package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

type loadMode string

const (
	modeCreate           loadMode = "create"
	modeCreateUpdate     loadMode = "create-update"
	modeCreateCancelItem loadMode = "create-cancel-item"
	modeCreateCancel     loadMode = "create-cancel"
)

var modes = []loadMode{modeCreate, modeCreateUpdate, modeCreateCancelItem, modeCreateCancel}

func (m *loadMode) String() string { return string(*m) }

func (m *loadMode) Set(value string) error {
	mode := loadMode(strings.TrimSpace(value))
	if !slices.Contains(modes, mode) {
		return fmt.Errorf("unsupported mode %q", value)
	}
	*m = mode
	return nil
}

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	customerID  string
	branchID    string
	products    []string
	quantity    int
	prefix      string
	output      string
}

// parseConfig разбирает флаги. total ограничивает прогон по duration, только если задан явно.
func parseConfig(args []string, stderr io.Writer) (config, error) {
	cfg := config{mode: modeCreate}
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC address of the sales service")
	fs.IntVar(&cfg.total, "total", 400, "number of scenarios; with -duration an upper bound")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for this long instead of a fixed count")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "scenarios in flight")
	fs.IntVar(&cfg.connections, "connections", 20, "gRPC connections shared by workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.Var(&cfg.mode, "mode", "create | create-update | create-cancel-item | create-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "percent of create-update scenarios that end with CancelSale")
	fs.StringVar(&cfg.customerID, "customer", "cust-alice", "customer id")
	fs.StringVar(&cfg.branchID, "branch", "branch-downtown", "branch id")
	fs.Func("products", "comma-separated product ids, one line each (default prod-coffee,prod-tea)", func(value string) error {
		if cfg.products = splitProducts(value); len(cfg.products) == 0 {
			return errors.New("at least one product is required")
		}
		return nil
	})
	fs.IntVar(&cfg.quantity, "quantity", 1, "units per line")
	fs.StringVar(&cfg.prefix, "number-prefix", "LT", "sale number prefix")
	fs.StringVar(&cfg.output, "output", "", "write JSON report to this file")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.totalSet = cfg.totalSet || f.Name == "total" })
	if cfg.products == nil {
		cfg.products = []string{"prod-coffee", "prod-tea"}
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.duration >= 0, "duration must not be negative")
	check(c.total > 0 || (c.duration > 0 && !c.totalSet), "total must be positive")
	check(c.concurrency > 0, "concurrency must be positive")
	check(c.connections > 0, "connections must be positive")
	check(c.timeout > 0, "timeout must be positive")
	check(c.cancelRate >= 0 && c.cancelRate <= 100, "cancel-rate must be within 0..100")
	// update добавляет единицу к первой позиции
	check(c.quantity >= 1 && c.quantity < domain.MaxItemQuantity, fmt.Sprintf("quantity must be within 1..%d", domain.MaxItemQuantity-1))
	check(len(c.products) > 0, "at least one product is required")
	check(strings.TrimSpace(c.customerID) != "", "customer is required")
	check(strings.TrimSpace(c.branchID) != "", "branch is required")
	check(strings.TrimSpace(c.prefix) != "", "number-prefix is required")
	return errors.Join(errs...)
}

// target описывает границы прогона для отчёта.
func (c config) target() string {
	switch {
	case c.duration <= 0:
		return fmt.Sprintf("count:%d", c.total)
	case c.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", c.duration, c.total)
	default:
		return fmt.Sprintf("duration:%s", c.duration)
	}
}

func splitProducts(raw string) []string {
	var products []string
	for _, chunk := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(chunk); id != "" && !slices.Contains(products, id) {
			products = append(products, id)
		}
	}
	return products
}
