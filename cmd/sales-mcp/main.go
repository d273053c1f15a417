package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	salesv1 "github.com/vladislavdragonenkov/sales/api/sales/v1"
)

const (
	envGRPCAddr     = "SALES_GRPC_ADDR"
	defaultGRPCAddr = "localhost:50051"
	defaultTimeout  = 5 * time.Second
)

type config struct {
	addr    string
	timeout time.Duration
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	var cfg config

	fs := flag.NewFlagSet("sales-mcp", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "", "sales gRPC address (fallback: "+envGRPCAddr+", then "+defaultGRPCAddr+")")
	fs.DurationVar(&cfg.timeout, "timeout", defaultTimeout, "per-call timeout")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.addr = strings.TrimSpace(cfg.addr)
	if cfg.addr == "" {
		cfg.addr = strings.TrimSpace(getenv(envGRPCAddr))
	}
	if cfg.addr == "" {
		cfg.addr = defaultGRPCAddr
	}
	if cfg.timeout <= 0 {
		return config{}, errors.New("timeout must be > 0")
	}
	return cfg, nil
}

func main() {
	// stdout занят протоколом MCP
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("invalid config: %v", err)
	}

	conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fail("create grpc client: %v", err)
	}
	defer func() { _ = conn.Close() }()

	tools := &toolServer{client: salesv1.NewSalesServiceClient(conn), timeout: cfg.timeout}
	log.WithField("grpc_addr", cfg.addr).Info("sales mcp server started on stdio")
	if err := server.ServeStdio(newMCPServer(tools)); err != nil {
		log.WithError(err).Error("mcp server stopped")
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
