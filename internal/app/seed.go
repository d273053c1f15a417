package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

var (
	demoProducts = []domain.Product{
		{ID: "prod-coffee", Name: "Coffee beans 1kg", Price: decimal.RequireFromString("18.50"), Stock: 500},
		{ID: "prod-tea", Name: "Green tea 250g", Price: decimal.RequireFromString("7.20"), Stock: 300},
		{ID: "prod-mug", Name: "Ceramic mug", Price: decimal.RequireFromString("9.90"), Stock: 120},
		{ID: "prod-grinder", Name: "Manual grinder", Price: decimal.RequireFromString("45.00"), Stock: 40},
	}
	demoCustomers = []domain.Customer{
		{ID: "cust-alice", Name: "Alice Martin"},
		{ID: "cust-bob", Name: "Bob Silva"},
	}
	demoBranches = []domain.Branch{
		{ID: "branch-downtown", Name: "Downtown"},
		{ID: "branch-airport", Name: "Airport"},
	}
)

// seedDemoData заводит товары, клиентов и филиалы для локального запуска.
func seedDemoData(ctx context.Context, products productStore, parties partyStore, logger *log.Entry) error {
	for _, product := range demoProducts {
		if _, err := products.Upsert(ctx, product); err != nil {
			return fmt.Errorf("seed product %s: %w", product.ID, err)
		}
	}
	for _, customer := range demoCustomers {
		if err := parties.PutCustomer(ctx, customer); err != nil {
			return fmt.Errorf("seed customer %s: %w", customer.ID, err)
		}
	}
	for _, branch := range demoBranches {
		if err := parties.PutBranch(ctx, branch); err != nil {
			return fmt.Errorf("seed branch %s: %w", branch.ID, err)
		}
	}

	logger.WithFields(log.Fields{
		"products":  len(demoProducts),
		"customers": len(demoCustomers),
		"branches":  len(demoBranches),
	}).Info("demo data seeded")
	return nil
}
