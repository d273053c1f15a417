package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const defaultProductsCollection = "products"

type productDoc struct {
	Name    string `firestore:"name"`
	Price   string `firestore:"price"`
	Stock   int64  `firestore:"stock"`
	Version int64  `firestore:"version"`
}

// StockService — товары и остатки в коллекции Collection (по умолчанию "products").
type StockService struct {
	Client     *firestore.Client
	Collection string
}

// NewStockService создаёт Firestore-реализацию StockService.
func NewStockService(client *firestore.Client) *StockService {
	return &StockService{Client: client}
}

func (s *StockService) col() *firestore.CollectionRef {
	name := strings.TrimSpace(s.Collection)
	if name == "" {
		name = defaultProductsCollection
	}
	return s.Client.Collection(name)
}

func (s *StockService) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if s == nil || s.Client == nil {
		return domain.Product{}, ErrNotConfigured
	}
	if strings.TrimSpace(productID) == "" {
		return domain.Product{}, domain.ErrProductIDRequired
	}

	snap, err := s.col().Doc(productID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("get product %s: %w", productID, err)
	}
	return docToProduct(snap)
}

// SetStock записывает остаток в транзакции, если версия документа равна expectedVersion.
func (s *StockService) SetStock(ctx context.Context, productID string, newStock, expectedVersion int64) error {
	if s == nil || s.Client == nil {
		return ErrNotConfigured
	}
	if newStock < 0 {
		return domain.ErrInvalidStock
	}

	ref := s.col().Doc(productID)
	err := s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.ErrProductNotFound
			}
			return err
		}
		var current productDoc
		if err := snap.DataTo(&current); err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return domain.ErrStockVersionConflict
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "stock", Value: newStock},
			{Path: "version", Value: current.Version + 1},
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) || errors.Is(err, domain.ErrStockVersionConflict) {
			return err
		}
		return fmt.Errorf("set stock for product %s: %w", productID, err)
	}
	return nil
}

// Upsert добавляет или заменяет товар, увеличивая версию.
func (s *StockService) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if s == nil || s.Client == nil {
		return domain.Product{}, ErrNotConfigured
	}
	if strings.TrimSpace(product.ID) == "" {
		return domain.Product{}, domain.ErrProductIDRequired
	}
	if product.Stock < 0 {
		return domain.Product{}, domain.ErrInvalidStock
	}

	ref := s.col().Doc(product.ID)
	err := s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		version := int64(0)
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var current productDoc
			if err := snap.DataTo(&current); err != nil {
				return err
			}
			version = current.Version
		case status.Code(err) != codes.NotFound:
			return err
		}
		product.Version = version + 1
		return tx.Set(ref, productDoc{
			Name:    product.Name,
			Price:   product.Price.String(),
			Stock:   product.Stock,
			Version: product.Version,
		})
	})
	if err != nil {
		return domain.Product{}, fmt.Errorf("upsert product %s: %w", product.ID, err)
	}
	return product, nil
}

func docToProduct(snap *firestore.DocumentSnapshot) (domain.Product, error) {
	var doc productDoc
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
	}
	price, err := decimal.NewFromString(doc.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s price %q: %w", snap.Ref.ID, doc.Price, err)
	}
	return domain.Product{
		ID:      snap.Ref.ID,
		Name:    doc.Name,
		Price:   price,
		Stock:   doc.Stock,
		Version: doc.Version,
	}, nil
}

var _ domain.StockService = (*StockService)(nil)
