package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const defaultSalesCollection = "sales"

// ErrNotConfigured — репозиторий создан без клиента Firestore.
var ErrNotConfigured = errors.New("firestore repository is not configured")

type saleDoc struct {
	Number       string        `firestore:"number"`
	Date         time.Time     `firestore:"date"`
	CustomerID   string        `firestore:"customerId"`
	CustomerName string        `firestore:"customerName"`
	BranchID     string        `firestore:"branchId"`
	BranchName   string        `firestore:"branchName"`
	Status       string        `firestore:"status"`
	Total        string        `firestore:"total"`
	Items        []saleItemDoc `firestore:"items"`
	Version      int64         `firestore:"version"`
	CreatedAt    time.Time     `firestore:"createdAt"`
	UpdatedAt    time.Time     `firestore:"updatedAt"`
}

type saleItemDoc struct {
	ID          string `firestore:"id"`
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	Quantity    int64  `firestore:"quantity"`
	UnitPrice   string `firestore:"unitPrice"`
	Cancelled   bool   `firestore:"cancelled"`
}

func toSaleDoc(state domain.SaleState) saleDoc {
	items := make([]saleItemDoc, 0, len(state.Items))
	for _, item := range state.Items {
		items = append(items, saleItemDoc{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    int64(item.Quantity),
			UnitPrice:   item.UnitPrice.String(),
			Cancelled:   item.Cancelled,
		})
	}
	return saleDoc{
		Number:       state.Number,
		Date:         state.Date.UTC(),
		CustomerID:   state.CustomerID,
		CustomerName: state.CustomerName,
		BranchID:     state.BranchID,
		BranchName:   state.BranchName,
		Status:       string(state.Status),
		Total:        state.TotalAmount.StringFixed(2),
		Items:        items,
		Version:      state.Version,
		CreatedAt:    state.CreatedAt.UTC(),
		UpdatedAt:    state.UpdatedAt.UTC(),
	}
}

func docToSale(snap *firestore.DocumentSnapshot) (*domain.Sale, error) {
	var doc saleDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode sale %s: %w", snap.Ref.ID, err)
	}

	items := make([]domain.SaleItemState, 0, len(doc.Items))
	for _, item := range doc.Items {
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("decode sale %s unit price %q: %w", snap.Ref.ID, item.UnitPrice, err)
		}
		items = append(items, domain.SaleItemState{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    int32(item.Quantity),
			UnitPrice:   price,
			Cancelled:   item.Cancelled,
		})
	}

	return domain.RestoreSale(domain.SaleState{
		ID:           snap.Ref.ID,
		Number:       doc.Number,
		Date:         doc.Date,
		CustomerID:   doc.CustomerID,
		CustomerName: doc.CustomerName,
		BranchID:     doc.BranchID,
		BranchName:   doc.BranchName,
		Items:        items,
		Status:       domain.SaleStatus(doc.Status),
		Version:      doc.Version,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	})
}

// SaleRepository хранит продажи документами коллекции Collection (по умолчанию "sales").
// Проверка версии при сохранении выполняется внутри транзакции.
type SaleRepository struct {
	Client     *firestore.Client
	Collection string
}

// NewSaleRepository создаёт Firestore-хранилище продаж.
func NewSaleRepository(client *firestore.Client) *SaleRepository {
	return &SaleRepository{Client: client}
}

func (r *SaleRepository) col() *firestore.CollectionRef {
	name := strings.TrimSpace(r.Collection)
	if name == "" {
		name = defaultSalesCollection
	}
	return r.Client.Collection(name)
}

func (r *SaleRepository) Create(ctx context.Context, sale *domain.Sale) (*domain.Sale, error) {
	if r == nil || r.Client == nil {
		return nil, ErrNotConfigured
	}

	state := sale.State()
	state.Version = 1
	if _, err := r.col().Doc(state.ID).Create(ctx, toSaleDoc(state)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, domain.ErrSaleAlreadyExists
		}
		return nil, fmt.Errorf("create sale %s: %w", state.ID, err)
	}
	return domain.RestoreSale(state)
}

func (r *SaleRepository) Get(ctx context.Context, id string) (*domain.Sale, error) {
	if r == nil || r.Client == nil {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrSaleNotFound
	}

	snap, err := r.col().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrSaleNotFound
		}
		return nil, fmt.Errorf("get sale %s: %w", id, err)
	}
	return docToSale(snap)
}

func (r *SaleRepository) Save(ctx context.Context, sale *domain.Sale) (*domain.Sale, error) {
	if r == nil || r.Client == nil {
		return nil, ErrNotConfigured
	}

	state := sale.State()
	expected := state.Version
	state.Version++
	ref := r.col().Doc(state.ID)

	err := r.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.ErrSaleNotFound
			}
			return err
		}
		var current struct {
			Version int64 `firestore:"version"`
		}
		if err := snap.DataTo(&current); err != nil {
			return err
		}
		if current.Version != expected {
			return domain.ErrSaleVersionConflict
		}
		return tx.Set(ref, toSaleDoc(state))
	})
	if err != nil {
		if errors.Is(err, domain.ErrSaleNotFound) || errors.Is(err, domain.ErrSaleVersionConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("save sale %s: %w", state.ID, err)
	}
	return domain.RestoreSale(state)
}

// List читает страницу, отсортированную по createdAt по убыванию. Общее количество
// считается проходом по ключам документов.
func (r *SaleRepository) List(ctx context.Context, page, pageSize int) ([]*domain.Sale, int, error) {
	if r == nil || r.Client == nil {
		return nil, 0, ErrNotConfigured
	}
	if page < 1 || pageSize < 1 {
		return nil, 0, domain.ErrInvalidPage
	}

	total, err := r.count(ctx)
	if err != nil {
		return nil, 0, err
	}

	it := r.col().
		OrderBy("createdAt", firestore.Desc).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Documents(ctx)
	defer it.Stop()

	result := make([]*domain.Sale, 0, pageSize)
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("list sales: %w", err)
		}
		sale, err := docToSale(snap)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, sale)
	}
	return result, total, nil
}

func (r *SaleRepository) count(ctx context.Context) (int, error) {
	it := r.col().Select().Documents(ctx)
	defer it.Stop()

	total := 0
	for {
		_, err := it.Next()
		if err == iterator.Done {
			return total, nil
		}
		if err != nil {
			return 0, fmt.Errorf("count sales: %w", err)
		}
		total++
	}
}

func (r *SaleRepository) Delete(ctx context.Context, id string) (bool, error) {
	if r == nil || r.Client == nil {
		return false, ErrNotConfigured
	}

	ref := r.col().Doc(id)
	deleted := false
	err := r.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deleted = false
		if _, err := tx.Get(ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		deleted = true
		return tx.Delete(ref)
	})
	if err != nil {
		return false, fmt.Errorf("delete sale %s: %w", id, err)
	}
	return deleted, nil
}

var _ domain.SaleRepository = (*SaleRepository)(nil)
