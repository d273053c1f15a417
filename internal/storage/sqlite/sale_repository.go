package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// saleDocument — сериализованный снимок продажи. Версия хранится отдельной колонкой.
type saleDocument struct {
	ID           string         `json:"id"`
	Number       string         `json:"number"`
	Date         time.Time      `json:"date"`
	CustomerID   string         `json:"customer_id"`
	CustomerName string         `json:"customer_name"`
	BranchID     string         `json:"branch_id"`
	BranchName   string         `json:"branch_name"`
	Status       string         `json:"status"`
	Total        string         `json:"total"`
	Items        []itemDocument `json:"items"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type itemDocument struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Cancelled   bool            `json:"cancelled"`
}

func toDocument(state domain.SaleState) saleDocument {
	items := make([]itemDocument, 0, len(state.Items))
	for _, item := range state.Items {
		items = append(items, itemDocument{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Cancelled:   item.Cancelled,
		})
	}
	return saleDocument{
		ID:           state.ID,
		Number:       state.Number,
		Date:         state.Date.UTC(),
		CustomerID:   state.CustomerID,
		CustomerName: state.CustomerName,
		BranchID:     state.BranchID,
		BranchName:   state.BranchName,
		Status:       string(state.Status),
		Total:        state.TotalAmount.StringFixed(2),
		Items:        items,
		CreatedAt:    state.CreatedAt.UTC(),
		UpdatedAt:    state.UpdatedAt.UTC(),
	}
}

func (d saleDocument) restore(version int64) (*domain.Sale, error) {
	items := make([]domain.SaleItemState, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.SaleItemState{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Cancelled:   item.Cancelled,
		})
	}
	return domain.RestoreSale(domain.SaleState{
		ID:           d.ID,
		Number:       d.Number,
		Date:         d.Date,
		CustomerID:   d.CustomerID,
		CustomerName: d.CustomerName,
		BranchID:     d.BranchID,
		BranchName:   d.BranchName,
		Items:        items,
		Status:       domain.SaleStatus(d.Status),
		Version:      version,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	})
}

type saleRepository struct {
	db *sql.DB
}

// NewSaleRepository создаёт хранилище продаж поверх SQLite. Продажа хранится одним JSON-документом.
func NewSaleRepository(store *Store) domain.SaleRepository {
	return &saleRepository{db: store.db}
}

func (r *saleRepository) Create(ctx context.Context, sale *domain.Sale) (*domain.Sale, error) {
	state := sale.State()
	state.Version = 1
	body, err := json.Marshal(toDocument(state))
	if err != nil {
		return nil, fmt.Errorf("encode sale %s: %w", state.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sales (id, version, created_at, updated_at, document)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, state.ID, state.Version, state.CreatedAt.UnixNano(), state.UpdatedAt.UnixNano(), string(body))
	if err != nil {
		return nil, fmt.Errorf("insert sale %s: %w", state.ID, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sale rows affected: %w", err)
	}
	if inserted == 0 {
		return nil, domain.ErrSaleAlreadyExists
	}
	return domain.RestoreSale(state)
}

func (r *saleRepository) Get(ctx context.Context, id string) (*domain.Sale, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		version int64
		body    string
	)
	err := r.db.QueryRowContext(ctx, `SELECT version, document FROM sales WHERE id = ?`, id).Scan(&version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sale %s: %w", id, err)
	}
	return decodeSale(body, version)
}

// Save обновляет документ, только если версия в базе совпадает с версией агрегата.
func (r *saleRepository) Save(ctx context.Context, sale *domain.Sale) (*domain.Sale, error) {
	state := sale.State()
	expected := state.Version
	state.Version++
	body, err := json.Marshal(toDocument(state))
	if err != nil {
		return nil, fmt.Errorf("encode sale %s: %w", state.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE sales
		SET version = ?, updated_at = ?, document = ?
		WHERE id = ? AND version = ?
	`, state.Version, state.UpdatedAt.UnixNano(), string(body), state.ID, expected)
	if err != nil {
		return nil, fmt.Errorf("update sale %s: %w", state.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sale rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM sales WHERE id = ?`, state.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSaleNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("check sale %s: %w", state.ID, err)
		}
		return nil, domain.ErrSaleVersionConflict
	}
	return domain.RestoreSale(state)
}

func (r *saleRepository) List(ctx context.Context, page, pageSize int) ([]*domain.Sale, int, error) {
	if page < 1 || pageSize < 1 {
		return nil, 0, domain.ErrInvalidPage
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sales: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT version, document
		FROM sales
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Sale, 0, pageSize)
	for rows.Next() {
		var (
			version int64
			body    string
		)
		if err := rows.Scan(&version, &body); err != nil {
			return nil, 0, fmt.Errorf("scan sale: %w", err)
		}
		sale, err := decodeSale(body, version)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate sales: %w", err)
	}
	return result, total, nil
}

func (r *saleRepository) Delete(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM sales WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete sale %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sale rows affected: %w", err)
	}
	return affected > 0, nil
}

func decodeSale(body string, version int64) (*domain.Sale, error) {
	var doc saleDocument
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode sale document: %w", err)
	}
	return doc.restore(version)
}

var _ domain.SaleRepository = (*saleRepository)(nil)
