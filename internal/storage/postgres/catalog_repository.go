package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// ProductStore — товары и остатки в таблице products. SetStock пишет остаток
// только при совпадении версии.
type ProductStore struct {
	db *sql.DB
}

// NewProductStore создаёт PostgreSQL-реализацию StockService.
func NewProductStore(store *Store) *ProductStore {
	return &ProductStore{db: store.DB()}
}

// Upsert добавляет или заменяет товар; версия увеличивается.
func (s *ProductStore) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if product.ID == "" {
		return domain.Product{}, domain.ErrProductIDRequired
	}
	if product.Stock < 0 {
		return domain.Product{}, domain.ErrInvalidStock
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (id, name, price, stock, version, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    stock = EXCLUDED.stock,
		    version = products.version + 1,
		    updated_at = EXCLUDED.updated_at
		RETURNING version
	`, product.ID, product.Name, product.Price, product.Stock, time.Now().UTC()).Scan(&product.Version)
	if err != nil {
		return domain.Product{}, fmt.Errorf("upsert product: %w", err)
	}
	return product, nil
}

func (s *ProductStore) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, stock, version
		FROM products
		WHERE id = $1
	`, productID).Scan(&product.ID, &product.Name, &product.Price, &product.Stock, &product.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

func (s *ProductStore) SetStock(ctx context.Context, productID string, newStock, expectedVersion int64) error {
	if newStock < 0 {
		return domain.ErrInvalidStock
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock = $2, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $3
	`, productID, newStock, expectedVersion, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set product stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for stock update: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return fmt.Errorf("check product existence: %w", err)
	}
	if !exists {
		return domain.ErrProductNotFound
	}
	return domain.ErrStockVersionConflict
}

// Directory — клиенты и филиалы.
type Directory struct {
	db *sql.DB
}

// NewDirectory создаёт PostgreSQL-справочник клиентов и филиалов.
func NewDirectory(store *Store) *Directory {
	return &Directory{db: store.DB()}
}

func (d *Directory) PutCustomer(ctx context.Context, customer domain.Customer) error {
	if customer.ID == "" {
		return domain.ErrCustomerRequired
	}
	return d.upsert(ctx, "customers", customer.ID, customer.Name)
}

func (d *Directory) PutBranch(ctx context.Context, branch domain.Branch) error {
	if branch.ID == "" {
		return domain.ErrBranchRequired
	}
	return d.upsert(ctx, "branches", branch.ID, branch.Name)
}

func (d *Directory) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	name, err := d.lookup(ctx, "customers", id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	if err != nil {
		return domain.Customer{}, fmt.Errorf("get customer: %w", err)
	}
	return domain.Customer{ID: id, Name: name}, nil
}

func (d *Directory) GetBranch(ctx context.Context, id string) (domain.Branch, error) {
	name, err := d.lookup(ctx, "branches", id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Branch{}, domain.ErrBranchNotFound
	}
	if err != nil {
		return domain.Branch{}, fmt.Errorf("get branch: %w", err)
	}
	return domain.Branch{ID: id, Name: name}, nil
}

// table — только константы customers/branches.
func (d *Directory) upsert(ctx context.Context, table, id, name string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, table)
	if _, err := d.db.ExecContext(ctx, query, id, name); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (d *Directory) lookup(ctx context.Context, table, id string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var name string
	err := d.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT name FROM %s WHERE id = $1`, table), id).Scan(&name)
	return name, err
}

var (
	_ domain.StockService      = (*ProductStore)(nil)
	_ domain.CustomerDirectory = (*Directory)(nil)
	_ domain.BranchDirectory   = (*Directory)(nil)
)
