package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

type saleRepository struct {
	db *sql.DB
}

// NewSaleRepository создаёт PostgreSQL-реализацию SaleRepository.
// Позиции хранятся в sale_items и перезаписываются при каждом Save.
func NewSaleRepository(store *Store) domain.SaleRepository {
	return &saleRepository{db: store.DB()}
}

func (r *saleRepository) Create(ctx context.Context, sale *domain.Sale) (*domain.Sale, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	state := sale.State()
	state.Version = 1

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sales (
				id, number, sale_date, customer_id, customer_name, branch_id, branch_name,
				status, total_amount, version, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`,
			state.ID, state.Number, state.Date, state.CustomerID, state.CustomerName,
			state.BranchID, state.BranchName, string(state.Status), state.TotalAmount,
			state.Version, state.CreatedAt, state.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrSaleAlreadyExists
			}
			return fmt.Errorf("insert sale: %w", err)
		}
		return insertItems(ctx, tx, state)
	})
	if err != nil {
		return nil, err
	}
	return domain.RestoreSale(state)
}

func (r *saleRepository) Get(ctx context.Context, id string) (*domain.Sale, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	state, err := scanSale(r.db.QueryRowContext(ctx, selectSaleSQL+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSaleNotFound
		}
		return nil, fmt.Errorf("get sale: %w", err)
	}

	items, err := r.loadItems(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	state.Items = items[id]
	return domain.RestoreSale(state)
}

func (r *saleRepository) Save(ctx context.Context, sale *domain.Sale) (*domain.Sale, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	state := sale.State()
	expected := state.Version
	state.Version++

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sales
			SET number = $3,
			    sale_date = $4,
			    customer_id = $5,
			    customer_name = $6,
			    branch_id = $7,
			    branch_name = $8,
			    status = $9,
			    total_amount = $10,
			    version = version + 1,
			    updated_at = $11
			WHERE id = $1 AND version = $2
		`,
			state.ID, expected, state.Number, state.Date, state.CustomerID, state.CustomerName,
			state.BranchID, state.BranchName, string(state.Status), state.TotalAmount, state.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update sale: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected for sale update: %w", err)
		}
		if affected == 0 {
			return r.missingOrConflict(ctx, tx, state.ID)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, state.ID); err != nil {
			return fmt.Errorf("delete sale items: %w", err)
		}
		return insertItems(ctx, tx, state)
	})
	if err != nil {
		return nil, err
	}
	return domain.RestoreSale(state)
}

func (r *saleRepository) List(ctx context.Context, page, pageSize int) ([]*domain.Sale, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sales: %w", err)
	}
	if page < 1 {
		page = 1
	}

	rows, err := r.db.QueryContext(ctx, selectSaleSQL+`
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	states := make([]domain.SaleState, 0, pageSize)
	ids := make([]string, 0, pageSize)
	for rows.Next() {
		state, err := scanSale(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan sale: %w", err)
		}
		states = append(states, state)
		ids = append(ids, state.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate sales: %w", err)
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	result := make([]*domain.Sale, 0, len(states))
	for _, state := range states {
		state.Items = items[state.ID]
		sale, err := domain.RestoreSale(state)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, sale)
	}
	return result, total, nil
}

func (r *saleRepository) Delete(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete sale: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for sale delete: %w", err)
	}
	return affected > 0, nil
}

func (r *saleRepository) missingOrConflict(ctx context.Context, tx *sql.Tx, id string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check sale existence: %w", err)
	}
	if !exists {
		return domain.ErrSaleNotFound
	}
	return domain.ErrSaleVersionConflict
}

func (r *saleRepository) loadItems(ctx context.Context, saleIDs []string) (map[string][]domain.SaleItemState, error) {
	result := make(map[string][]domain.SaleItemState, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT sale_id, id, product_id, product_name, quantity, unit_price, discount, total, cancelled
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, saleIDs)
	if err != nil {
		return nil, fmt.Errorf("load sale items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			saleID string
			item   domain.SaleItemState
		)
		if err := rows.Scan(
			&saleID,
			&item.ID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.Discount,
			&item.Total,
			&item.Cancelled,
		); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		result[saleID] = append(result[saleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale items: %w", err)
	}
	return result, nil
}

func insertItems(ctx context.Context, tx *sql.Tx, state domain.SaleState) error {
	for position, item := range state.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (
				id, sale_id, position, product_id, product_name, quantity,
				unit_price, discount, total, cancelled
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
			item.ID, state.ID, position, item.ProductID, item.ProductName, item.Quantity,
			item.UnitPrice, item.Discount, item.Total, item.Cancelled,
		); err != nil {
			return fmt.Errorf("insert sale item %s: %w", item.ProductID, err)
		}
	}
	return nil
}

const selectSaleSQL = `
	SELECT id, number, sale_date, customer_id, customer_name, branch_id, branch_name,
	       status, total_amount, version, created_at, updated_at
	FROM sales`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (domain.SaleState, error) {
	var (
		state  domain.SaleState
		status string
		total  decimal.Decimal
	)
	if err := row.Scan(
		&state.ID,
		&state.Number,
		&state.Date,
		&state.CustomerID,
		&state.CustomerName,
		&state.BranchID,
		&state.BranchName,
		&status,
		&total,
		&state.Version,
		&state.CreatedAt,
		&state.UpdatedAt,
	); err != nil {
		return domain.SaleState{}, err
	}
	state.Status = domain.SaleStatus(status)
	state.TotalAmount = total
	return state, nil
}

var _ domain.SaleRepository = (*saleRepository)(nil)
