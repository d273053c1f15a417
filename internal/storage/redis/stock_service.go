package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const defaultKeyPrefix = "product:"

// setStockScript: -1 — товара нет, 0 — версия не совпала, 1 — записано.
var setStockScript = redis.NewScript(`
local version = redis.call('HGET', KEYS[1], 'version')
if not version then
	return -1
end
if tonumber(version) ~= tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'stock', ARGV[1], 'version', tonumber(version) + 1)
return 1
`)

// upsertScript перезаписывает товар и возвращает новую версию.
var upsertScript = redis.NewScript(`
redis.call('HSET', KEYS[1], 'name', ARGV[1], 'price', ARGV[2], 'stock', ARGV[3])
return redis.call('HINCRBY', KEYS[1], 'version', 1)
`)

// StockService хранит товар в хэше product:{id} с полями name, price, stock, version.
type StockService struct {
	client redis.Cmdable
	prefix string
}

// NewStockService создаёт Redis-реализацию StockService.
func NewStockService(client redis.Cmdable) *StockService {
	return &StockService{client: client, prefix: defaultKeyPrefix}
}

func (s *StockService) key(productID string) string {
	return s.prefix + productID
}

func (s *StockService) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if strings.TrimSpace(productID) == "" {
		return domain.Product{}, domain.ErrProductIDRequired
	}

	fields, err := s.client.HGetAll(ctx, s.key(productID)).Result()
	if err != nil {
		return domain.Product{}, fmt.Errorf("get product %s: %w", productID, err)
	}
	if len(fields) == 0 {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return parseProduct(productID, fields)
}

// SetStock атомарно проверяет версию и записывает остаток скриптом Lua.
func (s *StockService) SetStock(ctx context.Context, productID string, newStock, expectedVersion int64) error {
	if newStock < 0 {
		return domain.ErrInvalidStock
	}

	result, err := setStockScript.Run(ctx, s.client, []string{s.key(productID)}, newStock, expectedVersion).Int64()
	if err != nil {
		return fmt.Errorf("set stock for product %s: %w", productID, err)
	}
	switch result {
	case 1:
		return nil
	case 0:
		return domain.ErrStockVersionConflict
	default:
		return domain.ErrProductNotFound
	}
}

// Upsert добавляет или заменяет товар; версия увеличивается на единицу.
func (s *StockService) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if strings.TrimSpace(product.ID) == "" {
		return domain.Product{}, domain.ErrProductIDRequired
	}
	if product.Stock < 0 {
		return domain.Product{}, domain.ErrInvalidStock
	}

	version, err := upsertScript.Run(ctx, s.client, []string{s.key(product.ID)},
		product.Name, product.Price.String(), product.Stock,
	).Int64()
	if err != nil {
		return domain.Product{}, fmt.Errorf("upsert product %s: %w", product.ID, err)
	}
	product.Version = version
	return product, nil
}

// Ping проверяет соединение с Redis.
func (s *StockService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func parseProduct(productID string, fields map[string]string) (domain.Product, error) {
	price, err := decimal.NewFromString(fields["price"])
	if err != nil {
		return domain.Product{}, fmt.Errorf("parse price of product %s: %w", productID, err)
	}
	stock, err := strconv.ParseInt(fields["stock"], 10, 64)
	if err != nil {
		return domain.Product{}, fmt.Errorf("parse stock of product %s: %w", productID, err)
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return domain.Product{}, fmt.Errorf("parse version of product %s: %w", productID, err)
	}
	if stock < 0 {
		return domain.Product{}, errors.New("negative stock stored for product " + productID)
	}
	return domain.Product{
		ID:      productID,
		Name:    fields["name"],
		Price:   price,
		Stock:   stock,
		Version: version,
	}, nil
}

var _ domain.StockService = (*StockService)(nil)
