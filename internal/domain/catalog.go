package domain

import "github.com/shopspring/decimal"

// Product — товар из сервиса остатков. Version меняется при каждой записи остатка.
type Product struct {
	ID      string
	Name    string
	Price   decimal.Decimal
	Stock   int64
	Version int64
}

// Customer — клиент, на которого оформляется продажа.
type Customer struct {
	ID   string
	Name string
}

// Branch — филиал, в котором совершена продажа.
type Branch struct {
	ID   string
	Name string
}
