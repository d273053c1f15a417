package sales

import "github.com/vladislavdragonenkov/sales/internal/domain"

// ItemChange описывает позицию, которая есть и в продаже, и в запросе (или только в продаже).
type ItemChange struct {
	ProductID  string
	CurrentQty int32
	NewQty     int32
}

// Delta — изменение количества: плюс означает дополнительное списание со склада.
func (c ItemChange) Delta() int64 {
	return int64(c.NewQty) - int64(c.CurrentQty)
}

// ReconciliationPlan — разница между активными позициями продажи и желаемым набором.
type ReconciliationPlan struct {
	Removed []ItemChange
	Matched []ItemChange
	Added   []LineInput
}

// PlanReconciliation сравнивает активные позиции с запрошенными. Порядок внутри групп
// следует порядку позиций в продаже (Removed, Matched) и в запросе (Added).
// Запрошенные позиции должны быть уже без повторов товара.
func PlanReconciliation(sale *domain.Sale, requested []LineInput) ReconciliationPlan {
	wanted := make(map[string]LineInput, len(requested))
	for _, line := range requested {
		wanted[line.ProductID] = line
	}

	var plan ReconciliationPlan
	active := make(map[string]struct{})
	for _, item := range sale.ActiveItems() {
		active[item.ProductID()] = struct{}{}
		line, ok := wanted[item.ProductID()]
		if !ok {
			plan.Removed = append(plan.Removed, ItemChange{
				ProductID:  item.ProductID(),
				CurrentQty: item.Quantity(),
			})
			continue
		}
		plan.Matched = append(plan.Matched, ItemChange{
			ProductID:  item.ProductID(),
			CurrentQty: item.Quantity(),
			NewQty:     line.Quantity,
		})
	}

	for _, line := range requested {
		if _, ok := active[line.ProductID]; !ok {
			plan.Added = append(plan.Added, line)
		}
	}
	return plan
}

// StockAdjustments переводит план в дельты остатков в порядке removed, matched, added.
func (p ReconciliationPlan) StockAdjustments() []StockAdjustment {
	adjustments := make([]StockAdjustment, 0, len(p.Removed)+len(p.Matched)+len(p.Added))
	for _, change := range p.Removed {
		adjustments = append(adjustments, StockAdjustment{ProductID: change.ProductID, Delta: int64(change.CurrentQty)})
	}
	for _, change := range p.Matched {
		if change.Delta() != 0 {
			adjustments = append(adjustments, StockAdjustment{ProductID: change.ProductID, Delta: -change.Delta()})
		}
	}
	for _, line := range p.Added {
		adjustments = append(adjustments, StockAdjustment{ProductID: line.ProductID, Delta: -int64(line.Quantity)})
	}
	return adjustments
}
