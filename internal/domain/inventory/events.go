package inventory

import "time"

type RestoredLine struct {
	Unit     Unit
	Quantity int
}

// StockRestoredEvent is emitted after stock returns to the ledger, either from an order
// cancellation or from an operator restock.
type StockRestoredEvent struct {
	OrderID    string
	Reason     string
	Lines      []RestoredLine
	OccurredAt time.Time
}

func (StockRestoredEvent) EventName() string { return "inventory.stock_restored" }

func NewStockRestoredEvent(orderID, reason string, lines []RestoredLine) StockRestoredEvent {
	return StockRestoredEvent{
		OrderID:    orderID,
		Reason:     reason,
		Lines:      append([]RestoredLine(nil), lines...),
		OccurredAt: time.Now().UTC(),
	}
}
