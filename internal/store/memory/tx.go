package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"supermarket-pos/backend/internal/domain"
	"supermarket-pos/backend/internal/store"
)

// memTx runs with the store's write lock held by RunInTx. Every write
// pushes an undo step so a failed callback leaves the maps untouched.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) LockProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (t *memTx) LockCustomer(_ context.Context, id int64) (*domain.Customer, error) {
	c, ok := t.s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (t *memTx) InsertProduct(_ context.Context, product *domain.Product) error {
	if err := t.s.insertProduct(product); err != nil {
		return err
	}
	id := product.ID
	t.undo = append(t.undo, func() { delete(t.s.products, id) })
	return nil
}

func (t *memTx) UpdateCustomer(_ context.Context, customer *domain.Customer) error {
	previous, err := t.s.updateCustomer(customer)
	if err != nil {
		return err
	}
	t.undo = append(t.undo, func() { t.s.customers[previous.ID] = previous })
	return nil
}

func (t *memTx) InsertSale(_ context.Context, sale *domain.Sale) error {
	if len(sale.Items) == 0 {
		return store.ErrValidation
	}
	sale.ID = t.s.nextID("sales")
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	for i := range sale.Items {
		sale.Items[i].ID = t.s.nextID("sale_items")
		sale.Items[i].SaleID = sale.ID
	}

	id := sale.ID
	t.s.sales[id] = cloneSale(*sale)
	t.undo = append(t.undo, func() { delete(t.s.sales, id) })
	return nil
}

func (t *memTx) SetProductStock(_ context.Context, productID int64, qty decimal.Decimal) error {
	p, ok := t.s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	previous := p
	p.StockQty = qty
	p.UpdatedAt = time.Now().UTC()
	t.s.products[productID] = p
	t.undo = append(t.undo, func() { t.s.products[productID] = previous })
	return nil
}

func (t *memTx) InsertInventoryLog(_ context.Context, entry *domain.InventoryLog) error {
	entry.ID = t.s.nextID("inventory_logs")
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	n := len(t.s.inventoryLogs)
	t.s.inventoryLogs = append(t.s.inventoryLogs, *entry)
	t.undo = append(t.undo, func() { t.s.inventoryLogs = t.s.inventoryLogs[:n] })
	return nil
}

func (t *memTx) SetCustomerOutstanding(_ context.Context, customerID int64, amount decimal.Decimal) error {
	c, ok := t.s.customers[customerID]
	if !ok {
		return store.ErrNotFound
	}
	previous := c
	c.OutstandingCredit = amount
	t.s.customers[customerID] = c
	t.undo = append(t.undo, func() { t.s.customers[customerID] = previous })
	return nil
}

func (t *memTx) InsertCreditEntry(_ context.Context, entry *domain.CreditLedgerEntry) error {
	entry.ID = t.s.nextID("credit_ledger")
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	n := len(t.s.creditLedger)
	t.s.creditLedger = append(t.s.creditLedger, *entry)
	t.undo = append(t.undo, func() { t.s.creditLedger = t.s.creditLedger[:n] })
	return nil
}

func (t *memTx) SettleOpenDebits(_ context.Context, customerID int64) error {
	changed := make([]int, 0, 4)
	for i, entry := range t.s.creditLedger {
		if entry.CustomerID == customerID && entry.EntryType == domain.LedgerDebit && !entry.IsSettled {
			t.s.creditLedger[i].IsSettled = true
			changed = append(changed, i)
		}
	}
	t.undo = append(t.undo, func() {
		for _, i := range changed {
			if i < len(t.s.creditLedger) {
				t.s.creditLedger[i].IsSettled = false
			}
		}
	})
	return nil
}
