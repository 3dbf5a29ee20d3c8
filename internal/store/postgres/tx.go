package postgres

import (
	"context"
	"database/sql"
	"errors"
	"slices"

	"github.com/shopspring/decimal"

	"supermarket-pos/backend/internal/domain"
	"supermarket-pos/backend/internal/store"
)

type pgTx struct {
	tx *sql.Tx
}

// LockProducts takes row locks in ascending id order so two sales touching
// the same products cannot deadlock each other.
func (t *pgTx) LockProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, sorted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64]domain.Product, len(sorted))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *pgTx) LockCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	c, err := scanCustomer(t.tx.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) InsertProduct(ctx context.Context, product *domain.Product) error {
	p, err := insertProduct(ctx, t.tx, *product)
	if err != nil {
		return err
	}
	*product = p
	return nil
}

func (t *pgTx) UpdateCustomer(ctx context.Context, customer *domain.Customer) error {
	c, err := updateCustomer(ctx, t.tx, *customer)
	if err != nil {
		return err
	}
	*customer = c
	return nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale *domain.Sale) error {
	if len(sale.Items) == 0 {
		return store.ErrValidation
	}

	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO sales (
			customer_id, user_id, subtotal, discount, tax, total,
			payment_mode, payment_status, transaction_ref, notes, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		RETURNING id, created_at
	`, nullInt64(sale.CustomerID), sale.UserID, sale.Subtotal, sale.Discount, sale.Tax, sale.Total,
		string(sale.PaymentMode), string(sale.PaymentStatus), nullIfEmpty(sale.TransactionRef),
		nullIfEmpty(sale.Notes)).Scan(&sale.ID, &sale.CreatedAt)
	if err != nil {
		return err
	}

	for i := range sale.Items {
		item := &sale.Items[i]
		item.SaleID = sale.ID
		err := t.tx.QueryRowContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, product_name, qty, unit_price, discount, tax, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, item.SaleID, item.ProductID, item.ProductName, item.Qty, item.UnitPrice, item.Discount,
			item.Tax, item.Subtotal).Scan(&item.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) SetProductStock(ctx context.Context, productID int64, qty decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock_qty = $2, updated_at = now()
		WHERE id = $1
	`, productID, qty)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *pgTx) InsertInventoryLog(ctx context.Context, entry *domain.InventoryLog) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO inventory_logs (
			product_id, movement_type, change_qty, before_qty, after_qty,
			reference_id, reason, created_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING id, created_at
	`, entry.ProductID, string(entry.MovementType), entry.ChangeQty, entry.BeforeQty, entry.AfterQty,
		nullInt64(entry.ReferenceID), nullIfEmpty(entry.Reason), nullInt64(entry.CreatedBy)).Scan(&entry.ID, &entry.CreatedAt)
}

func (t *pgTx) SetCustomerOutstanding(ctx context.Context, customerID int64, amount decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE customers
		SET outstanding_credit = $2
		WHERE id = $1
	`, customerID, amount)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *pgTx) InsertCreditEntry(ctx context.Context, entry *domain.CreditLedgerEntry) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO credit_ledger (customer_id, sale_id, entry_type, amount, balance_after, is_settled, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING id, created_at
	`, entry.CustomerID, nullInt64(entry.SaleID), string(entry.EntryType), entry.Amount, entry.BalanceAfter,
		entry.IsSettled, nullIfEmpty(entry.Note)).Scan(&entry.ID, &entry.CreatedAt)
}

func (t *pgTx) SettleOpenDebits(ctx context.Context, customerID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE credit_ledger
		SET is_settled = true
		WHERE customer_id = $1 AND entry_type = 'debit' AND is_settled = false
	`, customerID)
	return err
}
