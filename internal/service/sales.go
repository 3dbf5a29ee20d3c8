package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"supermarket-pos/backend/internal/domain"
	"supermarket-pos/backend/internal/logging"
	"supermarket-pos/backend/internal/store"
)

// pricedLine is one cart line with unrounded intermediates.
type pricedLine struct {
	product       domain.Product
	qty           decimal.Decimal
	unitPrice     decimal.Decimal
	discount      decimal.Decimal
	afterDiscount decimal.Decimal
	tax           decimal.Decimal
}

type pricedCart struct {
	lines    []pricedLine
	subtotal decimal.Decimal
	tax      decimal.Decimal
	discount decimal.Decimal
}

// totals returns the stored (rounded) header amounts. The total is derived
// from the rounded parts so the stored row always adds up.
func (c pricedCart) totals() (subtotal, tax, discount, total decimal.Decimal) {
	subtotal = money(c.subtotal)
	tax = money(c.tax)
	discount = money(c.discount)
	total = money(subtotal.Add(tax).Sub(discount))
	return subtotal, tax, discount, total
}

func validateSaleRequest(req *domain.SaleRequest) error {
	if len(req.Items) == 0 {
		return validationError("sale needs at least one item")
	}
	if req.PaymentMode == "" {
		req.PaymentMode = domain.PaymentCash
	}
	if !req.PaymentMode.Valid() {
		return validationError("unknown payment mode %q", req.PaymentMode)
	}
	if !validPercent(req.DiscountPct) {
		return validationError("cart discount must be between 0 and 100")
	}
	if req.PaymentMode == domain.PaymentCredit && req.CustomerID == nil {
		return validationError("credit sale requires a customer")
	}
	for i, line := range req.Items {
		if line.ProductID < 1 {
			return validationError("item %d: product_id is required", i+1)
		}
		if !line.Qty.IsPositive() {
			return validationError("item %d: qty must be greater than 0", i+1)
		}
		if !fitsPlaces(line.Qty, qtyPlaces) {
			return validationError("item %d: qty allows at most %d decimal places", i+1, qtyPlaces)
		}
		if line.UnitPrice != nil {
			if line.UnitPrice.IsNegative() {
				return validationError("item %d: unit_price must not be negative", i+1)
			}
			if !fitsPlaces(*line.UnitPrice, moneyPlaces) {
				return validationError("item %d: unit_price allows at most %d decimal places", i+1, moneyPlaces)
			}
		}
		if !validPercent(line.DiscountPct) {
			return validationError("item %d: discount must be between 0 and 100", i+1)
		}
	}
	return nil
}

// priceCart checks availability against the locked rows and prices every
// line. Repeated lines of one product are checked against their summed qty.
func priceCart(req domain.SaleRequest, locked map[int64]domain.Product) (pricedCart, error) {
	requested := make(map[int64]decimal.Decimal, len(req.Items))
	for _, line := range req.Items {
		requested[line.ProductID] = requested[line.ProductID].Add(line.Qty)
	}

	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		product, ok := locked[id]
		if !ok || !product.Active {
			return pricedCart{}, fmt.Errorf("%w: product %d", store.ErrNotFound, id)
		}
		if product.StockQty.LessThan(requested[id]) {
			return pricedCart{}, fmt.Errorf("%w: %s has %s, requested %s",
				store.ErrInsufficientStock, product.Name, product.StockQty, requested[id])
		}
	}

	cart := pricedCart{lines: make([]pricedLine, 0, len(req.Items))}
	for _, line := range req.Items {
		product := locked[line.ProductID]
		unitPrice := product.Price
		if line.UnitPrice != nil {
			unitPrice = *line.UnitPrice
		}

		itemSubtotal := unitPrice.Mul(line.Qty)
		itemDiscount := itemSubtotal.Mul(line.DiscountPct).Div(hundred)
		afterDiscount := itemSubtotal.Sub(itemDiscount)
		itemTax := afterDiscount.Mul(product.TaxRate).Div(hundred)

		cart.lines = append(cart.lines, pricedLine{
			product:       product,
			qty:           line.Qty,
			unitPrice:     unitPrice,
			discount:      itemDiscount,
			afterDiscount: afterDiscount,
			tax:           itemTax,
		})
		cart.subtotal = cart.subtotal.Add(afterDiscount)
		cart.tax = cart.tax.Add(itemTax)
	}

	if req.DiscountPct.IsPositive() {
		cart.discount = cart.subtotal.Add(cart.tax).Mul(req.DiscountPct).Div(hundred)
	}
	return cart, nil
}

// CreateSale commits a sale, its stock movements and, for credit sales, the
// customer's ledger debit as one unit. Receipt printing and terminal
// payment run only after commit; their failures come back as warnings.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if err := validateSaleRequest(&req); err != nil {
		return domain.SaleResponse{}, err
	}

	ids := make([]int64, 0, len(req.Items))
	for _, line := range req.Items {
		ids = append(ids, line.ProductID)
	}

	var sale domain.Sale
	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return err
		}
		cart, err := priceCart(req, locked)
		if err != nil {
			return err
		}
		subtotal, tax, discount, total := cart.totals()

		var customer *domain.Customer
		if req.CustomerID != nil {
			customer, err = tx.LockCustomer(ctx, *req.CustomerID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("%w: customer %d", store.ErrNotFound, *req.CustomerID)
				}
				return err
			}
		}
		if req.PaymentMode == domain.PaymentCredit {
			available := customer.AvailableCredit()
			if total.GreaterThan(available) {
				return fmt.Errorf("%w: available %s, sale total %s",
					store.ErrCreditLimitExceeded, money(available).StringFixed(2), total.StringFixed(2))
			}
		}

		sale = domain.Sale{
			CustomerID:    req.CustomerID,
			UserID:        actor.UserID,
			Subtotal:      subtotal,
			Discount:      discount,
			Tax:           tax,
			Total:         total,
			PaymentMode:   req.PaymentMode,
			PaymentStatus: req.PaymentMode.InitialStatus(),
			Notes:         req.Notes,
			Items:         make([]domain.SaleItem, 0, len(cart.lines)),
		}
		for _, line := range cart.lines {
			sale.Items = append(sale.Items, domain.SaleItem{
				ProductID:   line.product.ID,
				ProductName: line.product.Name,
				Qty:         line.qty,
				UnitPrice:   line.unitPrice,
				Discount:    money(line.discount),
				Tax:         money(line.tax),
				Subtotal:    money(line.afterDiscount.Add(line.tax)),
			})
		}
		if err := tx.InsertSale(ctx, &sale); err != nil {
			return err
		}

		stock := make(map[int64]decimal.Decimal, len(locked))
		for id, product := range locked {
			stock[id] = product.StockQty
		}
		for _, line := range cart.lines {
			before := stock[line.product.ID]
			after := before.Sub(line.qty)
			if err := tx.SetProductStock(ctx, line.product.ID, after); err != nil {
				return err
			}
			if err := tx.InsertInventoryLog(ctx, &domain.InventoryLog{
				ProductID:    line.product.ID,
				MovementType: domain.MovementSale,
				ChangeQty:    line.qty.Neg(),
				BeforeQty:    before,
				AfterQty:     after,
				ReferenceID:  int64Ptr(sale.ID),
				Reason:       fmt.Sprintf("Sale #%d", sale.ID),
				CreatedBy:    int64Ptr(actor.UserID),
			}); err != nil {
				return err
			}
			stock[line.product.ID] = after
		}

		if req.PaymentMode == domain.PaymentCredit {
			outstanding := customer.OutstandingCredit.Add(total)
			if err := tx.SetCustomerOutstanding(ctx, customer.ID, outstanding); err != nil {
				return err
			}
			if err := tx.InsertCreditEntry(ctx, &domain.CreditLedgerEntry{
				CustomerID:   customer.ID,
				SaleID:       int64Ptr(sale.ID),
				EntryType:    domain.LedgerDebit,
				Amount:       total,
				BalanceAfter: outstanding,
				Note:         fmt.Sprintf("Credit sale #%d", sale.ID),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.SaleResponse{}, err
	}
	s.invalidateReports(ctx, saleReportKeys(sale)...)

	s.logAudit(ctx, "sale_create", "sale", sale.ID, logrus.Fields{
		"total":        sale.Total.StringFixed(2),
		"payment_mode": string(sale.PaymentMode),
		"items":        len(sale.Items),
	})

	resp := domain.SaleResponse{Sale: sale}
	if req.PrintReceipt {
		if _, err := s.printSale(ctx, sale); err != nil {
			logging.LogError(s.logger, moduleName, "CreateSale", "receipt not printed", sale.ID, err)
			resp.Warnings = append(resp.Warnings, "receipt not printed: "+err.Error())
		}
	}
	if sale.PaymentMode == domain.PaymentCard && s.terminal != nil && s.terminal.Configured() {
		started, err := s.startTerminalPayment(ctx, sale)
		if err != nil {
			logging.LogError(s.logger, moduleName, "CreateSale", "terminal payment not started", sale.ID, err)
			resp.Warnings = append(resp.Warnings, "terminal payment not started: "+err.Error())
		} else {
			resp.Sale.TransactionRef = started.TransactionID
		}
	}
	return resp, nil
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, page store.Page) ([]domain.Sale, error) {
	page.Limit = clampLimit(page.Limit, 100, 500)
	if page.Offset < 0 {
		page.Offset = 0
	}
	return s.repo.ListSales(ctx, page)
}

// UpdatePaymentStatus applies a payment callback. It only rewrites the
// status and, when given, the transaction reference, so repeating a call
// is harmless. Stock and credit effects of a failed payment stay in place.
func (s *Service) UpdatePaymentStatus(ctx context.Context, id int64, req domain.PaymentStatusUpdateRequest) (domain.Sale, error) {
	if !req.Status.Valid() {
		return domain.Sale{}, validationError("unknown payment status %q", req.Status)
	}

	sale, err := s.repo.UpdatePaymentStatus(ctx, id, req.Status, req.TransactionRef)
	if err != nil {
		return domain.Sale{}, err
	}
	s.invalidateReports(ctx, saleReportKeys(*sale)...)

	if sale.PaymentStatus == domain.PaymentFailed {
		fields := logrus.Fields{
			"sale_id":      sale.ID,
			"payment_mode": string(sale.PaymentMode),
			"total":        sale.Total.StringFixed(2),
			"items":        len(sale.Items),
		}
		msg := "payment failed: stock deducted by this sale is not restored"
		if sale.PaymentMode == domain.PaymentCredit {
			msg += " and the customer's credit debit remains posted"
		}
		s.logger.WithFields(fields).Warn(msg)
	}

	s.logAudit(ctx, "sale_payment_status", "sale", sale.ID, logrus.Fields{
		"status":          string(sale.PaymentStatus),
		"transaction_ref": sale.TransactionRef,
	})
	return *sale, nil
}
