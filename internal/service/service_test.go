package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"supermarket-pos/backend/internal/domain"
	"supermarket-pos/backend/internal/store"
	"supermarket-pos/backend/internal/store/memory"
)

var (
	adminActor = domain.Actor{UserID: 1, Username: "admin", Role: domain.RoleAdmin}
	staffActor = domain.Actor{UserID: 2, Username: "staff", Role: domain.RoleStaff}
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	return New(repo, Options{}), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), adminActor)
}

func staffCtx() context.Context {
	return WithActor(context.Background(), staffActor)
}

func mustProduct(t *testing.T, svc *Service, name string, price string, tax string, stock string) domain.Product {
	t.Helper()
	p, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:     name,
		Unit:     "pcs",
		Price:    d(price),
		TaxRate:  d(tax),
		StockQty: d(stock),
	})
	if err != nil {
		t.Fatalf("create product %s: %v", name, err)
	}
	return p
}

func mustCustomer(t *testing.T, svc *Service, name string, limit string) domain.Customer {
	t.Helper()
	c, err := svc.CreateCustomer(staffCtx(), domain.CustomerCreateRequest{Name: name, CreditLimit: d(limit)})
	if err != nil {
		t.Fatalf("create customer %s: %v", name, err)
	}
	return c
}

func stockOf(t *testing.T, svc *Service, id int64) decimal.Decimal {
	t.Helper()
	p, err := svc.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %d: %v", id, err)
	}
	return p.StockQty
}

func assertDecimal(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(d(want)) {
		t.Fatalf("%s: expected %s, got %s", label, want, got)
	}
}

func TestCreateSalePricesLineDiscountAndTax(t *testing.T) {
	svc, _ := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "5", "10")

	resp, err := svc.CreateSale(staffCtx(), domain.SaleRequest{
		Items: []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("2"), DiscountPct: d("10")}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	sale := resp.Sale
	assertDecimal(t, "subtotal", sale.Subtotal, "180")
	assertDecimal(t, "tax", sale.Tax, "9")
	assertDecimal(t, "discount", sale.Discount, "0")
	assertDecimal(t, "total", sale.Total, "189")
	if sale.PaymentMode != domain.PaymentCash || sale.PaymentStatus != domain.PaymentSuccess {
		t.Fatalf("expected cash/success, got %s/%s", sale.PaymentMode, sale.PaymentStatus)
	}
	if len(sale.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(sale.Items))
	}
	item := sale.Items[0]
	assertDecimal(t, "item discount", item.Discount, "20")
	assertDecimal(t, "item tax", item.Tax, "9")
	assertDecimal(t, "item subtotal", item.Subtotal, "189")
	assertDecimal(t, "item unit price", item.UnitPrice, "100")
	if item.ProductName != "Rice" {
		t.Fatalf("expected product name snapshot, got %q", item.ProductName)
	}

	assertDecimal(t, "stock", stockOf(t, svc, rice.ID), "8")

	logs, err := svc.ListInventoryLogs(adminCtx(), rice.ID, 0)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected opening stock and sale logs, got %d", len(logs))
	}
	saleLog := logs[0]
	if saleLog.MovementType != domain.MovementSale || saleLog.ReferenceID == nil || *saleLog.ReferenceID != sale.ID {
		t.Fatalf("unexpected sale log: %+v", saleLog)
	}
	assertDecimal(t, "log change", saleLog.ChangeQty, "-2")
	assertDecimal(t, "log before", saleLog.BeforeQty, "10")
	assertDecimal(t, "log after", saleLog.AfterQty, "8")
}

func TestCreateSaleAppliesCartDiscountAfterTax(t *testing.T) {
	svc, _ := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "5", "10")
	soap := mustProduct(t, svc, "Soap", "33.33", "18", "10")

	resp, err := svc.CreateSale(staffCtx(), domain.SaleRequest{
		Items: []domain.SaleLineRequest{
			{ProductID: rice.ID, Qty: d("2"), DiscountPct: d("10")},
			{ProductID: soap.ID, Qty: d("1"), UnitPrice: decimalPtr(d("30"))},
		},
		DiscountPct: d("10"),
		PaymentMode: domain.PaymentUPI,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	// rice: 180 + 9 tax; soap at the overridden price: 30 + 5.4 tax
	sale := resp.Sale
	assertDecimal(t, "subtotal", sale.Subtotal, "210")
	assertDecimal(t, "tax", sale.Tax, "14.4")
	assertDecimal(t, "discount", sale.Discount, "22.44")
	assertDecimal(t, "total", sale.Total, "201.96")
	if !sale.Total.Equal(sale.Subtotal.Add(sale.Tax).Sub(sale.Discount)) {
		t.Fatalf("stored total must equal subtotal + tax - discount")
	}
	assertDecimal(t, "soap unit price", sale.Items[1].UnitPrice, "30")
}

func TestCreateSaleWeighedGoods(t *testing.T) {
	svc, _ := newTestService(t)
	onion := mustProduct(t, svc, "Onion", "40", "0", "5.5")

	resp, err := svc.CreateSale(staffCtx(), domain.SaleRequest{
		Items: []domain.SaleLineRequest{{ProductID: onion.ID, Qty: d("1.255")}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	assertDecimal(t, "total", resp.Sale.Total, "50.2")
	assertDecimal(t, "stock", stockOf(t, svc, onion.ID), "4.245")
}

func decimalPtr(v decimal.Decimal) *decimal.Decimal {
	return &v
}

func TestCreateSaleValidation(t *testing.T) {
	svc, _ := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "5", "10")

	cases := []struct {
		name string
		req  domain.SaleRequest
	}{
		{name: "empty cart", req: domain.SaleRequest{}},
		{name: "zero qty", req: domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("0")}}}},
		{name: "negative price", req: domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("1"), UnitPrice: decimalPtr(d("-1"))}}}},
		{name: "line discount over 100", req: domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("1"), DiscountPct: d("101")}}}},
		{name: "cart discount negative", req: domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("1")}}, DiscountPct: d("-5")}},
		{name: "unknown mode", req: domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("1")}}, PaymentMode: "cheque"}},
		{name: "credit without customer", req: domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("1")}}, PaymentMode: domain.PaymentCredit}},
	}

	for _, tc := range cases {
		_, err := svc.CreateSale(staffCtx(), tc.req)
		if !errors.Is(err, store.ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
	assertDecimal(t, "stock", stockOf(t, svc, rice.ID), "10")
}

func TestCreateSaleRequiresAuthenticatedUser(t *testing.T) {
	svc, _ := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "5", "10")

	_, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		Items: []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("1")}},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateSaleInsufficientStockChangesNothing(t *testing.T) {
	svc, repo := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "5", "10")
	tea := mustProduct(t, svc, "Tea", "140", "5", "3")

	_, err := svc.CreateSale(staffCtx(), domain.SaleRequest{
		Items: []domain.SaleLineRequest{
			{ProductID: rice.ID, Qty: d("1")},
			{ProductID: tea.ID, Qty: d("5")},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	// repeated lines of one product are checked together
	_, err = svc.CreateSale(staffCtx(), domain.SaleRequest{
		Items: []domain.SaleLineRequest{
			{ProductID: tea.ID, Qty: d("2")},
			{ProductID: tea.ID, Qty: d("2")},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock for repeated lines, got %v", err)
	}

	assertDecimal(t, "rice stock", stockOf(t, svc, rice.ID), "10")
	assertDecimal(t, "tea stock", stockOf(t, svc, tea.ID), "3")
	sales, _ := repo.ListSales(context.Background(), store.Page{})
	if len(sales) != 0 {
		t.Fatalf("expected no sales, got %d", len(sales))
	}
	logs, _ := repo.ListInventoryLogs(context.Background(), 0, 0)
	if len(logs) != 2 {
		t.Fatalf("expected only the two opening stock logs, got %d", len(logs))
	}
}

func TestCreateSaleUnknownOrInactiveProduct(t *testing.T) {
	svc, _ := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "5", "10")

	_, err := svc.CreateSale(staffCtx(), domain.SaleRequest{
		Items: []domain.SaleLineRequest{{ProductID: 999, Qty: d("1")}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown product, got %v", err)
	}

	if err := svc.DeleteProduct(adminCtx(), rice.ID); err != nil {
		t.Fatalf("delete product: %v", err)
	}
	_, err = svc.CreateSale(staffCtx(), domain.SaleRequest{
		Items: []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("1")}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for inactive product, got %v", err)
	}
}

func TestCreditSalePostsLedgerDebit(t *testing.T) {
	svc, _ := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "5", "10")
	customer := mustCustomer(t, svc, "Tea Stall", "500")

	resp, err := svc.CreateSale(staffCtx(), domain.SaleRequest{
		CustomerID:  &customer.ID,
		Items:       []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("2"), DiscountPct: d("10")}},
		PaymentMode: domain.PaymentCredit,
	})
	if err != nil {
		t.Fatalf("credit sale: %v", err)
	}

	reloaded, _ := svc.GetCustomer(context.Background(), customer.ID)
	assertDecimal(t, "outstanding", reloaded.OutstandingCredit, "189")

	ledger, err := svc.ListCreditLedger(context.Background(), customer.ID, 0)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(ledger) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(ledger))
	}
	entry := ledger[0]
	if entry.EntryType != domain.LedgerDebit || entry.SaleID == nil || *entry.SaleID != resp.Sale.ID || entry.IsSettled {
		t.Fatalf("unexpected ledger entry: %+v", entry)
	}
	assertDecimal(t, "ledger amount", entry.Amount, "189")
	assertDecimal(t, "ledger balance", entry.BalanceAfter, "189")

	rows, err := svc.CreditSummary(adminCtx())
	if err != nil || len(rows) != 1 || rows[0].ID != customer.ID {
		t.Fatalf("expected customer in credit summary, got %v (%v)", rows, err)
	}
}

func TestCreditSaleOverLimitChangesNothing(t *testing.T) {
	svc, repo := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "5", "10")
	customer := mustCustomer(t, svc, "Tea Stall", "150")

	_, err := svc.CreateSale(staffCtx(), domain.SaleRequest{
		CustomerID:  &customer.ID,
		Items:       []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("2"), DiscountPct: d("10")}},
		PaymentMode: domain.PaymentCredit,
	})
	if !errors.Is(err, store.ErrCreditLimitExceeded) {
		t.Fatalf("expected ErrCreditLimitExceeded, got %v", err)
	}

	reloaded, _ := svc.GetCustomer(context.Background(), customer.ID)
	assertDecimal(t, "outstanding", reloaded.OutstandingCredit, "0")
	assertDecimal(t, "stock", stockOf(t, svc, rice.ID), "10")
	ledger, _ := repo.ListCreditLedger(context.Background(), customer.ID, 0)
	if len(ledger) != 0 {
		t.Fatalf("expected empty ledger, got %d entries", len(ledger))
	}
}

func TestCreditSaleUnknownCustomer(t *testing.T) {
	svc, _ := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "5", "10")
	missing := int64(42)

	for _, mode := range []domain.PaymentMode{domain.PaymentCredit, domain.PaymentCash} {
		_, err := svc.CreateSale(staffCtx(), domain.SaleRequest{
			CustomerID:  &missing,
			Items:       []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("1")}},
			PaymentMode: mode,
		})
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", mode, err)
		}
	}
	assertDecimal(t, "stock", stockOf(t, svc, rice.ID), "10")
}

func TestSettleCreditMarksDebitsSettled(t *testing.T) {
	svc, _ := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "0", "10")
	customer := mustCustomer(t, svc, "Tea Stall", "1000")

	for i := 0; i < 2; i++ {
		if _, err := svc.CreateSale(staffCtx(), domain.SaleRequest{
			CustomerID:  &customer.ID,
			Items:       []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("1")}},
			PaymentMode: domain.PaymentCredit,
		}); err != nil {
			t.Fatalf("credit sale %d: %v", i, err)
		}
	}

	if _, err := svc.SettleCredit(adminCtx(), customer.ID, domain.CreditSettlementRequest{Amount: d("250")}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for overpayment, got %v", err)
	}
	if _, err := svc.SettleCredit(staffCtx(), customer.ID, domain.CreditSettlementRequest{Amount: d("50")}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for staff, got %v", err)
	}

	partial, err := svc.SettleCredit(adminCtx(), customer.ID, domain.CreditSettlementRequest{Amount: d("50")})
	if err != nil {
		t.Fatalf("partial settlement: %v", err)
	}
	assertDecimal(t, "balance after partial", partial.BalanceAfter, "150")

	ledger, _ := svc.ListCreditLedger(context.Background(), customer.ID, 0)
	for _, e := range ledger {
		if e.EntryType == domain.LedgerDebit && e.IsSettled {
			t.Fatalf("debits must stay open while a balance remains")
		}
	}

	if _, err := svc.SettleCredit(adminCtx(), customer.ID, domain.CreditSettlementRequest{Amount: d("150")}); err != nil {
		t.Fatalf("final settlement: %v", err)
	}
	reloaded, _ := svc.GetCustomer(context.Background(), customer.ID)
	assertDecimal(t, "outstanding", reloaded.OutstandingCredit, "0")

	ledger, _ = svc.ListCreditLedger(context.Background(), customer.ID, 0)
	if len(ledger) != 4 {
		t.Fatalf("expected 2 debits and 2 credits, got %d", len(ledger))
	}
	for _, e := range ledger {
		if !e.IsSettled {
			t.Fatalf("expected every entry settled, got %+v", e)
		}
	}
}

func TestRestockAccumulates(t *testing.T) {
	svc, _ := newTestService(t)
	milk := mustProduct(t, svc, "Milk", "27", "0", "0")

	for _, qty := range []string{"10", "5"} {
		if _, err := svc.Restock(adminCtx(), domain.RestockRequest{ProductID: milk.ID, Qty: d(qty)}); err != nil {
			t.Fatalf("restock %s: %v", qty, err)
		}
	}
	assertDecimal(t, "stock", stockOf(t, svc, milk.ID), "15")

	logs, _ := svc.ListInventoryLogs(adminCtx(), milk.ID, 0)
	if len(logs) != 2 {
		t.Fatalf("expected 2 restock logs, got %d", len(logs))
	}
	latest := logs[0]
	if latest.MovementType != domain.MovementRestock || latest.Reason != "Restock" {
		t.Fatalf("unexpected log %+v", latest)
	}
	assertDecimal(t, "before", latest.BeforeQty, "10")
	assertDecimal(t, "after", latest.AfterQty, "15")
}

func TestAdjustStockRules(t *testing.T) {
	svc, _ := newTestService(t)
	bread := mustProduct(t, svc, "Bread", "45", "5", "4")

	cases := []struct {
		name string
		ctx  context.Context
		req  domain.StockAdjustmentRequest
		want error
	}{
		{name: "staff", ctx: staffCtx(), req: domain.StockAdjustmentRequest{ProductID: bread.ID, Delta: d("1")}, want: ErrForbidden},
		{name: "zero delta", ctx: adminCtx(), req: domain.StockAdjustmentRequest{ProductID: bread.ID, Delta: d("0")}, want: store.ErrValidation},
		{name: "negative restock", ctx: adminCtx(), req: domain.StockAdjustmentRequest{ProductID: bread.ID, Delta: d("-1"), MovementType: domain.MovementRestock}, want: store.ErrValidation},
		{name: "sale movement", ctx: adminCtx(), req: domain.StockAdjustmentRequest{ProductID: bread.ID, Delta: d("-1"), MovementType: domain.MovementSale}, want: store.ErrValidation},
		{name: "below zero", ctx: adminCtx(), req: domain.StockAdjustmentRequest{ProductID: bread.ID, Delta: d("-5")}, want: store.ErrInsufficientStock},
		{name: "unknown product", ctx: adminCtx(), req: domain.StockAdjustmentRequest{ProductID: 99, Delta: d("1")}, want: store.ErrNotFound},
	}
	for _, tc := range cases {
		if _, err := svc.AdjustStock(tc.ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	entry, err := svc.AdjustStock(adminCtx(), domain.StockAdjustmentRequest{ProductID: bread.ID, Delta: d("-1.5")})
	if err != nil {
		t.Fatalf("damage write-off: %v", err)
	}
	if entry.Reason != "Manual adjustment" || entry.MovementType != domain.MovementAdjustment {
		t.Fatalf("unexpected entry %+v", entry)
	}

	ret, err := svc.AdjustStock(adminCtx(), domain.StockAdjustmentRequest{ProductID: bread.ID, Delta: d("1"), MovementType: domain.MovementReturn})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	assertDecimal(t, "after return", ret.AfterQty, "3.5")
	assertDecimal(t, "stock", stockOf(t, svc, bread.ID), "3.5")
}

func TestPaymentStatusCallbackIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "5", "10")

	resp, err := svc.CreateSale(staffCtx(), domain.SaleRequest{
		Items:       []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("1")}},
		PaymentMode: domain.PaymentCard,
	})
	if err != nil {
		t.Fatalf("card sale: %v", err)
	}
	if resp.Sale.PaymentStatus != domain.PaymentPending {
		t.Fatalf("card sale should start pending, got %s", resp.Sale.PaymentStatus)
	}

	update := domain.PaymentStatusUpdateRequest{Status: domain.PaymentSuccess, TransactionRef: "PL-123"}
	first, err := svc.UpdatePaymentStatus(staffCtx(), resp.Sale.ID, update)
	if err != nil {
		t.Fatalf("first callback: %v", err)
	}
	second, err := svc.UpdatePaymentStatus(staffCtx(), resp.Sale.ID, update)
	if err != nil {
		t.Fatalf("second callback: %v", err)
	}
	if first.PaymentStatus != second.PaymentStatus || first.TransactionRef != second.TransactionRef || !first.Total.Equal(second.Total) {
		t.Fatalf("callbacks diverged: %+v vs %+v", first, second)
	}
	if second.TransactionRef != "PL-123" {
		t.Fatalf("expected ref PL-123, got %q", second.TransactionRef)
	}

	// an empty ref keeps the stored one
	failed, err := svc.UpdatePaymentStatus(staffCtx(), resp.Sale.ID, domain.PaymentStatusUpdateRequest{Status: domain.PaymentFailed})
	if err != nil {
		t.Fatalf("failed callback: %v", err)
	}
	if failed.TransactionRef != "PL-123" {
		t.Fatalf("expected ref to be kept, got %q", failed.TransactionRef)
	}
	assertDecimal(t, "stock after failed payment", stockOf(t, svc, rice.ID), "9")

	if _, err := svc.UpdatePaymentStatus(staffCtx(), 999, update); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.UpdatePaymentStatus(staffCtx(), resp.Sale.ID, domain.PaymentStatusUpdateRequest{Status: "refunded"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc, repo := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "5", "10")

	const buyers = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateSale(staffCtx(), domain.SaleRequest{
				Items: []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("2")}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, store.ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 || rejected != buyers-5 {
		t.Fatalf("expected 5 sales and %d rejections, got %d and %d", buyers-5, succeeded, rejected)
	}
	assertDecimal(t, "stock", stockOf(t, svc, rice.ID), "0")

	logs, _ := repo.ListInventoryLogs(context.Background(), rice.ID, 0)
	saleLogs := 0
	for _, l := range logs {
		if l.MovementType == domain.MovementSale {
			saleLogs++
		}
	}
	if saleLogs != 5 {
		t.Fatalf("expected 5 sale logs, got %d", saleLogs)
	}
}

func TestCreateSaleCancelledContextWritesNothing(t *testing.T) {
	svc, repo := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "5", "10")

	ctx, cancel := context.WithCancel(staffCtx())
	cancel()
	_, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items: []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("1")}},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	assertDecimal(t, "stock", stockOf(t, svc, rice.ID), "10")
	sales, _ := repo.ListSales(context.Background(), store.Page{})
	if len(sales) != 0 {
		t.Fatalf("expected no sales, got %d", len(sales))
	}
}

func TestPrintReceiptFailureIsAWarning(t *testing.T) {
	svc, _ := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "5", "10")

	resp, err := svc.CreateSale(staffCtx(), domain.SaleRequest{
		Items:        []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("1")}},
		PrintReceipt: true,
	})
	if err != nil {
		t.Fatalf("sale must commit even when printing fails: %v", err)
	}
	if len(resp.Warnings) != 1 || !strings.Contains(resp.Warnings[0], "receipt not printed") {
		t.Fatalf("expected a print warning, got %v", resp.Warnings)
	}
	if _, err := svc.GetSale(context.Background(), resp.Sale.ID); err != nil {
		t.Fatalf("sale should be stored: %v", err)
	}
}

func TestDailySummaryExcludesFailedSales(t *testing.T) {
	svc, _ := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "0", "10")

	cash, err := svc.CreateSale(staffCtx(), domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("1")}}})
	if err != nil {
		t.Fatalf("cash sale: %v", err)
	}
	card, err := svc.CreateSale(staffCtx(), domain.SaleRequest{
		Items:       []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("2")}},
		PaymentMode: domain.PaymentCard,
	})
	if err != nil {
		t.Fatalf("card sale: %v", err)
	}
	if _, err := svc.UpdatePaymentStatus(staffCtx(), card.Sale.ID, domain.PaymentStatusUpdateRequest{Status: domain.PaymentFailed}); err != nil {
		t.Fatalf("fail card: %v", err)
	}

	summary, err := svc.DailySummary(adminCtx(), cash.Sale.CreatedAt.Format("2006-01-02"))
	if err != nil {
		t.Fatalf("daily summary: %v", err)
	}
	assertDecimal(t, "revenue", summary.TotalRevenue, "100")
	if summary.TotalTransactions != 1 {
		t.Fatalf("expected 1 transaction, got %d", summary.TotalTransactions)
	}
	assertDecimal(t, "cash", summary.PaymentBreakdown.Cash, "100")
	assertDecimal(t, "card", summary.PaymentBreakdown.Card, "0")

	if _, err := svc.DailySummary(staffCtx(), ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for staff, got %v", err)
	}
	if _, err := svc.DailySummary(adminCtx(), "14/03/2026"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for bad date, got %v", err)
	}

	csvExport, err := svc.ExportDailySummary(adminCtx(), summary.Date, "csv")
	if err != nil {
		t.Fatalf("csv export: %v", err)
	}
	if !strings.Contains(string(csvExport.Body), summary.Date+",cash,100.00") {
		t.Fatalf("unexpected csv:\n%s", csvExport.Body)
	}
	xlsx, err := svc.ExportDailySummary(adminCtx(), summary.Date, "xlsx")
	if err != nil {
		t.Fatalf("xlsx export: %v", err)
	}
	if !strings.HasPrefix(string(xlsx.Body), "PK") || !strings.HasSuffix(xlsx.FileName, ".xlsx") {
		t.Fatalf("expected a zip-based xlsx file, got %s", xlsx.FileName)
	}
	if _, err := svc.ExportDailySummary(adminCtx(), summary.Date, "pdf"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for pdf, got %v", err)
	}
}

func TestTopProductsAndMonthlyRevenue(t *testing.T) {
	svc, _ := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "0", "10")
	tea := mustProduct(t, svc, "Tea", "10", "0", "10")

	for _, line := range []domain.SaleLineRequest{
		{ProductID: tea.ID, Qty: d("3")},
		{ProductID: rice.ID, Qty: d("1")},
	} {
		if _, err := svc.CreateSale(staffCtx(), domain.SaleRequest{Items: []domain.SaleLineRequest{line}}); err != nil {
			t.Fatalf("sale: %v", err)
		}
	}

	top, err := svc.TopProducts(adminCtx(), 0)
	if err != nil {
		t.Fatalf("top products: %v", err)
	}
	if len(top) != 2 || top[0].ProductID != rice.ID {
		t.Fatalf("expected rice first, got %+v", top)
	}
	assertDecimal(t, "tea qty", top[1].TotalQty, "3")

	months, err := svc.MonthlyRevenue(adminCtx(), 0)
	if err != nil {
		t.Fatalf("monthly revenue: %v", err)
	}
	if len(months) != 1 || months[0].Transactions != 2 {
		t.Fatalf("expected one month with 2 sales, got %+v", months)
	}
	assertDecimal(t, "month revenue", months[0].Revenue, "130")
}

func TestLowStockListsProductsAtThreshold(t *testing.T) {
	svc := New(memory.NewSeeded(), Options{})

	items, err := svc.LowStock(context.Background())
	if err != nil {
		t.Fatalf("low stock: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Sugar (loose)" {
		t.Fatalf("expected sugar to be low, got %+v", items)
	}
}

func TestProductCatalogRules(t *testing.T) {
	svc := New(memory.NewSeeded(), Options{})

	p, err := svc.LookupBarcode(context.Background(), "8901030865278\r\n")
	if err != nil || p.Name != "Basmati Rice 1kg" {
		t.Fatalf("barcode lookup: %+v %v", p, err)
	}
	if _, err := svc.LookupBarcode(context.Background(), "12"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for short barcode, got %v", err)
	}

	_, err = svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Name: "Dup", Barcode: "8901030865278", Price: d("1")})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate barcode, got %v", err)
	}
	if _, err := svc.CreateProduct(staffCtx(), domain.ProductCreateRequest{Name: "Nope", Price: d("1")}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for staff, got %v", err)
	}

	price := d("125")
	updated, err := svc.UpdateProduct(adminCtx(), p.ID, domain.ProductUpdateRequest{Price: &price})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	assertDecimal(t, "price", updated.Price, "125")
	assertDecimal(t, "stock untouched", updated.StockQty, p.StockQty.String())

	results, err := svc.SearchProducts(context.Background(), "rice")
	if err != nil || len(results) == 0 {
		t.Fatalf("expected search hits, got %v (%v)", results, err)
	}
}

func TestCustomerPhoneIsNormalized(t *testing.T) {
	svc, _ := newTestService(t)

	c, err := svc.CreateCustomer(staffCtx(), domain.CustomerCreateRequest{Name: "Asha", Phone: "98765 43211"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	if c.Phone != "+919876543211" {
		t.Fatalf("expected E.164 phone, got %q", c.Phone)
	}
	if _, err := svc.CreateCustomer(staffCtx(), domain.CustomerCreateRequest{Name: "Dup", Phone: "+91 98765 43211"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate phone, got %v", err)
	}
	if _, err := svc.CreateCustomer(staffCtx(), domain.CustomerCreateRequest{Name: "Bad", Phone: "12"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for bad phone, got %v", err)
	}

	limit := d("100")
	if _, err := svc.UpdateCustomer(staffCtx(), c.ID, domain.CustomerUpdateRequest{CreditLimit: &limit}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for staff limit change, got %v", err)
	}
	updated, err := svc.UpdateCustomer(adminCtx(), c.ID, domain.CustomerUpdateRequest{CreditLimit: &limit})
	if err != nil {
		t.Fatalf("update limit: %v", err)
	}
	assertDecimal(t, "limit", updated.CreditLimit, "100")
}

func TestAmountsBeyondStoredScaleAreRejected(t *testing.T) {
	svc, _ := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "100", "0", "10")
	price := d("33.333")

	cases := []struct {
		name string
		run  func() error
	}{
		{"sale qty", func() error {
			_, err := svc.CreateSale(staffCtx(), domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("0.0005")}}})
			return err
		}},
		{"sale unit price", func() error {
			_, err := svc.CreateSale(staffCtx(), domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("3"), UnitPrice: &price}}})
			return err
		}},
		{"adjustment delta", func() error {
			_, err := svc.AdjustStock(adminCtx(), domain.StockAdjustmentRequest{ProductID: rice.ID, Delta: d("-1.0005")})
			return err
		}},
		{"restock qty", func() error {
			_, err := svc.Restock(adminCtx(), domain.RestockRequest{ProductID: rice.ID, Qty: d("2.5001")})
			return err
		}},
		{"tax rate", func() error {
			_, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Name: "Oil", Price: d("10"), TaxRate: d("5.125")})
			return err
		}},
		{"opening stock", func() error {
			_, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Name: "Oil", Price: d("10"), StockQty: d("1.0001")})
			return err
		}},
		{"min stock alert", func() error {
			_, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Name: "Oil", Price: d("10"), MinStockAlert: d("0.0001")})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.run(); !errors.Is(err, store.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
	assertDecimal(t, "stock", stockOf(t, svc, rice.ID), "10")

	exact := d("33.33")
	resp, err := svc.CreateSale(staffCtx(), domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("3"), UnitPrice: &exact}}})
	if err != nil {
		t.Fatalf("sale at stored scale: %v", err)
	}
	item := resp.Sale.Items[0]
	assertDecimal(t, "line subtotal", item.Subtotal, item.UnitPrice.Mul(item.Qty).Round(2).String())
}

func TestCreateProductBooksOpeningStockInOneStep(t *testing.T) {
	svc, repo := newTestService(t)

	oil := mustProduct(t, svc, "Oil", "150", "5", "12.5")
	assertDecimal(t, "stock", oil.StockQty, "12.5")
	logs, _ := repo.ListInventoryLogs(context.Background(), oil.ID, 0)
	if len(logs) != 1 || logs[0].MovementType != domain.MovementRestock || !logs[0].BeforeQty.IsZero() {
		t.Fatalf("expected one opening restock row, got %+v", logs)
	}

	_, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Name: "Ghee", Barcode: "GHEE-1", Price: d("500"), StockQty: d("4")})
	if err != nil {
		t.Fatalf("create ghee: %v", err)
	}
	_, err = svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Name: "Ghee copy", Barcode: "GHEE-1", Price: d("500"), StockQty: d("4")})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	all, _ := repo.ListInventoryLogs(context.Background(), 0, 0)
	if len(all) != 2 {
		t.Fatalf("expected only the two opening rows, got %d", len(all))
	}
}

func TestCreditLimitCannotDropBelowOutstanding(t *testing.T) {
	svc, _ := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "10", "0", "1000")
	customer := mustCustomer(t, svc, "Tea Stall", "1000")

	if _, err := svc.CreateSale(staffCtx(), domain.SaleRequest{
		CustomerID:  &customer.ID,
		Items:       []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("10")}},
		PaymentMode: domain.PaymentCredit,
	}); err != nil {
		t.Fatalf("credit sale: %v", err)
	}

	low := d("50")
	if _, err := svc.UpdateCustomer(adminCtx(), customer.ID, domain.CustomerUpdateRequest{CreditLimit: &low}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation below outstanding, got %v", err)
	}
	name := "Tea Stall North"
	limit := d("150")
	updated, err := svc.UpdateCustomer(adminCtx(), customer.ID, domain.CustomerUpdateRequest{Name: &name, CreditLimit: &limit})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != name {
		t.Fatalf("expected renamed customer, got %q", updated.Name)
	}
	assertDecimal(t, "limit", updated.CreditLimit, "150")
	assertDecimal(t, "outstanding kept", updated.OutstandingCredit, "100")
}

func TestCreditLimitChangeRacingCreditSales(t *testing.T) {
	svc, _ := newTestService(t)
	rice := mustProduct(t, svc, "Rice", "10", "0", "1000")
	customer := mustCustomer(t, svc, "Tea Stall", "1000")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.CreateSale(staffCtx(), domain.SaleRequest{
				CustomerID:  &customer.ID,
				Items:       []domain.SaleLineRequest{{ProductID: rice.ID, Qty: d("1")}},
				PaymentMode: domain.PaymentCredit,
			})
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		limit := d("100")
		_, _ = svc.UpdateCustomer(adminCtx(), customer.ID, domain.CustomerUpdateRequest{CreditLimit: &limit})
	}()
	wg.Wait()

	final, _ := svc.GetCustomer(context.Background(), customer.ID)
	if final.OutstandingCredit.GreaterThan(final.CreditLimit) {
		t.Fatalf("outstanding %s exceeds limit %s", final.OutstandingCredit, final.CreditLimit)
	}
}
