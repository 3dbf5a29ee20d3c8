package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"supermarket-pos/backend/internal/domain"
	"supermarket-pos/backend/internal/store"
)

func TestConcurrentStockDecrementHoldsRowLock(t *testing.T) {
	databaseURL := os.Getenv("POS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POS_TEST_DATABASE_URL to run postgres integration test")
	}
	if err := Migrate(databaseURL); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	product, err := s.CreateProduct(ctx, domain.Product{
		Barcode:       fmt.Sprintf("IT-%d", stamp%1_000_000_000),
		Name:          "Integration Rice",
		Unit:          "pcs",
		Price:         decimal.NewFromInt(50),
		TaxRate:       decimal.Zero,
		StockQty:      decimal.NewFromInt(5),
		MinStockAlert: decimal.Zero,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_logs WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	const workers = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunInTx(ctx, func(tx store.Tx) error {
				locked, err := tx.LockProducts(ctx, []int64{product.ID})
				if err != nil {
					return err
				}
				p := locked[product.ID]
				one := decimal.NewFromInt(1)
				if p.StockQty.LessThan(one) {
					return store.ErrInsufficientStock
				}
				after := p.StockQty.Sub(one)
				if err := tx.SetProductStock(ctx, p.ID, after); err != nil {
					return err
				}
				return tx.InsertInventoryLog(ctx, &domain.InventoryLog{
					ProductID:    p.ID,
					MovementType: domain.MovementSale,
					ChangeQty:    one.Neg(),
					BeforeQty:    p.StockQty,
					AfterQty:     after,
					Reason:       "integration",
				})
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

	if succeeded != 5 || rejected != workers-5 {
		t.Fatalf("expected 5 successes and %d rejections, got %d and %d", workers-5, succeeded, rejected)
	}

	reloaded, err := s.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if !reloaded.StockQty.IsZero() {
		t.Fatalf("expected stock 0, got %s", reloaded.StockQty)
	}

	logs, err := s.ListInventoryLogs(ctx, product.ID, 0)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 5 {
		t.Fatalf("expected 5 inventory logs, got %d", len(logs))
	}
}
