package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"supermarket-pos/backend/internal/domain"
	"supermarket-pos/backend/internal/store"
)

const defaultInventoryLogLimit = 200

func (s *Service) Restock(ctx context.Context, req domain.RestockRequest) (domain.InventoryLog, error) {
	return s.AdjustStock(ctx, domain.StockAdjustmentRequest{
		ProductID:    req.ProductID,
		Delta:        req.Qty,
		MovementType: domain.MovementRestock,
		Reason:       req.Reason,
	})
}

// RecordReturn puts returned goods back on the shelf.
func (s *Service) RecordReturn(ctx context.Context, req domain.RestockRequest) (domain.InventoryLog, error) {
	return s.AdjustStock(ctx, domain.StockAdjustmentRequest{
		ProductID:    req.ProductID,
		Delta:        req.Qty,
		MovementType: domain.MovementReturn,
		Reason:       req.Reason,
	})
}

// AdjustStock applies a restock, manual adjustment or customer return and
// appends the matching inventory log row.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustmentRequest) (domain.InventoryLog, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.InventoryLog{}, err
	}
	if req.MovementType == "" {
		req.MovementType = domain.MovementAdjustment
	}
	if req.ProductID < 1 {
		return domain.InventoryLog{}, validationError("product_id is required")
	}
	if !fitsPlaces(req.Delta, qtyPlaces) {
		return domain.InventoryLog{}, validationError("qty allows at most %d decimal places", qtyPlaces)
	}

	switch req.MovementType {
	case domain.MovementRestock:
		if !req.Delta.IsPositive() {
			return domain.InventoryLog{}, validationError("restock qty must be greater than 0")
		}
		req.Reason = defaultString(req.Reason, "Restock")
	case domain.MovementReturn:
		if !req.Delta.IsPositive() {
			return domain.InventoryLog{}, validationError("return qty must be greater than 0")
		}
		req.Reason = defaultString(req.Reason, "Customer return")
	case domain.MovementAdjustment:
		if req.Delta.IsZero() {
			return domain.InventoryLog{}, validationError("adjustment delta must not be zero")
		}
		req.Reason = defaultString(req.Reason, "Manual adjustment")
	case domain.MovementSale:
		return domain.InventoryLog{}, validationError("sale movements are recorded by sales only")
	default:
		return domain.InventoryLog{}, validationError("unknown movement type %q", req.MovementType)
	}

	entry, err := s.moveStock(ctx, actor, req)
	if err != nil {
		return domain.InventoryLog{}, err
	}
	s.logAudit(ctx, "stock_"+string(entry.MovementType), "product", entry.ProductID, logrus.Fields{
		"change_qty": entry.ChangeQty.String(),
		"after_qty":  entry.AfterQty.String(),
	})
	return entry, nil
}

func (s *Service) moveStock(ctx context.Context, actor domain.Actor, req domain.StockAdjustmentRequest) (domain.InventoryLog, error) {
	var entry domain.InventoryLog
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		entry, err = bookStockMove(ctx, tx, actor, req)
		return err
	})
	return entry, err
}

// bookStockMove locks the product, applies the delta and appends the log
// row inside the caller's transaction.
func bookStockMove(ctx context.Context, tx store.Tx, actor domain.Actor, req domain.StockAdjustmentRequest) (domain.InventoryLog, error) {
	locked, err := tx.LockProducts(ctx, []int64{req.ProductID})
	if err != nil {
		return domain.InventoryLog{}, err
	}
	product, ok := locked[req.ProductID]
	if !ok {
		return domain.InventoryLog{}, fmt.Errorf("%w: product %d", store.ErrNotFound, req.ProductID)
	}

	after := product.StockQty.Add(req.Delta)
	if after.IsNegative() {
		return domain.InventoryLog{}, fmt.Errorf("%w: %s has %s, adjustment %s",
			store.ErrInsufficientStock, product.Name, product.StockQty, req.Delta)
	}
	if err := tx.SetProductStock(ctx, product.ID, after); err != nil {
		return domain.InventoryLog{}, err
	}

	entry := domain.InventoryLog{
		ProductID:    product.ID,
		MovementType: req.MovementType,
		ChangeQty:    req.Delta,
		BeforeQty:    product.StockQty,
		AfterQty:     after,
		Reason:       req.Reason,
		CreatedBy:    int64Ptr(actor.UserID),
	}
	if err := tx.InsertInventoryLog(ctx, &entry); err != nil {
		return domain.InventoryLog{}, err
	}
	return entry, nil
}

func (s *Service) ListInventoryLogs(ctx context.Context, productID int64, limit int) ([]domain.InventoryLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if productID < 0 {
		return nil, validationError("product_id must not be negative")
	}
	return s.repo.ListInventoryLogs(ctx, productID, clampLimit(limit, defaultInventoryLogLimit, 1000))
}

// LowStock lists active products at or below their reorder threshold.
func (s *Service) LowStock(ctx context.Context) ([]domain.LowStockItem, error) {
	products, err := s.repo.ListLowStock(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]domain.LowStockItem, 0, len(products))
	for _, p := range products {
		items = append(items, domain.LowStockItem{
			ID:            p.ID,
			Name:          p.Name,
			StockQty:      p.StockQty,
			MinStockAlert: p.MinStockAlert,
			Unit:          p.Unit,
		})
	}
	return items, nil
}
