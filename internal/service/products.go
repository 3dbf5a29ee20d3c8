package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"supermarket-pos/backend/internal/domain"
	"supermarket-pos/backend/internal/hardware"
	"supermarket-pos/backend/internal/store"
)

const searchLimit = 50

func (s *Service) ListProducts(ctx context.Context, page store.Page) ([]domain.Product, error) {
	page.Limit = clampLimit(page.Limit, 100, 500)
	if page.Offset < 0 {
		page.Offset = 0
	}
	return s.repo.ListProducts(ctx, page)
}

func (s *Service) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Product{}, nil
	}
	return s.repo.SearchProducts(ctx, query, searchLimit)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// LookupBarcode resolves a raw scanner read to an active product.
func (s *Service) LookupBarcode(ctx context.Context, raw string) (domain.Product, error) {
	code := hardware.CleanBarcode(raw)
	if !hardware.ValidBarcode(code) {
		return domain.Product{}, validationError("invalid barcode %q", code)
	}
	product, err := s.repo.GetProductByBarcode(ctx, code)
	if err != nil {
		return domain.Product{}, err
	}
	if !product.Active {
		return domain.Product{}, fmt.Errorf("%w: barcode %s", store.ErrNotFound, code)
	}
	return *product, nil
}

func normalizeBarcode(raw string) (string, error) {
	code := hardware.CleanBarcode(raw)
	if code == "" {
		return "", nil
	}
	if !hardware.ValidBarcode(code) {
		return "", validationError("barcode must be 4-20 letters, digits or dashes")
	}
	return code, nil
}

func validateProductAmounts(price, taxRate, minStock decimal.Decimal) error {
	if price.IsNegative() {
		return validationError("price must not be negative")
	}
	if !validPercent(taxRate) {
		return validationError("tax_rate must be between 0 and 100")
	}
	if !fitsPlaces(taxRate, moneyPlaces) {
		return validationError("tax_rate allows at most %d decimal places", moneyPlaces)
	}
	if minStock.IsNegative() {
		return validationError("min_stock_alert must not be negative")
	}
	if !fitsPlaces(minStock, qtyPlaces) {
		return validationError("min_stock_alert allows at most %d decimal places", qtyPlaces)
	}
	return nil
}

// CreateProduct adds a catalog entry. Opening stock is booked through the
// inventory ledger in the same transaction, so the first log row explains
// the starting quantity.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, validationError("name is required")
	}
	barcode, err := normalizeBarcode(req.Barcode)
	if err != nil {
		return domain.Product{}, err
	}
	if err := validateProductAmounts(req.Price, req.TaxRate, req.MinStockAlert); err != nil {
		return domain.Product{}, err
	}
	if req.StockQty.IsNegative() {
		return domain.Product{}, validationError("stock_qty must not be negative")
	}
	if !fitsPlaces(req.StockQty, qtyPlaces) {
		return domain.Product{}, validationError("stock_qty allows at most %d decimal places", qtyPlaces)
	}

	product := domain.Product{
		Barcode:       barcode,
		Name:          name,
		Category:      strings.TrimSpace(req.Category),
		Unit:          defaultString(req.Unit, "pcs"),
		Price:         money(req.Price),
		TaxRate:       req.TaxRate,
		StockQty:      decimal.Zero,
		MinStockAlert: req.MinStockAlert,
		Active:        true,
	}
	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertProduct(ctx, &product); err != nil {
			return err
		}
		if !req.StockQty.IsPositive() {
			return nil
		}
		entry, err := bookStockMove(ctx, tx, actor, domain.StockAdjustmentRequest{
			ProductID:    product.ID,
			Delta:        req.StockQty,
			MovementType: domain.MovementRestock,
			Reason:       "Opening stock",
		})
		if err != nil {
			return err
		}
		product.StockQty = entry.AfterQty
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", product.ID, logrus.Fields{"name": product.Name})
	return product, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	current, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	product := *current

	if req.Barcode != nil {
		barcode, err := normalizeBarcode(*req.Barcode)
		if err != nil {
			return domain.Product{}, err
		}
		product.Barcode = barcode
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, validationError("name must not be empty")
		}
		product.Name = name
	}
	if req.Category != nil {
		product.Category = strings.TrimSpace(*req.Category)
	}
	if req.Unit != nil {
		product.Unit = defaultString(*req.Unit, product.Unit)
	}
	if req.Price != nil {
		product.Price = money(*req.Price)
	}
	if req.TaxRate != nil {
		product.TaxRate = *req.TaxRate
	}
	if req.MinStockAlert != nil {
		product.MinStockAlert = *req.MinStockAlert
	}
	if err := validateProductAmounts(product.Price, product.TaxRate, product.MinStockAlert); err != nil {
		return domain.Product{}, err
	}

	updated, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "product_update", "product", updated.ID, nil)
	return *updated, nil
}

// DeleteProduct hides a product from the catalog. Past sales keep their
// snapshot of it.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeactivateProduct(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "product_deactivate", "product", id, nil)
	return nil
}
