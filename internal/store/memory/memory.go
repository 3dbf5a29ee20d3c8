package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"supermarket-pos/backend/internal/domain"
	"supermarket-pos/backend/internal/store"
)

type Store struct {
	mu            sync.RWMutex
	products      map[int64]domain.Product
	customers     map[int64]domain.Customer
	sales         map[int64]domain.Sale
	inventoryLogs []domain.InventoryLog
	creditLedger  []domain.CreditLedgerEntry
	users         map[string]domain.UserAccount
	seq           map[string]int64
}

func New() *Store {
	return &Store{
		products:      make(map[int64]domain.Product),
		customers:     make(map[int64]domain.Customer),
		sales:         make(map[int64]domain.Sale),
		inventoryLogs: make([]domain.InventoryLog, 0, 128),
		creditLedger:  make([]domain.CreditLedgerEntry, 0, 32),
		users:         make(map[string]domain.UserAccount),
		seq:           make(map[string]int64),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD.
// If unset, dev defaults are used with a warning. These accounts never reach
// production: the backend uses PostgreSQL when DATABASE_URL is set.
func (s *Store) seedUsers(now time.Time) {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		logrus.Warn("memory store: using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	for _, u := range []struct {
		username string
		fullName string
		password string
		role     domain.Role
	}{
		{"admin", "Store Admin", adminPwd, domain.RoleAdmin},
		{"staff", "Counter Staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.Fatalf("memory store: failed to hash seed password for %s: %v", u.username, err)
		}
		s.users[u.username] = domain.UserAccount{
			ID:           s.nextID("users"),
			Username:     u.username,
			FullName:     u.fullName,
			PasswordHash: string(hash),
			Role:         u.role,
			Active:       true,
			CreatedAt:    now,
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	s.seedUsers(now)

	products := []domain.Product{
		{Barcode: "8901030865278", Name: "Basmati Rice 1kg", Category: "grocery", Unit: "pcs", Price: dec("120"), TaxRate: dec("5"), StockQty: dec("80"), MinStockAlert: dec("10")},
		{Barcode: "8901058851298", Name: "Instant Noodles", Category: "grocery", Unit: "pcs", Price: dec("14"), TaxRate: dec("12"), StockQty: dec("200"), MinStockAlert: dec("30")},
		{Barcode: "8901262150019", Name: "Toned Milk 500ml", Category: "dairy", Unit: "pcs", Price: dec("27"), TaxRate: dec("0"), StockQty: dec("60"), MinStockAlert: dec("20")},
		{Barcode: "8901725133979", Name: "Whole Wheat Bread", Category: "bakery", Unit: "pcs", Price: dec("45"), TaxRate: dec("5"), StockQty: dec("25"), MinStockAlert: dec("8")},
		{Barcode: "8901063010178", Name: "Assam Tea 250g", Category: "beverage", Unit: "pcs", Price: dec("140"), TaxRate: dec("5"), StockQty: dec("40"), MinStockAlert: dec("10")},
		{Barcode: "8901030704393", Name: "Bath Soap", Category: "household", Unit: "pcs", Price: dec("38"), TaxRate: dec("18"), StockQty: dec("90"), MinStockAlert: dec("15")},
		{Barcode: "LOOSE-ONION", Name: "Onion (loose)", Category: "produce", Unit: "kg", Price: dec("40"), TaxRate: dec("0"), StockQty: dec("55.5"), MinStockAlert: dec("10")},
		{Barcode: "LOOSE-SUGAR", Name: "Sugar (loose)", Category: "grocery", Unit: "kg", Price: dec("46"), TaxRate: dec("5"), StockQty: dec("4.25"), MinStockAlert: dec("5")},
	}
	for _, p := range products {
		p.ID = s.nextID("products")
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	customers := []domain.Customer{
		{Name: "Walk-in Regular", Phone: "+919876543210", CreditLimit: dec("5000"), OutstandingCredit: decimal.Zero},
		{Name: "Corner Tea Stall", Phone: "+919812345678", Email: "teastall@example.com", CreditLimit: dec("2000"), OutstandingCredit: decimal.Zero},
	}
	for _, c := range customers {
		c.ID = s.nextID("customers")
		c.CreatedAt = now
		s.customers[c.ID] = c
	}

	return s
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (s *Store) nextID(name string) int64 {
	s.seq[name]++
	return s.seq[name]
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) ListProducts(_ context.Context, page store.Page) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Active {
			result = append(result, p)
		}
	}
	slices.SortFunc(result, func(a, b domain.Product) int { return cmpInt64(a.ID, b.ID) })
	return paginate(result, page), nil
}

func (s *Store) SearchProducts(_ context.Context, query string, limit int) ([]domain.Product, error) {
	needle := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, 16)
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		if strings.Contains(strings.ToLower(p.Name), needle) ||
			strings.Contains(strings.ToLower(p.Barcode), needle) ||
			strings.Contains(strings.ToLower(p.Category), needle) {
			result = append(result, p)
		}
	}
	slices.SortFunc(result, func(a, b domain.Product) int { return strings.Compare(a.Name, b.Name) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if p.Active && p.Barcode != "" && p.Barcode == barcode {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertProduct(&product); err != nil {
		return nil, err
	}
	return &product, nil
}

// insertProduct expects the write lock to be held.
func (s *Store) insertProduct(product *domain.Product) error {
	if product.Barcode != "" && s.barcodeTaken(product.Barcode, 0) {
		return store.ErrConflict
	}

	now := time.Now().UTC()
	product.ID = s.nextID("products")
	product.Active = true
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = *product
	return nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if product.Barcode != "" && s.barcodeTaken(product.Barcode, product.ID) {
		return nil, store.ErrConflict
	}

	// Stock is owned by the inventory ledger.
	product.StockQty = existing.StockQty
	product.Active = existing.Active
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) DeactivateProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok || !p.Active {
		return store.ErrNotFound
	}
	p.Active = false
	p.UpdatedAt = time.Now().UTC()
	s.products[id] = p
	return nil
}

func (s *Store) barcodeTaken(barcode string, exceptID int64) bool {
	for id, p := range s.products {
		if id != exceptID && p.Barcode == barcode {
			return true
		}
	}
	return false
}

func (s *Store) ListLowStock(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, 8)
	for _, p := range s.products {
		if p.Active && p.StockQty.LessThanOrEqual(p.MinStockAlert) {
			result = append(result, p)
		}
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		if c := a.StockQty.Cmp(b.StockQty); c != 0 {
			return c
		}
		return cmpInt64(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) ListCustomers(_ context.Context, page store.Page) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.Customer) int { return cmpInt64(a.ID, b.ID) })
	return paginate(result, page), nil
}

func (s *Store) GetCustomer(_ context.Context, id int64) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.contactTaken(customer, 0) {
		return nil, store.ErrConflict
	}
	customer.ID = s.nextID("customers")
	customer.OutstandingCredit = decimal.Zero
	customer.CreatedAt = time.Now().UTC()
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.updateCustomer(&customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// updateCustomer expects the write lock to be held and returns the row it
// replaced.
func (s *Store) updateCustomer(customer *domain.Customer) (domain.Customer, error) {
	existing, ok := s.customers[customer.ID]
	if !ok {
		return domain.Customer{}, store.ErrNotFound
	}
	if s.contactTaken(*customer, customer.ID) {
		return domain.Customer{}, store.ErrConflict
	}

	// Outstanding credit only moves through the credit ledger.
	customer.OutstandingCredit = existing.OutstandingCredit
	customer.CreatedAt = existing.CreatedAt
	s.customers[customer.ID] = *customer
	return existing, nil
}

func (s *Store) contactTaken(customer domain.Customer, exceptID int64) bool {
	for id, c := range s.customers {
		if id == exceptID {
			continue
		}
		if customer.Phone != "" && c.Phone == customer.Phone {
			return true
		}
		if customer.Email != "" && strings.EqualFold(c.Email, customer.Email) {
			return true
		}
	}
	return false
}

func (s *Store) ListCustomersWithCredit(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, 8)
	for _, c := range s.customers {
		if c.OutstandingCredit.IsPositive() {
			result = append(result, c)
		}
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		if c := b.OutstandingCredit.Cmp(a.OutstandingCredit); c != 0 {
			return c
		}
		return cmpInt64(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) ListCreditLedger(_ context.Context, customerID int64, limit int) ([]domain.CreditLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.customers[customerID]; !ok {
		return nil, store.ErrNotFound
	}
	result := make([]domain.CreditLedgerEntry, 0, 16)
	for i := len(s.creditLedger) - 1; i >= 0; i-- {
		entry := s.creditLedger[i]
		if entry.CustomerID != customerID {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := cloneSale(sale)
	return &cloned, nil
}

func (s *Store) ListSales(_ context.Context, page store.Page) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		result = append(result, cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmpInt64(b.ID, a.ID)
	})
	return paginate(result, page), nil
}

func (s *Store) UpdatePaymentStatus(_ context.Context, id int64, status domain.PaymentStatus, ref string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale.PaymentStatus = status
	if ref != "" {
		sale.TransactionRef = ref
	}
	s.sales[id] = sale
	cloned := cloneSale(sale)
	return &cloned, nil
}

func (s *Store) ListInventoryLogs(_ context.Context, productID int64, limit int) ([]domain.InventoryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryLog, 0, 32)
	for i := len(s.inventoryLogs) - 1; i >= 0; i-- {
		entry := s.inventoryLogs[i]
		if productID != 0 && entry.ProductID != productID {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) RevenueByMode(_ context.Context, from time.Time, to time.Time) ([]domain.ModeTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[domain.PaymentMode]*domain.ModeTotal)
	for _, sale := range s.sales {
		if sale.PaymentStatus == domain.PaymentFailed {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		row, ok := totals[sale.PaymentMode]
		if !ok {
			row = &domain.ModeTotal{Mode: sale.PaymentMode, Revenue: decimal.Zero}
			totals[sale.PaymentMode] = row
		}
		row.Revenue = row.Revenue.Add(sale.Total)
		row.Transactions++
	}

	result := make([]domain.ModeTotal, 0, len(totals))
	for _, mode := range domain.PaymentModes {
		if row, ok := totals[mode]; ok {
			result = append(result, *row)
		}
	}
	return result, nil
}

func (s *Store) TopProducts(_ context.Context, limit int) ([]domain.TopProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		id   int64
		name string
	}
	byProduct := make(map[key]*domain.TopProduct)
	for _, sale := range s.sales {
		for _, item := range sale.Items {
			k := key{id: item.ProductID, name: item.ProductName}
			row, ok := byProduct[k]
			if !ok {
				row = &domain.TopProduct{ProductID: item.ProductID, ProductName: item.ProductName}
				byProduct[k] = row
			}
			row.TotalQty = row.TotalQty.Add(item.Qty)
			row.TotalRevenue = row.TotalRevenue.Add(item.Subtotal)
		}
	}

	result := make([]domain.TopProduct, 0, len(byProduct))
	for _, row := range byProduct {
		result = append(result, *row)
	}
	slices.SortFunc(result, func(a, b domain.TopProduct) int {
		if c := b.TotalRevenue.Cmp(a.TotalRevenue); c != 0 {
			return c
		}
		return cmpInt64(a.ProductID, b.ProductID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) MonthlyRevenue(_ context.Context, year int) ([]domain.MonthlyRevenue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	months := make(map[int]*domain.MonthlyRevenue)
	for _, sale := range s.sales {
		if sale.PaymentStatus == domain.PaymentFailed || sale.CreatedAt.Year() != year {
			continue
		}
		month := int(sale.CreatedAt.Month())
		row, ok := months[month]
		if !ok {
			row = &domain.MonthlyRevenue{Month: month, Revenue: decimal.Zero}
			months[month] = row
		}
		row.Revenue = row.Revenue.Add(sale.Total)
		row.Transactions++
	}

	result := make([]domain.MonthlyRevenue, 0, len(months))
	for month := 1; month <= 12; month++ {
		if row, ok := months[month]; ok {
			result = append(result, *row)
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.PasswordHash == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.users[username]; exists {
		return nil, store.ErrConflict
	}

	user.ID = s.nextID("users")
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[username] = user
	return &user, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		result = append(result, user)
	}
	slices.SortFunc(result, func(a, b domain.UserAccount) int { return cmpInt64(a.ID, b.ID) })
	return result, nil
}

func paginate[T any](items []T, page store.Page) []T {
	if page.Offset > 0 {
		if page.Offset >= len(items) {
			return []T{}
		}
		items = items[page.Offset:]
	}
	if page.Limit > 0 && len(items) > page.Limit {
		items = items[:page.Limit]
	}
	return items
}

func cmpInt64(a int64, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Items = append([]domain.SaleItem(nil), src.Items...)
	if src.CustomerID != nil {
		id := *src.CustomerID
		dst.CustomerID = &id
	}
	return dst
}
