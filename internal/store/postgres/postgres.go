package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"supermarket-pos/backend/internal/domain"
	"supermarket-pos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RunInTx uses READ COMMITTED; the sale and stock paths lock every row they
// change with SELECT ... FOR UPDATE before reading quantities.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

const productColumns = `id, barcode, name, category, unit, price, tax_rate, stock_qty, min_stock_alert, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var barcode sql.NullString
	err := row.Scan(&p.ID, &barcode, &p.Name, &p.Category, &p.Unit, &p.Price, &p.TaxRate,
		&p.StockQty, &p.MinStockAlert, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	p.Barcode = barcode.String
	return p, nil
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListProducts(ctx context.Context, page store.Page) ([]domain.Product, error) {
	return s.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		ORDER BY id
		OFFSET $1 LIMIT $2
	`, page.Offset, limitOrAll(page.Limit))
}

func (s *Store) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	return s.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
			AND (name ILIKE $1 OR barcode ILIKE $1 OR category ILIKE $1)
		ORDER BY name
		LIMIT $2
	`, pattern, limitOrAll(limit))
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE barcode = $1 AND active = true
	`, barcode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	p, err := insertProduct(ctx, s.db, product)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func insertProduct(ctx context.Context, q rowQuerier, product domain.Product) (domain.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, `
		INSERT INTO products (barcode, name, category, unit, price, tax_rate, stock_qty, min_stock_alert, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, now(), now())
		RETURNING `+productColumns,
		nullIfEmpty(product.Barcode), product.Name, product.Category, product.Unit, product.Price,
		product.TaxRate, product.StockQty, product.MinStockAlert))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, fmt.Errorf("%w: barcode %s already exists", store.ErrConflict, product.Barcode)
		}
		return domain.Product{}, err
	}
	return p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET barcode = $2, name = $3, category = $4, unit = $5, price = $6,
			tax_rate = $7, min_stock_alert = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, nullIfEmpty(product.Barcode), product.Name, product.Category, product.Unit,
		product.Price, product.TaxRate, product.MinStockAlert))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode %s already exists", store.ErrConflict, product.Barcode)
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) DeactivateProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET active = false, updated_at = now()
		WHERE id = $1 AND active = true
	`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	return s.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true AND stock_qty <= min_stock_alert
		ORDER BY stock_qty, id
	`)
}

const customerColumns = `id, name, phone, email, credit_limit, outstanding_credit, created_at`

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	var phone, email sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &phone, &email, &c.CreditLimit, &c.OutstandingCredit, &c.CreatedAt); err != nil {
		return domain.Customer{}, err
	}
	c.Phone = phone.String
	c.Email = email.String
	return c, nil
}

func (s *Store) queryCustomers(ctx context.Context, query string, args ...any) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) ListCustomers(ctx context.Context, page store.Page) ([]domain.Customer, error) {
	return s.queryCustomers(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		ORDER BY id
		OFFSET $1 LIMIT $2
	`, page.Offset, limitOrAll(page.Limit))
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `
		INSERT INTO customers (name, phone, email, credit_limit, outstanding_credit, created_at)
		VALUES ($1, $2, $3, $4, 0, now())
		RETURNING `+customerColumns,
		customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Email), customer.CreditLimit))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: phone or email already registered", store.ErrConflict)
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	c, err := updateCustomer(ctx, s.db, customer)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func updateCustomer(ctx context.Context, q rowQuerier, customer domain.Customer) (domain.Customer, error) {
	c, err := scanCustomer(q.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, email = $4, credit_limit = $5
		WHERE id = $1
		RETURNING `+customerColumns,
		customer.ID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Email), customer.CreditLimit))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return domain.Customer{}, fmt.Errorf("%w: phone or email already registered", store.ErrConflict)
		}
		return domain.Customer{}, err
	}
	return c, nil
}

func (s *Store) ListCustomersWithCredit(ctx context.Context) ([]domain.Customer, error) {
	return s.queryCustomers(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE outstanding_credit > 0
		ORDER BY outstanding_credit DESC, id
	`)
}

func (s *Store) ListCreditLedger(ctx context.Context, customerID int64, limit int) ([]domain.CreditLedgerEntry, error) {
	if _, err := s.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, sale_id, entry_type, amount, balance_after, is_settled, note, created_at
		FROM credit_ledger
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, customerID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CreditLedgerEntry, 0, 32)
	for rows.Next() {
		var e domain.CreditLedgerEntry
		var saleID sql.NullInt64
		var note sql.NullString
		if err := rows.Scan(&e.ID, &e.CustomerID, &saleID, &e.EntryType, &e.Amount, &e.BalanceAfter, &e.IsSettled, &note, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SaleID = int64Ptr(saleID)
		e.Note = note.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

const saleColumns = `id, customer_id, user_id, subtotal, discount, tax, total, payment_mode, payment_status, transaction_ref, notes, created_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var customerID sql.NullInt64
	var ref, notes sql.NullString
	err := row.Scan(&sale.ID, &customerID, &sale.UserID, &sale.Subtotal, &sale.Discount, &sale.Tax,
		&sale.Total, &sale.PaymentMode, &sale.PaymentStatus, &ref, &notes, &sale.CreatedAt)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.CustomerID = int64Ptr(customerID)
	sale.TransactionRef = ref.String
	sale.Notes = notes.String
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := s.loadSaleItems(ctx, []int64{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	if sale.Items == nil {
		sale.Items = []domain.SaleItem{}
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, page store.Page) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		ORDER BY created_at DESC, id DESC
		OFFSET $1 LIMIT $2
	`, page.Offset, limitOrAll(page.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]int64, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return sales, nil
	}

	items, err := s.loadSaleItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
		if sales[i].Items == nil {
			sales[i].Items = []domain.SaleItem{}
		}
	}
	return sales, nil
}

func (s *Store) loadSaleItems(ctx context.Context, saleIDs []int64) (map[int64][]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, qty, unit_price, discount, tax, subtotal
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, id
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bySale := make(map[int64][]domain.SaleItem, len(saleIDs))
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.Qty,
			&item.UnitPrice, &item.Discount, &item.Tax, &item.Subtotal); err != nil {
			return nil, err
		}
		bySale[item.SaleID] = append(bySale[item.SaleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bySale, nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, id int64, status domain.PaymentStatus, ref string) (*domain.Sale, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET payment_status = $2,
			transaction_ref = COALESCE($3, transaction_ref)
		WHERE id = $1
	`, id, string(status), nullIfEmpty(ref))
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetSale(ctx, id)
}

func (s *Store) ListInventoryLogs(ctx context.Context, productID int64, limit int) ([]domain.InventoryLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, movement_type, change_qty, before_qty, after_qty, reference_id, reason, created_by, created_at
		FROM inventory_logs
		WHERE ($1::bigint = 0 OR product_id = $1::bigint)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.InventoryLog, 0, 64)
	for rows.Next() {
		var entry domain.InventoryLog
		var referenceID, createdBy sql.NullInt64
		var reason sql.NullString
		if err := rows.Scan(&entry.ID, &entry.ProductID, &entry.MovementType, &entry.ChangeQty, &entry.BeforeQty,
			&entry.AfterQty, &referenceID, &reason, &createdBy, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.ReferenceID = int64Ptr(referenceID)
		entry.CreatedBy = int64Ptr(createdBy)
		entry.Reason = reason.String
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) RevenueByMode(ctx context.Context, from time.Time, to time.Time) ([]domain.ModeTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_mode, COALESCE(SUM(total), 0), COUNT(*)
		FROM sales
		WHERE created_at >= $1 AND created_at < $2 AND payment_status <> 'failed'
		GROUP BY payment_mode
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make([]domain.ModeTotal, 0, len(domain.PaymentModes))
	for rows.Next() {
		var row domain.ModeTotal
		if err := rows.Scan(&row.Mode, &row.Revenue, &row.Transactions); err != nil {
			return nil, err
		}
		totals = append(totals, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}

func (s *Store) TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, SUM(qty), SUM(subtotal) AS total_revenue
		FROM sale_items
		GROUP BY product_id, product_name
		ORDER BY total_revenue DESC, product_id
		LIMIT $1
	`, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.TopProduct, 0, limit)
	for rows.Next() {
		var row domain.TopProduct
		if err := rows.Scan(&row.ProductID, &row.ProductName, &row.TotalQty, &row.TotalRevenue); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) MonthlyRevenue(ctx context.Context, year int) ([]domain.MonthlyRevenue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT EXTRACT(MONTH FROM created_at)::int AS month, COALESCE(SUM(total), 0), COUNT(*)
		FROM sales
		WHERE EXTRACT(YEAR FROM created_at) = $1 AND payment_status <> 'failed'
		GROUP BY month
		ORDER BY month
	`, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.MonthlyRevenue, 0, 12)
	for rows.Next() {
		var row domain.MonthlyRevenue
		if err := rows.Scan(&row.Month, &row.Revenue, &row.Transactions); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.PasswordHash == "" {
		return nil, store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, full_name, password_hash, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, username, nullIfEmpty(user.FullName), user.PasswordHash, string(user.Role), user.Active, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username already exists", store.ErrConflict)
		}
		return nil, err
	}
	user.Username = username
	return &user, nil
}

func scanUser(row rowScanner) (domain.UserAccount, error) {
	var u domain.UserAccount
	var fullName sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &fullName, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt); err != nil {
		return domain.UserAccount{}, err
	}
	u.FullName = fullName.String
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, password_hash, role, active, created_at
		FROM users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, full_name, password_hash, role, active, created_at
		FROM users
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// limitOrAll maps a non-positive limit to NULL, which Postgres reads as no limit.
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func escapeLike(val string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(val)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func int64Ptr(val sql.NullInt64) *int64 {
	if !val.Valid {
		return nil
	}
	v := val.Int64
	return &v
}
