package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"supermarket-pos/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation error")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	ErrConflict            = errors.New("conflict")
)

// Page bounds a list query.
type Page struct {
	Offset int
	Limit  int
}

type Repository interface {
	// RunInTx runs fn inside one atomic unit of work. Any error returned by fn,
	// or a context cancelled before commit, discards every write made through tx.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	ListProducts(ctx context.Context, page Page) ([]domain.Product, error)
	SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeactivateProduct(ctx context.Context, id int64) error
	ListLowStock(ctx context.Context) ([]domain.Product, error)

	ListCustomers(ctx context.Context, page Page) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	ListCustomersWithCredit(ctx context.Context) ([]domain.Customer, error)
	ListCreditLedger(ctx context.Context, customerID int64, limit int) ([]domain.CreditLedgerEntry, error)

	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context, page Page) ([]domain.Sale, error)
	UpdatePaymentStatus(ctx context.Context, id int64, status domain.PaymentStatus, ref string) (*domain.Sale, error)

	// ListInventoryLogs returns newest first; productID 0 means all products.
	ListInventoryLogs(ctx context.Context, productID int64, limit int) ([]domain.InventoryLog, error)

	RevenueByMode(ctx context.Context, from time.Time, to time.Time) ([]domain.ModeTotal, error)
	TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error)
	MonthlyRevenue(ctx context.Context, year int) ([]domain.MonthlyRevenue, error)

	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

// Tx is the handle given to RunInTx callbacks. Rows returned by the Lock
// methods stay locked against other transactions until the callback returns.
type Tx interface {
	// LockProducts locks the given products and returns those that exist,
	// keyed by id. Missing ids are simply absent from the map.
	LockProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	LockCustomer(ctx context.Context, id int64) (*domain.Customer, error)

	// InsertProduct assigns product.ID and its timestamps.
	InsertProduct(ctx context.Context, product *domain.Product) error
	// UpdateCustomer writes the contact fields and credit limit; the
	// outstanding balance is left as stored.
	UpdateCustomer(ctx context.Context, customer *domain.Customer) error

	// InsertSale assigns sale.ID, sale.CreatedAt and item ids, and stores the
	// header together with its items.
	InsertSale(ctx context.Context, sale *domain.Sale) error
	SetProductStock(ctx context.Context, productID int64, qty decimal.Decimal) error
	InsertInventoryLog(ctx context.Context, entry *domain.InventoryLog) error

	SetCustomerOutstanding(ctx context.Context, customerID int64, amount decimal.Decimal) error
	InsertCreditEntry(ctx context.Context, entry *domain.CreditLedgerEntry) error
	// SettleOpenDebits marks every unsettled debit entry of the customer settled.
	SettleOpenDebits(ctx context.Context, customerID int64) error
}
