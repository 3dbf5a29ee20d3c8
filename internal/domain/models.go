package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int64           `json:"id"`
	Barcode       string          `json:"barcode,omitempty"`
	Name          string          `json:"name"`
	Category      string          `json:"category,omitempty"`
	Unit          string          `json:"unit"`
	Price         decimal.Decimal `json:"price"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	StockQty      decimal.Decimal `json:"stock_qty"`
	MinStockAlert decimal.Decimal `json:"min_stock_alert"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	Barcode       string          `json:"barcode" validate:"omitempty,max=20"`
	Name          string          `json:"name" validate:"required,max=200"`
	Category      string          `json:"category" validate:"omitempty,max=100"`
	Unit          string          `json:"unit" validate:"omitempty,max=20"`
	Price         decimal.Decimal `json:"price"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	StockQty      decimal.Decimal `json:"stock_qty"`
	MinStockAlert decimal.Decimal `json:"min_stock_alert"`
}

// ProductUpdateRequest is a partial update. Stock only moves through the
// inventory ledger, so it has no field here.
type ProductUpdateRequest struct {
	Barcode       *string          `json:"barcode,omitempty" validate:"omitempty,max=20"`
	Name          *string          `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Category      *string          `json:"category,omitempty" validate:"omitempty,max=100"`
	Unit          *string          `json:"unit,omitempty" validate:"omitempty,max=20"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	TaxRate       *decimal.Decimal `json:"tax_rate,omitempty"`
	MinStockAlert *decimal.Decimal `json:"min_stock_alert,omitempty"`
}

type Customer struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Phone             string          `json:"phone,omitempty"`
	Email             string          `json:"email,omitempty"`
	CreditLimit       decimal.Decimal `json:"credit_limit"`
	OutstandingCredit decimal.Decimal `json:"outstanding_credit"`
	CreatedAt         time.Time       `json:"created_at"`
}

// AvailableCredit is the amount the customer may still buy on credit.
func (c Customer) AvailableCredit() decimal.Decimal {
	return c.CreditLimit.Sub(c.OutstandingCredit)
}

type CustomerCreateRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Phone       string          `json:"phone" validate:"omitempty,max=32"`
	Email       string          `json:"email" validate:"omitempty,email,max=200"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

type CustomerUpdateRequest struct {
	Name        *string          `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Phone       *string          `json:"phone,omitempty" validate:"omitempty,max=32"`
	Email       *string          `json:"email,omitempty" validate:"omitempty,email,max=200"`
	CreditLimit *decimal.Decimal `json:"credit_limit,omitempty"`
}

type Sale struct {
	ID             int64           `json:"id"`
	CustomerID     *int64          `json:"customer_id"`
	UserID         int64           `json:"user_id"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	PaymentMode    PaymentMode     `json:"payment_mode"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	TransactionRef string          `json:"transaction_ref,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Items          []SaleItem      `json:"items"`
}

// SaleItem snapshots the product name and unit price at sale time.
// Discount and Tax are absolute amounts; Subtotal is the line total.
type SaleItem struct {
	ID          int64           `json:"id"`
	SaleID      int64           `json:"sale_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	Tax         decimal.Decimal `json:"tax"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type SaleLineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Qty       decimal.Decimal `json:"qty"`
	// UnitPrice falls back to the catalog price when omitted.
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	DiscountPct decimal.Decimal  `json:"discount_pct"`
}

type SaleRequest struct {
	CustomerID   *int64            `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	Items        []SaleLineRequest `json:"items" validate:"required,min=1,dive"`
	DiscountPct  decimal.Decimal   `json:"discount_pct"`
	PaymentMode  PaymentMode       `json:"payment_mode" validate:"omitempty,oneof=cash upi card credit"`
	Notes        string            `json:"notes" validate:"omitempty,max=500"`
	PrintReceipt bool              `json:"print_receipt"`
}

type SaleResponse struct {
	Sale     Sale     `json:"sale"`
	Warnings []string `json:"warnings,omitempty"`
}

type PaymentStatusUpdateRequest struct {
	Status         PaymentStatus `json:"status" validate:"required,oneof=pending success failed"`
	TransactionRef string        `json:"transaction_ref" validate:"omitempty,max=100"`
}

type InventoryLog struct {
	ID           int64           `json:"id"`
	ProductID    int64           `json:"product_id"`
	MovementType MovementType    `json:"movement_type"`
	ChangeQty    decimal.Decimal `json:"change_qty"`
	BeforeQty    decimal.Decimal `json:"before_qty"`
	AfterQty     decimal.Decimal `json:"after_qty"`
	ReferenceID  *int64          `json:"reference_id,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	CreatedBy    *int64          `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type RestockRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Qty       decimal.Decimal `json:"qty"`
	Reason    string          `json:"reason" validate:"omitempty,max=200"`
}

// StockAdjustmentRequest moves stock by a signed delta.
type StockAdjustmentRequest struct {
	ProductID    int64           `json:"product_id" validate:"required,gt=0"`
	Delta        decimal.Decimal `json:"delta"`
	MovementType MovementType    `json:"movement_type" validate:"omitempty,oneof=restock adjustment return"`
	Reason       string          `json:"reason" validate:"omitempty,max=200"`
}

type CreditLedgerEntry struct {
	ID           int64           `json:"id"`
	CustomerID   int64           `json:"customer_id"`
	SaleID       *int64          `json:"sale_id,omitempty"`
	EntryType    LedgerEntryType `json:"entry_type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	IsSettled    bool            `json:"is_settled"`
	Note         string          `json:"note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type CreditSettlementRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" validate:"omitempty,max=200"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID           int64
	Username     string
	FullName     string
	PasswordHash string
	Role         Role
	Active       bool
	CreatedAt    time.Time
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name,omitempty"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (u UserAccount) View() User {
	return User{
		ID:        u.ID,
		Username:  u.Username,
		FullName:  u.FullName,
		Role:      u.Role,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	FullName string `json:"full_name" validate:"omitempty,max=200"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Role     Role   `json:"role" validate:"omitempty,oneof=admin staff"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Role        Role   `json:"role"`
	Username    string `json:"username"`
	UserID      int64  `json:"user_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	UserID   int64
	Username string
	Role     Role
}

// PaymentBreakdown holds revenue per payment mode. Every mode is always
// present in the JSON output, even when zero.
type PaymentBreakdown struct {
	Cash   decimal.Decimal `json:"cash"`
	UPI    decimal.Decimal `json:"upi"`
	Card   decimal.Decimal `json:"card"`
	Credit decimal.Decimal `json:"credit"`
}

func (b *PaymentBreakdown) Add(mode PaymentMode, amount decimal.Decimal) {
	switch mode {
	case PaymentCash:
		b.Cash = b.Cash.Add(amount)
	case PaymentUPI:
		b.UPI = b.UPI.Add(amount)
	case PaymentCard:
		b.Card = b.Card.Add(amount)
	case PaymentCredit:
		b.Credit = b.Credit.Add(amount)
	}
}

func (b PaymentBreakdown) Get(mode PaymentMode) decimal.Decimal {
	switch mode {
	case PaymentCash:
		return b.Cash
	case PaymentUPI:
		return b.UPI
	case PaymentCard:
		return b.Card
	case PaymentCredit:
		return b.Credit
	}
	return decimal.Zero
}

// ModeTotal is one row of a revenue rollup grouped by payment mode.
type ModeTotal struct {
	Mode         PaymentMode
	Revenue      decimal.Decimal
	Transactions int
}

type DailySummary struct {
	Date              string           `json:"date"`
	TotalRevenue      decimal.Decimal  `json:"total_revenue"`
	TotalTransactions int              `json:"total_transactions"`
	PaymentBreakdown  PaymentBreakdown `json:"payment_breakdown"`
}

type TopProduct struct {
	ProductID    int64           `json:"product_id"`
	ProductName  string          `json:"product_name"`
	TotalQty     decimal.Decimal `json:"total_qty"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

type LowStockItem struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	StockQty      decimal.Decimal `json:"stock_qty"`
	MinStockAlert decimal.Decimal `json:"min_stock_alert"`
	Unit          string          `json:"unit"`
}

type CreditSummaryRow struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Phone             string          `json:"phone,omitempty"`
	OutstandingCredit decimal.Decimal `json:"outstanding_credit"`
	CreditLimit       decimal.Decimal `json:"credit_limit"`
}

type MonthlyRevenue struct {
	Month        int             `json:"month"`
	Revenue      decimal.Decimal `json:"revenue"`
	Transactions int             `json:"transactions"`
}

// ReceiptData is the committed sale flattened for printing.
type ReceiptData struct {
	SaleID         int64
	CreatedAt      time.Time
	Cashier        string
	Customer       string
	PaymentMode    PaymentMode
	TransactionRef string
	Items          []ReceiptItem
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	Tax            decimal.Decimal
	Total          decimal.Decimal
}

type ReceiptItem struct {
	Name      string
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

type ReceiptResponse struct {
	SaleID       int64  `json:"sale_id"`
	EscposBase64 string `json:"escpos_base64"`
	PreviewText  string `json:"preview_text"`
	FileName     string `json:"file_name"`
}

type PrintRequest struct {
	SaleID int64 `json:"sale_id" validate:"required,gt=0"`
}

type PrintResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type WeightReading struct {
	Weight decimal.Decimal `json:"weight"`
	Unit   string          `json:"unit"`
	Raw    string          `json:"raw"`
}

type TerminalPaymentRequest struct {
	SaleID int64 `json:"sale_id" validate:"required,gt=0"`
}

type TerminalPaymentResponse struct {
	SaleID        int64  `json:"sale_id"`
	TransactionID string `json:"transaction_id"`
	BillingRef    string `json:"billing_ref"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

type TerminalStatus struct {
	TransactionID string        `json:"transaction_id"`
	Status        PaymentStatus `json:"status"`
	ResponseCode  string        `json:"response_code"`
	Message       string        `json:"message,omitempty"`
	CardType      string        `json:"card_type,omitempty"`
	ApprovalCode  string        `json:"approval_code,omitempty"`
	SaleID        *int64        `json:"sale_id,omitempty"`
}
