package domain

type PaymentMode string

const (
	PaymentCash   PaymentMode = "cash"
	PaymentUPI    PaymentMode = "upi"
	PaymentCard   PaymentMode = "card"
	PaymentCredit PaymentMode = "credit"
)

// PaymentModes lists every mode in display order.
var PaymentModes = []PaymentMode{PaymentCash, PaymentUPI, PaymentCard, PaymentCredit}

func (m PaymentMode) Valid() bool {
	switch m {
	case PaymentCash, PaymentUPI, PaymentCard, PaymentCredit:
		return true
	}
	return false
}

// InitialStatus is the payment status a freshly committed sale starts with.
// Card payments wait for the terminal to confirm.
func (m PaymentMode) InitialStatus() PaymentStatus {
	switch m {
	case PaymentCard:
		return PaymentPending
	case PaymentCash, PaymentUPI, PaymentCredit:
		return PaymentSuccess
	}
	return PaymentPending
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentSuccess, PaymentFailed:
		return true
	}
	return false
}

type MovementType string

const (
	MovementRestock    MovementType = "restock"
	MovementSale       MovementType = "sale"
	MovementAdjustment MovementType = "adjustment"
	MovementReturn     MovementType = "return"
)

func (m MovementType) Valid() bool {
	switch m {
	case MovementRestock, MovementSale, MovementAdjustment, MovementReturn:
		return true
	}
	return false
}

type LedgerEntryType string

const (
	LedgerDebit  LedgerEntryType = "debit"
	LedgerCredit LedgerEntryType = "credit"
)

func (t LedgerEntryType) Valid() bool {
	switch t {
	case LedgerDebit, LedgerCredit:
		return true
	}
	return false
}

type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff:
		return true
	}
	return false
}
