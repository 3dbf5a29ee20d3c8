package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/ttacon/libphonenumber"

	"supermarket-pos/backend/internal/domain"
	"supermarket-pos/backend/internal/store"
)

func (s *Service) ListCustomers(ctx context.Context, page store.Page) ([]domain.Customer, error) {
	page.Limit = clampLimit(page.Limit, 100, 500)
	if page.Offset < 0 {
		page.Offset = 0
	}
	return s.repo.ListCustomers(ctx, page)
}

func (s *Service) GetCustomer(ctx context.Context, id int64) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

// normalizePhone returns the number in E.164 form. Numbers without a
// country code are read in the configured default region.
func (s *Service) normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	num, err := libphonenumber.Parse(raw, s.phoneRegion)
	if err != nil {
		return "", validationError("phone %q: %v", raw, err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", validationError("phone %q is not a valid number", raw)
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Customer{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, validationError("name is required")
	}
	phone, err := s.normalizePhone(req.Phone)
	if err != nil {
		return domain.Customer{}, err
	}
	if req.CreditLimit.IsNegative() {
		return domain.Customer{}, validationError("credit_limit must not be negative")
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:              name,
		Phone:             phone,
		Email:             strings.ToLower(strings.TrimSpace(req.Email)),
		CreditLimit:       money(req.CreditLimit),
		OutstandingCredit: decimal.Zero,
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", created.ID, nil)
	return *created, nil
}

// UpdateCustomer edits contact details and, for admins, the credit limit.
// The customer row is locked so a concurrent credit sale cannot push the
// balance past a lowered limit.
func (s *Service) UpdateCustomer(ctx context.Context, id int64, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Customer{}, err
	}

	var name, phone, email string
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, validationError("name must not be empty")
		}
	}
	if req.Phone != nil {
		normalized, err := s.normalizePhone(*req.Phone)
		if err != nil {
			return domain.Customer{}, err
		}
		phone = normalized
	}
	if req.Email != nil {
		email = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	var limit decimal.Decimal
	if req.CreditLimit != nil {
		// Changing the limit is an admin decision.
		if _, err := requireAdmin(ctx); err != nil {
			return domain.Customer{}, err
		}
		limit = money(*req.CreditLimit)
		if limit.IsNegative() {
			return domain.Customer{}, validationError("credit_limit must not be negative")
		}
	}

	var customer domain.Customer
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockCustomer(ctx, id)
		if err != nil {
			return err
		}
		customer = *locked

		if req.Name != nil {
			customer.Name = name
		}
		if req.Phone != nil {
			customer.Phone = phone
		}
		if req.Email != nil {
			customer.Email = email
		}
		if req.CreditLimit != nil {
			if limit.LessThan(customer.OutstandingCredit) {
				return validationError("credit_limit %s is below outstanding credit %s",
					limit.StringFixed(2), customer.OutstandingCredit.StringFixed(2))
			}
			customer.CreditLimit = limit
		}
		return tx.UpdateCustomer(ctx, &customer)
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.invalidateReports(ctx, creditReportKey)
	s.logAudit(ctx, "customer_update", "customer", customer.ID, nil)
	return customer, nil
}

func (s *Service) ListCreditLedger(ctx context.Context, customerID int64, limit int) ([]domain.CreditLedgerEntry, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return s.repo.ListCreditLedger(ctx, customerID, clampLimit(limit, 100, 1000))
}

// SettleCredit books a customer's repayment against their outstanding
// balance. Paying the balance off marks every open debit settled.
func (s *Service) SettleCredit(ctx context.Context, customerID int64, req domain.CreditSettlementRequest) (domain.CreditLedgerEntry, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.CreditLedgerEntry{}, err
	}
	amount := money(req.Amount)
	if !amount.IsPositive() {
		return domain.CreditLedgerEntry{}, validationError("amount must be greater than 0")
	}

	var entry domain.CreditLedgerEntry
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		customer, err := tx.LockCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(customer.OutstandingCredit) {
			return validationError("amount %s exceeds outstanding credit %s",
				amount.StringFixed(2), customer.OutstandingCredit.StringFixed(2))
		}

		outstanding := customer.OutstandingCredit.Sub(amount)
		if err := tx.SetCustomerOutstanding(ctx, customer.ID, outstanding); err != nil {
			return err
		}
		entry = domain.CreditLedgerEntry{
			CustomerID:   customer.ID,
			EntryType:    domain.LedgerCredit,
			Amount:       amount,
			BalanceAfter: outstanding,
			IsSettled:    true,
			Note:         defaultString(req.Note, "Credit payment"),
		}
		if err := tx.InsertCreditEntry(ctx, &entry); err != nil {
			return err
		}
		if outstanding.IsZero() {
			return tx.SettleOpenDebits(ctx, customer.ID)
		}
		return nil
	})
	if err != nil {
		return domain.CreditLedgerEntry{}, fmt.Errorf("settle credit for customer %d: %w", customerID, err)
	}
	s.invalidateReports(ctx, creditReportKey)

	s.logAudit(ctx, "credit_settlement", "customer", customerID, logrus.Fields{
		"amount":        amount.StringFixed(2),
		"balance_after": entry.BalanceAfter.StringFixed(2),
	})
	return entry, nil
}
