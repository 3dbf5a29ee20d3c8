package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"supermarket-pos/backend/internal/domain"
	"supermarket-pos/backend/internal/hardware"
	"supermarket-pos/backend/internal/lock"
	"supermarket-pos/backend/internal/logging"
	"supermarket-pos/backend/internal/store"
)

const terminalLockTTL = 30 * time.Second

func (s *Service) receiptData(ctx context.Context, sale domain.Sale) domain.ReceiptData {
	data := domain.ReceiptData{
		SaleID:         sale.ID,
		CreatedAt:      sale.CreatedAt,
		PaymentMode:    sale.PaymentMode,
		TransactionRef: sale.TransactionRef,
		Subtotal:       sale.Subtotal,
		Discount:       sale.Discount,
		Tax:            sale.Tax,
		Total:          sale.Total,
		Items:          make([]domain.ReceiptItem, 0, len(sale.Items)),
	}
	for _, item := range sale.Items {
		data.Items = append(data.Items, domain.ReceiptItem{
			Name:      item.ProductName,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		})
	}

	if actor, ok := ActorFromContext(ctx); ok && actor.UserID == sale.UserID {
		data.Cashier = actor.Username
	} else if users, err := s.repo.ListUsers(ctx); err == nil {
		for _, u := range users {
			if u.ID == sale.UserID {
				data.Cashier = u.Username
				break
			}
		}
	}
	if sale.CustomerID != nil {
		if customer, err := s.repo.GetCustomer(ctx, *sale.CustomerID); err == nil {
			data.Customer = customer.Name
		}
	}
	return data
}

// BuildReceipt renders a sale's receipt as ESC/POS bytes plus a text preview.
func (s *Service) BuildReceipt(ctx context.Context, saleID int64) (domain.ReceiptResponse, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	lines := hardware.FormatReceipt(s.receiptData(ctx, *sale), s.storeInfo)

	return domain.ReceiptResponse{
		SaleID:       sale.ID,
		EscposBase64: base64.StdEncoding.EncodeToString(hardware.RenderESCPOS(lines)),
		PreviewText:  hardware.RenderText(lines),
		FileName:     fmt.Sprintf("receipt-%d.bin", sale.ID),
	}, nil
}

func (s *Service) PrintReceipt(ctx context.Context, saleID int64) (domain.PrintResponse, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.PrintResponse{}, err
	}
	return s.printSale(ctx, *sale)
}

func (s *Service) printSale(ctx context.Context, sale domain.Sale) (domain.PrintResponse, error) {
	lines := hardware.FormatReceipt(s.receiptData(ctx, sale), s.storeInfo)
	if err := s.printer.Print(ctx, hardware.RenderESCPOS(lines)); err != nil {
		return domain.PrintResponse{}, err
	}
	return domain.PrintResponse{Success: true, Message: "Receipt printed successfully"}, nil
}

func (s *Service) ReadWeight(ctx context.Context) (domain.WeightReading, error) {
	if s.scale == nil {
		return domain.WeightReading{}, hardware.ErrNotConfigured
	}
	return s.scale.Read(ctx)
}

// InitiateTerminalPayment pushes an unpaid card or UPI sale to the terminal.
func (s *Service) InitiateTerminalPayment(ctx context.Context, req domain.TerminalPaymentRequest) (domain.TerminalPaymentResponse, error) {
	if s.terminal == nil || !s.terminal.Configured() {
		return domain.TerminalPaymentResponse{}, hardware.ErrNotConfigured
	}
	sale, err := s.repo.GetSale(ctx, req.SaleID)
	if err != nil {
		return domain.TerminalPaymentResponse{}, err
	}
	switch sale.PaymentMode {
	case domain.PaymentCard, domain.PaymentUPI:
	case domain.PaymentCash, domain.PaymentCredit:
		return domain.TerminalPaymentResponse{}, validationError("sale %d is a %s sale", sale.ID, sale.PaymentMode)
	}
	if sale.PaymentStatus == domain.PaymentSuccess {
		return domain.TerminalPaymentResponse{}, fmt.Errorf("%w: sale %d is already paid", store.ErrConflict, sale.ID)
	}
	return s.startTerminalPayment(ctx, *sale)
}

// startTerminalPayment holds a per-sale lock so two tills cannot push the
// same sale to a terminal at once.
func (s *Service) startTerminalPayment(ctx context.Context, sale domain.Sale) (domain.TerminalPaymentResponse, error) {
	release, err := s.locker.Obtain(ctx, fmt.Sprintf("terminal-payment:sale:%d", sale.ID), terminalLockTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		return domain.TerminalPaymentResponse{}, fmt.Errorf("%w: terminal payment for sale %d already in progress", store.ErrConflict, sale.ID)
	}
	if err != nil {
		return domain.TerminalPaymentResponse{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logging.LogError(s.logger, moduleName, "startTerminalPayment", "lock release failed", sale.ID, err)
		}
	}()

	billingRef := fmt.Sprintf("SALE-%d", sale.ID)
	txnID, err := s.terminal.Initiate(ctx, sale.Total, sale.PaymentMode, billingRef)
	if err != nil {
		return domain.TerminalPaymentResponse{}, err
	}
	if _, err := s.repo.UpdatePaymentStatus(ctx, sale.ID, domain.PaymentPending, txnID); err != nil {
		return domain.TerminalPaymentResponse{}, err
	}

	s.logAudit(ctx, "terminal_payment_initiate", "sale", sale.ID, logrus.Fields{"transaction_id": txnID})
	return domain.TerminalPaymentResponse{
		SaleID:        sale.ID,
		TransactionID: txnID,
		BillingRef:    billingRef,
		Status:        "initiated",
		Message:       "Payment request sent to POS terminal",
	}, nil
}

// PollTerminalStatus asks the terminal for a transaction's result. With a
// sale id, a final result is applied to the sale as a payment callback; the
// transaction must be the one started for that sale.
func (s *Service) PollTerminalStatus(ctx context.Context, transactionID string, saleID *int64) (domain.TerminalStatus, error) {
	if s.terminal == nil || !s.terminal.Configured() {
		return domain.TerminalStatus{}, hardware.ErrNotConfigured
	}
	if transactionID == "" {
		return domain.TerminalStatus{}, validationError("transaction id is required")
	}
	if saleID != nil {
		sale, err := s.repo.GetSale(ctx, *saleID)
		if err != nil {
			return domain.TerminalStatus{}, err
		}
		if sale.TransactionRef != transactionID {
			return domain.TerminalStatus{}, fmt.Errorf("%w: transaction %s does not belong to sale %d",
				store.ErrConflict, transactionID, sale.ID)
		}
	}

	status, err := s.terminal.Status(ctx, transactionID)
	if err != nil {
		return domain.TerminalStatus{}, err
	}
	if saleID != nil && status.Status != domain.PaymentPending {
		if _, err := s.UpdatePaymentStatus(ctx, *saleID, domain.PaymentStatusUpdateRequest{
			Status:         status.Status,
			TransactionRef: transactionID,
		}); err != nil {
			return domain.TerminalStatus{}, err
		}
		status.SaleID = saleID
	}
	return status, nil
}
