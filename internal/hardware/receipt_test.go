package hardware

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"supermarket-pos/backend/internal/domain"
)

func sampleReceipt(mode domain.PaymentMode) domain.ReceiptData {
	return domain.ReceiptData{
		SaleID:      42,
		CreatedAt:   time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Cashier:     "staff",
		Customer:    "Walk-in Regular",
		PaymentMode: mode,
		Items: []domain.ReceiptItem{
			{Name: "Basmati Rice 1kg Premium Long Grain", Qty: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(100), Subtotal: decimal.RequireFromString("189.00")},
		},
		Subtotal: decimal.RequireFromString("180.00"),
		Discount: decimal.Zero,
		Tax:      decimal.RequireFromString("9.00"),
		Total:    decimal.RequireFromString("189.00"),
	}
}

func TestFormatReceiptLayout(t *testing.T) {
	lines := FormatReceipt(sampleReceipt(domain.PaymentCard), StoreInfo{Name: "Corner Mart", Phone: "+91-9999999999"})
	text := RenderText(lines)

	for _, want := range []string{
		"Corner Mart",
		"Receipt #: 42",
		"Date     : 2026-03-14 09:30",
		"Customer : Walk-in Regular",
		"Basmati Rice 1kg Premi 2x100.00  189.00",
		"Tax........................... 9.00",
		"TOTAL......................... 189.00",
		"Payment  : CARD",
		"Thank you for shopping!",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("receipt missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Discount") {
		t.Fatalf("zero discount should be omitted:\n%s", text)
	}
	if lines[len(lines)-1].Kind != LineCut {
		t.Fatalf("receipt must end with a cut")
	}
}

func TestRenderESCPOS(t *testing.T) {
	card := RenderESCPOS(FormatReceipt(sampleReceipt(domain.PaymentCard), StoreInfo{Name: "Corner Mart"}))
	if !bytes.HasPrefix(card, escInit) || !bytes.HasSuffix(card, escCut) {
		t.Fatalf("expected init prefix and cut suffix")
	}
	if bytes.Contains(card, escDrawerKick) {
		t.Fatalf("card sale must not open the drawer")
	}

	cash := RenderESCPOS(FormatReceipt(sampleReceipt(domain.PaymentCash), StoreInfo{Name: "Corner Mart"}))
	if !bytes.Contains(cash, escDrawerKick) {
		t.Fatalf("cash sale should open the drawer")
	}
}
