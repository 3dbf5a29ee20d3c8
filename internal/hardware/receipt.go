package hardware

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"supermarket-pos/backend/internal/domain"
)

const receiptWidth = 42

type LineKind int

const (
	LineHeader LineKind = iota
	LineText
	LineCenter
	LineBold
	LineSeparator
	LineItem
	LineDrawer
	LineCut
)

// ReceiptLine is one printable instruction. Text holds the separator
// character for LineSeparator and is empty for LineDrawer and LineCut.
type ReceiptLine struct {
	Kind LineKind
	Text string
}

type StoreInfo struct {
	Name    string
	Address string
	Phone   string
}

var (
	escInit        = []byte{0x1b, 0x40}
	escAlignLeft   = []byte{0x1b, 0x61, 0x00}
	escAlignCenter = []byte{0x1b, 0x61, 0x01}
	escBoldOn      = []byte{0x1b, 0x45, 0x01}
	escBoldOff     = []byte{0x1b, 0x45, 0x00}
	escDoubleOn    = []byte{0x1d, 0x21, 0x11}
	escDoubleOff   = []byte{0x1d, 0x21, 0x00}
	escDrawerKick  = []byte{0x1b, 0x70, 0x00, 0x19, 0xfa}
	escCut         = []byte{0x1d, 0x56, 0x41, 0x10}
)

// FormatReceipt lays out a committed sale. Cash sales also kick the drawer.
func FormatReceipt(data domain.ReceiptData, info StoreInfo) []ReceiptLine {
	lines := make([]ReceiptLine, 0, 24+len(data.Items))
	add := func(kind LineKind, text string) {
		lines = append(lines, ReceiptLine{Kind: kind, Text: text})
	}

	add(LineHeader, info.Name)
	if info.Address != "" {
		add(LineText, info.Address)
	}
	if info.Phone != "" {
		add(LineText, info.Phone)
	}
	add(LineSeparator, "=")
	add(LineText, fmt.Sprintf("Receipt #: %d", data.SaleID))
	add(LineText, "Date     : "+data.CreatedAt.Format("2006-01-02 15:04"))
	add(LineText, "Cashier  : "+defaultText(data.Cashier, "-"))
	if data.Customer != "" {
		add(LineText, "Customer : "+data.Customer)
	}
	add(LineSeparator, "-")

	for _, item := range data.Items {
		add(LineItem, fmt.Sprintf("%-22s %sx%s  %s",
			truncate(item.Name, 22), item.Qty.String(), item.UnitPrice.StringFixed(2), item.Subtotal.StringFixed(2)))
	}

	add(LineSeparator, "-")
	add(LineText, dotted("Subtotal", " "+data.Subtotal.StringFixed(2)))
	if data.Discount.GreaterThan(decimal.Zero) {
		add(LineText, dotted("Discount", "-"+data.Discount.StringFixed(2)))
	}
	if data.Tax.GreaterThan(decimal.Zero) {
		add(LineText, dotted("Tax", " "+data.Tax.StringFixed(2)))
	}
	add(LineBold, dotted("TOTAL", " "+data.Total.StringFixed(2)))
	add(LineSeparator, "-")
	add(LineText, "Payment  : "+strings.ToUpper(string(data.PaymentMode)))
	if data.TransactionRef != "" {
		add(LineText, "Ref      : "+data.TransactionRef)
	}
	add(LineSeparator, "=")
	add(LineCenter, "Thank you for shopping!")
	add(LineCenter, "Visit again :)")
	if data.PaymentMode == domain.PaymentCash {
		add(LineDrawer, "")
	}
	add(LineCut, "")
	return lines
}

// RenderText is the on-screen preview of a receipt.
func RenderText(lines []ReceiptLine) string {
	var b strings.Builder
	for _, line := range lines {
		switch line.Kind {
		case LineHeader, LineCenter:
			b.WriteString(center(line.Text))
			b.WriteByte('\n')
		case LineText, LineBold, LineItem:
			b.WriteString(line.Text)
			b.WriteByte('\n')
		case LineSeparator:
			b.WriteString(strings.Repeat(line.Text, receiptWidth))
			b.WriteByte('\n')
		case LineDrawer, LineCut:
		}
	}
	return b.String()
}

// RenderESCPOS encodes the receipt for an ESC/POS thermal printer.
func RenderESCPOS(lines []ReceiptLine) []byte {
	out := append([]byte{}, escInit...)
	for _, line := range lines {
		switch line.Kind {
		case LineHeader:
			out = append(out, escAlignCenter...)
			out = append(out, escBoldOn...)
			out = append(out, escDoubleOn...)
			out = appendLine(out, line.Text)
			out = append(out, escDoubleOff...)
			out = append(out, escBoldOff...)
			out = append(out, escAlignLeft...)
		case LineCenter:
			out = append(out, escAlignCenter...)
			out = appendLine(out, line.Text)
			out = append(out, escAlignLeft...)
		case LineBold:
			out = append(out, escBoldOn...)
			out = appendLine(out, line.Text)
			out = append(out, escBoldOff...)
		case LineText, LineItem:
			out = appendLine(out, line.Text)
		case LineSeparator:
			out = appendLine(out, strings.Repeat(line.Text, receiptWidth))
		case LineDrawer:
			out = append(out, escDrawerKick...)
		case LineCut:
			out = append(out, escCut...)
		}
	}
	return out
}

func appendLine(out []byte, text string) []byte {
	out = append(out, text...)
	return append(out, '\n')
}

func dotted(label string, value string) string {
	const pad = 30
	if len(label) < pad {
		label += strings.Repeat(".", pad-len(label))
	}
	return label + value
}

func center(text string) string {
	if len(text) >= receiptWidth {
		return text
	}
	return strings.Repeat(" ", (receiptWidth-len(text))/2) + text
}

func truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

func defaultText(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
