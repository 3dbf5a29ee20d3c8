package hardware

import (
	"regexp"
	"strings"
)

var barcodePattern = regexp.MustCompile(`^[A-Za-z0-9\-]{4,20}$`)

// CleanBarcode strips the scanner's line terminators and any
// non-printable bytes from a keyboard-wedge scan.
func CleanBarcode(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= 0x20 && r <= 0x7e {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func ValidBarcode(code string) bool {
	return barcodePattern.MatchString(code)
}
