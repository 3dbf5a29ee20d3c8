// Package hardware talks to the till peripherals: barcode scanner input,
// the RS-232 scale, the ESC/POS receipt printer and the card terminal.
// Every adapter is used only after a sale has been committed.
package hardware

import "errors"

// ErrNotConfigured is returned by adapters whose device is not set up.
var ErrNotConfigured = errors.New("device not configured")
