package hardware

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

type Printer interface {
	Print(ctx context.Context, payload []byte) error
}

// NetworkPrinter sends raw ESC/POS bytes to a printer listening on a TCP
// port, usually 9100.
type NetworkPrinter struct {
	Addr    string
	Timeout time.Duration
}

func (p *NetworkPrinter) Print(ctx context.Context, payload []byte) error {
	dialer := net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return fmt.Errorf("connect printer %s: %w", p.Addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else if p.Timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(p.Timeout))
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write printer %s: %w", p.Addr, err)
	}
	return nil
}

// FilePrinter writes to a device node such as /dev/usb/lp0.
type FilePrinter struct {
	Path string
}

func (p *FilePrinter) Print(_ context.Context, payload []byte) error {
	f, err := os.OpenFile(p.Path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open printer %s: %w", p.Path, err)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return fmt.Errorf("write printer %s: %w", p.Path, err)
	}
	return f.Close()
}

type NoPrinter struct{}

func (NoPrinter) Print(context.Context, []byte) error {
	return ErrNotConfigured
}

// NewPrinter picks the printer for PRINTER_TYPE: network, file or none.
func NewPrinter(kind string, addr string, device string) (Printer, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "none":
		return NoPrinter{}, nil
	case "network":
		if addr == "" {
			return nil, fmt.Errorf("PRINTER_ADDR is required for a network printer")
		}
		return &NetworkPrinter{Addr: addr, Timeout: 5 * time.Second}, nil
	case "file":
		if device == "" {
			return nil, fmt.Errorf("PRINTER_DEVICE is required for a file printer")
		}
		return &FilePrinter{Path: device}, nil
	default:
		return nil, fmt.Errorf("unknown printer type %q", kind)
	}
}
