package hardware

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"supermarket-pos/backend/internal/domain"
)

const enq = 0x05

var weightPattern = regexp.MustCompile(`(?i)(\d+\.?\d*)\s*(kg|g|lb)?`)

// ParseWeight reads responses such as "  1.250 kg" or "ST,GS,  1500g".
// Grams are converted to kilograms; the weight is rounded to 3 places.
func ParseWeight(raw string) (domain.WeightReading, error) {
	raw = strings.TrimSpace(raw)
	match := weightPattern.FindStringSubmatch(raw)
	if match == nil {
		return domain.WeightReading{}, fmt.Errorf("could not parse scale response %q", raw)
	}

	value, err := decimal.NewFromString(match[1])
	if err != nil {
		return domain.WeightReading{}, fmt.Errorf("could not parse scale response %q", raw)
	}
	unit := strings.ToLower(match[2])
	switch unit {
	case "":
		unit = "kg"
	case "g":
		value = value.Div(decimal.NewFromInt(1000))
		unit = "kg"
	}

	return domain.WeightReading{
		Weight: value.Round(3),
		Unit:   unit,
		Raw:    raw,
	}, nil
}

// ReadWeight sends ENQ to the scale and parses the single line it answers with.
func ReadWeight(rw io.ReadWriter) (domain.WeightReading, error) {
	if _, err := rw.Write([]byte{enq}); err != nil {
		return domain.WeightReading{}, fmt.Errorf("write enq: %w", err)
	}
	line, err := bufio.NewReader(rw).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return domain.WeightReading{}, fmt.Errorf("read scale: %w", err)
	}
	return ParseWeight(line)
}

// SerialScale reads a scale attached to a serial device node that the OS
// has already configured (baud rate, parity) for the scale.
type SerialScale struct {
	Device  string
	Timeout time.Duration
}

func NewSerialScale(device string, timeout time.Duration) *SerialScale {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SerialScale{Device: device, Timeout: timeout}
}

func (s *SerialScale) Read(ctx context.Context) (domain.WeightReading, error) {
	if s == nil || s.Device == "" {
		return domain.WeightReading{}, ErrNotConfigured
	}

	port, err := os.OpenFile(s.Device, os.O_RDWR, 0)
	if err != nil {
		return domain.WeightReading{}, fmt.Errorf("open scale: %w", err)
	}
	defer port.Close()

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	type result struct {
		reading domain.WeightReading
		err     error
	}
	done := make(chan result, 1)
	go func() {
		reading, err := ReadWeight(port)
		done <- result{reading: reading, err: err}
	}()

	select {
	case r := <-done:
		return r.reading, r.err
	case <-ctx.Done():
		return domain.WeightReading{}, fmt.Errorf("read scale: %w", ctx.Err())
	}
}
