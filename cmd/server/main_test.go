package main

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"supermarket-pos/backend/internal/cache"
	"supermarket-pos/backend/internal/config"
	"supermarket-pos/backend/internal/hardware"
	"supermarket-pos/backend/internal/lock"
	"supermarket-pos/backend/internal/logging"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestServiceOptionsDefaults(t *testing.T) {
	opts, err := serviceOptions(config.Config{PrinterType: "none", StoreName: "Test Mart", DefaultPhoneRegion: "IN"}, logging.Discard())
	if err != nil {
		t.Fatalf("service options: %v", err)
	}
	if _, ok := opts.Cache.(cache.NoopReportCache); !ok {
		t.Fatalf("expected noop cache without redis, got %T", opts.Cache)
	}
	if _, ok := opts.Locker.(*lock.LocalLocker); !ok {
		t.Fatalf("expected in-process locker without redis, got %T", opts.Locker)
	}
	if _, ok := opts.Printer.(hardware.NoPrinter); !ok {
		t.Fatalf("expected no printer, got %T", opts.Printer)
	}
	if opts.Scale != nil {
		t.Fatalf("expected no scale without SCALE_DEVICE")
	}
	if opts.Terminal.Configured() {
		t.Fatalf("expected terminal to be unconfigured without Pine Labs settings")
	}
	if opts.StoreInfo.Name != "Test Mart" {
		t.Fatalf("expected store name on receipts, got %q", opts.StoreInfo.Name)
	}
}

func TestServiceOptionsWiresConfiguredHardware(t *testing.T) {
	opts, err := serviceOptions(config.Config{
		PrinterType:        "network",
		PrinterAddr:        "192.168.1.50:9100",
		ScaleDevice:        "/dev/ttyUSB0",
		ScaleTimeoutMS:     500,
		PineLabsHost:       "10.0.0.9",
		PineLabsPort:       "8080",
		PineLabsMerchantID: "M1",
		PineLabsTerminalID: "T1",
	}, logging.Discard())
	if err != nil {
		t.Fatalf("service options: %v", err)
	}
	if _, ok := opts.Printer.(*hardware.NetworkPrinter); !ok {
		t.Fatalf("expected network printer, got %T", opts.Printer)
	}
	if _, ok := opts.Scale.(*hardware.SerialScale); !ok {
		t.Fatalf("expected serial scale, got %T", opts.Scale)
	}
	if !opts.Terminal.Configured() {
		t.Fatalf("expected configured terminal")
	}
}

func TestServiceOptionsRejectsUnknownPrinter(t *testing.T) {
	if _, err := serviceOptions(config.Config{PrinterType: "bluetooth"}, logging.Discard()); err == nil {
		t.Fatalf("expected unknown printer type to be rejected")
	}
}

func TestUseRedisKeepsFallbacksWhenUnreachable(t *testing.T) {
	opts, err := serviceOptions(config.Config{PrinterType: "none"}, logging.Discard())
	if err != nil {
		t.Fatalf("service options: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := useRedis(ctx, &opts, rdb); err == nil {
		t.Fatalf("expected unreachable redis to be reported")
	}
	if _, ok := opts.Cache.(cache.NoopReportCache); !ok {
		t.Fatalf("expected noop cache to stay in place, got %T", opts.Cache)
	}
	if _, ok := opts.Locker.(*lock.LocalLocker); !ok {
		t.Fatalf("expected in-process locker to stay in place, got %T", opts.Locker)
	}
}
