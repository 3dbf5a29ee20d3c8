package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"supermarket-pos/backend/internal/cache"
	"supermarket-pos/backend/internal/domain"
	"supermarket-pos/backend/internal/hardware"
	"supermarket-pos/backend/internal/lock"
	"supermarket-pos/backend/internal/logging"
	"supermarket-pos/backend/internal/store"
)

const moduleName = "service"

// ErrForbidden is returned when the actor lacks the role an operation needs.
var ErrForbidden = errors.New("forbidden")

var hundred = decimal.NewFromInt(100)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// WeightReader reads the attached scale.
type WeightReader interface {
	Read(ctx context.Context) (domain.WeightReading, error)
}

// PaymentTerminal pushes an amount to the card terminal and polls the result.
type PaymentTerminal interface {
	Configured() bool
	Initiate(ctx context.Context, amount decimal.Decimal, mode domain.PaymentMode, billingRef string) (string, error)
	Status(ctx context.Context, transactionID string) (domain.TerminalStatus, error)
}

type Options struct {
	Cache       cache.ReportCache
	CacheTTL    time.Duration
	Locker      lock.Locker
	Printer     hardware.Printer
	Scale       WeightReader
	Terminal    PaymentTerminal
	StoreInfo   hardware.StoreInfo
	PhoneRegion string
	Logger      *logrus.Logger
}

type Service struct {
	repo        store.Repository
	cache       cache.ReportCache
	cacheTTL    time.Duration
	locker      lock.Locker
	printer     hardware.Printer
	scale       WeightReader
	terminal    PaymentTerminal
	storeInfo   hardware.StoreInfo
	phoneRegion string
	logger      *logrus.Logger
}

func New(repo store.Repository, opts Options) *Service {
	svc := &Service{
		repo:        repo,
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
		locker:      opts.Locker,
		printer:     opts.Printer,
		scale:       opts.Scale,
		terminal:    opts.Terminal,
		storeInfo:   opts.StoreInfo,
		phoneRegion: strings.ToUpper(strings.TrimSpace(opts.PhoneRegion)),
		logger:      opts.Logger,
	}
	if svc.cache == nil {
		svc.cache = cache.NoopReportCache{}
	}
	if svc.cacheTTL <= 0 {
		svc.cacheTTL = 30 * time.Second
	}
	if svc.locker == nil {
		svc.locker = lock.NewLocalLocker()
	}
	if svc.printer == nil {
		svc.printer = hardware.NoPrinter{}
	}
	if svc.phoneRegion == "" {
		svc.phoneRegion = "IN"
	}
	if svc.storeInfo.Name == "" {
		svc.storeInfo.Name = "Supermarket"
	}
	if svc.logger == nil {
		svc.logger = logging.Discard()
	}
	return svc
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == 0 {
		return domain.Actor{}, fmt.Errorf("%w: authenticated user required", ErrForbidden)
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.Actor{}, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return actor, nil
}

// logAudit records a state change as a structured audit event.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID int64, fields logrus.Fields) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system"}
	}

	entry := s.logger.WithFields(logrus.Fields{
		"audit":       true,
		"action":      action,
		"entity_type": entityType,
		"entity_id":   entityID,
		"actor":       actor.Username,
		"actor_role":  string(actor.Role),
	})
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Info("audit")
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrValidation, fmt.Sprintf(format, args...))
}

func validPercent(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThanOrEqual(hundred)
}

// Stored scales: money and rates keep 2 places, quantities keep 3.
const (
	moneyPlaces = 2
	qtyPlaces   = 3
)

func money(v decimal.Decimal) decimal.Decimal {
	return v.Round(moneyPlaces)
}

// fitsPlaces reports whether v has no digits beyond the given decimal places.
func fitsPlaces(v decimal.Decimal, places int32) bool {
	return v.Equal(v.Truncate(places))
}

func defaultString(value string, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}

func clampLimit(limit int, fallback int, max int) int {
	if limit < 1 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func int64Ptr(v int64) *int64 {
	return &v
}
