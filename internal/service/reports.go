package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"supermarket-pos/backend/internal/domain"
	"supermarket-pos/backend/internal/logging"
)

const (
	dateLayout       = "2006-01-02"
	defaultTopLimit  = 10
	maxTopLimit      = 100
	summarySheetName = "Summary"
)

// Report cache keys. Writes that change what a report shows drop its key
// after commit.
const (
	creditReportKey = "credit"
	topReportKey    = "top"
)

func dailyReportKey(day time.Time) string {
	return "daily:" + day.UTC().Format(dateLayout)
}

func monthlyReportKey(year int) string {
	return "monthly:" + strconv.Itoa(year)
}

// saleReportKeys lists the reports a sale contributes to.
func saleReportKeys(sale domain.Sale) []string {
	keys := []string{dailyReportKey(sale.CreatedAt), monthlyReportKey(sale.CreatedAt.UTC().Year()), topReportKey}
	if sale.CustomerID != nil && sale.PaymentMode == domain.PaymentCredit {
		keys = append(keys, creditReportKey)
	}
	return keys
}

// invalidateReports drops cached reports. A failure only delays freshness
// until the TTL, so it is logged rather than returned.
func (s *Service) invalidateReports(ctx context.Context, keys ...string) {
	if err := s.cache.Delete(context.WithoutCancel(ctx), keys...); err != nil {
		logging.LogError(s.logger, moduleName, "invalidateReports", "report cache delete failed", keys, err)
	}
}

// Export is a rendered report ready to be sent as a download.
type Export struct {
	FileName    string
	ContentType string
	Body        []byte
}

// cached serves key from the report cache or fills it with load. Cache
// errors never fail the report.
func cached[T any](ctx context.Context, s *Service, key string, load func() (T, error)) (T, error) {
	var hit T
	ok, err := s.cache.Get(ctx, key, &hit)
	if err != nil {
		logging.LogError(s.logger, moduleName, "cached", "report cache read failed", key, err)
	} else if ok {
		return hit, nil
	}

	value, err := load()
	if err != nil {
		return value, err
	}
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		logging.LogError(s.logger, moduleName, "cached", "report cache write failed", key, err)
	}
	return value, nil
}

func parseReportDate(date string) (time.Time, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return time.Time{}, validationError("date must be YYYY-MM-DD")
	}
	return day, nil
}

// DailySummary totals one UTC day of sales by payment mode. Failed payments
// are left out; every mode is present in the breakdown.
func (s *Service) DailySummary(ctx context.Context, date string) (domain.DailySummary, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.DailySummary{}, err
	}
	day, err := parseReportDate(date)
	if err != nil {
		return domain.DailySummary{}, err
	}

	return cached(ctx, s, dailyReportKey(day), func() (domain.DailySummary, error) {
		rows, err := s.repo.RevenueByMode(ctx, day, day.AddDate(0, 0, 1))
		if err != nil {
			return domain.DailySummary{}, err
		}

		summary := domain.DailySummary{
			Date:         day.Format(dateLayout),
			TotalRevenue: decimal.Zero,
			PaymentBreakdown: domain.PaymentBreakdown{
				Cash:   decimal.Zero,
				UPI:    decimal.Zero,
				Card:   decimal.Zero,
				Credit: decimal.Zero,
			},
		}
		for _, row := range rows {
			summary.PaymentBreakdown.Add(row.Mode, row.Revenue)
			summary.TotalRevenue = summary.TotalRevenue.Add(row.Revenue)
			summary.TotalTransactions += row.Transactions
		}
		summary.TotalRevenue = money(summary.TotalRevenue)
		return summary, nil
	})
}

func (s *Service) TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, defaultTopLimit, maxTopLimit)

	// One cached ranking serves every limit.
	rows, err := cached(ctx, s, topReportKey, func() ([]domain.TopProduct, error) {
		return s.repo.TopProducts(ctx, maxTopLimit)
	})
	if err != nil {
		return nil, err
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *Service) LowStockReport(ctx context.Context) ([]domain.LowStockItem, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.LowStock(ctx)
}

func (s *Service) CreditSummary(ctx context.Context) ([]domain.CreditSummaryRow, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	return cached(ctx, s, creditReportKey, func() ([]domain.CreditSummaryRow, error) {
		customers, err := s.repo.ListCustomersWithCredit(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]domain.CreditSummaryRow, 0, len(customers))
		for _, c := range customers {
			rows = append(rows, domain.CreditSummaryRow{
				ID:                c.ID,
				Name:              c.Name,
				Phone:             c.Phone,
				OutstandingCredit: c.OutstandingCredit,
				CreditLimit:       c.CreditLimit,
			})
		}
		return rows, nil
	})
}

func (s *Service) MonthlyRevenue(ctx context.Context, year int) ([]domain.MonthlyRevenue, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if year == 0 {
		year = time.Now().UTC().Year()
	}
	if year < 2000 || year > 9999 {
		return nil, validationError("year %d out of range", year)
	}

	return cached(ctx, s, monthlyReportKey(year), func() ([]domain.MonthlyRevenue, error) {
		return s.repo.MonthlyRevenue(ctx, year)
	})
}

// ExportDailySummary renders the daily summary as csv or xlsx.
func (s *Service) ExportDailySummary(ctx context.Context, date string, format string) (Export, error) {
	summary, err := s.DailySummary(ctx, date)
	if err != nil {
		return Export{}, err
	}

	rows := [][]string{{"Date", "Payment mode", "Revenue"}}
	for _, mode := range domain.PaymentModes {
		rows = append(rows, []string{summary.Date, string(mode), summary.PaymentBreakdown.Get(mode).StringFixed(2)})
	}
	rows = append(rows,
		[]string{summary.Date, "total", summary.TotalRevenue.StringFixed(2)},
		[]string{summary.Date, "transactions", strconv.Itoa(summary.TotalTransactions)},
	)
	base := "daily-summary-" + summary.Date

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.WriteAll(rows); err != nil {
			return Export{}, err
		}
		return Export{FileName: base + ".csv", ContentType: "text/csv", Body: buf.Bytes()}, nil
	case "xlsx":
		body, err := summaryWorkbook(rows)
		if err != nil {
			return Export{}, err
		}
		return Export{
			FileName:    base + ".xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Body:        body,
		}, nil
	default:
		return Export{}, validationError("unsupported export format %q", format)
	}
}

func summaryWorkbook(rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", summarySheetName); err != nil {
		return nil, err
	}
	for i, row := range rows {
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return nil, err
			}
			var v any = value
			if i > 0 && j == 2 {
				if n, err := strconv.ParseFloat(value, 64); err == nil {
					v = n
				}
			}
			if err := f.SetCellValue(summarySheetName, cell, v); err != nil {
				return nil, fmt.Errorf("write %s: %w", cell, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
