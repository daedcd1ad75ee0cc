package service

import (
	"context"
	"sort"
	"time"

	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/core/ports"
	"ledger-settlement-engine/pkg/apperror"
)

// reportingService implements ports.ReportingService on top of the two store
// aggregates. It never reads individual entries.
type reportingService struct {
	store ports.LedgerStore
	clock ports.Clock
}

// NewReportingService creates a new reporting service.
func NewReportingService(store ports.LedgerStore, clock ports.Clock) ports.ReportingService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &reportingService{store: store, clock: clock}
}

func (s *reportingService) AccountTypeTotals(ctx context.Context, asOf time.Time) ([]domain.AccountTypeTotal, error) {
	return s.store.SumByAccountType(ctx, asOf)
}

func (s *reportingService) CategoryTotals(ctx context.Context, start, end time.Time) ([]domain.CategoryTotal, error) {
	if err := checkPeriod(start, end); err != nil {
		return nil, err
	}
	return s.store.SumByCategoryRange(ctx, start, end)
}

// TrialBalance lists debit and credit volume per account type for every
// currency. A zero asOf means now.
func (s *reportingService) TrialBalance(ctx context.Context, asOf time.Time) (*domain.TrialBalance, error) {
	asOf = s.asOf(asOf)
	totals, err := s.store.SumByAccountType(ctx, asOf)
	if err != nil {
		return nil, err
	}

	tb := &domain.TrialBalance{
		AsOf:       asOf,
		Currencies: make(map[domain.Currency][]domain.TrialBalanceLine),
		Balanced:   true,
	}
	net := make(map[domain.Currency]int64)
	for _, t := range totals {
		tb.Currencies[t.Currency] = append(tb.Currencies[t.Currency], domain.TrialBalanceLine{
			Type:    t.Type,
			Debits:  t.Debits,
			Credits: t.Credits,
		})
		net[t.Currency] += t.Debits - t.Credits
	}
	for _, n := range net {
		if n != 0 {
			tb.Balanced = false
		}
	}
	for cur := range tb.Currencies {
		lines := tb.Currencies[cur]
		sort.Slice(lines, func(i, j int) bool { return lines[i].Type < lines[j].Type })
	}
	return tb, nil
}

// BalanceSheet closes revenue and expense into retained earnings so that
// assets = liabilities + equity + retained earnings.
func (s *reportingService) BalanceSheet(ctx context.Context, asOf time.Time, currency domain.Currency) (*domain.BalanceSheet, error) {
	cur, err := domain.ParseCurrency(string(currency))
	if err != nil {
		return nil, err
	}
	asOf = s.asOf(asOf)
	totals, err := s.store.SumByAccountType(ctx, asOf)
	if err != nil {
		return nil, err
	}

	bs := &domain.BalanceSheet{AsOf: asOf, Currency: cur}
	for _, t := range totals {
		if t.Currency != cur {
			continue
		}
		switch t.Type {
		case domain.AccountTypeAsset:
			bs.Assets += t.Net()
		case domain.AccountTypeLiability:
			bs.Liabilities += t.Net()
		case domain.AccountTypeEquity:
			bs.Equity += t.Net()
		case domain.AccountTypeRevenue:
			bs.RetainedEarnings += t.Net()
		case domain.AccountTypeExpense:
			bs.RetainedEarnings -= t.Net()
		}
	}
	bs.Balanced = bs.Assets == bs.Liabilities+bs.Equity+bs.RetainedEarnings
	return bs, nil
}

// IncomeStatement covers start <= t < end. A zero end means now.
func (s *reportingService) IncomeStatement(ctx context.Context, start, end time.Time, currency domain.Currency) (*domain.IncomeStatement, error) {
	cur, err := domain.ParseCurrency(string(currency))
	if err != nil {
		return nil, err
	}
	end = s.asOf(end)
	if err := checkPeriod(start, end); err != nil {
		return nil, err
	}
	totals, err := s.store.SumByCategoryRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	is := &domain.IncomeStatement{Start: start, End: end, Currency: cur}
	for _, t := range totals {
		if t.Currency != cur {
			continue
		}
		switch t.Type {
		case domain.AccountTypeRevenue:
			is.Revenue += t.Net()
		case domain.AccountTypeExpense:
			is.Expenses += t.Net()
		default:
			continue
		}
		is.Lines = append(is.Lines, domain.CategoryLine{Category: t.Category, Amount: t.Net()})
	}
	is.NetIncome = is.Revenue - is.Expenses
	return is, nil
}

func (s *reportingService) asOf(t time.Time) time.Time {
	if t.IsZero() {
		return domain.NormalizeTime(s.clock.Now())
	}
	return domain.NormalizeTime(t)
}

func checkPeriod(start, end time.Time) error {
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return apperror.Validation("end must not be before start")
	}
	return nil
}
