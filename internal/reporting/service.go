package reporting

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/okash/okash-console/internal/fx"
	"github.com/okash/okash-console/internal/rbac"
)

// RateLister supplies current exchange rates for the dashboard.
type RateLister interface {
	List(ctx context.Context) ([]fx.ExchangeRate, error)
	Base() string
}

// Service serves cached ledger views.
type Service struct {
	repo   Repository
	cache  *Cache
	rates  RateLister
	flight flight
	logger *slog.Logger
}

// NewService wires the repository with the cache. cache and rates may be nil.
func NewService(repo Repository, cache *Cache, rates RateLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, rates: rates, logger: logger}
}

// Summary returns the ledger summary, served from cache while no balance
// changed since it was built.
func (s *Service) Summary(ctx context.Context, actor rbac.Identity) (LedgerSummary, error) {
	if err := actor.Require(rbac.OpViewDashboard); err != nil {
		return LedgerSummary{}, err
	}
	return s.summary(ctx)
}

func (s *Service) summary(ctx context.Context) (LedgerSummary, error) {
	key, err := s.cache.BuildKey(ctx, "okash", "reporting", "summary")
	if err != nil {
		s.logger.Warn("reporting cache unavailable", slog.Any("error", err))
		return s.repo.Summary(ctx)
	}
	val, _, err := s.flight.do(ctx, key, func(ctx context.Context) (any, error) {
		var summary LedgerSummary
		err := s.cache.FetchJSON(ctx, key, &summary, func(ctx context.Context) (any, error) {
			return s.repo.Summary(ctx)
		})
		return summary, err
	})
	if err != nil {
		return LedgerSummary{}, fmt.Errorf("ledger summary: %w", err)
	}
	return val.(LedgerSummary), nil
}

// Dashboard loads the summary and the current rates concurrently. A rate
// lookup failure degrades the view instead of failing it.
func (s *Service) Dashboard(ctx context.Context, actor rbac.Identity) (Dashboard, error) {
	if err := actor.Require(rbac.OpViewDashboard); err != nil {
		return Dashboard{}, err
	}
	var out Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		summary, err := s.summary(gctx)
		if err != nil {
			return err
		}
		out.Summary = summary
		return nil
	})
	if s.rates != nil {
		out.BaseCurrency = s.rates.Base()
		g.Go(func() error {
			rates, err := s.rates.List(gctx)
			if err != nil {
				s.logger.Warn("dashboard rates unavailable", slog.Any("error", err))
				out.RatesError = "exchange rates unavailable"
				return nil
			}
			out.Rates = rates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	if out.Rates == nil {
		out.Rates = []fx.ExchangeRate{}
	}
	return out, nil
}

// Refresh invalidates cached views and rebuilds the summary.
func (s *Service) Refresh(ctx context.Context) (LedgerSummary, error) {
	if err := s.cache.Bump(ctx); err != nil {
		return LedgerSummary{}, err
	}
	return s.summary(ctx)
}

// Bump invalidates cached views after a committed balance change.
func (s *Service) Bump(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

// CheckIntegrity lists accounts whose balances disagree with their
// completed transactions.
func (s *Service) CheckIntegrity(ctx context.Context) ([]Mismatch, error) {
	return s.repo.Mismatches(ctx)
}
