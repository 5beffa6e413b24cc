package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/okash/okash-console/internal/fx"
	"github.com/okash/okash-console/internal/rbac"
)

type mockRepo struct {
	summary      LedgerSummary
	summaryErr   error
	summaryCalls atomic.Int32
	delay        time.Duration
	mismatches   []Mismatch
}

func (m *mockRepo) Summary(context.Context) (LedgerSummary, error) {
	m.summaryCalls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.summary, m.summaryErr
}

func (m *mockRepo) Mismatches(context.Context) ([]Mismatch, error) {
	return m.mismatches, nil
}

type stubRates struct {
	rates []fx.ExchangeRate
	err   error
}

func (s stubRates) List(context.Context) ([]fx.ExchangeRate, error) { return s.rates, s.err }

func (s stubRates) Base() string { return "SYP" }

func sampleSummary() LedgerSummary {
	return LedgerSummary{
		TotalBalance:         250000,
		TotalByType:          map[string]int64{"deposit": 300000, "withdraw": 50000},
		CountByType:          map[string]int64{"deposit": 2, "withdraw": 1},
		BalanceByAccountType: map[string]int64{"personal": 250000},
		ActiveAccountCount:   2,
		AsOf:                 time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestService(t *testing.T, repo Repository, rates RateLister) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(repo, NewCache(client, time.Minute), rates, nil), mr
}

var teller = rbac.Identity{EmployeeID: uuid.New(), Role: rbac.RoleTeller}

func TestSummaryIsCachedUntilBump(t *testing.T) {
	repo := &mockRepo{summary: sampleSummary()}
	svc, _ := newTestService(t, repo, nil)
	ctx := context.Background()

	first, err := svc.Summary(ctx, teller)
	require.NoError(t, err)
	require.Equal(t, int64(250000), first.TotalBalance)
	require.Equal(t, int64(2), first.ActiveAccountCount)

	_, err = svc.Summary(ctx, teller)
	require.NoError(t, err)
	require.Equal(t, int32(1), repo.summaryCalls.Load())

	repo.summary.TotalBalance = 1
	require.NoError(t, svc.Bump(ctx))
	after, err := svc.Summary(ctx, teller)
	require.NoError(t, err)
	require.Equal(t, int64(1), after.TotalBalance)
	require.Equal(t, int32(2), repo.summaryCalls.Load())
}

func TestSummaryCollapsesConcurrentBuilds(t *testing.T) {
	repo := &mockRepo{summary: sampleSummary(), delay: 50 * time.Millisecond}
	svc, _ := newTestService(t, repo, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Summary(context.Background(), teller); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), repo.summaryCalls.Load())
}

func TestSummaryFallsBackWhenRedisDown(t *testing.T) {
	repo := &mockRepo{summary: sampleSummary()}
	svc, mr := newTestService(t, repo, nil)
	mr.Close()

	summary, err := svc.Summary(context.Background(), teller)
	require.NoError(t, err)
	require.Equal(t, int64(250000), summary.TotalBalance)
}

func TestSummaryWithoutCache(t *testing.T) {
	repo := &mockRepo{summary: sampleSummary()}
	svc := NewService(repo, nil, nil, nil)

	summary, err := svc.Summary(context.Background(), teller)
	require.NoError(t, err)
	require.Equal(t, int64(300000), summary.TotalByType["deposit"])
	require.NoError(t, svc.Bump(context.Background()))
}

func TestDashboardDegradesWithoutRates(t *testing.T) {
	repo := &mockRepo{summary: sampleSummary()}
	svc, _ := newTestService(t, repo, stubRates{err: errors.New("rates down")})

	view, err := svc.Dashboard(context.Background(), teller)
	require.NoError(t, err)
	require.Equal(t, "SYP", view.BaseCurrency)
	require.Equal(t, "exchange rates unavailable", view.RatesError)
	require.Empty(t, view.Rates)
	require.Equal(t, int64(250000), view.Summary.TotalBalance)
}

func TestDashboardFailsWhenSummaryFails(t *testing.T) {
	repo := &mockRepo{summaryErr: errors.New("db down")}
	svc, _ := newTestService(t, repo, stubRates{})

	_, err := svc.Dashboard(context.Background(), teller)
	require.Error(t, err)
}

func TestDashboardHandler(t *testing.T) {
	rates := stubRates{rates: []fx.ExchangeRate{{CurrencyCode: "USD", CurrencyName: "US Dollar", RateToBase: decimal.NewFromInt(13000)}}}
	svc, _ := newTestService(t, &mockRepo{summary: sampleSummary()}, rates)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(rbac.WithIdentity(req.Context(), teller)))
		})
	})
	r.Route("/dashboard", NewHandler(svc, nil).MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dashboard/summary", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var view Dashboard
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	require.Equal(t, int64(250000), view.Summary.TotalBalance)
	require.Len(t, view.Rates, 1)
	require.Equal(t, "USD", view.Rates[0].CurrencyCode)
}

func TestCacheBumpAdvancesKeyVersion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewCache(client, time.Minute)
	ctx := context.Background()

	ver, err := cache.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), ver)

	require.NoError(t, cache.Bump(ctx))
	key, err := cache.BuildKey(ctx, "okash", "view")
	require.NoError(t, err)
	require.Equal(t, "okash:view:v2", key)
}
