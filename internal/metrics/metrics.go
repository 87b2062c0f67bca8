// Package metrics computes dashboard aggregates over audit results.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-logistics/kestrel/internal/domain"
)

const (
	// DefaultWindow is the trailing period the dashboard reports on.
	DefaultWindow = 30 * 24 * time.Hour

	cacheTTL = 5 * time.Minute

	laneLimit   = 20
	recentLimit = 100
)

// Service derives dashboard metrics from the repository, with read-through
// caching. All derived ratios are zero-safe: an empty window reports 0
// rather than dividing by zero.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	log   *slog.Logger
}

func NewService(repo domain.Repository, cache domain.Cache, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, cache: cache, log: log}
}

// WindowMetrics returns the KPI block for the trailing window, computing
// the derived percentages the repository leaves raw.
func (s *Service) WindowMetrics(ctx context.Context, window time.Duration) (*domain.Metrics, error) {
	if window <= 0 {
		window = DefaultWindow
	}

	key := "metrics:" + window.String()
	if cached, err := s.cache.Get(ctx, key); err == nil && cached != nil {
		var m domain.Metrics
		if err := json.Unmarshal(cached, &m); err == nil {
			return &m, nil
		}
	}

	since := time.Now().UTC().Add(-window)
	m, err := s.repo.WindowMetrics(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("window metrics: %w", err)
	}

	if m.TotalSpend > 0 {
		m.SavingsPercentage = round2(m.PotentialSavings / m.TotalSpend * 100)
	}
	if m.TotalShipments > 0 {
		m.ExceptionRate = round2(float64(m.TotalExceptions) / float64(m.TotalShipments) * 100)
	}
	m.TotalSpend = round2(m.TotalSpend)
	m.PotentialSavings = round2(m.PotentialSavings)

	if data, err := json.Marshal(m); err == nil {
		if err := s.cache.Set(ctx, key, data, cacheTTL); err != nil {
			s.log.Warn("metrics cache write failed", "error", err)
		}
	}

	return m, nil
}

// Dashboard assembles the full dashboard payload: KPIs, lane activity,
// per-type breakdown, the zero-filled daily trend, and recent exceptions.
func (s *Service) Dashboard(ctx context.Context, window time.Duration) (*domain.Dashboard, error) {
	if window <= 0 {
		window = DefaultWindow
	}

	if cached, err := s.cache.GetDashboard(ctx, window.String()); err == nil && cached != nil {
		return cached, nil
	}

	m, err := s.WindowMetrics(ctx, window)
	if err != nil {
		return nil, err
	}

	since := time.Now().UTC().Add(-window)

	lanes, err := s.repo.LaneActivity(ctx, laneLimit)
	if err != nil {
		return nil, fmt.Errorf("lane activity: %w", err)
	}

	byType, err := s.repo.ExceptionsByType(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("exceptions by type: %w", err)
	}

	trend, err := s.trend(ctx, since)
	if err != nil {
		return nil, err
	}

	recent, err := s.repo.RecentExceptions(ctx, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent exceptions: %w", err)
	}

	d := &domain.Dashboard{
		Metrics:          m,
		Lanes:            lanes,
		ExceptionsByType: byType,
		Trend:            trend,
		Exceptions:       recent,
	}

	if err := s.cache.SetDashboard(ctx, window.String(), d, cacheTTL); err != nil {
		s.log.Warn("dashboard cache write failed", "error", err)
	}

	return d, nil
}

// trend zero-fills the repository's sparse per-day points so every day
// from since through today appears exactly once, in order.
func (s *Service) trend(ctx context.Context, since time.Time) ([]domain.TrendPoint, error) {
	points, err := s.repo.ExceptionTrend(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("exception trend: %w", err)
	}

	byDay := make(map[string]domain.TrendPoint, len(points))
	for _, p := range points {
		byDay[p.Date] = p
	}

	start := time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
	today := time.Now().UTC()
	end := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	var filled []domain.TrendPoint
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := day.Format("2006-01-02")
		if p, ok := byDay[date]; ok {
			filled = append(filled, p)
		} else {
			filled = append(filled, domain.TrendPoint{Date: date})
		}
	}
	return filled, nil
}

// RecomputeDailySummaries rebuilds the per-day summary table for the last
// days calendar days from the fact tables. Safe to run repeatedly.
func (s *Service) RecomputeDailySummaries(ctx context.Context, days int) ([]*domain.DailySummary, error) {
	if days <= 0 {
		days = 30
	}

	today := time.Now().UTC()
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))

	summaries := make([]*domain.DailySummary, 0, days)
	for day := 0; day < days; day++ {
		summary, err := s.repo.DailyRollup(ctx, start.AddDate(0, 0, day))
		if err != nil {
			return nil, fmt.Errorf("daily rollup: %w", err)
		}
		summaries = append(summaries, summary)
	}

	if err := s.repo.ReplaceDailySummaries(ctx, start, summaries); err != nil {
		return nil, fmt.Errorf("replace summaries: %w", err)
	}

	s.log.Info("daily summaries recomputed", "days", days, "from", start.Format("2006-01-02"))
	return summaries, nil
}

// ListDailySummaries returns stored summaries for the last days days.
func (s *Service) ListDailySummaries(ctx context.Context, days int) ([]*domain.DailySummary, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -(days - 1))
	return s.repo.ListDailySummaries(ctx, since)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
