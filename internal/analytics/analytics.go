// Package analytics serves dashboard queries over raw events, rolled-up
// daily stats, leads and partner counters.
//
// The package is organized into focused modules:
//   - analytics.go: Service and shared result types
//   - timeseries.go: gap-filled daily series
//   - breakdowns.go: page, device, browser and referrer shares
//   - comparison.go: period-over-period growth
//   - dashboard.go: the dashboard summary fan-out
package analytics

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"leadflow/internal/ledger"
	"leadflow/internal/pkg/async"
	"leadflow/internal/timeframe"
)

// Share is one row of a breakdown. Percentage is relative to the total of
// the breakdown it belongs to.
type Share struct {
	Name       string  `json:"name"`
	Label      string  `json:"label"`
	Count      int64   `json:"count"`
	Visitors   int64   `json:"visitors,omitempty"`
	Percentage float64 `json:"percentage"`
}

// Limits supplies list sizes from settings.
type Limits interface {
	IntOr(key string, fallback int) int
}

// Leaderboard ranks partners.
type Leaderboard interface {
	Leaderboard(limit int) ([]ledger.Stats, error)
}

type Service struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	parser    *timeframe.Parser
	limits    Limits
	board     Leaderboard
	pool      *async.Pool
	batchSize int
}

// Options configures a Service.
type Options struct {
	Location     *time.Location
	TimeProvider timeframe.TimeProvider
	BatchSize    int
	Workers      int
}

func NewService(dbManager cartridge.DBManager, logger *slog.Logger, limits Limits, board Leaderboard, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Service{
		dbManager: dbManager,
		logger:    logger,
		parser:    timeframe.NewParser(opts.Location, opts.TimeProvider),
		limits:    limits,
		board:     board,
		pool:      async.NewPool(opts.Workers),
		batchSize: opts.BatchSize,
	}
}

func (s *Service) limit(key string, fallback int) int {
	if s.limits == nil {
		return fallback
	}
	return s.limits.IntOr(key, fallback)
}

// PartnerLeaderboard ranks partners by bookings, then leads.
func (s *Service) PartnerLeaderboard(limit int) ([]ledger.Stats, error) {
	if s.board == nil {
		return []ledger.Stats{}, nil
	}
	return s.board.Leaderboard(limit)
}
