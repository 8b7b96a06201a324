// Package app wires the lead, partner, event and analytics components into a
// single service used by the HTTP layer and the command-line tools.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"leadflow/internal/analytics"
	"leadflow/internal/config"
	"leadflow/internal/events"
	"leadflow/internal/leads"
	"leadflow/internal/ledger"
	"leadflow/internal/partners"
	"leadflow/internal/rollup"
	"leadflow/internal/settings"
	"leadflow/internal/timeframe"
)

// Service exposes the application operations over one database.
type Service struct {
	cfg       *config.Config
	dbManager cartridge.DBManager
	logger    *slog.Logger

	Settings  *settings.Store
	Partners  *partners.Directory
	Generator *partners.Generator
	Ledger    *ledger.Ledger
	Leads     *leads.Service
	Events    *events.Log
	Tracker   *events.Tracker
	Rollup    *rollup.Engine
	Analytics *analytics.Service
}

// Option adjusts a Service during construction.
type Option func(*options)

type options struct {
	timeProvider timeframe.TimeProvider
}

// WithTimeProvider fixes the clock used for analytics windows.
func WithTimeProvider(tp timeframe.TimeProvider) Option {
	return func(o *options) { o.timeProvider = tp }
}

// New builds a Service. The schema must already be migrated.
func New(cfg *config.Config, dbManager cartridge.DBManager, logger *slog.Logger, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store := settings.NewStore(dbManager.GetConnection(), logger)
	if err := store.SetupDefaults(); err != nil {
		return nil, fmt.Errorf("failed to set up settings: %w", err)
	}

	loc := cfg.Location()
	directory := partners.NewDirectory(dbManager, logger, cfg.PartnerCacheTTL())
	book := ledger.New(dbManager, logger, cfg.LedgerMaxRetries)
	eventLog := events.NewLog(dbManager, logger, store)

	return &Service{
		cfg:       cfg,
		dbManager: dbManager,
		logger:    logger,
		Settings:  store,
		Partners:  directory,
		Generator: partners.NewGenerator(cfg.CodePrefix, cfg.CodeMaxAttempts),
		Ledger:    book,
		Leads:     leads.NewService(dbManager, logger, directory, book),
		Events:    eventLog,
		Tracker:   events.NewTracker(eventLog, logger, cfg.TrackingTimeout(), cfg.TrackingMaxInFlight),
		Rollup: rollup.NewEngine(dbManager, logger, store, rollup.Options{
			Location:  loc,
			BatchSize: cfg.RollupBatchSize,
			SiteHost:  cfg.SiteHost,
			Workers:   cfg.BackfillWorkers,
		}),
		Analytics: analytics.NewService(dbManager, logger, store, book, analytics.Options{
			Location:     loc,
			TimeProvider: o.timeProvider,
			BatchSize:    cfg.RollupBatchSize,
			Workers:      cfg.BackfillWorkers,
		}),
	}, nil
}

// DBManager returns the database manager the service writes through.
func (s *Service) DBManager() cartridge.DBManager {
	return s.dbManager
}

// SubmitLead stores an inquiry and credits the referring partner.
func (s *Service) SubmitLead(ctx context.Context, input leads.SubmitInput) (uint, error) {
	return s.Leads.SubmitLead(ctx, input)
}

// UpdateFunnelState moves a lead through the funnel.
func (s *Service) UpdateFunnelState(ctx context.Context, id uint, update leads.FunnelUpdate) (*leads.Lead, error) {
	return s.Leads.UpdateFunnelState(ctx, id, update)
}

// TrackEvent records an interaction in the background. It never fails.
func (s *Service) TrackEvent(input events.TrackInput) {
	s.Tracker.Track(input)
}

// GetDashboardSummary aggregates the last days for the admin dashboard.
func (s *Service) GetDashboardSummary(ctx context.Context, days int) (*analytics.DashboardSummary, error) {
	return s.Analytics.GetDashboardSummary(ctx, days)
}

// GetTimeSeries returns one point per day, gaps filled with zero.
func (s *Service) GetTimeSeries(ctx context.Context, days int, typeFilter events.EventType) (*analytics.TimeSeries, error) {
	return s.Analytics.GetTimeSeries(ctx, days, typeFilter)
}

// RollupDay recomputes the statistics row for the day containing date.
func (s *Service) RollupDay(ctx context.Context, date time.Time) (*rollup.DailyStats, error) {
	return s.Rollup.UpdateDailyStats(ctx, date)
}

// Backfill recomputes every day between from and to inclusive.
func (s *Service) Backfill(ctx context.Context, from, to time.Time) ([]rollup.DailyStats, error) {
	return s.Rollup.Backfill(ctx, from, to)
}

// CreatePartner registers a partner with a fresh or supplied referral code.
func (s *Service) CreatePartner(ctx context.Context, input partners.CreateInput) (*partners.Partner, error) {
	return partners.Create(ctx, s.dbManager.GetConnection(), s.logger, s.Generator, input)
}

// UpdatePartner edits partner details. Codes and counters are never changed.
func (s *Service) UpdatePartner(ctx context.Context, id uint, input partners.UpdateInput) (*partners.Partner, error) {
	return partners.Update(ctx, s.dbManager.GetConnection(), s.logger, id, input)
}

// SetPartnerActive deactivates or reactivates a partner.
func (s *Service) SetPartnerActive(ctx context.Context, id uint, active bool) error {
	if active {
		return s.Partners.Reactivate(ctx, id)
	}
	return s.Partners.Deactivate(ctx, id)
}

// Reconcile rebuilds the counters of every partner from the lead table.
func (s *Service) Reconcile(ctx context.Context) ([]ledger.Drift, error) {
	return s.Ledger.ReconcileAll(ctx)
}

// Close stops background tracking and waits for in-flight writes.
func (s *Service) Close() {
	s.Tracker.Close()
}

// Start implements cartridge.BackgroundWorker. Nothing runs until requests arrive.
func (s *Service) Start() error {
	return nil
}

// Stop implements cartridge.BackgroundWorker by draining tracking writes.
func (s *Service) Stop() {
	s.Close()
}
