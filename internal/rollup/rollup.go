// Package rollup recomputes per-day statistics from the raw event log. Every
// run rebuilds the whole day and overwrites the stored row, so days can be
// recomputed any number of times, in any order, or in parallel.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"leadflow/internal/apperr"
	"leadflow/internal/events"
	"leadflow/internal/metrics"
	"leadflow/internal/pkg/referrers"
	"leadflow/internal/settings"
	"leadflow/internal/timeframe"
)

const defaultTopReferrers = 10

// Limits supplies the tunable list sizes.
type Limits interface {
	IntOr(key string, fallback int) int
}

// Options configures an Engine.
type Options struct {
	Location  *time.Location
	BatchSize int
	SiteHost  string
	Workers   int
}

type Engine struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	limits    Limits
	opts      Options
}

func NewEngine(dbManager cartridge.DBManager, logger *slog.Logger, limits Limits, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Engine{dbManager: dbManager, logger: logger, limits: limits, opts: opts}
}

// Location is the timezone days are cut in.
func (e *Engine) Location() *time.Location {
	return e.opts.Location
}

// groupKey is one (type, page, ip) bucket.
type groupKey struct {
	typ  events.EventType
	page string
	ip   string
}

type accumulator struct {
	groups    map[groupKey]int
	devices   map[string]int
	browsers  map[string]int
	referrers map[string]int
	siteHost  string
}

func newAccumulator(siteHost string) *accumulator {
	return &accumulator{
		groups:    map[groupKey]int{},
		devices:   map[string]int{},
		browsers:  map[string]int{},
		referrers: map[string]int{},
		siteHost:  siteHost,
	}
}

func (a *accumulator) add(batch []events.Event) error {
	for _, ev := range batch {
		a.groups[groupKey{typ: ev.Type, page: events.PageKey(ev.Page), ip: ev.IPAddress}]++

		if ev.Type != events.TypePageView {
			continue
		}
		a.devices[events.ClassifyDevice(ev.UserAgent)]++
		a.browsers[events.ClassifyBrowser(ev.UserAgent)]++
		if source := referrers.Source(ev.Referrer, a.siteHost); source != "" {
			a.referrers[source]++
		}
	}
	return nil
}

// stats folds the grouped rows into a DailyStats for day.
func (a *accumulator) stats(day string, topN int) DailyStats {
	ips := map[string]struct{}{}
	byPage := map[string]int{}
	s := DailyStats{Date: day}

	for key, count := range a.groups {
		s.VisitorsTotal += count
		if key.ip != "" {
			ips[key.ip] = struct{}{}
		}
		switch key.typ {
		case events.TypePageView:
			s.PageViewsTotal += count
			byPage[key.page] += count
		case events.TypeContactForm:
			s.ContactForms += count
		case events.TypeGalleryView:
			s.GalleryViews += count
		case events.TypeReviewSubmission:
			s.Reviews += count
		case events.TypeAdminLogin:
			s.AdminLogins += count
		}
	}
	s.VisitorsUnique = len(ips)
	s.PageViewsByPage = datatypes.NewJSONType(byPage)
	s.Devices = datatypes.NewJSONType(a.devices)
	s.Browsers = datatypes.NewJSONType(a.browsers)
	s.TopReferrers = datatypes.NewJSONType(topReferrers(a.referrers, topN))
	return s
}

func topReferrers(counts map[string]int, n int) []ReferrerCount {
	out := make([]ReferrerCount, 0, len(counts))
	for source, c := range counts {
		out = append(out, ReferrerCount{Source: source, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Source < out[j].Source
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// UpdateDailyStats recomputes the day containing date over the closed window
// [00:00:00.000, 23:59:59.999] local time and replaces the stored row.
func (e *Engine) UpdateDailyStats(ctx context.Context, date time.Time) (*DailyStats, error) {
	started := time.Now()
	start, end := timeframe.DayWindow(date, e.opts.Location)
	day := start.Format(timeframe.DayFormat)
	db := e.dbManager.GetConnection()

	acc := newAccumulator(e.opts.SiteHost)
	if err := events.Scan(ctx, db, start, end, nil, e.opts.BatchSize, acc.add); err != nil {
		return nil, fmt.Errorf("rollup %s: %w", day, err)
	}

	topN := defaultTopReferrers
	if e.limits != nil {
		topN = e.limits.IntOr(settings.KeyTopReferrersLimit, defaultTopReferrers)
	}
	stats := acc.stats(day, topN)

	var stored DailyStats
	err := sqlite.PerformWrite(e.logger, db.WithContext(ctx), func(tx *gorm.DB) error {
		err := tx.Exec(`
			INSERT INTO daily_stats (
				date, visitors_unique, visitors_total, page_views_total, page_views_by_page,
				contact_forms, gallery_views, reviews, admin_logins,
				devices, browsers, top_referrers, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (date) DO UPDATE SET
				visitors_unique = excluded.visitors_unique,
				visitors_total = excluded.visitors_total,
				page_views_total = excluded.page_views_total,
				page_views_by_page = excluded.page_views_by_page,
				contact_forms = excluded.contact_forms,
				gallery_views = excluded.gallery_views,
				reviews = excluded.reviews,
				admin_logins = excluded.admin_logins,
				devices = excluded.devices,
				browsers = excluded.browsers,
				top_referrers = excluded.top_referrers
		`,
			stats.Date, stats.VisitorsUnique, stats.VisitorsTotal, stats.PageViewsTotal, stats.PageViewsByPage,
			stats.ContactForms, stats.GalleryViews, stats.Reviews, stats.AdminLogins,
			stats.Devices, stats.Browsers, stats.TopReferrers, time.Now().UTC().Truncate(time.Millisecond),
		).Error
		if err != nil {
			return err
		}
		return tx.Where("date = ?", day).First(&stored).Error
	})
	if err != nil {
		e.logger.Error("Failed to store daily stats", slog.String("date", day), slog.Any("error", err))
		return nil, fmt.Errorf("failed to store daily stats for %s: %w", day, err)
	}

	metrics.RollupDuration.Observe(time.Since(started).Seconds())
	e.logger.Info("Daily stats updated",
		slog.String("date", day),
		slog.Int("visitors_total", stored.VisitorsTotal),
		slog.Int("visitors_unique", stored.VisitorsUnique),
		slog.Int("page_views", stored.PageViewsTotal))
	return &stored, nil
}

// Backfill recomputes every day from from to to inclusive. Days are
// independent and run concurrently, at most Workers at a time.
func (e *Engine) Backfill(ctx context.Context, from, to time.Time) ([]DailyStats, error) {
	frame, err := timeframe.NewDailyFrame(from, to, e.opts.Location)
	if err != nil {
		return nil, apperr.NewValidationError("range", err.Error())
	}
	days := frame.Days()
	out := make([]DailyStats, len(days))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, day := range days {
		g.Go(func() error {
			s, err := e.UpdateDailyStats(gctx, day)
			if err != nil {
				return err
			}
			out[i] = *s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.logger.Info("Backfill finished",
		slog.String("from", frame.Key(frame.From)),
		slog.String("to", frame.Key(frame.To)),
		slog.Int("days", len(days)))
	return out, nil
}

// Get returns the stored stats of the day containing date.
func (e *Engine) Get(ctx context.Context, date time.Time) (*DailyStats, error) {
	day := timeframe.DayStart(date, e.opts.Location).Format(timeframe.DayFormat)
	var s DailyStats
	err := e.dbManager.GetConnection().WithContext(ctx).Where("date = ?", day).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NewNotFoundError("daily stats", day)
		}
		return nil, err
	}
	return &s, nil
}

// Range returns the stored stats for days in [from, to], oldest first.
// Days never rolled up are absent.
func (e *Engine) Range(ctx context.Context, from, to time.Time) ([]DailyStats, error) {
	return Range(ctx, e.dbManager.GetConnection(), from, to, e.opts.Location)
}

// Range is Engine.Range over an explicit connection.
func Range(ctx context.Context, db *gorm.DB, from, to time.Time, loc *time.Location) ([]DailyStats, error) {
	if loc == nil {
		loc = time.UTC
	}
	first := timeframe.DayStart(from, loc).Format(timeframe.DayFormat)
	last := timeframe.DayStart(to, loc).Format(timeframe.DayFormat)
	var out []DailyStats
	err := db.WithContext(ctx).
		Where("date BETWEEN ? AND ?", first, last).
		Order("date ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load daily stats: %w", err)
	}
	return out, nil
}
