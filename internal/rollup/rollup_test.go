package rollup_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/apperr"
	"leadflow/internal/events"
	"leadflow/internal/rollup"
	"leadflow/internal/testsupport"
)

const (
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Version/17.0 Mobile/15E148 Safari/604.1"
	firefoxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
)

type fixedLimits map[string]int

func (l fixedLimits) IntOr(key string, fallback int) int {
	if v, ok := l[key]; ok {
		return v
	}
	return fallback
}

func newEngine(t *testing.T, opts rollup.Options) (*rollup.Engine, *testsupport.TestDBManager) {
	t.Helper()
	dbManager, logger := testsupport.SetupTestDBManager(t)
	return rollup.NewEngine(dbManager, logger, fixedLimits{}, opts), dbManager
}

func TestUpdateDailyStatsScenario(t *testing.T) {
	engine, dbManager := newEngine(t, rollup.Options{SiteHost: "venue.example"})
	db := dbManager.GetConnection()
	day := time.Date(2026, 4, 18, 0, 0, 0, 0, time.UTC)

	testsupport.CreateTestEvent(t, db, events.TypePageView, "/home", "203.0.113.1", day.Add(9*time.Hour))
	testsupport.CreateTestEvent(t, db, events.TypePageView, "/home", "203.0.113.1", day.Add(10*time.Hour))
	testsupport.CreateTestEvent(t, db, events.TypePageView, "/home", "203.0.113.2", day.Add(11*time.Hour))
	testsupport.CreateTestEvent(t, db, events.TypeContactForm, "/contact", "203.0.113.2", day.Add(12*time.Hour))

	stats, err := engine.UpdateDailyStats(context.Background(), day.Add(15*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, "2026-04-18", stats.Date)
	assert.Equal(t, 4, stats.VisitorsTotal)
	assert.Equal(t, 2, stats.VisitorsUnique)
	assert.Equal(t, 3, stats.PageViewsTotal)
	assert.Equal(t, 3, stats.ByPage()["home"])
	assert.Equal(t, 1, stats.ContactForms)
	assert.Equal(t, 0, stats.GalleryViews)
	assert.Equal(t, map[string]int{"desktop": 3}, stats.DeviceCounts())
	assert.Equal(t, map[string]int{"chrome": 3}, stats.BrowserCounts())
	assert.Equal(t, []rollup.ReferrerCount{{Source: "Direct", Count: 3}}, stats.Referrers())
}

func TestUpdateDailyStatsIsIdempotent(t *testing.T) {
	engine, dbManager := newEngine(t, rollup.Options{})
	db := dbManager.GetConnection()
	day := time.Date(2026, 4, 19, 0, 0, 0, 0, time.UTC)

	testsupport.CreateTestEvent(t, db, events.TypePageView, "/", "198.51.100.1", day.Add(time.Hour))
	testsupport.CreateTestEvent(t, db, events.TypeGalleryView, "/gallery", "198.51.100.2", day.Add(2*time.Hour))

	readRow := func() map[string]any {
		row := map[string]any{}
		require.NoError(t, db.Table("daily_stats").Where("date = ?", "2026-04-19").Take(&row).Error)
		return row
	}

	first, err := engine.UpdateDailyStats(context.Background(), day)
	require.NoError(t, err)
	before := readRow()

	second, err := engine.UpdateDailyStats(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, readRow(), "re-running without new events must leave the row unchanged")

	var rows int64
	db.Model(&rollup.DailyStats{}).Count(&rows)
	assert.Equal(t, int64(1), rows)

	testsupport.CreateTestEvent(t, db, events.TypePageView, "/", "198.51.100.3", day.Add(3*time.Hour))
	third, err := engine.UpdateDailyStats(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 2, third.PageViewsTotal)
	assert.Equal(t, 3, third.VisitorsUnique)
	assert.Equal(t, first.ID, third.ID)
	assert.True(t, first.CreatedAt.Equal(third.CreatedAt))
}

func TestUpdateDailyStatsDayBoundaries(t *testing.T) {
	engine, dbManager := newEngine(t, rollup.Options{})
	db := dbManager.GetConnection()
	day := time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)

	testsupport.CreateTestEvent(t, db, events.TypePageView, "/", "10.0.0.1", day.Add(-time.Millisecond))
	testsupport.CreateTestEvent(t, db, events.TypePageView, "/", "10.0.0.2", day)
	testsupport.CreateTestEvent(t, db, events.TypePageView, "/", "10.0.0.3", day.Add(24*time.Hour-time.Millisecond))
	testsupport.CreateTestEvent(t, db, events.TypePageView, "/", "10.0.0.4", day.Add(24*time.Hour))

	stats, err := engine.UpdateDailyStats(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PageViewsTotal)
	assert.Equal(t, 2, stats.VisitorsUnique)
}

func TestUpdateDailyStatsBreakdowns(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	engine := rollup.NewEngine(dbManager, logger, fixedLimits{"top_referrers_limit": 2}, rollup.Options{SiteHost: "venue.example", BatchSize: 2})
	day := time.Date(2026, 4, 21, 0, 0, 0, 0, time.UTC)

	add := func(typ events.EventType, page, ip, ua, referrer string, offset time.Duration) {
		testsupport.CreateTestEventWith(t, db, events.Event{
			Type: typ, Page: page, IPAddress: ip, UserAgent: ua, Referrer: referrer, Timestamp: day.Add(offset),
		})
	}
	add(events.TypePageView, "/weddings", "1.1.1.1", iphoneUA, "https://www.google.com/search?q=venue", time.Hour)
	add(events.TypePageView, "/weddings", "1.1.1.1", iphoneUA, "https://venue.example/", 2*time.Hour)
	add(events.TypePageView, "/gallery", "2.2.2.2", firefoxUA, "https://www.instagram.com/", 3*time.Hour)
	add(events.TypePageView, "/", "3.3.3.3", firefoxUA, "https://www.google.com/", 4*time.Hour)
	add(events.TypePageView, "/", "", firefoxUA, "https://blog.example.org/best-venues", 5*time.Hour)
	add(events.TypeReviewSubmission, "/reviews", "2.2.2.2", firefoxUA, "", 6*time.Hour)
	add(events.TypeAdminLogin, "/admin", "9.9.9.9", firefoxUA, "", 7*time.Hour)

	stats, err := engine.UpdateDailyStats(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, 7, stats.VisitorsTotal)
	assert.Equal(t, 4, stats.VisitorsUnique, "events without an IP are not visitors")
	assert.Equal(t, 5, stats.PageViewsTotal)
	assert.Equal(t, map[string]int{"weddings": 2, "gallery": 1, "home": 2}, stats.ByPage())
	assert.Equal(t, 1, stats.Reviews)
	assert.Equal(t, 1, stats.AdminLogins)
	assert.Equal(t, map[string]int{"mobile": 2, "desktop": 3}, stats.DeviceCounts())
	assert.Equal(t, map[string]int{"safari": 2, "firefox": 3}, stats.BrowserCounts())

	refs := stats.Referrers()
	require.Len(t, refs, 2, "top referrers are capped by the setting")
	assert.Equal(t, rollup.ReferrerCount{Source: "Google", Count: 2}, refs[0])
}

func TestBackfillAndRange(t *testing.T) {
	engine, dbManager := newEngine(t, rollup.Options{Workers: 3})
	db := dbManager.GetConnection()
	ctx := context.Background()
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		for j := 0; j <= i; j++ {
			testsupport.CreateTestEvent(t, db, events.TypePageView, "/", "10.0.0.1", start.AddDate(0, 0, i).Add(time.Duration(j)*time.Minute))
		}
	}

	stats, err := engine.Backfill(ctx, start, start.AddDate(0, 0, 4))
	require.NoError(t, err)
	require.Len(t, stats, 5)
	for i, s := range stats {
		assert.Equal(t, start.AddDate(0, 0, i).Format("2006-01-02"), s.Date)
		assert.Equal(t, i+1, s.PageViewsTotal)
	}

	rows, err := engine.Range(ctx, start.AddDate(0, 0, 1), start.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "2026-04-02", rows[0].Date)
	assert.Equal(t, "2026-04-04", rows[2].Date)

	got, err := engine.Get(ctx, start.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, got.PageViewsTotal)

	_, err = engine.Get(ctx, start.AddDate(0, 1, 0))
	assert.True(t, apperr.IsNotFound(err))

	_, err = engine.Backfill(ctx, start.AddDate(0, 0, 4), start)
	assert.True(t, apperr.IsValidation(err))
}

func TestRollupUsesLocation(t *testing.T) {
	berlin := time.FixedZone("CEST", 2*3600)
	engine, dbManager := newEngine(t, rollup.Options{Location: berlin})
	db := dbManager.GetConnection()

	// 23:30 UTC on the 21st is already the 22nd at UTC+2
	testsupport.CreateTestEvent(t, db, events.TypePageView, "/", "10.0.0.1", time.Date(2026, 4, 21, 23, 30, 0, 0, time.UTC))

	stats, err := engine.UpdateDailyStats(context.Background(), time.Date(2026, 4, 22, 12, 0, 0, 0, berlin))
	require.NoError(t, err)
	assert.Equal(t, "2026-04-22", stats.Date)
	assert.Equal(t, 1, stats.PageViewsTotal)
}
