package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"leadflow/internal/events"
	"leadflow/internal/leads"
	"leadflow/internal/ledger"
	"leadflow/internal/partners"
	"leadflow/internal/pkg/async"
	"leadflow/internal/rollup"
	"leadflow/internal/settings"
	"leadflow/internal/timeframe"
)

// Overview is the funnel cohort of leads created inside the window.
type Overview struct {
	Leads           int64           `json:"leads"`
	Tours           int64           `json:"tours"`
	Bookings        int64           `json:"bookings"`
	Revenue         decimal.Decimal `json:"revenue"`
	ConversionRate  float64         `json:"conversionRate"`
	ActivePartners  int64           `json:"activePartners"`
	AttributedLeads int64           `json:"attributedLeads"`
}

// SiteStats sums the rolled-up days of the window. VisitorsUnique is the sum
// of daily unique counts.
type SiteStats struct {
	VisitorsUnique int     `json:"visitorsUnique"`
	VisitorsTotal  int     `json:"visitorsTotal"`
	PageViews      int     `json:"pageViews"`
	ContactForms   int     `json:"contactForms"`
	GalleryViews   int     `json:"galleryViews"`
	Reviews        int     `json:"reviews"`
	DaysRolledUp   int     `json:"daysRolledUp"`
	Pages          []Share `json:"pages"`
	Devices        []Share `json:"devices"`
	Browsers       []Share `json:"browsers"`
	Referrers      []Share `json:"referrers"`
}

// RecentActivity lists the newest events and leads.
type RecentActivity struct {
	Events []events.Event `json:"events"`
	Leads  []leads.Lead   `json:"leads"`
}

// DashboardSummary is everything the admin dashboard shows for a window.
type DashboardSummary struct {
	From           string         `json:"from"`
	To             string         `json:"to"`
	Days           int            `json:"days"`
	Overview       Overview       `json:"overview"`
	Growth         Growth         `json:"growth"`
	SiteStats      SiteStats      `json:"siteStats"`
	RecentActivity RecentActivity `json:"recentActivity"`
	GeneratedAt    time.Time      `json:"generatedAt"`
}

type windowTotals struct {
	funnel  leads.FunnelCounts
	revenue decimal.Decimal
	daily   []rollup.DailyStats
}

// GetDashboardSummary builds the summary for the last `days` days and the
// growth against the `days` days before them. Independent queries run
// concurrently on the service's worker pool.
func (s *Service) GetDashboardSummary(ctx context.Context, days int) (*DashboardSummary, error) {
	frame, err := s.Frame(days)
	if err != nil {
		return nil, err
	}
	prev := frame.Previous()
	db := s.dbManager.GetConnection()
	recentLimit := s.limit(settings.KeyRecentActivityLimit, 20)

	totals := func(f *timeframe.DailyFrame) func(ctx context.Context) (any, error) {
		return func(ctx context.Context) (any, error) {
			from, to := f.Bounds()
			conn := db.WithContext(ctx)
			funnel, err := leads.CountFunnel(conn, from, to)
			if err != nil {
				return nil, err
			}
			revenue, err := leads.BookingRevenue(conn, from, to)
			if err != nil {
				return nil, err
			}
			daily, err := rollup.Range(ctx, db, f.From, f.To, f.Tz)
			if err != nil {
				return nil, err
			}
			return windowTotals{funnel: funnel, revenue: revenue, daily: daily}, nil
		}
	}

	tasks := []async.Task{
		{Name: "current", Execute: totals(frame)},
		{Name: "previous", Execute: totals(prev)},
		{Name: "partners", Execute: func(ctx context.Context) (any, error) {
			return partners.CountActive(db.WithContext(ctx))
		}},
		{Name: "pages", Execute: func(ctx context.Context) (any, error) {
			return s.pageBreakdown(ctx, frame, 10)
		}},
		{Name: "recent_events", Execute: func(ctx context.Context) (any, error) {
			return events.Recent(ctx, db, recentLimit)
		}},
		{Name: "recent_leads", Execute: func(ctx context.Context) (any, error) {
			return leads.Recent(db.WithContext(ctx), recentLimit)
		}},
	}

	results := s.pool.Execute(ctx, tasks)
	if err := async.FirstError(tasks, results); err != nil {
		s.logger.Error("Dashboard query failed", slog.Int("days", days), slog.Any("error", err))
		return nil, err
	}

	cur := results["current"].Data.(windowTotals)
	before := results["previous"].Data.(windowTotals)

	site := sumSiteStats(cur.daily)
	site.Pages = results["pages"].Data.([]Share)
	site.Devices = Shares(sumMaps(cur.daily, rollup.DailyStats.DeviceCounts), titleLabel)
	site.Browsers = Shares(sumMaps(cur.daily, rollup.DailyStats.BrowserCounts), titleLabel)
	site.Referrers = limitShares(Shares(sumReferrers(cur.daily), plainLabel),
		s.limit(settings.KeyTopReferrersLimit, 10))
	prevSite := sumSiteStats(before.daily)

	summary := &DashboardSummary{
		From: frame.Key(frame.From),
		To:   frame.Key(frame.To),
		Days: frame.Len(),
		Overview: Overview{
			Leads:           cur.funnel.Leads,
			Tours:           cur.funnel.Tours,
			Bookings:        cur.funnel.Bookings,
			Revenue:         cur.revenue,
			ConversionRate:  ledger.Rate(cur.funnel.Bookings, cur.funnel.Leads),
			ActivePartners:  results["partners"].Data.(int64),
			AttributedLeads: cur.funnel.Attributed,
		},
		Growth: Growth{
			Leads:    PercentageChange(float64(cur.funnel.Leads), float64(before.funnel.Leads)),
			Tours:    PercentageChange(float64(cur.funnel.Tours), float64(before.funnel.Tours)),
			Bookings: PercentageChange(float64(cur.funnel.Bookings), float64(before.funnel.Bookings)),
			Revenue:  decimalChange(cur.revenue, before.revenue),
			Visitors: PercentageChange(float64(site.VisitorsUnique), float64(prevSite.VisitorsUnique)),
		},
		SiteStats: site,
		RecentActivity: RecentActivity{
			Events: results["recent_events"].Data.([]events.Event),
			Leads:  results["recent_leads"].Data.([]leads.Lead),
		},
		GeneratedAt: s.parser.Now().UTC(),
	}
	return summary, nil
}

func sumSiteStats(days []rollup.DailyStats) SiteStats {
	var out SiteStats
	for _, d := range days {
		out.VisitorsUnique += d.VisitorsUnique
		out.VisitorsTotal += d.VisitorsTotal
		out.PageViews += d.PageViewsTotal
		out.ContactForms += d.ContactForms
		out.GalleryViews += d.GalleryViews
		out.Reviews += d.Reviews
	}
	out.DaysRolledUp = len(days)
	return out
}
