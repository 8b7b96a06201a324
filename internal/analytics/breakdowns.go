package analytics

import (
	"context"
	"sort"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"leadflow/internal/events"
	"leadflow/internal/rollup"
	"leadflow/internal/timeframe"
)

func titleLabel(name string) string {
	return cases.Title(language.English).String(name)
}

func plainLabel(name string) string {
	return name
}

// Shares converts counts into rows ordered by count then name, each with its
// percentage of the breakdown total. An empty breakdown has no rows; a zero
// total yields 0 percentages.
func Shares(counts map[string]int64, label func(string) string) []Share {
	var total int64
	for _, c := range counts {
		total += c
	}
	if label == nil {
		label = plainLabel
	}

	out := make([]Share, 0, len(counts))
	for name, c := range counts {
		out = append(out, Share{Name: name, Label: label(name), Count: c, Percentage: percentage(c, total)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func percentage(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func limitShares(rows []Share, limit int) []Share {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// PageBreakdown ranks pages by views over the last `days` days, read from
// raw events. Percentages are of all page views in the breakdown.
func (s *Service) PageBreakdown(ctx context.Context, days, limit int) ([]Share, error) {
	frame, err := s.Frame(days)
	if err != nil {
		return nil, err
	}
	return s.pageBreakdown(ctx, frame, limit)
}

func (s *Service) pageBreakdown(ctx context.Context, frame *timeframe.DailyFrame, limit int) ([]Share, error) {
	from, to := frame.Bounds()
	pages, err := events.PageBreakdown(ctx, s.dbManager.GetConnection(), from, to, s.batchSize)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(pages))
	visitors := make(map[string]int64, len(pages))
	for _, p := range pages {
		counts[p.Page] = p.Views
		visitors[p.Page] = p.Visitors
	}
	rows := Shares(counts, plainLabel)
	for i := range rows {
		rows[i].Visitors = visitors[rows[i].Name]
	}
	return limitShares(rows, limit), nil
}

// DeviceBreakdown shares page views by device class over rolled-up days.
func (s *Service) DeviceBreakdown(ctx context.Context, days int) ([]Share, error) {
	stats, err := s.dailyStats(ctx, days)
	if err != nil {
		return nil, err
	}
	return Shares(sumMaps(stats, rollup.DailyStats.DeviceCounts), titleLabel), nil
}

// BrowserBreakdown shares page views by browser over rolled-up days.
func (s *Service) BrowserBreakdown(ctx context.Context, days int) ([]Share, error) {
	stats, err := s.dailyStats(ctx, days)
	if err != nil {
		return nil, err
	}
	return Shares(sumMaps(stats, rollup.DailyStats.BrowserCounts), titleLabel), nil
}

func (s *Service) dailyStats(ctx context.Context, days int) ([]rollup.DailyStats, error) {
	frame, err := s.Frame(days)
	if err != nil {
		return nil, err
	}
	return rollup.Range(ctx, s.dbManager.GetConnection(), frame.From, frame.To, frame.Tz)
}

func sumMaps(stats []rollup.DailyStats, pick func(rollup.DailyStats) map[string]int) map[string]int64 {
	out := map[string]int64{}
	for _, st := range stats {
		for k, v := range pick(st) {
			out[k] += int64(v)
		}
	}
	return out
}

func sumReferrers(stats []rollup.DailyStats) map[string]int64 {
	out := map[string]int64{}
	for _, st := range stats {
		for _, r := range st.Referrers() {
			out[r.Source] += int64(r.Count)
		}
	}
	return out
}
