package timeframe

import (
	"fmt"
	"time"
)

// DayFormat is the key format used for daily buckets.
const DayFormat = "2006-01-02"

type DateStat struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider uses the system clock
type DefaultTimeProvider struct{}

func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// FixedTimeProvider always returns the same instant; used by tests and backfills.
type FixedTimeProvider struct {
	At time.Time
}

func (p *FixedTimeProvider) Now(loc *time.Location) time.Time {
	return p.At.In(loc)
}

// DailyFrame is an inclusive range of calendar days in a timezone.
type DailyFrame struct {
	From time.Time // midnight of the first day
	To   time.Time // midnight of the last day
	Tz   *time.Location
}

// DayStart truncates t to local midnight.
func DayStart(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// DayWindow returns the closed window [00:00:00.000, 23:59:59.999] of the day containing t.
func DayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	start := DayStart(t, loc)
	return start, start.AddDate(0, 0, 1).Add(-time.Millisecond)
}

// NewDailyFrame spans every calendar day between from and to, both included.
func NewDailyFrame(from, to time.Time, loc *time.Location) (*DailyFrame, error) {
	if loc == nil {
		loc = time.UTC
	}
	f, t := DayStart(from, loc), DayStart(to, loc)
	if f.After(t) {
		return nil, fmt.Errorf("fromTime must be before toTime")
	}
	return &DailyFrame{From: f, To: t, Tz: loc}, nil
}

// LastDays is the frame of `days` calendar days ending today.
func LastDays(now time.Time, days int, loc *time.Location) (*DailyFrame, error) {
	if days < 1 {
		return nil, fmt.Errorf("days must be at least 1, got %d", days)
	}
	if loc == nil {
		loc = time.UTC
	}
	today := DayStart(now, loc)
	return NewDailyFrame(today.AddDate(0, 0, -(days-1)), today, loc)
}

// Previous returns the frame of equal length immediately before f.
func (f *DailyFrame) Previous() *DailyFrame {
	n := f.Len()
	return &DailyFrame{
		From: f.From.AddDate(0, 0, -n),
		To:   f.From.AddDate(0, 0, -1),
		Tz:   f.Tz,
	}
}

// Bounds returns the first instant and the last millisecond covered by f.
func (f *DailyFrame) Bounds() (time.Time, time.Time) {
	_, end := DayWindow(f.To, f.Tz)
	return f.From, end
}

// Days lists the midnight of every day in the frame.
func (f *DailyFrame) Days() []time.Time {
	var days []time.Time
	for d := f.From; !d.After(f.To); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Len is floor(To-From in days)+1.
func (f *DailyFrame) Len() int {
	return len(f.Days())
}

// Key formats t as the daily bucket key in the frame's timezone.
func (f *DailyFrame) Key(t time.Time) string {
	return t.In(f.Tz).Format(DayFormat)
}

// BuildTimeSeriesPoints returns one point per day in the frame, zero-filling
// days absent from groupedResults.
func (f *DailyFrame) BuildTimeSeriesPoints(groupedResults []DateStat) []DateStat {
	resultsMap := make(map[string]int, len(groupedResults))
	for _, result := range groupedResults {
		key := result.Date
		if len(key) > len(DayFormat) {
			key = key[:len(DayFormat)]
		}
		resultsMap[key] += result.Count
	}

	days := f.Days()
	results := make([]DateStat, len(days))
	for i, d := range days {
		key := d.Format(DayFormat)
		results[i] = DateStat{Date: key, Count: resultsMap[key]}
	}
	return results
}

// CalculateTrend returns the least-squares slope of the series.
func CalculateTrend(points []DateStat) float64 {
	if len(points) < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(points))

	for i, point := range points {
		x := float64(i)
		y := float64(point.Count)

		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	return (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
}
