package events

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"leadflow/internal/pkg/user_agent"
	"leadflow/internal/timeframe"
)

// HomePage is the logical name of the site root.
const HomePage = "home"

// PageKey normalizes a page path for grouping: query and fragment dropped,
// leading slash stripped, empty mapped to HomePage.
func PageKey(page string) string {
	page = strings.TrimSpace(page)
	if i := strings.IndexAny(page, "?#"); i >= 0 {
		page = page[:i]
	}
	page = strings.TrimPrefix(page, "/")
	if page == "" {
		return HomePage
	}
	return page
}

// ClassifyDevice returns mobile, tablet or desktop.
func ClassifyDevice(ua string) string {
	return user_agent.DeviceClass(ua)
}

// ClassifyBrowser returns chrome, firefox, safari, edge or other.
func ClassifyBrowser(ua string) string {
	return user_agent.BrowserClass(ua)
}

func window(db *gorm.DB, from, to time.Time, types []EventType) *gorm.DB {
	q := db.Model(&Event{}).Where("timestamp BETWEEN ? AND ?", from.UTC(), to.UTC())
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}
	return q
}

// Scan streams events in [from, to] to fn in primary-key order, batchSize
// rows at a time.
func Scan(ctx context.Context, db *gorm.DB, from, to time.Time, types []EventType, batchSize int, fn func([]Event) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	var batch []Event
	res := window(db.WithContext(ctx), from, to, types).
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(batch)
		})
	if res.Error != nil {
		return fmt.Errorf("failed to scan events: %w", res.Error)
	}
	return nil
}

// CountByDayAndType buckets events in [from, to] by local calendar day and
// type. Day keys use timeframe.DayFormat.
func CountByDayAndType(ctx context.Context, db *gorm.DB, from, to time.Time, loc *time.Location, types []EventType) (map[string]map[EventType]int, error) {
	if loc == nil {
		loc = time.UTC
	}
	rows, err := window(db.WithContext(ctx), from, to, types).Select("type", "timestamp").Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[EventType]int)
	for rows.Next() {
		var (
			typ EventType
			ts  time.Time
		)
		if err := rows.Scan(&typ, &ts); err != nil {
			return nil, fmt.Errorf("failed to read event row: %w", err)
		}
		day := ts.In(loc).Format(timeframe.DayFormat)
		if out[day] == nil {
			out[day] = make(map[EventType]int)
		}
		out[day][typ]++
	}
	return out, rows.Err()
}

// CountByType counts events in [from, to] per type.
func CountByType(ctx context.Context, db *gorm.DB, from, to time.Time) (map[EventType]int64, error) {
	var rows []struct {
		Type  EventType
		Count int64
	}
	err := window(db.WithContext(ctx), from, to, nil).
		Select("type, COUNT(*) AS count").
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count events by type: %w", err)
	}
	out := make(map[EventType]int64, len(rows))
	for _, r := range rows {
		out[r.Type] = r.Count
	}
	return out, nil
}

// PageCount is the page-view tally of one page.
type PageCount struct {
	Page     string `json:"page"`
	Views    int64  `json:"views"`
	Visitors int64  `json:"visitors"`
}

// PageBreakdown groups page views in [from, to] by normalized page, with the
// number of distinct IPs per page. Ordered by views, then page.
func PageBreakdown(ctx context.Context, db *gorm.DB, from, to time.Time, batchSize int) ([]PageCount, error) {
	views := map[string]int64{}
	ips := map[string]map[string]struct{}{}

	err := Scan(ctx, db, from, to, []EventType{TypePageView}, batchSize, func(batch []Event) error {
		for _, e := range batch {
			key := PageKey(e.Page)
			views[key]++
			if e.IPAddress == "" {
				continue
			}
			if ips[key] == nil {
				ips[key] = map[string]struct{}{}
			}
			ips[key][e.IPAddress] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]PageCount, 0, len(views))
	for page, n := range views {
		out = append(out, PageCount{Page: page, Views: n, Visitors: int64(len(ips[page]))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Views != out[j].Views {
			return out[i].Views > out[j].Views
		}
		return out[i].Page < out[j].Page
	})
	return out, nil
}

// Recent returns the newest events.
func Recent(ctx context.Context, db *gorm.DB, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Event
	err := db.WithContext(ctx).Order("timestamp DESC, id DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent events: %w", err)
	}
	return out, nil
}
