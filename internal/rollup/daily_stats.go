package rollup

import (
	"time"

	"gorm.io/datatypes"
)

// ReferrerCount is one entry of a day's top referrers.
type ReferrerCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// DailyStats is the rolled-up summary of one calendar day. Date is the
// local day as YYYY-MM-DD and is unique. A recompute overwrites every
// column except CreatedAt, so re-runs without new events leave the row
// unchanged.
type DailyStats struct {
	ID              uint                                `gorm:"primaryKey" json:"-"`
	Date            string                              `gorm:"size:10;uniqueIndex;not null" json:"date"`
	VisitorsUnique  int                                 `gorm:"not null;default:0" json:"visitorsUnique"`
	VisitorsTotal   int                                 `gorm:"not null;default:0" json:"visitorsTotal"`
	PageViewsTotal  int                                 `gorm:"not null;default:0" json:"pageViewsTotal"`
	PageViewsByPage datatypes.JSONType[map[string]int]  `gorm:"not null" json:"pageViewsByPage"`
	ContactForms    int                                 `gorm:"not null;default:0" json:"contactForms"`
	GalleryViews    int                                 `gorm:"not null;default:0" json:"galleryViews"`
	Reviews         int                                 `gorm:"not null;default:0" json:"reviews"`
	AdminLogins     int                                 `gorm:"not null;default:0" json:"adminLogins"`
	Devices         datatypes.JSONType[map[string]int]  `gorm:"not null" json:"devices"`
	Browsers        datatypes.JSONType[map[string]int]  `gorm:"not null" json:"browsers"`
	TopReferrers    datatypes.JSONType[[]ReferrerCount] `gorm:"not null" json:"topReferrers"`
	CreatedAt       time.Time                           `json:"createdAt"`
}

// ByPage returns the per-page view counts, never nil.
func (d DailyStats) ByPage() map[string]int {
	return orEmpty(d.PageViewsByPage.Data())
}

// DeviceCounts returns the per-device view counts, never nil.
func (d DailyStats) DeviceCounts() map[string]int {
	return orEmpty(d.Devices.Data())
}

// BrowserCounts returns the per-browser view counts, never nil.
func (d DailyStats) BrowserCounts() map[string]int {
	return orEmpty(d.Browsers.Data())
}

// Referrers returns the stored top referrers.
func (d DailyStats) Referrers() []ReferrerCount {
	return d.TopReferrers.Data()
}

func orEmpty(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
