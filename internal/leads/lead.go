package leads

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"leadflow/internal/apperr"
)

// Status is the administrative lane, independent of funnel progress.
type Status string

const (
	StatusNew      Status = "new"
	StatusRead     Status = "read"
	StatusReplied  Status = "replied"
	StatusArchived Status = "archived"
)

// UTM is the campaign block captured at submission.
type UTM struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Term     string `json:"term,omitempty"`
	Content  string `json:"content,omitempty"`
}

// IsZero reports whether no UTM parameter was captured.
func (u UTM) IsZero() bool {
	return u == UTM{}
}

// Lead is a contact-form submission tracked through the funnel.
// RefSource, RefCode and UTM are written at creation only.
type Lead struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	SubmissionKey string     `gorm:"uniqueIndex;not null" json:"submissionKey"`
	FirstName     string     `gorm:"not null" json:"firstName"`
	LastName      string     `json:"lastName"`
	Email         string     `gorm:"not null;index" json:"email"`
	Phone         string     `json:"phone,omitempty"`
	EventDate     *time.Time `json:"eventDate,omitempty"`
	GuestCount    int        `json:"guestCount,omitempty"`
	Message       string     `json:"message,omitempty"`

	RefSource *string `gorm:"index" json:"refSource"`
	RefCode   *string `gorm:"index" json:"refCode"`
	UTM       UTM     `gorm:"embedded;embeddedPrefix:utm_" json:"utm"`

	LandingPage string `json:"landingPage,omitempty"`

	TourScheduled bool             `gorm:"not null;default:false;index" json:"tourScheduled"`
	TourDate      *time.Time       `json:"tourDate,omitempty"`
	Booked        bool             `gorm:"not null;default:false;index" json:"booked"`
	BookingDate   *time.Time       `json:"bookingDate,omitempty"`
	BookingAmount *decimal.Decimal `gorm:"type:decimal(12,2)" json:"bookingAmount,omitempty"`

	Status    Status    `gorm:"not null;default:new;index" json:"status"`
	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

// Stage returns the furthest funnel stage reached.
func (l Lead) Stage() string {
	switch {
	case l.Booked:
		return "booked"
	case l.TourScheduled:
		return "tour_scheduled"
	default:
		return "new"
	}
}

// Attributed reports whether a partner was credited with the lead.
func (l Lead) Attributed() bool {
	return l.RefCode != nil
}

// Find loads a lead by ID.
func Find(db *gorm.DB, id uint) (*Lead, error) {
	var lead Lead
	if err := db.First(&lead, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NewNotFoundError("lead", id)
		}
		return nil, fmt.Errorf("failed to load lead: %w", err)
	}
	return &lead, nil
}

// ListFilter narrows List; zero values mean no filter.
type ListFilter struct {
	Status  Status
	RefCode string
	Stage   string // new, tour_scheduled, booked
	Limit   int
	Offset  int
}

// List returns leads, newest first.
func List(db *gorm.DB, filter ListFilter) ([]Lead, error) {
	q := db.Model(&Lead{}).Order("created_at DESC, id DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.RefCode != "" {
		q = q.Where("ref_code = ?", filter.RefCode)
	}
	switch filter.Stage {
	case "new":
		q = q.Where("tour_scheduled = ? AND booked = ?", false, false)
	case "tour_scheduled":
		q = q.Where("tour_scheduled = ? AND booked = ?", true, false)
	case "booked":
		q = q.Where("booked = ?", true)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []Lead
	if err := q.Limit(limit).Offset(filter.Offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list leads: %w", err)
	}
	return out, nil
}

// FunnelCounts describes the cohort of leads created inside a window.
type FunnelCounts struct {
	Leads      int64 `json:"leads"`
	Tours      int64 `json:"tours"`
	Bookings   int64 `json:"bookings"`
	Attributed int64 `json:"attributed"`
}

// CountFunnel counts leads created in [from, to] and how far they progressed.
func CountFunnel(db *gorm.DB, from, to time.Time) (FunnelCounts, error) {
	var c FunnelCounts
	err := db.Raw(`
		SELECT
			COUNT(*) AS leads,
			COALESCE(SUM(CASE WHEN tour_scheduled THEN 1 ELSE 0 END), 0) AS tours,
			COALESCE(SUM(CASE WHEN booked THEN 1 ELSE 0 END), 0) AS bookings,
			COALESCE(SUM(CASE WHEN ref_code IS NOT NULL THEN 1 ELSE 0 END), 0) AS attributed
		FROM leads
		WHERE created_at BETWEEN ? AND ?
	`, from.UTC(), to.UTC()).Scan(&c).Error
	if err != nil {
		return FunnelCounts{}, fmt.Errorf("failed to count funnel: %w", err)
	}
	return c, nil
}

// BookingRevenue sums booking amounts of booked leads created in [from, to].
// Amounts are summed as decimals; a single currency is assumed.
func BookingRevenue(db *gorm.DB, from, to time.Time) (decimal.Decimal, error) {
	var amounts []decimal.NullDecimal
	err := db.Model(&Lead{}).
		Where("booked = ? AND booking_amount IS NOT NULL AND created_at BETWEEN ? AND ?", true, from.UTC(), to.UTC()).
		Pluck("booking_amount", &amounts).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum booking revenue: %w", err)
	}
	total := decimal.Zero
	for _, a := range amounts {
		if a.Valid {
			total = total.Add(a.Decimal)
		}
	}
	return total, nil
}

// Recent returns the newest leads.
func Recent(db *gorm.DB, limit int) ([]Lead, error) {
	return List(db, ListFilter{Limit: limit})
}
