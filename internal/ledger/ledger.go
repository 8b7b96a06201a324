// Package ledger maintains the per-partner performance counters. Counters
// only move through single-statement atomic increments; Reconcile rebuilds
// them from the leads table when they drift.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"leadflow/internal/apperr"
	"leadflow/internal/metrics"
	"leadflow/internal/partners"
)

// Kind selects the counter a funnel transition increments.
type Kind string

const (
	KindLead    Kind = "lead"
	KindTour    Kind = "tour"
	KindBooking Kind = "booking"
)

var counterColumns = map[Kind]string{
	KindLead:    "total_leads",
	KindTour:    "total_tours",
	KindBooking: "total_bookings",
}

type Ledger struct {
	dbManager  cartridge.DBManager
	logger     *slog.Logger
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

func New(dbManager cartridge.DBManager, logger *slog.Logger, maxRetries int) *Ledger {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Ledger{
		dbManager:  dbManager,
		logger:     logger,
		maxRetries: maxRetries,
		backoff:    25 * time.Millisecond,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RecordEvent increments the counter for kind and stamps lastActivityAt in a
// single UPDATE. Lock contention is retried up to maxRetries times.
func (l *Ledger) RecordEvent(ctx context.Context, partnerID uint, kind Kind) error {
	return l.increment(ctx, "id = ?", partnerID, kind)
}

// RecordEventByCode is RecordEvent keyed by the partner's referral code, as
// stamped on a lead. Inactive partners are still credited: counters mirror the
// leads that carry the code.
func (l *Ledger) RecordEventByCode(ctx context.Context, code string, kind Kind) error {
	return l.increment(ctx, "code = ?", partners.NormalizeCode(code), kind)
}

// RecordInTx increments the counter for the partner with code inside an open
// write transaction, so the counter commits together with the lead change that
// earned it. It does not retry: the caller's transaction already holds the
// write lock.
func (l *Ledger) RecordInTx(tx *gorm.DB, code string, kind Kind) error {
	code = partners.NormalizeCode(code)
	affected, err := l.apply(tx, "code = ?", code, kind)
	if err != nil {
		metrics.LedgerIncrements.WithLabelValues(string(kind), "failed").Inc()
		return err
	}
	if affected == 0 {
		metrics.LedgerIncrements.WithLabelValues(string(kind), "missing").Inc()
		return apperr.NewNotFoundError("partner", code)
	}
	metrics.LedgerIncrements.WithLabelValues(string(kind), "ok").Inc()
	return nil
}

// apply runs the single-statement increment and reports the rows it touched.
func (l *Ledger) apply(tx *gorm.DB, where string, key any, kind Kind) (int64, error) {
	column, ok := counterColumns[kind]
	if !ok {
		return 0, apperr.NewValidationError("kind", fmt.Sprintf("unknown ledger kind %q", kind))
	}
	res := tx.Model(&partners.Partner{}).
		Where(where, key).
		UpdateColumns(map[string]any{
			column:             gorm.Expr(column+" + ?", 1),
			"last_activity_at": l.now(),
		})
	return res.RowsAffected, res.Error
}

func (l *Ledger) increment(ctx context.Context, where string, key any, kind Kind) error {
	if _, ok := counterColumns[kind]; !ok {
		return apperr.NewValidationError("kind", fmt.Sprintf("unknown ledger kind %q", kind))
	}

	db := l.dbManager.GetConnection().WithContext(ctx)
	var lastErr error
	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		var affected int64
		err := sqlite.PerformWrite(l.logger, db, func(tx *gorm.DB) error {
			var err error
			affected, err = l.apply(tx, where, key, kind)
			return err
		})
		if err == nil {
			if affected == 0 {
				metrics.LedgerIncrements.WithLabelValues(string(kind), "missing").Inc()
				return apperr.NewNotFoundError("partner", key)
			}
			metrics.LedgerIncrements.WithLabelValues(string(kind), "ok").Inc()
			return nil
		}

		lastErr = err
		if !apperr.IsBusy(err) || ctx.Err() != nil {
			break
		}
		l.logger.Debug("Ledger increment contended, retrying",
			slog.Any("partner", key),
			slog.String("kind", string(kind)),
			slog.Int("attempt", attempt))
		time.Sleep(time.Duration(attempt) * l.backoff)
	}

	metrics.LedgerIncrements.WithLabelValues(string(kind), "failed").Inc()
	if apperr.IsBusy(lastErr) {
		return apperr.NewConflictError("partner", lastErr)
	}
	return fmt.Errorf("failed to record %s for partner %v: %w", kind, key, lastErr)
}

// ConversionRate is bookings/leads*100, and 0 when there are no leads.
func ConversionRate(p partners.Partner) float64 {
	return Rate(p.TotalBookings, p.TotalLeads)
}

// Rate returns num/den*100, 0 when den is 0.
func Rate(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}

// Stats is the reporting view of a partner.
type Stats struct {
	PartnerID      uint       `json:"partnerId"`
	Name           string     `json:"name"`
	Code           string     `json:"code"`
	ContactType    string     `json:"contactType"`
	Active         bool       `json:"active"`
	TotalLeads     int64      `json:"totalLeads"`
	TotalTours     int64      `json:"totalTours"`
	TotalBookings  int64      `json:"totalBookings"`
	ConversionRate float64    `json:"conversionRate"`
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty"`
}

func StatsFor(p partners.Partner) Stats {
	return Stats{
		PartnerID:      p.ID,
		Name:           p.Name,
		Code:           p.Code,
		ContactType:    string(p.ContactType),
		Active:         p.Active,
		TotalLeads:     p.TotalLeads,
		TotalTours:     p.TotalTours,
		TotalBookings:  p.TotalBookings,
		ConversionRate: ConversionRate(p),
		LastActivityAt: p.LastActivityAt,
	}
}

// Leaderboard ranks partners by bookings, then leads.
func (l *Ledger) Leaderboard(limit int) ([]Stats, error) {
	if limit <= 0 {
		limit = 10
	}
	var ps []partners.Partner
	err := l.dbManager.GetConnection().
		Order("total_bookings DESC, total_leads DESC, id ASC").
		Limit(limit).
		Find(&ps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	out := make([]Stats, len(ps))
	for i, p := range ps {
		out[i] = StatsFor(p)
	}
	return out, nil
}
