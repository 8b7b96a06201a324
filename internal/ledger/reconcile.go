package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"leadflow/internal/partners"
)

// Counts is one partner's counter triple.
type Counts struct {
	Leads    int64 `json:"leads"`
	Tours    int64 `json:"tours"`
	Bookings int64 `json:"bookings"`
}

// Drift reports what reconciliation changed for one partner.
type Drift struct {
	PartnerID uint   `json:"partnerId"`
	Code      string `json:"code"`
	Before    Counts `json:"before"`
	After     Counts `json:"after"`
}

// Changed reports whether the stored counters disagreed with the leads.
func (d Drift) Changed() bool {
	return d.Before != d.After
}

// countLeads aggregates the leads table, which is the source of truth.
func countLeads(tx *gorm.DB, code string) (Counts, error) {
	var c Counts
	err := tx.Raw(`
		SELECT
			COUNT(*) AS leads,
			COALESCE(SUM(CASE WHEN tour_scheduled THEN 1 ELSE 0 END), 0) AS tours,
			COALESCE(SUM(CASE WHEN booked THEN 1 ELSE 0 END), 0) AS bookings
		FROM leads
		WHERE ref_code = ?
	`, code).Scan(&c).Error
	return c, err
}

// Reconcile overwrites a partner's counters with the aggregate of leads
// carrying its code. Read and write share one immediate transaction so no
// increment can land in between.
func (l *Ledger) Reconcile(ctx context.Context, partnerID uint) (Drift, error) {
	db := l.dbManager.GetConnection().WithContext(ctx)
	if _, err := partners.FindByID(db, partnerID); err != nil {
		return Drift{}, err
	}
	var drift Drift

	err := sqlite.PerformWrite(l.logger, db, func(tx *gorm.DB) error {
		var p partners.Partner
		if err := tx.First(&p, partnerID).Error; err != nil {
			return err
		}
		actual, err := countLeads(tx, p.Code)
		if err != nil {
			return err
		}
		drift = Drift{
			PartnerID: p.ID,
			Code:      p.Code,
			Before:    Counts{Leads: p.TotalLeads, Tours: p.TotalTours, Bookings: p.TotalBookings},
			After:     actual,
		}
		if !drift.Changed() {
			return nil
		}
		return tx.Model(&partners.Partner{}).Where("id = ?", p.ID).UpdateColumns(map[string]any{
			"total_leads":    actual.Leads,
			"total_tours":    actual.Tours,
			"total_bookings": actual.Bookings,
		}).Error
	})
	if err != nil {
		return Drift{}, fmt.Errorf("failed to reconcile partner %d: %w", partnerID, err)
	}

	if drift.Changed() {
		l.logger.Warn("Partner counters drifted, corrected from leads",
			slog.Uint64("partner_id", uint64(partnerID)),
			slog.Any("before", drift.Before),
			slog.Any("after", drift.After))
	}
	return drift, nil
}

// ReconcileAll reconciles every partner, active or not, and returns the ones that drifted.
func (l *Ledger) ReconcileAll(ctx context.Context) ([]Drift, error) {
	var ids []uint
	if err := l.dbManager.GetConnection().WithContext(ctx).
		Model(&partners.Partner{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list partners: %w", err)
	}

	var drifted []Drift
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return drifted, err
		}
		d, err := l.Reconcile(ctx, id)
		if err != nil {
			return drifted, err
		}
		if d.Changed() {
			drifted = append(drifted, d)
		}
	}

	l.logger.Info("Ledger reconciliation finished",
		slog.Int("partners", len(ids)), slog.Int("drifted", len(drifted)))
	return drifted, nil
}
