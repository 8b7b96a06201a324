package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"leadflow/internal/apperr"
	"leadflow/internal/ledger"
	"leadflow/internal/metrics"
	"leadflow/internal/validation"
)

// FunnelUpdate carries the requested target state; nil fields are untouched.
// A tour date alone implies TourScheduled, a booking date or amount alone
// implies Booked.
type FunnelUpdate struct {
	TourScheduled *bool            `json:"tourScheduled"`
	TourDate      *time.Time       `json:"tourDate"`
	Booked        *bool            `json:"booked"`
	BookingDate   *time.Time       `json:"bookingDate"`
	BookingAmount *decimal.Decimal `json:"bookingAmount"`
	Status        *Status          `json:"status"`
}

func (u FunnelUpdate) wantsTour() bool {
	return (u.TourScheduled != nil && *u.TourScheduled) || u.TourDate != nil
}

func (u FunnelUpdate) wantsBooking() bool {
	return (u.Booked != nil && *u.Booked) || u.BookingDate != nil || u.BookingAmount != nil
}

// transitions records which compare-and-set updates actually flipped a flag.
type transitions struct {
	tour    bool
	booking bool
}

// UpdateFunnelState moves a lead forward. Whether a stage was newly reached
// is decided by the row count of a conditional UPDATE on the previous flag
// value, so concurrent or repeated calls credit the partner exactly once.
// Partner credits commit in the same transaction as the flag change; ledger
// failures are logged and never undo the lead change.
func (s *Service) UpdateFunnelState(ctx context.Context, id uint, update FunnelUpdate) (*Lead, error) {
	if err := checkUpdate(update); err != nil {
		return nil, err
	}

	var (
		lead     Lead
		moved    transitions
		notFound bool
		invalid  error
	)
	now := s.timestamp()

	err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
		moved = transitions{}
		if err := tx.First(&lead, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				notFound = true
				return nil
			}
			return err
		}
		if invalid = checkAgainst(lead, update); invalid != nil {
			return nil
		}

		if update.wantsTour() {
			set := map[string]any{"tour_scheduled": true, "updated_at": now}
			if update.TourDate != nil {
				set["tour_date"] = toStorage(*update.TourDate)
			}
			res := tx.Model(&Lead{}).Where("id = ? AND tour_scheduled = ?", id, false).Updates(set)
			if res.Error != nil {
				return res.Error
			}
			moved.tour = res.RowsAffected == 1
			if !moved.tour && update.TourDate != nil {
				if err := tx.Model(&Lead{}).Where("id = ?", id).Updates(map[string]any{
					"tour_date":  toStorage(*update.TourDate),
					"updated_at": now,
				}).Error; err != nil {
					return err
				}
			}
		}

		if update.wantsBooking() {
			set := map[string]any{"booked": true, "updated_at": now}
			if update.BookingDate != nil {
				set["booking_date"] = toStorage(*update.BookingDate)
			}
			if update.BookingAmount != nil {
				set["booking_amount"] = update.BookingAmount.Round(2)
			}
			res := tx.Model(&Lead{}).Where("id = ? AND booked = ?", id, false).Updates(set)
			if res.Error != nil {
				return res.Error
			}
			moved.booking = res.RowsAffected == 1
			if !moved.booking && (update.BookingDate != nil || update.BookingAmount != nil) {
				delete(set, "booked")
				if err := tx.Model(&Lead{}).Where("id = ?", id).Updates(set).Error; err != nil {
					return err
				}
			}
		}

		if update.Status != nil && *update.Status != lead.Status {
			if err := tx.Model(&Lead{}).Where("id = ?", id).Updates(map[string]any{
				"status":     *update.Status,
				"updated_at": now,
			}).Error; err != nil {
				return err
			}
		}

		if err := tx.First(&lead, id).Error; err != nil {
			return err
		}
		s.creditTransitions(tx, &lead, moved)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update lead %d: %w", id, err)
	}
	if notFound {
		return nil, apperr.NewNotFoundError("lead", id)
	}
	if invalid != nil {
		return nil, invalid
	}

	s.logTransitions(&lead, moved)
	return &lead, nil
}

// ScheduleTour is UpdateFunnelState with a tour date.
func (s *Service) ScheduleTour(ctx context.Context, id uint, date time.Time) (*Lead, error) {
	scheduled := true
	return s.UpdateFunnelState(ctx, id, FunnelUpdate{TourScheduled: &scheduled, TourDate: &date})
}

// RecordBooking is UpdateFunnelState with a booking date and amount.
func (s *Service) RecordBooking(ctx context.Context, id uint, date time.Time, amount decimal.Decimal) (*Lead, error) {
	booked := true
	return s.UpdateFunnelState(ctx, id, FunnelUpdate{Booked: &booked, BookingDate: &date, BookingAmount: &amount})
}

// SetStatus moves a lead along the administrative lane.
func (s *Service) SetStatus(ctx context.Context, id uint, status Status) (*Lead, error) {
	return s.UpdateFunnelState(ctx, id, FunnelUpdate{Status: &status})
}

// creditTransitions credits the referring partner for each stage the
// conditional updates newly reached.
func (s *Service) creditTransitions(tx *gorm.DB, lead *Lead, moved transitions) {
	if lead.RefCode == nil {
		return
	}
	if moved.tour {
		s.credit(tx, lead.ID, *lead.RefCode, ledger.KindTour)
	}
	if moved.booking {
		s.credit(tx, lead.ID, *lead.RefCode, ledger.KindBooking)
	}
}

func (s *Service) logTransitions(lead *Lead, moved transitions) {
	if moved.tour {
		metrics.FunnelTransitions.WithLabelValues("tour_scheduled").Inc()
		s.logger.Info("Lead tour scheduled", slog.Uint64("lead_id", uint64(lead.ID)))
	}
	if moved.booking {
		metrics.FunnelTransitions.WithLabelValues("booked").Inc()
		s.logger.Info("Lead booked", slog.Uint64("lead_id", uint64(lead.ID)))
	}
}

// checkUpdate validates the update on its own.
func checkUpdate(u FunnelUpdate) error {
	if u.BookingAmount != nil && u.BookingAmount.IsNegative() {
		return apperr.NewValidationError("booking_amount", "must not be negative")
	}
	if u.TourScheduled != nil && !*u.TourScheduled && u.TourDate != nil {
		return apperr.NewValidationError("tour_scheduled", "cannot be false with a tour date")
	}
	if u.Booked != nil && !*u.Booked && (u.BookingDate != nil || u.BookingAmount != nil) {
		return apperr.NewValidationError("booked", "cannot be false with booking details")
	}
	if u.Status != nil {
		if err := validation.Var("status", string(*u.Status), "oneof=new read replied archived"); err != nil {
			return err
		}
	}
	return nil
}

// checkAgainst validates the update against the lead's stored state.
func checkAgainst(lead Lead, u FunnelUpdate) error {
	if u.TourScheduled != nil && !*u.TourScheduled && lead.TourScheduled {
		return apperr.NewValidationError("tour_scheduled", "funnel stages cannot move backward")
	}
	if u.Booked != nil && !*u.Booked && lead.Booked {
		return apperr.NewValidationError("booked", "funnel stages cannot move backward")
	}

	tourDate := lead.TourDate
	if u.TourDate != nil {
		tourDate = u.TourDate
	}
	bookingDate := lead.BookingDate
	if u.BookingDate != nil {
		bookingDate = u.BookingDate
	}
	if tourDate != nil && bookingDate != nil && bookingDate.Before(*tourDate) {
		return apperr.NewValidationError("booking_date", "must not be before the tour date")
	}
	return nil
}
