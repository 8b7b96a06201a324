package partners

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"leadflow/internal/apperr"
	"leadflow/internal/metrics"
	"leadflow/internal/validation"
)

// ContactType classifies a referral partner.
type ContactType string

const (
	ContactTypeAffiliate  ContactType = "affiliate"
	ContactTypeInfluencer ContactType = "influencer"
	ContactTypeVendor     ContactType = "vendor"
)

// Partner is a referral source. Code is assigned once and never changes;
// the Total* counters are only written by the ledger.
type Partner struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	Name           string      `gorm:"not null" json:"name"`
	ContactType    ContactType `gorm:"not null;index" json:"contactType"`
	Email          string      `gorm:"uniqueIndex;not null" json:"email"`
	Phone          string      `json:"phone,omitempty"`
	Company        string      `json:"company,omitempty"`
	Notes          string      `json:"notes,omitempty"`
	Code           string      `gorm:"uniqueIndex;not null" json:"code"`
	Active         bool        `gorm:"not null;default:true;index" json:"active"`
	TotalLeads     int64       `gorm:"not null;default:0" json:"totalLeads"`
	TotalTours     int64       `gorm:"not null;default:0" json:"totalTours"`
	TotalBookings  int64       `gorm:"not null;default:0" json:"totalBookings"`
	LastActivityAt *time.Time  `json:"lastActivityAt,omitempty"`
	CreatedAt      time.Time   `gorm:"not null" json:"createdAt"`
	UpdatedAt      time.Time   `gorm:"not null" json:"updatedAt"`
}

// CreateInput carries onboarding fields. Code is optional.
type CreateInput struct {
	Name        string      `json:"name" validate:"required,max=120"`
	ContactType ContactType `json:"contactType" validate:"required,oneof=affiliate influencer vendor"`
	Email       string      `json:"email" validate:"required,email,max=254"`
	Phone       string      `json:"phone" validate:"max=40"`
	Company     string      `json:"company" validate:"max=120"`
	Notes       string      `json:"notes" validate:"max=2000"`
	Code        string      `json:"code" validate:"omitempty,refcode"`
}

// UpdateInput changes descriptive fields only; nil fields are left alone.
type UpdateInput struct {
	Name        *string      `json:"name" validate:"omitempty,min=1,max=120"`
	ContactType *ContactType `json:"contactType" validate:"omitempty,oneof=affiliate influencer vendor"`
	Phone       *string      `json:"phone" validate:"omitempty,max=40"`
	Company     *string      `json:"company" validate:"omitempty,max=120"`
	Notes       *string      `json:"notes" validate:"omitempty,max=2000"`
}

// Create persists a partner. Without a supplied code one is generated; the
// uniqueness check and insert run in one immediate write transaction and the
// unique index on code is the final arbiter, so a violation starts a new attempt.
func Create(ctx context.Context, db *gorm.DB, logger *slog.Logger, gen *Generator, input CreateInput) (*Partner, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	supplied := ""
	if input.Code != "" {
		supplied = NormalizeCode(input.Code)
		if err := gen.ValidateCode(supplied); err != nil {
			return nil, err
		}
	}

	for attempt := 1; attempt <= gen.MaxAttempts; attempt++ {
		code := supplied
		if code == "" {
			code = gen.GenerateCode(input.Name)
		}

		partner := &Partner{
			Name:        strings.TrimSpace(input.Name),
			ContactType: input.ContactType,
			Email:       email,
			Phone:       strings.TrimSpace(input.Phone),
			Company:     strings.TrimSpace(input.Company),
			Notes:       input.Notes,
			Code:        code,
			Active:      true,
		}

		var codeTaken, emailTaken bool
		err := sqlite.PerformWrite(logger, db.WithContext(ctx), func(tx *gorm.DB) error {
			unique, err := IsUnique(tx, code)
			if err != nil {
				return err
			}
			if !unique {
				codeTaken = true
				return nil
			}
			var emails int64
			if err := tx.Model(&Partner{}).Where("email = ?", email).Count(&emails).Error; err != nil {
				return err
			}
			if emails > 0 {
				emailTaken = true
				return nil
			}
			return tx.Create(partner).Error
		})

		switch {
		case err == nil && !codeTaken && !emailTaken:
			metrics.CodeGenerationAttempts.Observe(float64(attempt))
			logger.Info("Partner created",
				slog.Uint64("partner_id", uint64(partner.ID)),
				slog.String("code", partner.Code),
				slog.Int("attempt", attempt))
			return partner, nil
		case emailTaken || apperr.IsUniqueViolationOn(err, "email"):
			return nil, apperr.NewConflictError("partner", fmt.Errorf("email %s already registered", email))
		case codeTaken || apperr.IsUniqueViolationOn(err, "code"):
			if supplied != "" {
				return nil, apperr.NewConflictError("partner", fmt.Errorf("code %s already assigned", supplied))
			}
			logger.Debug("Referral code collision, regenerating",
				slog.String("code", code), slog.Int("attempt", attempt))
			continue
		default:
			return nil, fmt.Errorf("failed to create partner: %w", err)
		}
	}

	logger.Error("Referral code generation exhausted",
		slog.String("name", input.Name), slog.Int("attempts", gen.MaxAttempts))
	return nil, apperr.ErrCodeGenerationExhausted
}

// FindByID returns a partner regardless of its active flag.
func FindByID(db *gorm.DB, id uint) (*Partner, error) {
	var p Partner
	if err := db.First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NewNotFoundError("partner", id)
		}
		return nil, err
	}
	return &p, nil
}

// FindByCode returns a partner by normalized code regardless of its active flag.
func FindByCode(db *gorm.DB, code string) (*Partner, error) {
	code = NormalizeCode(code)
	var p Partner
	if err := db.Where("code = ?", code).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NewNotFoundError("partner", code)
		}
		return nil, err
	}
	return &p, nil
}

// List returns partners ordered by name.
func List(db *gorm.DB, activeOnly bool) ([]Partner, error) {
	var out []Partner
	q := db.Model(&Partner{}).Order("name ASC, id ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list partners: %w", err)
	}
	return out, nil
}

// CountActive returns the number of active partners.
func CountActive(db *gorm.DB) (int64, error) {
	var n int64
	err := db.Model(&Partner{}).Where("active = ?", true).Count(&n).Error
	return n, err
}

// Update changes descriptive fields. Code and counters are not reachable from here.
func Update(ctx context.Context, db *gorm.DB, logger *slog.Logger, id uint, input UpdateInput) (*Partner, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}

	changes := map[string]any{}
	if input.Name != nil {
		changes["name"] = strings.TrimSpace(*input.Name)
	}
	if input.ContactType != nil {
		changes["contact_type"] = *input.ContactType
	}
	if input.Phone != nil {
		changes["phone"] = strings.TrimSpace(*input.Phone)
	}
	if input.Company != nil {
		changes["company"] = strings.TrimSpace(*input.Company)
	}
	if input.Notes != nil {
		changes["notes"] = *input.Notes
	}

	if len(changes) > 0 {
		var affected int64
		err := sqlite.PerformWrite(logger, db.WithContext(ctx), func(tx *gorm.DB) error {
			res := tx.Model(&Partner{}).Where("id = ?", id).Updates(changes)
			affected = res.RowsAffected
			return res.Error
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update partner: %w", err)
		}
		if affected == 0 {
			return nil, apperr.NewNotFoundError("partner", id)
		}
	}
	return FindByID(db, id)
}
