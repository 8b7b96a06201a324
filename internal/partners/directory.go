package partners

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"leadflow/internal/apperr"
)

// Ref is the slice of a partner needed to attribute a lead.
type Ref struct {
	ID          uint
	Code        string
	ContactType ContactType
}

// Directory resolves referral codes to active partners. Lookups are cached
// for a short TTL; deactivation through the Directory clears the cache, other
// instances converge when their TTL expires.
type Directory struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	cache     *cache.Cache[string, Ref]
}

func NewDirectory(dbManager cartridge.DBManager, logger *slog.Logger, ttl time.Duration) *Directory {
	d := &Directory{dbManager: dbManager, logger: logger}
	if ttl <= 0 {
		ttl = time.Minute
	}
	d.cache = cache.NewCache[string, Ref](logger, ttl, d.fetchActive)
	return d
}

func (d *Directory) fetchActive(code string) (Ref, error) {
	var p Partner
	err := d.dbManager.GetConnection().
		Select("id", "code", "contact_type").
		Where("code = ? AND active = ?", code, true).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Ref{}, apperr.NewNotFoundError("partner", code)
		}
		return Ref{}, err
	}
	return Ref{ID: p.ID, Code: p.Code, ContactType: p.ContactType}, nil
}

// FindActiveByCode resolves a code (any casing) to an active partner.
// Unknown or inactive codes yield a NotFoundError.
func (d *Directory) FindActiveByCode(code string) (Ref, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Ref{}, apperr.NewNotFoundError("partner", code)
	}
	return d.cache.Get(code)
}

// Deactivate soft-deletes a partner; its history and counters stay intact.
func (d *Directory) Deactivate(ctx context.Context, id uint) error {
	db := d.dbManager.GetConnection()
	var affected int64
	err := sqlite.PerformWrite(d.logger, db.WithContext(ctx), func(tx *gorm.DB) error {
		res := tx.Model(&Partner{}).Where("id = ?", id).Update("active", false)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("failed to deactivate partner: %w", err)
	}
	if affected == 0 {
		return apperr.NewNotFoundError("partner", id)
	}
	d.cache.Clear()
	d.logger.Info("Partner deactivated", slog.Uint64("partner_id", uint64(id)))
	return nil
}

// Reactivate restores a deactivated partner.
func (d *Directory) Reactivate(ctx context.Context, id uint) error {
	db := d.dbManager.GetConnection()
	var affected int64
	err := sqlite.PerformWrite(d.logger, db.WithContext(ctx), func(tx *gorm.DB) error {
		res := tx.Model(&Partner{}).Where("id = ?", id).Update("active", true)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("failed to reactivate partner: %w", err)
	}
	if affected == 0 {
		return apperr.NewNotFoundError("partner", id)
	}
	d.cache.Clear()
	return nil
}
