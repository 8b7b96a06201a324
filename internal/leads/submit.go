package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"leadflow/internal/apperr"
	"leadflow/internal/ledger"
	"leadflow/internal/metrics"
	"leadflow/internal/partners"
	"leadflow/internal/validation"
)

// Attributor resolves a referral code to an active partner.
type Attributor interface {
	FindActiveByCode(code string) (partners.Ref, error)
}

// Recorder credits a partner counter by referral code inside the caller's
// write transaction.
type Recorder interface {
	RecordInTx(tx *gorm.DB, code string, kind ledger.Kind) error
}

// Service owns lead creation and funnel progression.
type Service struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	partners  Attributor
	ledger    Recorder
	now       func() time.Time
}

func NewService(dbManager cartridge.DBManager, logger *slog.Logger, attributor Attributor, recorder Recorder) *Service {
	return &Service{
		dbManager: dbManager,
		logger:    logger,
		partners:  attributor,
		ledger:    recorder,
		now:       func() time.Time { return time.Now() },
	}
}

// WithClock replaces the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) db(ctx context.Context) *gorm.DB {
	return s.dbManager.GetConnection().WithContext(ctx)
}

func (s *Service) timestamp() time.Time {
	return toStorage(s.now())
}

// toStorage normalizes times to UTC millisecond precision so stored values
// compare correctly as text.
func toStorage(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func toStoragePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := toStorage(*t)
	return &v
}

// SubmitInput is a contact-form submission. SubmissionKey makes creation
// idempotent; an empty key gets a fresh one.
type SubmitInput struct {
	SubmissionKey string     `json:"submissionKey" validate:"omitempty,uuid"`
	FirstName     string     `json:"firstName" validate:"required,max=80"`
	LastName      string     `json:"lastName" validate:"max=80"`
	Email         string     `json:"email" validate:"required,email,max=254"`
	Phone         string     `json:"phone" validate:"max=40"`
	EventDate     *time.Time `json:"eventDate"`
	GuestCount    int        `json:"guestCount" validate:"gte=0,lte=10000"`
	Message       string     `json:"message" validate:"max=5000"`
	RefCode       string     `json:"refCode"`
	UTM           UTM        `json:"utm"`
	LandingPage   string     `json:"landingPage" validate:"max=2048"`
}

// SubmitLead creates a lead and returns its ID. A replayed SubmissionKey
// returns the existing lead without attributing again. Referral resolution
// and ledger bookkeeping never fail the submission.
func (s *Service) SubmitLead(ctx context.Context, input SubmitInput) (uint, error) {
	input.SubmissionKey = strings.ToLower(strings.TrimSpace(input.SubmissionKey))
	if err := validation.Struct(input); err != nil {
		return 0, err
	}

	key := input.SubmissionKey
	if key == "" {
		key = uuid.NewString()
	} else if id, ok, err := s.findBySubmissionKey(ctx, key); err != nil {
		return 0, err
	} else if ok {
		s.logger.Debug("Lead submission replayed", slog.String("submission_key", key), slog.Uint64("lead_id", uint64(id)))
		return id, nil
	}

	now := s.timestamp()
	lead := &Lead{
		SubmissionKey: key,
		FirstName:     strings.TrimSpace(input.FirstName),
		LastName:      strings.TrimSpace(input.LastName),
		Email:         strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:         strings.TrimSpace(input.Phone),
		EventDate:     toStoragePtr(input.EventDate),
		GuestCount:    input.GuestCount,
		Message:       input.Message,
		UTM:           input.UTM,
		LandingPage:   strings.TrimSpace(input.LandingPage),
		Status:        StatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if lead.UTM.IsZero() {
		lead.UTM = UTMFromURL(lead.LandingPage)
	}

	ref := s.attribute(input.RefCode)
	if ref != nil {
		source := string(ref.ContactType)
		code := ref.Code
		lead.RefSource = &source
		lead.RefCode = &code
	}

	err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
		if err := tx.Create(lead).Error; err != nil {
			return err
		}
		if ref != nil {
			s.credit(tx, lead.ID, ref.Code, ledger.KindLead)
		}
		return nil
	})
	if err != nil {
		if apperr.IsUniqueViolationOn(err, "submission_key") {
			if id, ok, ferr := s.findBySubmissionKey(ctx, key); ferr == nil && ok {
				return id, nil
			}
		}
		return 0, fmt.Errorf("failed to create lead: %w", err)
	}

	metrics.LeadsSubmitted.WithLabelValues(fmt.Sprint(ref != nil)).Inc()
	s.logger.Info("Lead submitted",
		slog.Uint64("lead_id", uint64(lead.ID)),
		slog.Bool("attributed", ref != nil))

	return lead.ID, nil
}

func (s *Service) findBySubmissionKey(ctx context.Context, key string) (uint, bool, error) {
	var lead Lead
	err := s.db(ctx).Select("id").Where("submission_key = ?", key).First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up submission: %w", err)
	}
	return lead.ID, true, nil
}

// attribute resolves a raw referral code. Any failure leaves the lead
// unattributed.
func (s *Service) attribute(raw string) *partners.Ref {
	code := partners.NormalizeCode(raw)
	if code == "" || s.partners == nil {
		return nil
	}
	if err := validation.Var("ref_code", code, "refcode"); err != nil {
		s.logger.Warn("Ignoring malformed referral code", slog.String("ref_code", raw))
		return nil
	}

	ref, err := s.partners.FindActiveByCode(code)
	if err != nil {
		if apperr.IsNotFound(err) {
			s.logger.Info("Referral code did not resolve to an active partner", slog.String("ref_code", code))
		} else {
			s.logger.Warn("Referral lookup failed, lead left unattributed",
				slog.String("ref_code", code), slog.Any("error", err))
		}
		return nil
	}
	return &ref
}

// credit increments a partner counter in the same transaction as the lead
// write. Failures are logged and swallowed: a failed statement does not abort
// the SQLite transaction, and Reconcile repairs the counters from the leads
// table.
func (s *Service) credit(tx *gorm.DB, leadID uint, code string, kind ledger.Kind) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.RecordInTx(tx, code, kind); err != nil {
		s.logger.Error("Partner ledger increment failed",
			slog.Uint64("lead_id", uint64(leadID)),
			slog.String("ref_code", code),
			slog.String("kind", string(kind)),
			slog.Any("error", err))
	}
}

// UTMFromURL extracts utm_* parameters from a landing page URL.
func UTMFromURL(raw string) UTM {
	if raw == "" {
		return UTM{}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return UTM{}
	}
	q := u.Query()
	return UTM{
		Source:   q.Get("utm_source"),
		Medium:   q.Get("utm_medium"),
		Campaign: q.Get("utm_campaign"),
		Term:     q.Get("utm_term"),
		Content:  q.Get("utm_content"),
	}
}
