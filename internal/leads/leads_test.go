package leads_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"leadflow/internal/apperr"
	"leadflow/internal/leads"
	"leadflow/internal/ledger"
	"leadflow/internal/partners"
	"leadflow/internal/testsupport"
)

type fixture struct {
	db        *gorm.DB
	service   *leads.Service
	directory *partners.Directory
	ledger    *ledger.Ledger
	gen       *partners.Generator
}

func setup(t *testing.T) fixture {
	t.Helper()
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanTables(db, "leads", "partners")

	dir := partners.NewDirectory(dbManager, logger, time.Minute)
	l := ledger.New(dbManager, logger, 3)
	return fixture{
		db:        db,
		service:   leads.NewService(dbManager, logger, dir, l),
		directory: dir,
		ledger:    l,
		gen:       partners.NewGenerator("TWBFL", 10),
	}
}

func (f fixture) reload(t *testing.T, id uint) *partners.Partner {
	t.Helper()
	p, err := partners.FindByID(f.db, id)
	require.NoError(t, err)
	return p
}

func boolPtr(b bool) *bool { return &b }

func TestPartnerFunnelScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	partner, err := partners.Create(ctx, f.db, testsupport.GetLogger(), f.gen, partners.CreateInput{
		Name:        "Jane Doe",
		ContactType: partners.ContactTypeAffiliate,
		Email:       "jane@example.com",
	})
	require.NoError(t, err)
	assert.Regexp(t, `^TWBFL-JANEDOE[A-Z0-9]{3}$`, partner.Code)

	leadID, err := f.service.SubmitLead(ctx, leads.SubmitInput{
		FirstName: "Sam",
		Email:     "sam@example.com",
		RefCode:   strings.ToLower(partner.Code),
	})
	require.NoError(t, err)

	lead, err := leads.Find(f.db, leadID)
	require.NoError(t, err)
	require.NotNil(t, lead.RefSource)
	assert.Equal(t, "affiliate", *lead.RefSource)
	assert.Equal(t, partner.Code, *lead.RefCode)
	assert.Equal(t, int64(1), f.reload(t, partner.ID).TotalLeads)

	_, err = f.service.UpdateFunnelState(ctx, leadID, leads.FunnelUpdate{TourScheduled: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.reload(t, partner.ID).TotalTours)

	_, err = f.service.UpdateFunnelState(ctx, leadID, leads.FunnelUpdate{TourScheduled: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.reload(t, partner.ID).TotalTours, "re-applying a stage must not credit again")

	amount := decimal.NewFromInt(5000)
	updated, err := f.service.UpdateFunnelState(ctx, leadID, leads.FunnelUpdate{Booked: boolPtr(true), BookingAmount: &amount})
	require.NoError(t, err)
	assert.True(t, updated.Booked)
	require.NotNil(t, updated.BookingAmount)
	assert.True(t, amount.Equal(*updated.BookingAmount))

	p := f.reload(t, partner.ID)
	assert.Equal(t, int64(1), p.TotalBookings)
	assert.Equal(t, 100.0, ledger.ConversionRate(*p))
	assert.NotNil(t, p.LastActivityAt)
}

func TestSubmitLead(t *testing.T) {
	ctx := context.Background()

	t.Run("replayed submission key returns the same lead", func(t *testing.T) {
		f := setup(t)
		p := testsupport.CreateTestPartner(t, f.db, "Replay Partner", "TWBFL-REPLAY1")
		key := uuid.NewString()

		input := leads.SubmitInput{SubmissionKey: key, FirstName: "Ana", Email: "ana@example.com", RefCode: p.Code}
		first, err := f.service.SubmitLead(ctx, input)
		require.NoError(t, err)

		input.SubmissionKey = strings.ToUpper(key)
		second, err := f.service.SubmitLead(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		var count int64
		f.db.Model(&leads.Lead{}).Count(&count)
		assert.Equal(t, int64(1), count)
		assert.Equal(t, int64(1), f.reload(t, p.ID).TotalLeads, "replay must not credit the partner twice")
	})

	t.Run("unknown code leaves the lead unattributed", func(t *testing.T) {
		f := setup(t)
		id, err := f.service.SubmitLead(ctx, leads.SubmitInput{FirstName: "Bo", Email: "bo@example.com", RefCode: "TWBFL-NOSUCH1"})
		require.NoError(t, err)

		lead, err := leads.Find(f.db, id)
		require.NoError(t, err)
		assert.Nil(t, lead.RefCode)
		assert.Nil(t, lead.RefSource)
		assert.False(t, lead.Attributed())
	})

	t.Run("malformed code leaves the lead unattributed", func(t *testing.T) {
		f := setup(t)
		id, err := f.service.SubmitLead(ctx, leads.SubmitInput{FirstName: "Cy", Email: "cy@example.com", RefCode: "not a code!"})
		require.NoError(t, err)

		lead, err := leads.Find(f.db, id)
		require.NoError(t, err)
		assert.Nil(t, lead.RefCode)
	})

	t.Run("inactive partner is not attributed", func(t *testing.T) {
		f := setup(t)
		p := testsupport.CreateTestPartner(t, f.db, "Gone Partner", "TWBFL-GONE123")
		require.NoError(t, f.directory.Deactivate(ctx, p.ID))

		id, err := f.service.SubmitLead(ctx, leads.SubmitInput{FirstName: "Di", Email: "di@example.com", RefCode: p.Code})
		require.NoError(t, err)

		lead, err := leads.Find(f.db, id)
		require.NoError(t, err)
		assert.Nil(t, lead.RefCode)
		assert.Equal(t, int64(0), f.reload(t, p.ID).TotalLeads)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		f := setup(t)
		_, err := f.service.SubmitLead(ctx, leads.SubmitInput{FirstName: "Ed", Email: "not-an-email"})
		require.Error(t, err)
		assert.True(t, apperr.IsValidation(err))

		_, err = f.service.SubmitLead(ctx, leads.SubmitInput{Email: "ed@example.com"})
		assert.True(t, apperr.IsValidation(err))

		_, err = f.service.SubmitLead(ctx, leads.SubmitInput{FirstName: "Ed", Email: "ed@example.com", SubmissionKey: "abc"})
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("captures UTM from the landing page", func(t *testing.T) {
		f := setup(t)
		id, err := f.service.SubmitLead(ctx, leads.SubmitInput{
			FirstName:   "Flo",
			Email:       "flo@example.com",
			LandingPage: "https://venue.example/weddings?utm_source=instagram&utm_campaign=spring",
		})
		require.NoError(t, err)

		lead, err := leads.Find(f.db, id)
		require.NoError(t, err)
		assert.Equal(t, "instagram", lead.UTM.Source)
		assert.Equal(t, "spring", lead.UTM.Campaign)
		assert.Equal(t, leads.StatusNew, lead.Status)
		assert.Equal(t, "new", lead.Stage())
	})
}

type failingRecorder struct{}

func (failingRecorder) RecordInTx(*gorm.DB, string, ledger.Kind) error {
	return errors.New("ledger unavailable")
}

// txRecorder checks that each credit runs inside the write transaction that
// stored the lead change, then delegates to the real ledger.
type txRecorder struct {
	t      *testing.T
	ledger *ledger.Ledger
	calls  []ledger.Kind
}

func (r *txRecorder) RecordInTx(tx *gorm.DB, code string, kind ledger.Kind) error {
	_, inTx := tx.Statement.ConnPool.(gorm.TxCommitter)
	assert.True(r.t, inTx, "credit must share the lead transaction")

	var visible int64
	require.NoError(r.t, tx.Model(&leads.Lead{}).Where("ref_code = ?", code).Count(&visible).Error)
	assert.Positive(r.t, visible, "the credited lead is visible inside the transaction")

	r.calls = append(r.calls, kind)
	return r.ledger.RecordInTx(tx, code, kind)
}

func TestCreditsCommitWithLeadChange(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	ctx := context.Background()
	p := testsupport.CreateTestPartner(t, db, "Atomic Partner", "TWBFL-ATOMIC1")
	book := ledger.New(dbManager, logger, 3)
	rec := &txRecorder{t: t, ledger: book}

	svc := leads.NewService(dbManager, logger, partners.NewDirectory(dbManager, logger, time.Minute), rec)
	id, err := svc.SubmitLead(ctx, leads.SubmitInput{FirstName: "Ada", Email: "ada@example.com", RefCode: p.Code})
	require.NoError(t, err)
	_, err = svc.ScheduleTour(ctx, id, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	_, err = svc.RecordBooking(ctx, id, time.Now().Add(72*time.Hour), decimal.NewFromInt(5000))
	require.NoError(t, err)
	_, err = svc.ScheduleTour(ctx, id, time.Now().Add(48*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, []ledger.Kind{ledger.KindLead, ledger.KindTour, ledger.KindBooking}, rec.calls)

	drift, err := book.Reconcile(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, drift.Changed(), "counters already match the leads table")
	assert.Equal(t, ledger.Counts{Leads: 1, Tours: 1, Bookings: 1}, drift.After)
}

func TestLedgerFailureDoesNotFailLead(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	p := testsupport.CreateTestPartner(t, db, "Flaky Partner", "TWBFL-FLAKY12")

	svc := leads.NewService(dbManager, logger, partners.NewDirectory(dbManager, logger, time.Minute), failingRecorder{})
	id, err := svc.SubmitLead(context.Background(), leads.SubmitInput{FirstName: "Gil", Email: "gil@example.com", RefCode: p.Code})
	require.NoError(t, err)

	lead, err := svc.ScheduleTour(context.Background(), id, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	assert.True(t, lead.TourScheduled)
	assert.Equal(t, p.Code, *lead.RefCode)
}

func TestUpdateFunnelState(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown lead", func(t *testing.T) {
		f := setup(t)
		_, err := f.service.UpdateFunnelState(ctx, 9999, leads.FunnelUpdate{TourScheduled: boolPtr(true)})
		assert.True(t, apperr.IsNotFound(err))
	})

	t.Run("stages cannot move backward", func(t *testing.T) {
		f := setup(t)
		lead := testsupport.CreateTestLead(t, f.db, "back@example.com", testsupport.WithTour(), testsupport.WithBooking("100"))

		_, err := f.service.UpdateFunnelState(ctx, lead.ID, leads.FunnelUpdate{TourScheduled: boolPtr(false)})
		assert.True(t, apperr.IsValidation(err))

		_, err = f.service.UpdateFunnelState(ctx, lead.ID, leads.FunnelUpdate{Booked: boolPtr(false)})
		assert.True(t, apperr.IsValidation(err))

		stored, err := leads.Find(f.db, lead.ID)
		require.NoError(t, err)
		assert.True(t, stored.TourScheduled)
		assert.True(t, stored.Booked)
	})

	t.Run("rejects a negative amount", func(t *testing.T) {
		f := setup(t)
		lead := testsupport.CreateTestLead(t, f.db, "neg@example.com")
		_, err := f.service.RecordBooking(ctx, lead.ID, time.Now(), decimal.NewFromInt(-1))
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("booking date must not precede the tour date", func(t *testing.T) {
		f := setup(t)
		lead := testsupport.CreateTestLead(t, f.db, "order@example.com")
		tour := time.Date(2026, 6, 10, 15, 0, 0, 0, time.UTC)

		_, err := f.service.ScheduleTour(ctx, lead.ID, tour)
		require.NoError(t, err)

		_, err = f.service.RecordBooking(ctx, lead.ID, tour.AddDate(0, 0, -1), decimal.NewFromInt(100))
		assert.True(t, apperr.IsValidation(err))

		booked, err := f.service.RecordBooking(ctx, lead.ID, tour.AddDate(0, 0, 3), decimal.RequireFromString("2500.456"))
		require.NoError(t, err)
		assert.Equal(t, "booked", booked.Stage())
		assert.Equal(t, "2500.46", booked.BookingAmount.StringFixed(2))
	})

	t.Run("booking without a tour is allowed", func(t *testing.T) {
		f := setup(t)
		p := testsupport.CreateTestPartner(t, f.db, "Direct Partner", "TWBFL-DIRECT1")
		lead := testsupport.CreateTestLead(t, f.db, "direct@example.com", testsupport.WithRefCode(p.Code))

		updated, err := f.service.UpdateFunnelState(ctx, lead.ID, leads.FunnelUpdate{Booked: boolPtr(true)})
		require.NoError(t, err)
		assert.True(t, updated.Booked)
		assert.False(t, updated.TourScheduled)

		got := f.reload(t, p.ID)
		assert.Equal(t, int64(1), got.TotalBookings)
		assert.Equal(t, int64(0), got.TotalTours)
	})

	t.Run("status lane is independent of the funnel", func(t *testing.T) {
		f := setup(t)
		lead := testsupport.CreateTestLead(t, f.db, "lane@example.com", testsupport.WithTour())

		updated, err := f.service.SetStatus(ctx, lead.ID, leads.StatusArchived)
		require.NoError(t, err)
		assert.Equal(t, leads.StatusArchived, updated.Status)
		assert.True(t, updated.TourScheduled)

		_, err = f.service.SetStatus(ctx, lead.ID, leads.Status("deleted"))
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("concurrent tour updates credit once", func(t *testing.T) {
		f := setup(t)
		p := testsupport.CreateTestPartner(t, f.db, "Race Partner", "TWBFL-RACE123")
		lead := testsupport.CreateTestLead(t, f.db, "race@example.com", testsupport.WithRefCode(p.Code))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.service.UpdateFunnelState(ctx, lead.ID, leads.FunnelUpdate{TourScheduled: boolPtr(true)})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), f.reload(t, p.ID).TotalTours)
	})
}

func TestListAndCounts(t *testing.T) {
	f := setup(t)
	now := time.Now().UTC()

	testsupport.CreateTestLead(t, f.db, "one@example.com", testsupport.WithCreatedAt(now.Add(-2*time.Hour)))
	testsupport.CreateTestLead(t, f.db, "two@example.com", testsupport.WithRefCode("TWBFL-LIST123"), testsupport.WithTour(),
		testsupport.WithCreatedAt(now.Add(-time.Hour)))
	testsupport.CreateTestLead(t, f.db, "three@example.com", testsupport.WithRefCode("TWBFL-LIST123"), testsupport.WithTour(),
		testsupport.WithBooking("1200.50"), testsupport.WithCreatedAt(now.Add(-30*time.Minute)))
	testsupport.CreateTestLead(t, f.db, "old@example.com", testsupport.WithBooking("999"), testsupport.WithCreatedAt(now.AddDate(0, 0, -40)))

	from := now.Add(-24 * time.Hour)
	counts, err := leads.CountFunnel(f.db, from, now)
	require.NoError(t, err)
	assert.Equal(t, leads.FunnelCounts{Leads: 3, Tours: 2, Bookings: 1, Attributed: 2}, counts)

	revenue, err := leads.BookingRevenue(f.db, from, now)
	require.NoError(t, err)
	assert.Equal(t, "1200.50", revenue.StringFixed(2))

	booked, err := leads.List(f.db, leads.ListFilter{Stage: "booked"})
	require.NoError(t, err)
	require.Len(t, booked, 2)
	assert.Equal(t, "three@example.com", booked[0].Email, "newest first")

	byCode, err := leads.List(f.db, leads.ListFilter{RefCode: "TWBFL-LIST123", Stage: "tour_scheduled"})
	require.NoError(t, err)
	require.Len(t, byCode, 1)
	assert.Equal(t, "two@example.com", byCode[0].Email)

	recent, err := leads.Recent(f.db, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestUTMFromURL(t *testing.T) {
	assert.Equal(t, leads.UTM{}, leads.UTMFromURL(""))
	assert.Equal(t, leads.UTM{}, leads.UTMFromURL("https://venue.example/"))
	assert.Equal(t,
		leads.UTM{Source: "google", Medium: "cpc", Term: "wedding venue"},
		leads.UTMFromURL("/contact?utm_source=google&utm_medium=cpc&utm_term=wedding+venue"))
}
