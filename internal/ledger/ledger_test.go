package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/apperr"
	"leadflow/internal/ledger"
	"leadflow/internal/partners"
	"leadflow/internal/testsupport"
)

func TestRecordEvent(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	l := ledger.New(dbManager, logger, 3)
	ctx := context.Background()

	p := testsupport.CreateTestPartner(t, db, "Counter Partner", "TWBFL-COUNT12")

	require.NoError(t, l.RecordEvent(ctx, p.ID, ledger.KindLead))
	require.NoError(t, l.RecordEventByCode(ctx, "twbfl-count12", ledger.KindTour))

	got, err := partners.FindByID(db, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TotalLeads)
	assert.Equal(t, int64(1), got.TotalTours)
	assert.Equal(t, int64(0), got.TotalBookings)
	assert.NotNil(t, got.LastActivityAt)

	err = l.RecordEvent(ctx, 9999, ledger.KindLead)
	assert.True(t, apperr.IsNotFound(err))

	err = l.RecordEvent(ctx, p.ID, ledger.Kind("refund"))
	assert.True(t, apperr.IsValidation(err))
}

func TestRecordInTx(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	l := ledger.New(dbManager, logger, 3)
	p := testsupport.CreateTestPartner(t, db, "Tx Partner", "TWBFL-TXPART1")

	t.Run("rolls back with the transaction", func(t *testing.T) {
		tx := db.Begin()
		require.NoError(t, l.RecordInTx(tx, "twbfl-txpart1", ledger.KindBooking))
		tx.Rollback()

		got, err := partners.FindByID(db, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.TotalBookings)
	})

	t.Run("commits with the transaction", func(t *testing.T) {
		tx := db.Begin()
		require.NoError(t, l.RecordInTx(tx, p.Code, ledger.KindBooking))
		require.NoError(t, tx.Commit().Error)

		got, err := partners.FindByID(db, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.TotalBookings)
	})

	t.Run("unknown code leaves the transaction usable", func(t *testing.T) {
		tx := db.Begin()
		err := l.RecordInTx(tx, "TWBFL-NOBODY1", ledger.KindLead)
		assert.True(t, apperr.IsNotFound(err))
		require.NoError(t, l.RecordInTx(tx, p.Code, ledger.KindLead))
		require.NoError(t, tx.Commit().Error)

		got, err := partners.FindByID(db, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.TotalLeads)
	})
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	l := ledger.New(dbManager, logger, 5)
	p := testsupport.CreateTestPartner(t, db, "Busy Partner", "TWBFL-BUSY123")

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.RecordEvent(context.Background(), p.ID, ledger.KindLead))
		}()
	}
	wg.Wait()

	got, err := partners.FindByID(db, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.TotalLeads)
}

func TestRate(t *testing.T) {
	assert.Equal(t, 0.0, ledger.Rate(0, 0))
	assert.Equal(t, 0.0, ledger.Rate(3, 0))
	assert.Equal(t, 50.0, ledger.Rate(1, 2))
	assert.Equal(t, 100.0, ledger.ConversionRate(partners.Partner{TotalLeads: 4, TotalBookings: 4}))
}

func TestLeaderboard(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	l := ledger.New(dbManager, logger, 3)

	a := testsupport.CreateTestPartner(t, db, "Alpha", "TWBFL-ALPHA12")
	b := testsupport.CreateTestPartner(t, db, "Beta", "TWBFL-BETA123")
	c := testsupport.CreateTestPartner(t, db, "Gamma", "TWBFL-GAMMA12")
	db.Model(&partners.Partner{}).Where("id = ?", a.ID).Updates(map[string]any{"total_leads": 10, "total_bookings": 1})
	db.Model(&partners.Partner{}).Where("id = ?", b.ID).Updates(map[string]any{"total_leads": 4, "total_bookings": 2})
	db.Model(&partners.Partner{}).Where("id = ?", c.ID).Updates(map[string]any{"total_leads": 20, "total_bookings": 1})

	board, err := l.Leaderboard(2)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "Beta", board[0].Name)
	assert.Equal(t, 50.0, board[0].ConversionRate)
	assert.Equal(t, "Gamma", board[1].Name)
}

func TestReconcile(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	l := ledger.New(dbManager, logger, 3)
	ctx := context.Background()

	p := testsupport.CreateTestPartner(t, db, "Drifted", "TWBFL-DRIFT12")
	clean := testsupport.CreateTestPartner(t, db, "Clean", "TWBFL-CLEAN12")

	testsupport.CreateTestLead(t, db, "a@example.com", testsupport.WithRefCode(p.Code))
	testsupport.CreateTestLead(t, db, "b@example.com", testsupport.WithRefCode(p.Code), testsupport.WithTour())
	testsupport.CreateTestLead(t, db, "c@example.com", testsupport.WithRefCode(p.Code), testsupport.WithTour(), testsupport.WithBooking("800"))
	testsupport.CreateTestLead(t, db, "d@example.com")

	// one lost increment per counter
	db.Model(&partners.Partner{}).Where("id = ?", p.ID).Updates(map[string]any{
		"total_leads": 2, "total_tours": 1, "total_bookings": 0,
	})

	drift, err := l.Reconcile(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, drift.Changed())
	assert.Equal(t, ledger.Counts{Leads: 2, Tours: 1, Bookings: 0}, drift.Before)
	assert.Equal(t, ledger.Counts{Leads: 3, Tours: 2, Bookings: 1}, drift.After)

	got, err := partners.FindByID(db, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.TotalLeads)
	assert.Equal(t, int64(2), got.TotalTours)
	assert.Equal(t, int64(1), got.TotalBookings)

	drifted, err := l.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifted, "second pass finds nothing to correct")

	again, err := l.Reconcile(ctx, clean.ID)
	require.NoError(t, err)
	assert.False(t, again.Changed())

	_, err = l.Reconcile(ctx, 9999)
	assert.True(t, apperr.IsNotFound(err))
}
