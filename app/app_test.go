package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/app"
	"leadflow/internal/apperr"
	"leadflow/internal/events"
	"leadflow/internal/leads"
	"leadflow/internal/partners"
	"leadflow/internal/testsupport"
)

func newService(t *testing.T) *app.Service {
	t.Helper()
	dbManager, logger := testsupport.SetupTestDBManager(t)
	svc, err := app.New(testsupport.TestConfig(t), dbManager, logger)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func TestReferralFunnelEndToEnd(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	partner, err := svc.CreatePartner(ctx, partners.CreateInput{
		Name:        "Jane Doe",
		ContactType: partners.ContactTypeInfluencer,
		Email:       "jane@example.com",
	})
	require.NoError(t, err)

	leadID, err := svc.SubmitLead(ctx, leads.SubmitInput{
		FirstName:   "Sam",
		Email:       "sam@example.com",
		RefCode:     partner.Code,
		LandingPage: "https://venue.example/weddings?utm_source=instagram",
	})
	require.NoError(t, err)

	_, err = svc.UpdateFunnelState(ctx, leadID, leads.FunnelUpdate{TourScheduled: boolPtr(true)})
	require.NoError(t, err)
	amount := decimal.NewFromInt(5000)
	_, err = svc.UpdateFunnelState(ctx, leadID, leads.FunnelUpdate{Booked: boolPtr(true), BookingAmount: &amount})
	require.NoError(t, err)

	now := time.Now().UTC()
	svc.TrackEvent(events.TrackInput{Type: events.TypePageView, Page: "/weddings", IPAddress: "203.0.113.9", Timestamp: now})
	svc.TrackEvent(events.TrackInput{Type: events.TypeContactForm, Page: "/contact", IPAddress: "203.0.113.9", Timestamp: now})
	svc.Close()

	stats, err := svc.RollupDay(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PageViewsTotal)
	assert.Equal(t, 1, stats.ContactForms)

	summary, err := svc.GetDashboardSummary(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Overview.Leads)
	assert.Equal(t, int64(1), summary.Overview.Bookings)
	assert.Equal(t, int64(1), summary.Overview.AttributedLeads)
	assert.True(t, amount.Equal(summary.Overview.Revenue))
	assert.Equal(t, 1, summary.SiteStats.PageViews)

	series, err := svc.GetTimeSeries(ctx, 7, events.TypePageView)
	require.NoError(t, err)
	assert.Len(t, series.Points, 7)
	assert.Equal(t, 1, series.Total)

	board, err := svc.Analytics.PartnerLeaderboard(5)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, int64(1), board[0].TotalBookings)
	assert.Equal(t, 100.0, board[0].ConversionRate)

	drift, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestPartnerLifecycle(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	partner, err := svc.CreatePartner(ctx, partners.CreateInput{
		Name:        "Bloom Florals",
		ContactType: partners.ContactTypeVendor,
		Email:       "hello@bloom.example",
	})
	require.NoError(t, err)

	name := "Bloom & Co"
	updated, err := svc.UpdatePartner(ctx, partner.ID, partners.UpdateInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Bloom & Co", updated.Name)
	assert.Equal(t, partner.Code, updated.Code)

	require.NoError(t, svc.SetPartnerActive(ctx, partner.ID, false))
	leadID, err := svc.SubmitLead(ctx, leads.SubmitInput{FirstName: "Ana", Email: "ana@example.com", RefCode: partner.Code})
	require.NoError(t, err)
	lead, err := leads.Find(svc.DBManager().GetConnection(), leadID)
	require.NoError(t, err)
	assert.False(t, lead.Attributed(), "inactive partners are not credited")

	require.NoError(t, svc.SetPartnerActive(ctx, partner.ID, true))

	err = svc.SetPartnerActive(ctx, 9999, false)
	assert.True(t, apperr.IsNotFound(err))
}

func boolPtr(b bool) *bool { return &b }
