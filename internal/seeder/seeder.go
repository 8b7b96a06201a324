package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"leadflow/app"
	"leadflow/internal/apperr"
	"leadflow/internal/events"
	"leadflow/internal/leads"
	"leadflow/internal/partners"
)

// Seeder fills a database with demo partners, leads and site events, then
// rolls the generated days up so the dashboard has something to show.
type Seeder struct {
	Service    *app.Service
	Logger     *slog.Logger
	EventCount int
	LeadCount  int
	Days       int

	rng *rand.Rand
	now func() time.Time
}

// NewSeeder creates a new seeder instance
func NewSeeder(svc *app.Service, logger *slog.Logger, eventCount, leadCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		Service:    svc,
		Logger:     logger,
		EventCount: eventCount,
		LeadCount:  leadCount,
		Days:       30,
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 42)),
		now:        time.Now,
	}
}

// WithSeed makes the generated data reproducible.
func (s *Seeder) WithSeed(seed uint64) *Seeder {
	s.rng = rand.New(rand.NewPCG(seed, 42))
	return s
}

var demoPartners = []partners.CreateInput{
	{Name: "Bloom & Vine Florals", ContactType: partners.ContactTypeVendor, Email: "hello@bloomvine.example", Company: "Bloom & Vine", Code: "TWBFL-BLOOM01"},
	{Name: "Ava Sinclair", ContactType: partners.ContactTypeInfluencer, Email: "ava@sinclair.example", Code: "TWBFL-AVASIN1"},
	{Name: "Golden Hour Photo", ContactType: partners.ContactTypeVendor, Email: "studio@goldenhour.example", Company: "Golden Hour", Code: "TWBFL-GOLDEN1"},
	{Name: "Wedding Finds Blog", ContactType: partners.ContactTypeAffiliate, Email: "team@weddingfinds.example", Code: "TWBFL-WEDFIND"},
}

// Run seeds partners, leads and events, then backfills the daily rollups.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Starting database seeding...", slog.Int("eventCount", s.EventCount), slog.Int("leadCount", s.LeadCount))

	codes, err := s.seedPartners(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed partners: %w", err)
	}

	if err := s.seedLeads(ctx, codes); err != nil {
		return fmt.Errorf("failed to seed leads: %w", err)
	}

	if err := s.seedEvents(ctx); err != nil {
		return fmt.Errorf("failed to seed events: %w", err)
	}

	today := s.now()
	if _, err := s.Service.Backfill(ctx, today.AddDate(0, 0, -(s.Days-1)), today); err != nil {
		return fmt.Errorf("failed to backfill rollups: %w", err)
	}

	s.Logger.Info("Seeding completed successfully", slog.Duration("elapsed", time.Since(start)))
	return nil
}

// seedPartners creates the demo partners, reusing any that already exist.
func (s *Seeder) seedPartners(ctx context.Context) ([]string, error) {
	db := s.Service.DBManager().GetConnection()
	codes := make([]string, 0, len(demoPartners))

	for _, input := range demoPartners {
		existing, err := partners.FindByCode(db, input.Code)
		if err == nil {
			s.Logger.Info("Partner already exists", slog.String("code", existing.Code))
			codes = append(codes, existing.Code)
			continue
		}
		if !apperr.IsNotFound(err) {
			return nil, err
		}

		p, err := s.Service.CreatePartner(ctx, input)
		if err != nil {
			return nil, err
		}
		s.Logger.Info("Created partner", slog.String("name", p.Name), slog.String("code", p.Code))
		codes = append(codes, p.Code)
	}
	return codes, nil
}

func (s *Seeder) seedLeads(ctx context.Context, codes []string) error {
	firstNames := []string{"Olivia", "Liam", "Emma", "Noah", "Mia", "Lucas", "Sofia", "Ethan", "Chloe", "Mateo"}
	lastNames := []string{"Garcia", "Nguyen", "Smith", "Rossi", "Kim", "Okafor", "Silva", "Brown"}
	landings := []string{"/", "/weddings", "/gallery", "/pricing", "/contact"}
	tours := 0
	bookings := 0

	for i := 0; i < s.LeadCount; i++ {
		first := firstNames[s.rng.IntN(len(firstNames))]
		last := lastNames[s.rng.IntN(len(lastNames))]
		eventDate := s.now().AddDate(0, 2+s.rng.IntN(12), 0)

		input := leads.SubmitInput{
			FirstName:   first,
			LastName:    last,
			Email:       fmt.Sprintf("%s.%s.%d@example.com", first, last, i),
			EventDate:   &eventDate,
			GuestCount:  40 + s.rng.IntN(200),
			Message:     "We would love to visit the venue.",
			LandingPage: s.landingURL(landings[s.rng.IntN(len(landings))]),
		}
		// roughly half the leads arrive through a partner
		if len(codes) > 0 && s.rng.IntN(2) == 0 {
			input.RefCode = codes[s.rng.IntN(len(codes))]
		}

		id, err := s.Service.SubmitLead(ctx, input)
		if err != nil {
			return err
		}

		if s.rng.IntN(10) >= 4 {
			continue
		}
		yes := true
		tourDate := s.now().AddDate(0, 0, -s.rng.IntN(14))
		if _, err := s.Service.UpdateFunnelState(ctx, id, leads.FunnelUpdate{TourScheduled: &yes, TourDate: &tourDate}); err != nil {
			return err
		}
		tours++

		if s.rng.IntN(2) == 0 {
			continue
		}
		amount := decimal.NewFromInt(int64(3000 + s.rng.IntN(12000)))
		bookingDate := tourDate.AddDate(0, 0, 1+s.rng.IntN(5))
		if _, err := s.Service.UpdateFunnelState(ctx, id, leads.FunnelUpdate{Booked: &yes, BookingDate: &bookingDate, BookingAmount: &amount}); err != nil {
			return err
		}
		bookings++
	}

	s.Logger.Info("Seeded leads", slog.Int("leads", s.LeadCount), slog.Int("tours", tours), slog.Int("bookings", bookings))
	return nil
}

// seedEvents writes synchronously through the event log so timestamps can
// be spread over the seeded window.
func (s *Seeder) seedEvents(ctx context.Context) error {
	ipPool := s.generateIPPool(100)
	userAgents := getUserAgents()
	referrers := getReferrers()

	journeys := [][]string{
		{"/", "/weddings", "/gallery"},
		{"/", "/pricing", "/contact"},
		{"/gallery", "/weddings", "/pricing"},
		{"/", "/reviews"},
		{"/weddings", "/gallery", "/contact"},
		{"/"},
	}

	window := time.Duration(s.Days) * 24 * time.Hour
	now := s.now()
	created := 0

	for created < s.EventCount {
		if err := ctx.Err(); err != nil {
			return err
		}
		ip := ipPool[s.rng.IntN(len(ipPool))]
		ua := userAgents[s.rng.IntN(len(userAgents))]
		ts := now.Add(-time.Duration(s.rng.Int64N(int64(window))))
		referrer := referrers[s.rng.IntN(len(referrers))]

		for _, page := range journeys[s.rng.IntN(len(journeys))] {
			if created >= s.EventCount {
				break
			}
			if err := s.Service.Events.Record(ctx, events.TrackInput{
				Type:      pageEventType(page),
				Page:      s.landingPath(page),
				IPAddress: ip,
				UserAgent: ua,
				Referrer:  referrer,
				Timestamp: ts,
			}); err != nil {
				return err
			}
			created++
			ts = ts.Add(time.Duration(20+s.rng.IntN(120)) * time.Second)
			referrer = ""
		}
	}

	s.Logger.Info("Seeded events", slog.Int("events", created))
	return nil
}

func pageEventType(page string) events.EventType {
	switch page {
	case "/gallery":
		return events.TypeGalleryView
	case "/contact":
		return events.TypeContactForm
	case "/reviews":
		return events.TypeReviewSubmission
	default:
		return events.TypePageView
	}
}

func (s *Seeder) generateIPPool(count int) []string {
	seen := make(map[string]bool)
	var ips []string
	for len(ips) < count {
		// 198.18.0.0/15 is reserved for benchmarking
		ip := fmt.Sprintf("198.%d.%d.%d", 18+s.rng.IntN(2), s.rng.IntN(256), s.rng.IntN(254)+1)
		if !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}

func getUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	}
}

func getReferrers() []string {
	return []string{
		"", // Direct visit
		"https://www.google.com/",
		"https://www.instagram.com/",
		"https://www.facebook.com/",
		"https://www.pinterest.com/",
		"https://www.theknot.com/marketplace",
		"https://weddingfinds.example/best-venues",
	}
}

// landingPath sometimes decorates a path with UTM parameters.
func (s *Seeder) landingPath(path string) string {
	if s.rng.IntN(10) < 8 {
		return path
	}
	sources := []string{"instagram", "google", "newsletter", "pinterest"}
	mediums := []string{"social", "cpc", "email"}
	params := url.Values{}
	params.Set("utm_source", sources[s.rng.IntN(len(sources))])
	params.Set("utm_medium", mediums[s.rng.IntN(len(mediums))])
	params.Set("utm_campaign", "spring_open_house")
	return path + "?" + params.Encode()
}

func (s *Seeder) landingURL(path string) string {
	return "https://venue.example" + s.landingPath(path)
}
