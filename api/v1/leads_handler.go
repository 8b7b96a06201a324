package v1

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/shopspring/decimal"

	"leadflow/internal/apperr"
	"leadflow/internal/events"
	"leadflow/internal/leads"
	"leadflow/internal/partners"
)

// leadRequest is the inquiry form payload. Dates arrive as YYYY-MM-DD.
type leadRequest struct {
	leads.SubmitInput
	EventDate string `json:"eventDate"`
}

// SubmitLeadHandler stores an inquiry from the venue site. Attribution and
// tracking problems never fail the submission.
func (h *Handlers) SubmitLeadHandler(ctx *cartridge.Context) error {
	var req leadRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badRequest(ctx, err)
	}

	input := req.SubmitInput
	if req.EventDate != "" {
		date, err := parseDate("eventDate", req.EventDate)
		if err != nil {
			return respondError(ctx, err)
		}
		input.EventDate = &date
	}

	id, err := h.svc.SubmitLead(ctx.UserContext(), input)
	if err != nil {
		return respondError(ctx, err)
	}

	h.svc.TrackEvent(events.TrackInput{
		Type:      events.TypeContactForm,
		Page:      pagePath(input.LandingPage),
		IPAddress: clientIP(ctx.Ctx),
		UserAgent: userAgent(ctx),
		Referrer:  ctx.Get(fiber.HeaderReferer),
		Metadata:  map[string]any{"lead_id": id},
	})

	ctx.Logger.Info("Lead submitted", slog.Uint64("lead_id", uint64(id)))
	return ctx.Status(http.StatusCreated).JSON(fiber.Map{
		"id":      id,
		"message": "Inquiry received",
	})
}

// ListLeadsHandler lists leads, newest first.
func (h *Handlers) ListLeadsHandler(ctx *cartridge.Context) error {
	filter := leads.ListFilter{
		Status: leads.Status(ctx.Query("status")),
		Stage:  ctx.Query("stage"),
		Limit:  ctx.QueryInt("limit", 50),
		Offset: ctx.QueryInt("offset", 0),
	}
	if code := ctx.Query("refCode"); code != "" {
		filter.RefCode = partners.NormalizeCode(code)
	}

	list, err := leads.List(h.svc.DBManager().GetConnection(), filter)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"leads": list})
}

// GetLeadHandler returns one lead.
func (h *Handlers) GetLeadHandler(ctx *cartridge.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return respondError(ctx, err)
	}
	lead, err := leads.Find(h.svc.DBManager().GetConnection(), id)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(lead)
}

type funnelRequest struct {
	TourScheduled *bool            `json:"tourScheduled"`
	TourDate      string           `json:"tourDate"`
	Booked        *bool            `json:"booked"`
	BookingDate   string           `json:"bookingDate"`
	BookingAmount *decimal.Decimal `json:"bookingAmount"`
	Status        *leads.Status    `json:"status"`
}

func (r funnelRequest) update() (leads.FunnelUpdate, error) {
	u := leads.FunnelUpdate{
		TourScheduled: r.TourScheduled,
		Booked:        r.Booked,
		BookingAmount: r.BookingAmount,
		Status:        r.Status,
	}
	if r.TourDate != "" {
		d, err := parseDate("tourDate", r.TourDate)
		if err != nil {
			return u, err
		}
		u.TourDate = &d
	}
	if r.BookingDate != "" {
		d, err := parseDate("bookingDate", r.BookingDate)
		if err != nil {
			return u, err
		}
		u.BookingDate = &d
	}
	return u, nil
}

// UpdateFunnelHandler moves a lead through the funnel or changes its status.
func (h *Handlers) UpdateFunnelHandler(ctx *cartridge.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return respondError(ctx, err)
	}

	var req funnelRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badRequest(ctx, err)
	}
	update, err := req.update()
	if err != nil {
		return respondError(ctx, err)
	}

	lead, err := h.svc.UpdateFunnelState(ctx.UserContext(), id, update)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(lead)
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(field, raw string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.NewValidationError(field, "must be YYYY-MM-DD or RFC 3339")
}

// pagePath reduces a landing page URL to its path.
func pagePath(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return strings.SplitN(raw, "?", 2)[0]
	}
	return u.Path
}
