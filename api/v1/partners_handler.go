package v1

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"leadflow/internal/ledger"
	"leadflow/internal/partners"
)

// ListPartnersHandler lists partners with their conversion stats.
// ?active=true restricts the list to active partners.
func (h *Handlers) ListPartnersHandler(ctx *cartridge.Context) error {
	list, err := partners.List(h.svc.DBManager().GetConnection(), ctx.QueryBool("active", false))
	if err != nil {
		return respondError(ctx, err)
	}
	stats := make([]ledger.Stats, len(list))
	for i, p := range list {
		stats[i] = ledger.StatsFor(p)
	}
	return ctx.JSON(fiber.Map{"partners": stats})
}

// CreatePartnerHandler onboards a partner and returns its referral code.
func (h *Handlers) CreatePartnerHandler(ctx *cartridge.Context) error {
	var input partners.CreateInput
	if err := ctx.BodyParser(&input); err != nil {
		return badRequest(ctx, err)
	}
	p, err := h.svc.CreatePartner(ctx.UserContext(), input)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.Status(http.StatusCreated).JSON(p)
}

// GetPartnerHandler returns a partner by ID.
func (h *Handlers) GetPartnerHandler(ctx *cartridge.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return respondError(ctx, err)
	}
	p, err := partners.FindByID(h.svc.DBManager().GetConnection(), id)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"partner": p, "stats": ledger.StatsFor(*p)})
}

// UpdatePartnerHandler edits descriptive fields.
func (h *Handlers) UpdatePartnerHandler(ctx *cartridge.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return respondError(ctx, err)
	}
	var input partners.UpdateInput
	if err := ctx.BodyParser(&input); err != nil {
		return badRequest(ctx, err)
	}
	p, err := h.svc.UpdatePartner(ctx.UserContext(), id, input)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(p)
}

// DeactivatePartnerHandler stops attribution to a partner. History is kept.
func (h *Handlers) DeactivatePartnerHandler(ctx *cartridge.Context) error {
	return h.setActive(ctx, false)
}

// ReactivatePartnerHandler resumes attribution to a partner.
func (h *Handlers) ReactivatePartnerHandler(ctx *cartridge.Context) error {
	return h.setActive(ctx, true)
}

func (h *Handlers) setActive(ctx *cartridge.Context, active bool) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return respondError(ctx, err)
	}
	if err := h.svc.SetPartnerActive(ctx.UserContext(), id, active); err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"id": id, "active": active})
}

// LeaderboardHandler ranks partners by bookings, then leads.
func (h *Handlers) LeaderboardHandler(ctx *cartridge.Context) error {
	board, err := h.svc.Analytics.PartnerLeaderboard(min(ctx.QueryInt("limit", 10), 100))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"partners": board})
}

// ReconcileHandler rebuilds partner counters from the lead table and reports
// the partners that had drifted.
func (h *Handlers) ReconcileHandler(ctx *cartridge.Context) error {
	drift, err := h.svc.Reconcile(ctx.UserContext())
	if err != nil {
		return respondError(ctx, err)
	}
	if drift == nil {
		drift = []ledger.Drift{}
	}
	return ctx.JSON(fiber.Map{"corrected": drift})
}
