package v1

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"leadflow/internal/analytics"
	"leadflow/internal/apperr"
	"leadflow/internal/events"
	"leadflow/internal/rollup"
)

const defaultDays = 30

// DashboardHandler returns the overview, growth, site stats and recent
// activity for the last ?days days.
func (h *Handlers) DashboardHandler(ctx *cartridge.Context) error {
	summary, err := h.svc.GetDashboardSummary(ctx.UserContext(), ctx.QueryInt("days", defaultDays))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(summary)
}

// TimeSeriesHandler returns one gap-filled point per day. ?type restricts the
// series to one event type.
func (h *Handlers) TimeSeriesHandler(ctx *cartridge.Context) error {
	typeFilter := events.EventType(ctx.Query("type"))
	if typeFilter != "" && !typeFilter.Valid() {
		return respondError(ctx, apperr.NewValidationError("type", "unknown event type"))
	}
	series, err := h.svc.GetTimeSeries(ctx.UserContext(), ctx.QueryInt("days", defaultDays), typeFilter)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(series)
}

// BreakdownHandler serves /breakdowns/:dimension for pages, devices and browsers.
func (h *Handlers) BreakdownHandler(ctx *cartridge.Context) error {
	days := ctx.QueryInt("days", defaultDays)
	a := h.svc.Analytics

	var (
		shares any
		err    error
	)
	switch dimension := ctx.Params("dimension"); dimension {
	case "pages":
		shares, err = a.PageBreakdown(ctx.UserContext(), days, ctx.QueryInt("limit", 10))
	case "devices":
		shares, err = a.DeviceBreakdown(ctx.UserContext(), days)
	case "browsers":
		shares, err = a.BrowserBreakdown(ctx.UserContext(), days)
	default:
		return respondError(ctx, apperr.NewNotFoundError("breakdown", dimension))
	}
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"items": shares})
}

// DailyStatsHandler lists stored rollups between ?from and ?to (YYYY-MM-DD).
func (h *Handlers) DailyStatsHandler(ctx *cartridge.Context) error {
	from, to, err := h.dateRange(ctx.Query("from"), ctx.Query("to"))
	if err != nil {
		return respondError(ctx, err)
	}
	rows, err := h.svc.Rollup.Range(ctx.UserContext(), from, to)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"days": rows})
}

type rollupRequest struct {
	Date string `json:"date"`
	From string `json:"from"`
	To   string `json:"to"`
}

// RollupHandler recomputes one day ({"date"}) or a range ({"from","to"}).
// Re-running is always safe.
func (h *Handlers) RollupHandler(ctx *cartridge.Context) error {
	var req rollupRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badRequest(ctx, err)
	}

	if req.Date != "" {
		day, err := h.day("date", req.Date)
		if err != nil {
			return respondError(ctx, err)
		}
		stats, err := h.svc.RollupDay(ctx.UserContext(), day)
		if err != nil {
			return respondError(ctx, err)
		}
		return ctx.JSON(stats)
	}

	from, to, err := h.dateRange(req.From, req.To)
	if err != nil {
		return respondError(ctx, err)
	}
	if to.Sub(from) > analytics.MaxDays*24*time.Hour {
		return respondError(ctx, apperr.NewValidationError("to", "backfill ranges are limited to one year"))
	}
	rows, err := h.svc.Backfill(ctx.UserContext(), from, to)
	if err != nil {
		return respondError(ctx, err)
	}
	if rows == nil {
		rows = []rollup.DailyStats{}
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"days": rows})
}

func (h *Handlers) day(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, apperr.NewValidationError(field, "is required")
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, h.svc.Rollup.Location())
	if err != nil {
		return time.Time{}, apperr.NewValidationError(field, "must be YYYY-MM-DD")
	}
	return t, nil
}

func (h *Handlers) dateRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	from, err := h.day("from", fromRaw)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := h.day("to", toRaw)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}
