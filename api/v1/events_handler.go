package v1

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"leadflow/internal/events"
)

const msgEventAccepted = "Event accepted"

// trackRequest is what the site snippet posts. The client address, user
// agent and timestamp are taken from the request, never from the body.
type trackRequest struct {
	Type      events.EventType `json:"type"`
	Page      string           `json:"page"`
	SessionID string           `json:"sessionId"`
	Referrer  string           `json:"referrer"`
	Metadata  map[string]any   `json:"metadata"`
}

func (h *Handlers) trackInput(ctx *cartridge.Context, req trackRequest) events.TrackInput {
	return events.TrackInput{
		Type:      req.Type,
		Page:      req.Page,
		SessionID: req.SessionID,
		IPAddress: clientIP(ctx.Ctx),
		UserAgent: userAgent(ctx),
		Referrer:  req.Referrer,
		Metadata:  req.Metadata,
	}
}

// TrackEventHandler accepts an interaction event. Only the event type is
// checked synchronously; the write happens in the background.
func (h *Handlers) TrackEventHandler(ctx *cartridge.Context) error {
	var req trackRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badRequest(ctx, err)
	}
	if !req.Type.Valid() {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown event type",
			"code":  "VALIDATION_ERROR",
		})
	}

	h.svc.TrackEvent(h.trackInput(ctx, req))
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": msgEventAccepted,
		"status":  http.StatusAccepted,
	})
}

// TrackBeaconHandler handles navigator.sendBeacon posts, which arrive as
// text/plain. It always answers 202.
func (h *Handlers) TrackBeaconHandler(ctx *cartridge.Context) error {
	var req trackRequest
	if err := json.Unmarshal(ctx.Body(), &req); err != nil || !req.Type.Valid() {
		ctx.Logger.Debug("Ignoring malformed beacon", slog.Any("error", err))
		return ctx.SendStatus(http.StatusAccepted)
	}

	h.svc.TrackEvent(h.trackInput(ctx, req))
	return ctx.SendStatus(http.StatusAccepted)
}

// RecentEventsHandler lists the latest raw events.
func (h *Handlers) RecentEventsHandler(ctx *cartridge.Context) error {
	recent, err := events.Recent(ctx.UserContext(), h.svc.DBManager().GetConnection(), min(ctx.QueryInt("limit", 50), 500))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"events": recent})
}
