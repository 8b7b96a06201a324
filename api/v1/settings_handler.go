package v1

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"leadflow/internal/apperr"
)

// ListSettingsHandler returns every known setting with its current value.
func (h *Handlers) ListSettingsHandler(ctx *cartridge.Context) error {
	entries, err := h.svc.Settings.List()
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"settings": entries})
}

type settingRequest struct {
	Value json.RawMessage `json:"value"`
}

// UpdateSettingHandler validates and stores {"value": ...} for :key.
func (h *Handlers) UpdateSettingHandler(ctx *cartridge.Context) error {
	var req settingRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badRequest(ctx, err)
	}
	if len(req.Value) == 0 {
		return respondError(ctx, apperr.NewValidationError("value", "is required"))
	}

	key := ctx.Params("key")
	value, err := h.svc.Settings.Set(key, string(req.Value))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"key": key, "value": value})
}
