// Package v1 exposes the lead, partner, event and analytics operations as a
// JSON API. Public routes accept submissions from the venue site; admin
// routes sit behind the API key middleware.
package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"leadflow/app"
	"leadflow/internal/apperr"
)

const (
	errInvalidRequest = "Invalid request"
	errInternal       = "Internal error"
)

// Handlers binds the API to a service instance.
type Handlers struct {
	svc *app.Service
}

func NewHandlers(svc *app.Service) *Handlers {
	return &Handlers{svc: svc}
}

// respondError maps typed failures to status codes. Anything untyped is
// logged and answered with 500 without leaking details.
func respondError(ctx *cartridge.Context, err error) error {
	var validationErr *apperr.ValidationError
	var notFoundErr *apperr.NotFoundError
	var conflictErr *apperr.ConflictError

	switch {
	case errors.As(err, &validationErr):
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": validationErr.Error(),
			"field": validationErr.Field,
			"code":  "VALIDATION_ERROR",
		})
	case errors.As(err, &notFoundErr):
		return ctx.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": notFoundErr.Error(),
			"code":  "NOT_FOUND",
		})
	case errors.As(err, &conflictErr):
		return ctx.Status(http.StatusConflict).JSON(fiber.Map{
			"error": conflictErr.Error(),
			"code":  "CONFLICT",
		})
	case errors.Is(err, apperr.ErrCodeGenerationExhausted):
		return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Could not allocate a unique referral code, try again or supply one",
			"code":  "CODE_GENERATION_EXHAUSTED",
		})
	case apperr.IsBusy(err):
		return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Database busy, retry shortly",
			"code":  "DATABASE_BUSY",
		})
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return ctx.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
	}

	ctx.Logger.Error("Request failed", slog.String("path", ctx.Path()), slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": errInternal,
		"code":  "INTERNAL_ERROR",
	})
}

func badRequest(ctx *cartridge.Context, err error) error {
	ctx.Logger.Debug("Failed to parse request body", slog.Any("error", err))
	return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
}

// idParam parses a positive numeric route parameter.
func idParam(ctx *cartridge.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(ctx.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.NewValidationError(name, "must be a positive integer")
	}
	return uint(id), nil
}

// userAgent honours the header set by server-side proxies of the venue site.
func userAgent(ctx *cartridge.Context) string {
	if forwarded := ctx.Get("X-Forwarded-User-Agent"); forwarded != "" {
		return forwarded
	}
	return ctx.Get(fiber.HeaderUserAgent)
}
