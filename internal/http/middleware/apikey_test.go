package middleware_test

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/http/middleware"
	"leadflow/internal/testsupport"
)

func TestAdminAPIKeyAuth(t *testing.T) {
	newApp := func(key string) *fiber.App {
		app := fiber.New()
		app.Get("/admin", middleware.AdminAPIKeyAuth(key, testsupport.GetLogger()), func(c *fiber.Ctx) error {
			return c.SendString("ok")
		})
		return app
	}

	tests := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{name: "valid key", key: "secret", header: "Bearer secret", want: fiber.StatusOK},
		{name: "wrong key", key: "secret", header: "Bearer nope", want: fiber.StatusUnauthorized},
		{name: "missing header", key: "secret", want: fiber.StatusUnauthorized},
		{name: "not a bearer token", key: "secret", header: "Basic c2VjcmV0", want: fiber.StatusUnauthorized},
		{name: "empty bearer", key: "secret", header: "Bearer ", want: fiber.StatusUnauthorized},
		{name: "key not configured", key: "", header: "Bearer ", want: fiber.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/admin", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := newApp(tc.key).Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}
