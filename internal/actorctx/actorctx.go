// Package actorctx extracts the calling actor's identity from inbound
// HTTP requests and carries it through request context.
//
// Grounded on the teacher's cmd/orchestrator/middleware/auth.go
// (X-User-ID header extraction into echo.Context, GetUsername/
// RequireUsername), generalized to RequireActor across every Scheduler
// and Engine HTTP surface named in SPEC_FULL.md §6.
package actorctx

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/workflow-platform/internal/apperr"
)

// ContextKey avoids collisions with other packages' echo.Context keys.
type ContextKey string

// ActorKey is the echo.Context key holding the authenticated actor ID.
const ActorKey ContextKey = "actor_id"

// Extract is middleware that reads the X-User-ID header into context,
// without enforcing its presence.
func Extract() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if actor := c.Request().Header.Get("X-User-ID"); actor != "" {
				c.Set(string(ActorKey), actor)
			}
			return next(c)
		}
	}
}

// Get retrieves the actor ID from context, or "" if absent.
func Get(c echo.Context) string {
	v := c.Get(string(ActorKey))
	if v == nil {
		return ""
	}
	return v.(string)
}

// RequireActor enforces that an actor ID is present. Otherwise it writes
// an AUTH_ERROR response and returns a non-nil error, so the caller
// returns without writing a second response.
func RequireActor(c echo.Context) (string, error) {
	actor := Get(c)
	if actor == "" {
		authErr := apperr.New(apperr.AuthError, "X-User-ID header is required")
		if err := c.JSON(http.StatusUnauthorized, authErr); err != nil {
			return "", err
		}
		return "", authErr
	}
	return actor, nil
}
