package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required || has == "admin" {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// Require returns middleware that checks the user holds a capability covering
// action on resource. Capabilities are "action:resource" pairs
// (e.g. "edit:reminders"); routes stay uniform over view/edit crossed with any
// resource kind instead of hard-coding role lists per endpoint.
func Require(action, resource string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caps := CapabilitiesFromContext(c.Request().Context())
			required := fmt.Sprintf("%s:%s", action, resource)

			for _, granted := range caps {
				if matchCapability(granted, required) {
					return next(c)
				}
			}

			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required capability: %s", required))
		}
	}
}

// matchCapability checks if a granted capability covers the required one.
// Either side of the colon may be "*": "*:*" matches everything,
// "view:*" matches any view, "*:reminders" matches any action on reminders.
func matchCapability(granted, required string) bool {
	if granted == required {
		return true
	}

	gParts := strings.SplitN(granted, ":", 2)
	rParts := strings.SplitN(required, ":", 2)

	if len(gParts) != 2 || len(rParts) != 2 {
		return false
	}

	actionMatch := gParts[0] == rParts[0] || gParts[0] == "*"
	resourceMatch := gParts[1] == rParts[1] || gParts[1] == "*"

	return actionMatch && resourceMatch
}
