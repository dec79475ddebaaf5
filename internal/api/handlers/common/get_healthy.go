package common

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/tiered-custody/internal/api"
)

func GetHealthyRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/healthy", getHealthyHandler(s))
}

// Liveness only: the process serves HTTP. Use /-/ready for dependency checks.
func getHealthyHandler(_ *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, "Healthy.")
	}
}
