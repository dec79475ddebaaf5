package common

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/tiered-custody/internal/api"
	"github/chapool/tiered-custody/internal/util"
)

// StatusNotReady is returned instead of 503 so load balancers can tell it apart from proxy errors.
const StatusNotReady = 521

func GetReadyRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/ready", getReadyHandler(s))
}

func getReadyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		if !s.Ready() {
			return c.String(StatusNotReady, "Not ready.")
		}

		if err := s.Probe(ctx); err != nil {
			util.LogFromContext(ctx).Warn().Err(err).Msg("Readiness probe failed")
			return c.String(StatusNotReady, "Not ready.")
		}

		return c.String(http.StatusOK, "Ready.")
	}
}
