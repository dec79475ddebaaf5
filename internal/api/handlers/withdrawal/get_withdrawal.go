package withdrawal

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github/chapool/tiered-custody/internal/api"
	"github/chapool/tiered-custody/internal/api/httperrors"
)

func GetWithdrawalRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/withdrawals/:id", getWithdrawalHandler(s))
}

func getWithdrawalHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return httperrors.ErrBadRequestInvalidID
		}

		w, err := s.Ledger.GetWithdrawal(c.Request().Context(), id)
		if err != nil {
			return httperrors.FromDomain(err)
		}

		return c.JSON(http.StatusOK, w)
	}
}
