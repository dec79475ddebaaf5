package withdrawal

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github/chapool/tiered-custody/internal/api"
	"github/chapool/tiered-custody/internal/api/httperrors"
	"github/chapool/tiered-custody/internal/util"
)

type PostWithdrawalPayload struct {
	WalletID  int64           `json:"walletId"`
	Amount    decimal.Decimal `json:"amount"`
	ToAddress string          `json:"toAddress"`
}

func PostWithdrawalRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.POST("/withdrawals", postWithdrawalHandler(s))
}

// postWithdrawalHandler queues a withdrawal. Execution happens asynchronously in the withdrawal controller.
func postWithdrawalHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		var body PostWithdrawalPayload
		if err := c.Bind(&body); err != nil {
			return httperrors.ErrBadRequestInvalidBody
		}

		if body.WalletID <= 0 {
			return httperrors.ErrBadRequestInvalidID
		}

		w, err := s.Withdraw.RequestWithdrawal(ctx, body.WalletID, body.Amount, body.ToAddress)
		if err != nil {
			log.Debug().Err(err).Int64("wallet_id", body.WalletID).Msg("Failed to request withdrawal")
			return httperrors.FromDomain(err)
		}

		return c.JSON(http.StatusCreated, w)
	}
}
