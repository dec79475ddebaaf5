package wallet

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github/chapool/tiered-custody/internal/api"
	"github/chapool/tiered-custody/internal/api/httperrors"
	"github/chapool/tiered-custody/internal/ledger"
)

type WalletResponse struct {
	*ledger.Wallet
	Available   decimal.Decimal      `json:"available"`
	Withdrawals []*ledger.Withdrawal `json:"withdrawals"`
}

func GetWalletRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/wallets/:id", getWalletHandler(s))
}

func getWalletHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		id, err := parseID(c)
		if err != nil {
			return err
		}

		w, err := s.Ledger.GetWallet(ctx, id)
		if err != nil {
			return httperrors.FromDomain(err)
		}

		available, err := s.Ledger.AvailableBalance(ctx, id)
		if err != nil {
			return httperrors.FromDomain(err)
		}

		withdrawals, err := s.Ledger.ListWithdrawalsByWallet(ctx, id)
		if err != nil {
			return httperrors.FromDomain(err)
		}

		return c.JSON(http.StatusOK, WalletResponse{
			Wallet:      w,
			Available:   available,
			Withdrawals: withdrawals,
		})
	}
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, httperrors.ErrBadRequestInvalidID
	}

	return id, nil
}
