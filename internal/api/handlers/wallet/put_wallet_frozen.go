package wallet

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/tiered-custody/internal/api"
	"github/chapool/tiered-custody/internal/api/httperrors"
	"github/chapool/tiered-custody/internal/util"
)

type PutWalletFrozenPayload struct {
	Frozen *bool `json:"frozen"`
}

func PutWalletFrozenRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.PUT("/wallets/:id/frozen", putWalletFrozenHandler(s))
}

// A frozen wallet accepts no new withdrawals and is skipped by deposit sweeps.
func putWalletFrozenHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		id, err := parseID(c)
		if err != nil {
			return err
		}

		var body PutWalletFrozenPayload
		if err := c.Bind(&body); err != nil || body.Frozen == nil {
			return httperrors.ErrBadRequestInvalidBody
		}

		if err := s.Ledger.SetFrozen(ctx, id, *body.Frozen); err != nil {
			return httperrors.FromDomain(err)
		}

		util.LogFromContext(ctx).Info().Int64("wallet_id", id).Bool("frozen", *body.Frozen).Msg("Wallet freeze state changed")

		w, err := s.Ledger.GetWallet(ctx, id)
		if err != nil {
			return httperrors.FromDomain(err)
		}

		return c.JSON(http.StatusOK, w)
	}
}
