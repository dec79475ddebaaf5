package handlers

import (
	"github.com/labstack/echo/v4"
	"github/chapool/tiered-custody/internal/api"
	"github/chapool/tiered-custody/internal/api/handlers/common"
	"github/chapool/tiered-custody/internal/api/handlers/wallet"
	"github/chapool/tiered-custody/internal/api/handlers/withdrawal"
)

func AttachAllRoutes(s *api.Server) {
	// attach our routes
	s.Router.Routes = []*echo.Route{
		common.GetHealthyRoute(s),
		common.GetReadyRoute(s),
		common.GetMetricsRoute(s),
		wallet.GetWalletRoute(s),
		wallet.PutWalletFrozenRoute(s),
		withdrawal.GetWithdrawalRoute(s),
		withdrawal.PostWithdrawalRoute(s),
	}
}
