package common_test

import (
	"net/http"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github/chapool/tiered-custody/internal/api"
	"github/chapool/tiered-custody/internal/api/handlers/common"
	"github/chapool/tiered-custody/internal/test"
)

func TestGetHealthy(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "GET", "/-/healthy", nil, nil)
		require.Equal(t, http.StatusOK, res.Result().StatusCode)
		require.Equal(t, "Healthy.", res.Body.String())
	})
}

func TestGetReadyReadiness(t *testing.T) {
	if os.Getenv(test.RedisTestURL) == "" {
		t.Skipf("%s not set", test.RedisTestURL)
	}

	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "GET", "/-/ready", nil, nil)
		require.Equal(t, http.StatusOK, res.Result().StatusCode)
		require.Equal(t, "Ready.", res.Body.String())
	})
}

func TestGetReadyReadinessBroken(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		// forcefully remove an initialized component to check if ready state works
		s.Reconcile = nil

		res := test.PerformRequest(t, s, "GET", "/-/ready", nil, nil)
		require.Equal(t, common.StatusNotReady, res.Result().StatusCode)
		require.Equal(t, "Not ready.", res.Body.String())
	})
}

func TestGetReadyLedgerBrokenNotReady(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		s.Ledger.(*test.Ledger).Errors["Ping"] = errors.New("connection refused")

		res := test.PerformRequest(t, s, "GET", "/-/ready", nil, nil)
		require.Equal(t, common.StatusNotReady, res.Result().StatusCode)
		require.Equal(t, "Not ready.", res.Body.String())
	})
}

func TestGetMetrics(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		s.Metrics.DepositCredited()

		res := test.PerformRequest(t, s, "GET", "/metrics", nil, nil)
		require.Equal(t, http.StatusOK, res.Result().StatusCode)
		require.Contains(t, res.Body.String(), "custody_deposits_credited_total 1")
	})
}
