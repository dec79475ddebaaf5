package httperrors_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tiered-custody/internal/api/httperrors"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/wallet/withdraw"
)

func TestFromDomain(t *testing.T) {
	tests := []struct {
		err  error
		code int
		typ  string
	}{
		{errors.Wrap(ledger.ErrWalletNotFound, "wallet 7"), http.StatusNotFound, httperrors.TypeWalletNotFound},
		{errors.Wrap(ledger.ErrWithdrawalNotFound, "withdrawal 7"), http.StatusNotFound, httperrors.TypeWithdrawalNotFound},
		{errors.Wrap(ledger.ErrWalletFrozen, "wallet 7"), http.StatusConflict, httperrors.TypeWalletFrozen},
		{errors.Wrap(ledger.ErrInsufficientBalance, "wallet 7"), http.StatusUnprocessableEntity, httperrors.TypeInsufficientBalance},
		{errors.Wrap(ledger.ErrInvalidAmount, "-1"), http.StatusBadRequest, httperrors.TypeInvalidAmount},
		{errors.Wrap(withdraw.ErrInvalidAddress, "0x12"), http.StatusBadRequest, httperrors.TypeInvalidAddress},
		{errors.New("connection refused"), http.StatusInternalServerError, httperrors.TypeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			httpErr := httperrors.FromDomain(tt.err)
			assert.Equal(t, tt.code, httpErr.Code)
			assert.Equal(t, tt.typ, httpErr.Type)
			assert.ErrorIs(t, httpErr.Internal, tt.err)
		})
	}
}

func TestHTTPErrorHandler(t *testing.T) {
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	httperrors.HTTPErrorHandler(errors.Wrap(ledger.ErrWalletFrozen, "wallet 3"), c)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"WALLET_FROZEN"`)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	httperrors.HTTPErrorHandler(echo.ErrNotFound, c)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":404`)
}
