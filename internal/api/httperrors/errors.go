package httperrors

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github/chapool/tiered-custody/internal/ledger"
	"github/chapool/tiered-custody/internal/util"
	"github/chapool/tiered-custody/internal/wallet/withdraw"
)

const (
	TypeGeneric             = "generic"
	TypeBadRequest          = "BAD_REQUEST"
	TypeWalletNotFound      = "WALLET_NOT_FOUND"
	TypeWithdrawalNotFound  = "WITHDRAWAL_NOT_FOUND"
	TypeWalletFrozen        = "WALLET_FROZEN"
	TypeInsufficientBalance = "INSUFFICIENT_BALANCE"
	TypeInvalidAmount       = "INVALID_AMOUNT"
	TypeInvalidAddress      = "INVALID_ADDRESS"
)

// HTTPError is the JSON body of every failed request.
type HTTPError struct {
	Code     int    `json:"status"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
	Internal error  `json:"-"`
}

func NewHTTPError(code int, errorType string, title string) *HTTPError {
	return &HTTPError{
		Code:  code,
		Type:  errorType,
		Title: title,
	}
}

func NewFromEcho(e *echo.HTTPError) *HTTPError {
	return &HTTPError{
		Code:     e.Code,
		Type:     TypeGeneric,
		Title:    fmt.Sprintf("%v", e.Message),
		Internal: e.Internal,
	}
}

func (e *HTTPError) Error() string {
	var msg string
	if len(e.Detail) > 0 {
		msg = fmt.Sprintf("HTTPError %d (%s): %s - %s", e.Code, e.Type, e.Title, e.Detail)
	} else {
		msg = fmt.Sprintf("HTTPError %d (%s): %s", e.Code, e.Type, e.Title)
	}

	if e.Internal != nil {
		msg = fmt.Sprintf("%s, %v", msg, e.Internal)
	}

	return msg
}

var (
	ErrBadRequestInvalidID   = NewHTTPError(http.StatusBadRequest, TypeBadRequest, "Invalid id.")
	ErrBadRequestInvalidBody = NewHTTPError(http.StatusBadRequest, TypeBadRequest, "Invalid request body.")
)

var domainErrors = []struct {
	target error
	code   int
	typ    string
	title  string
}{
	{ledger.ErrWalletNotFound, http.StatusNotFound, TypeWalletNotFound, "Wallet not found."},
	{ledger.ErrWithdrawalNotFound, http.StatusNotFound, TypeWithdrawalNotFound, "Withdrawal not found."},
	{ledger.ErrWalletFrozen, http.StatusConflict, TypeWalletFrozen, "Wallet is frozen."},
	{ledger.ErrInsufficientBalance, http.StatusUnprocessableEntity, TypeInsufficientBalance, "Insufficient available balance."},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, TypeInvalidAmount, "Invalid amount."},
	{withdraw.ErrInvalidAddress, http.StatusBadRequest, TypeInvalidAddress, "Invalid destination address."},
}

// FromDomain maps ledger and controller sentinels to client errors. Anything else is a 500.
func FromDomain(err error) *HTTPError {
	for _, d := range domainErrors {
		if errors.Is(err, d.target) {
			return &HTTPError{Code: d.code, Type: d.typ, Title: d.title, Detail: err.Error(), Internal: err}
		}
	}

	return &HTTPError{Code: http.StatusInternalServerError, Type: TypeGeneric, Title: http.StatusText(http.StatusInternalServerError), Internal: err}
}

// HTTPErrorHandler renders every handler error as an HTTPError.
func HTTPErrorHandler(err error, c echo.Context) {
	var httpErr *HTTPError

	var echoErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
	case errors.As(err, &echoErr):
		httpErr = NewFromEcho(echoErr)
	default:
		httpErr = FromDomain(err)
	}

	if httpErr.Code >= http.StatusInternalServerError {
		util.LogFromContext(c.Request().Context()).Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}

	if c.Response().Committed {
		return
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(httpErr.Code)
		return
	}

	_ = c.JSON(httpErr.Code, httpErr)
}
