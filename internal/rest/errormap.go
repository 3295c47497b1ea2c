package rest

import (
	"net/http"

	"github.com/qtexchange/vexchange/internal/platform/xerrors"
)

// binanceError is the wire error shape spec.md §6.1 requires bit-for-bit:
// {"code": <negative int>, "msg": "<string>"}.
type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Binance negative error codes, the subset spec.md names explicitly.
const (
	codeUnknown           = -1000
	codeInvalidTimestamp  = -1021
	codeBadAPIKeyFmt      = -2014
	codeRejected          = -2010
	codeUnknownOrder      = -2013
	codeInsufficientFunds = -2019
	codeBadSymbol         = -1121
	codeBadParameter      = -1100
	codeUnauthorized      = -2015
)

// mapError converts an internal xerrors.Error (or any error) to a Binance
// error body and the HTTP status it should be served with.
func mapError(err error) (int, binanceError) {
	kind := xerrors.KindOf(err)
	switch kind {
	case xerrors.KindValidation, xerrors.KindInvalidOrder:
		return http.StatusBadRequest, binanceError{Code: codeBadParameter, Msg: err.Error()}
	case xerrors.KindUnknownSymbol:
		return http.StatusBadRequest, binanceError{Code: codeBadSymbol, Msg: err.Error()}
	case xerrors.KindNotFound:
		return http.StatusNotFound, binanceError{Code: codeUnknownOrder, Msg: err.Error()}
	case xerrors.KindInsufficientFunds:
		return http.StatusBadRequest, binanceError{Code: codeInsufficientFunds, Msg: err.Error()}
	case xerrors.KindUnauthorized:
		return http.StatusUnauthorized, binanceError{Code: codeUnauthorized, Msg: err.Error()}
	case xerrors.KindTimestampSkew:
		return http.StatusBadRequest, binanceError{Code: codeInvalidTimestamp, Msg: err.Error()}
	case xerrors.KindRateLimit:
		return http.StatusTooManyRequests, binanceError{Code: codeRejected, Msg: err.Error()}
	case xerrors.KindConflict:
		return http.StatusConflict, binanceError{Code: codeRejected, Msg: err.Error()}
	default:
		return http.StatusInternalServerError, binanceError{Code: codeUnknown, Msg: err.Error()}
	}
}
