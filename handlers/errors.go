package handlers

import (
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/pocketbase/core"
	"go.uber.org/zap"

	"tenderestimate/estimate"
	"tenderestimate/logging"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error        string            `json:"error"`
	Code         string            `json:"code"`
	Fields       map[string]string `json:"fields,omitempty"`
	PositionID   string            `json:"positionId,omitempty"`
	MaterialID   string            `json:"materialId,omitempty"`
	WorkID       string            `json:"workId,omitempty"`
	MaterialName string            `json:"materialName,omitempty"`
	WorkName     string            `json:"workName,omitempty"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{estimate.ErrNoOpTransfer, http.StatusBadRequest, "no_op_transfer"},
	{estimate.ErrInvalidTransfer, http.StatusBadRequest, "invalid_transfer"},
	{estimate.ErrInvalidCoefficient, http.StatusUnprocessableEntity, "invalid_coefficient"},
	{estimate.ErrInvalidCurrencyRate, http.StatusUnprocessableEntity, "invalid_currency_rate"},
	{estimate.ErrInvalidQuantity, http.StatusUnprocessableEntity, "invalid_quantity"},
	{estimate.ErrUnsupportedCurrency, http.StatusUnprocessableEntity, "unsupported_currency"},
	{estimate.ErrInvalidDelivery, http.StatusUnprocessableEntity, "invalid_delivery"},
	{estimate.ErrPositionNotFound, http.StatusNotFound, "position_not_found"},
	{estimate.ErrItemNotFound, http.StatusNotFound, "item_not_found"},
	{estimate.ErrLinkNotFound, http.StatusNotFound, "link_not_found"},
	{estimate.ErrStaleConflict, http.StatusConflict, "stale_conflict"},
	{estimate.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
}

// statusFor maps an engine error onto an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	var verrs validation.Errors
	if errors.As(err, &verrs) || errors.Is(err, errMalformedBody) {
		return http.StatusBadRequest, "invalid_request"
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// writeError logs err under op and answers with its mapped status. Server
// side failures get a generic message; the details stay in the log.
func writeError(e *core.RequestEvent, log *zap.Logger, op string, err error) error {
	log = logging.WithTrace(e.Request.Context(), log)
	status, code := statusFor(err)
	body := errorBody{Error: err.Error(), Code: code}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		body.Error = "invalid request"
		body.Fields = make(map[string]string, len(verrs))
		for field, ferr := range verrs {
			body.Fields[field] = ferr.Error()
		}
	}

	var opErr *estimate.OpError
	if errors.As(err, &opErr) {
		body.PositionID = opErr.PositionID
		body.MaterialID = opErr.MaterialID
		body.WorkID = opErr.WorkID
		body.MaterialName = opErr.MaterialName
		body.WorkName = opErr.WorkName
	}

	if status >= http.StatusInternalServerError {
		log.Error(op+": request failed", zap.Int("status", status), zap.Error(err))
		body.Error = "Something went wrong. Please try again."
	} else {
		log.Info(op+": request rejected", zap.Int("status", status), zap.String("code", code), zap.Error(err))
	}

	SetToast(e, "error", body.Error)
	return e.JSON(status, body)
}
