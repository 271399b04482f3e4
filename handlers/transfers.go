package handlers

import (
	"fmt"
	"net/http"

	"github.com/pocketbase/pocketbase/core"
	"go.uber.org/zap"

	"tenderestimate/estimate"
)

// HandleTransfer moves or copies a material onto a target work. A conflict
// is answered with status "conflict" and the transfer id to resolve.
func HandleTransfer(engine *estimate.Engine, log *zap.Logger) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		positionID := e.Request.PathValue("id")

		var form transferForm
		if err := decodeForm(e, &form); err != nil {
			return writeError(e, log, "transfer", err)
		}

		t := engine.Transfer(e.Request.Context(), form.request(positionID))
		return writeTransfer(e, log, "transfer", t)
	}
}

// HandleTransferResolve settles a pending transfer's conflict with the
// chosen strategy.
func HandleTransferResolve(engine *estimate.Engine, log *zap.Logger) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		positionID := e.Request.PathValue("id")
		transferID := e.Request.PathValue("transferId")

		var form resolveForm
		if err := decodeForm(e, &form); err != nil {
			return writeError(e, log, "transfer_resolve", err)
		}

		if pending, ok := engine.PendingTransfer(transferID); ok && pending.Request.PositionID != positionID {
			return e.JSON(http.StatusNotFound, errorBody{
				Error: fmt.Sprintf("transfer %s does not belong to position %s", transferID, positionID),
				Code:  "transfer_not_found",
			})
		}

		t, err := engine.Resolve(e.Request.Context(), transferID, estimate.Strategy(form.Strategy))
		if err != nil {
			return writeError(e, log, "transfer_resolve", err)
		}
		return writeTransfer(e, log, "transfer_resolve", t)
	}
}
