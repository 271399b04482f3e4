package handlers

import (
	"fmt"
	"net/http"

	"github.com/pocketbase/pocketbase/core"
	"go.uber.org/zap"

	"tenderestimate/estimate"
)

// HandleItemUpdate patches the priced fields of a work or material and
// returns the recalculated position totals.
func HandleItemUpdate(engine *estimate.Engine, log *zap.Logger) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		positionID := e.Request.PathValue("id")
		itemID := e.Request.PathValue("itemId")

		var form itemForm
		if err := decodeForm(e, &form); err != nil {
			return writeError(e, log, "item_update", err)
		}

		p, err := engine.Projection(e.Request.Context(), positionID)
		if err != nil {
			return writeError(e, log, "item_update", err)
		}
		item, ok := p.Registry.Item(itemID)
		if !ok {
			return writeError(e, log, "item_update",
				fmt.Errorf("%w: %s in position %s", estimate.ErrItemNotFound, itemID, positionID))
		}

		item, err = form.apply(item)
		if err != nil {
			return writeError(e, log, "item_update", fmt.Errorf("%w: %v", errMalformedBody, err))
		}

		totals, err := engine.UpdateItem(e.Request.Context(), item)
		if err != nil {
			return writeError(e, log, "item_update", err)
		}
		SetToast(e, "success", "Позиция пересчитана")
		return e.JSON(http.StatusOK, map[string]any{"totals": toTotalsJSON(totals)})
	}
}
