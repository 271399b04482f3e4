package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"
	"go.uber.org/zap"

	"tenderestimate/estimate"
)

// HandlePositionTotals returns freshly aggregated totals of a position.
func HandlePositionTotals(engine *estimate.Engine, log *zap.Logger) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		positionID := e.Request.PathValue("id")

		totals, err := engine.GetPositionTotals(e.Request.Context(), positionID)
		if err != nil {
			return writeError(e, log, "position_totals", err)
		}
		return e.JSON(http.StatusOK, toTotalsJSON(&totals))
	}
}

// HandlePositionLinks returns every work of the position with the materials
// it consumes, plus the materials no work consumes.
func HandlePositionLinks(engine *estimate.Engine, log *zap.Logger) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		positionID := e.Request.PathValue("id")

		p, err := engine.Projection(e.Request.Context(), positionID)
		if err != nil {
			return writeError(e, log, "position_links", err)
		}
		return e.JSON(http.StatusOK, toPositionLinksJSON(p))
	}
}

// HandleLinkCreate links a material to a work.
func HandleLinkCreate(engine *estimate.Engine, log *zap.Logger) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		positionID := e.Request.PathValue("id")

		var form linkForm
		if err := decodeForm(e, &form); err != nil {
			return writeError(e, log, "link_create", err)
		}

		t := engine.CreateLink(e.Request.Context(), positionID, form.WorkID, form.MaterialID)
		return writeTransfer(e, log, "link_create", t)
	}
}

// HandleLinkUpdate replaces the coefficient snapshot of a link.
func HandleLinkUpdate(engine *estimate.Engine, log *zap.Logger) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		positionID := e.Request.PathValue("id")
		linkID := e.Request.PathValue("linkId")

		var form linkUpdateForm
		if err := decodeForm(e, &form); err != nil {
			return writeError(e, log, "link_update", err)
		}
		update, err := form.update()
		if err != nil {
			return writeError(e, log, "link_update", err)
		}

		totals, err := engine.UpdateLink(e.Request.Context(), positionID, linkID, update)
		if err != nil {
			return writeError(e, log, "link_update", err)
		}
		SetToast(e, "success", "Коэффициенты обновлены")
		return e.JSON(http.StatusOK, map[string]any{"totals": toTotalsJSON(totals)})
	}
}

// HandleLinkDelete removes a link; the material stays in the position as an
// unlinked material.
func HandleLinkDelete(engine *estimate.Engine, log *zap.Logger) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		positionID := e.Request.PathValue("id")
		linkID := e.Request.PathValue("linkId")

		totals, err := engine.DeleteLink(e.Request.Context(), positionID, linkID)
		if err != nil {
			return writeError(e, log, "link_delete", err)
		}
		SetToast(e, "success", "Связь удалена")
		return e.JSON(http.StatusOK, map[string]any{"totals": toTotalsJSON(totals)})
	}
}
