package handlers

import (
	"fmt"
	"net/http"

	"github.com/pocketbase/pocketbase/core"
	"go.uber.org/zap"

	"tenderestimate/estimate"
	"tenderestimate/services"
)

// importErrorBody answers an upload whose rows did not validate.
type importErrorBody struct {
	Error     string                     `json:"error"`
	Code      string                     `json:"code"`
	TotalRows int                        `json:"totalRows"`
	ErrorRows int                        `json:"errorRows"`
	Errors    []services.ValidationError `json:"errors"`
}

func toEstimateItem(it services.ImportedItem) estimate.Item {
	return estimate.Item{
		Kind:                   it.Kind,
		Name:                   it.Name,
		Unit:                   it.Unit,
		Quantity:               it.Quantity,
		UnitRate:               it.UnitRate,
		Currency:               it.Currency,
		CurrencyRate:           it.CurrencyRate,
		DeliveryPolicy:         it.DeliveryPolicy,
		DeliveryAmount:         it.DeliveryAmount,
		ConsumptionCoefficient: it.ConsumptionCoefficient,
		ConversionCoefficient:  it.ConversionCoefficient,
		MaterialRef:            it.MaterialRef,
		DetailCostCategory:     it.DetailCostCategory,
	}
}

// HandleItemImport adds the works and materials of an uploaded .csv or
// .xlsx file to a position. Any invalid row rejects the whole upload; with
// ?report=xlsx the row errors come back as a spreadsheet.
func HandleItemImport(engine *estimate.Engine, log *zap.Logger) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		positionID := e.Request.PathValue("id")

		file, header, err := e.Request.FormFile("file")
		if err != nil {
			return writeError(e, log, "item_import", fmt.Errorf("%w: file is required", errMalformedBody))
		}
		defer file.Close()

		result, err := services.ParseItemFile(engine.Calculator(), file, header.Filename)
		if err != nil {
			return writeError(e, log, "item_import", fmt.Errorf("%w: %v", errMalformedBody, err))
		}

		if result.ErrorRows > 0 {
			log.Info("item_import: upload rejected",
				zap.String("position_id", positionID),
				zap.String("file", result.FileName),
				zap.Int("error_rows", result.ErrorRows),
			)
			if e.Request.URL.Query().Get("report") == "xlsx" {
				report, err := services.GenerateErrorReport(result.Errors)
				if err != nil {
					return writeError(e, log, "item_import", fmt.Errorf("error report: %w", err))
				}
				return writeAttachment(e,
					"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
					"Ошибки_импорта.xlsx",
					report,
				)
			}
			SetToast(e, "error", fmt.Sprintf("Строк с ошибками: %d", result.ErrorRows))
			return e.JSON(http.StatusUnprocessableEntity, importErrorBody{
				Error:     "import file has invalid rows",
				Code:      "invalid_import",
				TotalRows: result.TotalRows,
				ErrorRows: result.ErrorRows,
				Errors:    result.Errors,
			})
		}

		items := make([]estimate.Item, len(result.Items))
		for i, it := range result.Items {
			items[i] = toEstimateItem(it)
		}
		created, totals, err := engine.ImportItems(e.Request.Context(), positionID, items)
		if err != nil {
			return writeError(e, log, "item_import", err)
		}

		SetToast(e, "success", fmt.Sprintf("Импортировано позиций: %d", len(created)))
		ids := make([]string, len(created))
		for i, it := range created {
			ids[i] = it.ID
		}
		return e.JSON(http.StatusOK, map[string]any{
			"imported": len(created),
			"itemIds":  ids,
			"totals":   toTotalsJSON(totals),
		})
	}
}

// HandleItemImportTemplate downloads the blank item import sheet.
func HandleItemImportTemplate(log *zap.Logger) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		data, err := services.GenerateItemTemplate()
		if err != nil {
			return writeError(e, log, "item_import_template", err)
		}
		return writeAttachment(e,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"Шаблон_импорта.xlsx",
			data,
		)
	}
}
