package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"go.uber.org/zap"

	"tenderestimate/collections"
	"tenderestimate/estimate"
	"tenderestimate/services"
)

// buildExportData loads a fresh projection of the position and flattens it
// into export rows titled with the tender's name.
func buildExportData(e *core.RequestEvent, engine *estimate.Engine, positionID string) (services.ExportData, error) {
	p, err := engine.Projection(e.Request.Context(), positionID)
	if err != nil {
		return services.ExportData{}, err
	}

	title := ""
	if p.Position.TenderID != "" {
		if tender, err := e.App.FindRecordById(collections.Tenders, p.Position.TenderID); err == nil {
			title = tender.GetString("title")
		}
	}
	if title == "" {
		title = p.Position.Name
	}

	return p.ExportData(engine.Calculator(), title, time.Now())
}

// sanitizeFilename removes characters that are unsafe for filenames.
func sanitizeFilename(s string) string {
	return strings.NewReplacer(
		" ", "-",
		"/", "-",
		"\\", "-",
		":", "-",
		"\"", "",
	).Replace(s)
}

func exportFilename(data services.ExportData, ext string) string {
	name := "Смета"
	if data.PositionNumber != "" {
		name += "_" + data.PositionNumber
	}
	return fmt.Sprintf("%s_%s.%s", sanitizeFilename(name), time.Now().Format("2006-01-02"), ext)
}

func writeAttachment(e *core.RequestEvent, contentType, filename string, body []byte) error {
	e.Response.Header().Set("Content-Type", contentType)
	e.Response.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	e.Response.WriteHeader(http.StatusOK)
	_, err := e.Response.Write(body)
	return err
}

// HandlePositionExportExcel downloads the position's estimate as an Excel file.
func HandlePositionExportExcel(engine *estimate.Engine, log *zap.Logger) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		positionID := e.Request.PathValue("id")

		data, err := buildExportData(e, engine, positionID)
		if err != nil {
			return writeError(e, log, "export_excel", err)
		}

		xlsxBytes, err := services.GenerateExcel(data)
		if err != nil {
			return writeError(e, log, "export_excel", fmt.Errorf("generate: %w", err))
		}

		return writeAttachment(e,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			exportFilename(data, "xlsx"),
			xlsxBytes,
		)
	}
}

// HandlePositionExportPDF downloads the position's estimate as a PDF file.
func HandlePositionExportPDF(engine *estimate.Engine, log *zap.Logger) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		positionID := e.Request.PathValue("id")

		data, err := buildExportData(e, engine, positionID)
		if err != nil {
			return writeError(e, log, "export_pdf", err)
		}

		pdfBytes, err := services.GeneratePDF(data)
		if err != nil {
			return writeError(e, log, "export_pdf", fmt.Errorf("generate: %w", err))
		}

		return writeAttachment(e, "application/pdf", exportFilename(data, "pdf"), pdfBytes)
	}
}
