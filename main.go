package main

import (
	"log"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tenderestimate/collections"
	"tenderestimate/config"
	"tenderestimate/estimate"
	"tenderestimate/handlers"
	"tenderestimate/logging"
	"tenderestimate/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, _, err := logging.New(logging.Config{
		Environment: logging.Environment(cfg.Log.Environment),
		Level:       cfg.Log.Level,
	})
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logger.Sync()

	app := pocketbase.New()
	engine := estimate.New(store.New(app),
		estimate.WithCalculator(cfg.Calculator()),
		estimate.WithLogger(logger.Named("estimate")),
		estimate.WithMetrics(estimate.NewMetrics(prometheus.DefaultRegisterer)),
		estimate.WithPendingTTL(cfg.Conflicts.PendingTTL),
	)

	app.RootCmd.AddCommand(newRecalcCommand(app, engine, logger))

	// Create collections, migrate link coefficients and seed data on startup
	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		prepare(app, logger)
		return se.Next()
	})

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		httpLog := logger.Named("http")

		api := se.Router.Group("/api/positions/{id}")
		api.GET("/totals", handlers.HandlePositionTotals(engine, httpLog))
		api.GET("/links", handlers.HandlePositionLinks(engine, httpLog))
		api.POST("/links", handlers.HandleLinkCreate(engine, httpLog))
		api.PATCH("/links/{linkId}", handlers.HandleLinkUpdate(engine, httpLog))
		api.DELETE("/links/{linkId}", handlers.HandleLinkDelete(engine, httpLog))

		api.POST("/transfers", handlers.HandleTransfer(engine, httpLog))
		api.POST("/transfers/{transferId}/resolve", handlers.HandleTransferResolve(engine, httpLog))

		api.PATCH("/items/{itemId}", handlers.HandleItemUpdate(engine, httpLog))
		api.POST("/items/import", handlers.HandleItemImport(engine, httpLog))

		api.GET("/export/excel", handlers.HandlePositionExportExcel(engine, httpLog))
		api.GET("/export/pdf", handlers.HandlePositionExportPDF(engine, httpLog))

		se.Router.GET("/api/items/import/template", handlers.HandleItemImportTemplate(httpLog))

		if cfg.Metrics.Enabled {
			se.Router.GET(cfg.Metrics.Path, apis.WrapStdHandler(promhttp.Handler()))
		}

		return se.Next()
	})

	if err := app.Start(); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// prepare brings the schema and data up to date. Failures of the data steps
// are logged and do not stop the server.
func prepare(app core.App, logger *zap.Logger) {
	collections.Setup(app)
	if n, err := collections.SnapshotLinkCoefficients(app); err != nil {
		logger.Warn("link coefficient migration failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("link coefficients snapshotted", zap.Int("links", n))
	}
	if err := collections.Seed(app); err != nil {
		logger.Warn("seed data failed", zap.Error(err))
	}
}
