// invoicebridged is the HTTP intake daemon: it accepts invoice documents,
// runs the processing pipeline, and posts vendor bills to the ledger.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"invoicebridge/internal/assign"
	"invoicebridge/internal/common"
	"invoicebridge/internal/export"
	"invoicebridge/internal/ledger"
	"invoicebridge/internal/llm"
	"invoicebridge/internal/ocr"
	"invoicebridge/internal/parser"
	"invoicebridge/internal/pipeline"
	"invoicebridge/internal/repository"
	"invoicebridge/internal/server"
	"invoicebridge/internal/submit"
	"invoicebridge/internal/vendor"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("config invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		logger.Error("database open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	driver := "sqlite"
	if cfg.Database.URL != "" {
		driver = "pgx"
	}
	store := repository.NewStore(db, driver)

	rules, err := assign.LoadRules(cfg.Rules.Path, cfg.Rules.DefaultAccountCode, cfg.Rules.DefaultTaxCode)
	if err != nil {
		logger.Error("rules load failed", "error", err)
		os.Exit(1)
	}

	client := ledger.NewOdooClient(ledger.OdooConfig{
		URL:          cfg.Ledger.URL,
		Database:     cfg.Ledger.Database,
		Username:     cfg.Ledger.Username,
		APIKey:       cfg.Ledger.APIKey,
		CompanyNames: cfg.Ledger.SelfKeywords,
		Timeout:      cfg.Ledger.Timeout,
	}, logger)

	extractor := ocr.NewExtractor(ocr.Config{
		Pdftotext:     cfg.OCR.Pdftotext,
		Pdftoppm:      cfg.OCR.Pdftoppm,
		Tesseract:     cfg.OCR.Tesseract,
		TesseractLang: cfg.OCR.TesseractLang,
		TessdataDir:   cfg.OCR.TessdataDir,
		DPI:           cfg.OCR.DPI,
		MaxPages:      cfg.OCR.MaxPages,
	}, logger)

	fieldParser := parser.NewParser(parser.Config{
		DefaultCurrency:    cfg.Ledger.DefaultCurrency,
		ExtraTaxIDPatterns: cfg.Rules.TaxIDPatterns,
	}, logger)

	resolver := vendor.NewResolver(vendor.Config{
		HighThreshold: cfg.Match.HighThreshold,
		LowThreshold:  cfg.Match.LowThreshold,
		MaxCandidates: cfg.Match.MaxCandidates,
	}, logger)

	submitter := submit.NewSubmitter(submit.Config{
		BackoffSchedule:    cfg.Ledger.BackoffSchedule,
		MaxAttachmentBytes: int64(cfg.Ledger.MaxAttachmentMB * (1 << 20)),
	}, client, logger)

	enricher := llm.NewExtractor(cfg.LLM, logger)

	processor := pipeline.NewProcessor(pipeline.Config{},
		extractor, fieldParser, resolver, assign.NewAssigner(logger), submitter,
		client, store, rules, enricherOrNil(enricher), logger)

	exporter := export.NewService(store, logger)

	srv := server.New(cfg.Server, processor, exporter, client, enricher, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// enricherOrNil keeps a typed-nil *llm.Extractor out of the Enricher
// interface slot.
func enricherOrNil(e *llm.Extractor) pipeline.Enricher {
	if e == nil {
		return nil
	}
	return e
}

func logLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
