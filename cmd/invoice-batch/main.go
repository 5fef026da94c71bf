// invoice-batch processes a folder of invoice documents from the command
// line. With -dry-run it posts to an in-memory ledger and prints what would
// have been created; otherwise it talks to the configured ledger.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"

	"invoicebridge/internal/assign"
	"invoicebridge/internal/common"
	"invoicebridge/internal/entity"
	"invoicebridge/internal/export"
	"invoicebridge/internal/ledger"
	"invoicebridge/internal/llm"
	"invoicebridge/internal/ocr"
	"invoicebridge/internal/parser"
	"invoicebridge/internal/pipeline"
	"invoicebridge/internal/repository"
	"invoicebridge/internal/submit"
	"invoicebridge/internal/vendor"
)

var supportedExts = map[string]bool{
	".pdf": true, ".png": true, ".jpg": true, ".jpeg": true,
	".tif": true, ".tiff": true,
}

func main() {
	var (
		dir           = flag.String("dir", ".", "directory of invoice documents")
		dryRun        = flag.Bool("dry-run", false, "use an in-memory ledger, write nothing external")
		autoVendor    = flag.Bool("auto-create-vendors", false, "create unknown vendors without confirmation")
		outPath       = flag.String("out", "", "write an XLSX summary of processed runs")
		rulesPath     = flag.String("rules", "", "assignment rules file (overrides RULES_PATH)")
		verboseOutput = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verboseOutput {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if *rulesPath != "" {
		cfg.Rules.Path = *rulesPath
	}

	if err := run(cfg, *dir, *dryRun, *dryRun || *autoVendor, *outPath, logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cfg *common.Config, dir string, dryRun, autoVendor bool, outPath string, logger *slog.Logger) error {
	ctx := context.Background()

	files, err := listDocuments(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no supported documents in %s", dir)
	}

	var client ledger.Client
	if dryRun {
		client = ledger.NewMemoryLedger()
	} else {
		if cfg.Ledger.URL == "" {
			return fmt.Errorf("LEDGER_URL not configured (use -dry-run to process without a ledger)")
		}
		client = ledger.NewOdooClient(ledger.OdooConfig{
			URL:          cfg.Ledger.URL,
			Database:     cfg.Ledger.Database,
			Username:     cfg.Ledger.Username,
			APIKey:       cfg.Ledger.APIKey,
			CompanyNames: cfg.Ledger.SelfKeywords,
			Timeout:      cfg.Ledger.Timeout,
		}, logger)
	}

	db, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	driver := "sqlite"
	if cfg.Database.URL != "" {
		driver = "pgx"
	}
	store := repository.NewStore(db, driver)

	rules, err := assign.LoadRules(cfg.Rules.Path, cfg.Rules.DefaultAccountCode, cfg.Rules.DefaultTaxCode)
	if err != nil {
		return err
	}

	processor := pipeline.NewProcessor(pipeline.Config{},
		ocr.NewExtractor(ocr.Config{
			Pdftotext:     cfg.OCR.Pdftotext,
			Pdftoppm:      cfg.OCR.Pdftoppm,
			Tesseract:     cfg.OCR.Tesseract,
			TesseractLang: cfg.OCR.TesseractLang,
			TessdataDir:   cfg.OCR.TessdataDir,
			DPI:           cfg.OCR.DPI,
			MaxPages:      cfg.OCR.MaxPages,
		}, logger),
		parser.NewParser(parser.Config{
			DefaultCurrency:    cfg.Ledger.DefaultCurrency,
			ExtraTaxIDPatterns: cfg.Rules.TaxIDPatterns,
		}, logger),
		vendor.NewResolver(vendor.Config{
			HighThreshold: cfg.Match.HighThreshold,
			LowThreshold:  cfg.Match.LowThreshold,
			MaxCandidates: cfg.Match.MaxCandidates,
		}, logger),
		assign.NewAssigner(logger),
		submit.NewSubmitter(submit.Config{
			BackoffSchedule:    cfg.Ledger.BackoffSchedule,
			MaxAttachmentBytes: int64(cfg.Ledger.MaxAttachmentMB * (1 << 20)),
		}, client, logger),
		client, store, rules, enricherOrNil(llm.NewExtractor(cfg.LLM, logger)), logger)

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("processing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	tally := map[pipeline.Outcome]int{}
	for _, path := range files {
		result := processOne(ctx, processor, path, autoVendor)
		tally[result.Outcome]++
		printResult(path, result)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	fmt.Printf("\n%d documents: %d submitted, %d duplicate, %d awaiting confirmation, %d rejected, %d failed\n",
		len(files), tally[pipeline.OutcomeSubmitted], tally[pipeline.OutcomeDuplicate],
		tally[pipeline.OutcomeNeedsConfirmation], tally[pipeline.OutcomeRejected],
		tally[pipeline.OutcomeFailed])

	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := export.NewService(store, logger).WriteWorkbook(ctx, f, nil); err != nil {
			return err
		}
		fmt.Println("summary written to", outPath)
	}
	return nil
}

func processOne(ctx context.Context, processor *pipeline.Processor, path string, autoVendor bool) pipeline.Result {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("batch.read_failed", "path", path, "error", err)
		return pipeline.Result{Outcome: pipeline.OutcomeFailed}
	}
	doc := entity.RawDocument{
		Filename: filepath.Base(path),
		MIMEType: http.DetectContentType(data),
		Data:     data,
	}

	result, _ := processor.Run(ctx, doc)

	// batch mode cannot ask anyone; creation of a brand-new vendor can be
	// pre-approved with -auto-create-vendors, ambiguity always parks the run
	if result.Outcome == pipeline.OutcomeNeedsConfirmation && autoVendor &&
		result.Confirmation != nil && result.Confirmation.Proposed != nil &&
		result.Confirmation.Status == entity.MatchStatusNotFound {
		resumed, err := processor.Resume(ctx, result.Confirmation.Token, pipeline.Decision{CreateVendor: true})
		if err == nil {
			return resumed
		}
	}
	return result
}

func printResult(path string, r pipeline.Result) {
	name := filepath.Base(path)
	switch r.Outcome {
	case pipeline.OutcomeSubmitted:
		flag := ""
		if r.Submission != nil && r.Submission.NeedsReview {
			flag = " (needs review)"
		}
		fmt.Printf("  %-40s bill %d created%s\n", name, r.Submission.BillID, flag)
	case pipeline.OutcomeDuplicate:
		fmt.Printf("  %-40s duplicate of bill %d\n", name, r.Submission.BillID)
	case pipeline.OutcomeNeedsConfirmation:
		fmt.Printf("  %-40s awaiting vendor confirmation (token %s)\n", name, r.Confirmation.Token)
	default:
		fmt.Printf("  %-40s %s\n", name, r.Outcome)
	}
}

func listDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if supportedExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func enricherOrNil(e *llm.Extractor) pipeline.Enricher {
	if e == nil {
		return nil
	}
	return e
}
