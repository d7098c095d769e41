package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/propfetch/zooplafetch/config"
	"github.com/propfetch/zooplafetch/crawler"
	"github.com/propfetch/zooplafetch/floorplan"
	"github.com/propfetch/zooplafetch/models"
	"github.com/propfetch/zooplafetch/pipeline"
)

func main() {
	config.LoadEnv()

	defaultCfg := config.DefaultConfig()
	pagesDefault := defaultCfg.MaxPages
	if value, ok, err := config.EnvInt("FETCHER_PAGES"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid FETCHER_PAGES: %v\n", err)
		os.Exit(1)
	} else if ok {
		pagesDefault = value
	}
	parallelDefault := defaultCfg.Parallelism
	if value, ok, err := config.EnvInt("FETCHER_PARALLEL"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid FETCHER_PARALLEL: %v\n", err)
		os.Exit(1)
	} else if ok {
		parallelDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("FETCHER_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("FETCHER_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	dsnDefault := defaultCfg.PostgresDSN
	if value, ok := config.EnvString("FETCHER_POSTGRES_DSN"); ok {
		dsnDefault = value
	}

	area := flag.String("area", "", "Search area, e.g. \"Oxford\" or \"SW1A\"")
	section := flag.String("section", "for-sale", "Market section: for-sale or to-rent")
	radius := flag.Float64("radius", 0, "Search radius in miles")
	priceMin := flag.Int("price-min", -1, "Minimum price filter (-1 disables)")
	priceMax := flag.Int("price-max", -1, "Maximum price filter (-1 disables)")
	bedsMin := flag.Int("beds-min", -1, "Minimum bedrooms filter (-1 disables)")
	bedsMax := flag.Int("beds-max", -1, "Maximum bedrooms filter (-1 disables)")
	propertyType := flag.String("property-type", "", "Property type: houses, flats, or farms_land")
	withHistory := flag.Bool("price-history", false, "Enrich rows with per-listing price history")

	configFile := flag.String("config", "", "Optional YAML config preset")
	maxPages := flag.Int("pages", pagesDefault, "Maximum result pages to walk")
	parallelism := flag.Int("parallel", parallelDefault, "Number of concurrent detail fetches")
	delayMs := flag.Int("delay", int(defaultCfg.Delay/time.Millisecond), "Delay between requests (milliseconds)")
	randomDelayMs := flag.Int("random-delay", int(defaultCfg.RandomDelay/time.Millisecond), "Random jitter added to delay (milliseconds)")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Maximum retry attempts per request")
	outputFile := flag.String("output", outputDefault, "Output file path")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, json, dual, or postgres")
	postgresDSN := flag.String("postgres-dsn", dsnDefault, "PostgreSQL DSN for the postgres output format")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	tesseractBin := flag.String("tesseract", defaultCfg.TesseractBin, "Path to the tesseract binary")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	if *configFile != "" {
		if err := cfg.LoadFile(*configFile); err != nil {
			slog.Error("loading config preset", slog.Any("error", err))
			os.Exit(1)
		}
	}
	// flags beat the preset only when the user actually set them
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	applyFlags(cfg, setFlags, flagOverrides{
		maxPages:      *maxPages,
		parallelism:   *parallelism,
		delayMs:       *delayMs,
		randomDelayMs: *randomDelayMs,
		maxRetries:    *maxRetries,
		outputFile:    *outputFile,
		outputFormat:  *outputFormat,
		postgresDSN:   *postgresDSN,
		metricsAddr:   *metricsAddr,
		tesseractBin:  *tesseractBin,
		verbose:       *verbose,
	})
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	query, err := buildQuery(*area, *section, *radius, *priceMin, *priceMax, *bedsMin, *bedsMax, *propertyType)
	if err != nil {
		slog.Error("invalid query", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting extraction",
		slog.String("area", query.Area),
		slog.String("section", string(query.Section)),
		slog.Int("pages", cfg.MaxPages),
		slog.Int("workers", cfg.Parallelism),
	)

	metrics := crawler.NewMetrics()
	fetcher := crawler.NewFetcher(cfg, metrics)
	paginator, err := crawler.NewPaginator(cfg, fetcher, metrics)
	if err != nil {
		slog.Error("initialising paginator", slog.Any("error", err))
		os.Exit(1)
	}
	collector := crawler.NewCollector(fetcher, metrics)

	extractor, err := floorplan.NewExtractor(fetcher, floorplan.NewTesseractEngine(cfg.TesseractBin), cfg.OCRCacheSize)
	if err != nil {
		slog.Error("initialising floorplan extractor", slog.Any("error", err))
		os.Exit(1)
	}
	analyzer := floorplan.NewAnalyzer(extractor, floorplan.NewParser(cfg.DimensionBounds))

	orchestrator := crawler.NewOrchestrator(cfg, metrics, fetcher, paginator, collector, analyzer)
	if *withHistory {
		orchestrator.EnablePriceHistory("")
	}

	writer, err := createWriter(cfg)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(writer)
	p.Start(cfg.Parallelism)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	report, err := orchestrator.ExtractAllPropertyDetails(ctx, query, cfg.Parallelism)
	if err != nil {
		slog.Error("extraction failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := p.Process(report.Rows...); err != nil {
		slog.Error("pipeline rejected rows", slog.Any("error", err))
		os.Exit(1)
	}
	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}

	if len(report.Rows) > 0 {
		if err := writer.Validate(); err != nil {
			slog.Error("output validation failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	for _, failure := range report.Failures {
		slog.Warn("listing failed",
			slog.String("listing_id", failure.ListingID),
			slog.String("reason", failure.Reason),
		)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(report, cfg.OutputFile, p.GetMetrics())
}

type flagOverrides struct {
	maxPages      int
	parallelism   int
	delayMs       int
	randomDelayMs int
	maxRetries    int
	outputFile    string
	outputFormat  string
	postgresDSN   string
	metricsAddr   string
	tesseractBin  string
	verbose       bool
}

// applyFlags overlays flag values onto the config. A flag the user left at
// its default still applies when that default came from the environment, so
// precedence ends up defaults < preset < env < explicit flags.
func applyFlags(cfg *config.Config, set map[string]bool, o flagOverrides) {
	base := config.DefaultConfig()
	if set["pages"] || o.maxPages != base.MaxPages {
		cfg.MaxPages = o.maxPages
	}
	if set["parallel"] || o.parallelism != base.Parallelism {
		cfg.Parallelism = o.parallelism
	}
	if set["delay"] {
		cfg.Delay = time.Duration(o.delayMs) * time.Millisecond
	}
	if set["random-delay"] {
		cfg.RandomDelay = time.Duration(o.randomDelayMs) * time.Millisecond
	}
	if set["max-retries"] {
		cfg.MaxRetries = o.maxRetries
	}
	if set["output"] || o.outputFile != base.OutputFile {
		cfg.OutputFile = o.outputFile
	}
	if set["format"] {
		cfg.OutputFormat = strings.ToLower(o.outputFormat)
	}
	if set["postgres-dsn"] || o.postgresDSN != base.PostgresDSN {
		cfg.PostgresDSN = o.postgresDSN
	}
	if set["metrics-addr"] || o.metricsAddr != base.MetricsAddr {
		cfg.MetricsAddr = o.metricsAddr
	}
	if set["tesseract"] {
		cfg.TesseractBin = o.tesseractBin
	}
	if set["v"] {
		cfg.Verbose = o.verbose
	}
}

func buildQuery(area, section string, radius float64, priceMin, priceMax, bedsMin, bedsMax int, propertyType string) (models.Query, error) {
	q := models.DefaultQuery(area)
	q.Section = models.Section(section)
	q.RadiusMiles = radius
	q.PropertyType = models.PropertyType(propertyType)
	if priceMin >= 0 {
		q.PriceMin = &priceMin
	}
	if priceMax >= 0 {
		q.PriceMax = &priceMax
	}
	if bedsMin >= 0 {
		q.BedsMin = &bedsMin
	}
	if bedsMax >= 0 {
		q.BedsMax = &bedsMax
	}
	return q, q.Validate()
}

func createWriter(cfg *config.Config) (pipeline.OutputWriter, error) {
	switch cfg.OutputFormat {
	case "json":
		return pipeline.NewJSONWriter(cfg.OutputFile)
	case "csv":
		return pipeline.NewCSVWriter(cfg.OutputFile)
	case "dual":
		jsonFilename := strings.TrimSuffix(cfg.OutputFile, ".csv") + ".json"
		return pipeline.NewDualWriter(cfg.OutputFile, jsonFilename)
	case "postgres":
		return pipeline.NewPostgresWriter(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
}

func printSummary(report *models.CrawlReport, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Extraction complete")

	fmt.Printf("  Session:       %s\n", report.SessionID)
	fmt.Printf("  Listings:      %d\n", len(report.Rows))
	fmt.Printf("  Failures:      %d\n", len(report.Failures))
	fmt.Printf("  Success rate:  %.2f%%\n", report.SuccessRate()*100)
	fmt.Printf("  Pages walked:  %d\n", report.PageCount)
	if report.PartialPagination {
		fmt.Println("  Pagination:    PARTIAL (page walk aborted early)")
	}
	fmt.Printf("  Requests:      %d\n", report.RequestCount)
	fmt.Printf("  Retries:       %d\n", report.RetryCount)
	fmt.Printf("  Errors:        %d\n", report.ErrorCount)
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	duration := report.EndTime.Sub(report.StartTime)
	fmt.Printf("  Duration:      %v\n", duration)
	if duration.Seconds() > 0 {
		fmt.Printf("  Rows/sec:      %.2f\n", float64(len(report.Rows))/duration.Seconds())
	}
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
