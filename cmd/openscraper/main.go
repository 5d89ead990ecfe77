package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/OpenScraper/internal/archive"
	"github.com/PentesterFlow/OpenScraper/internal/logger"
	"github.com/PentesterFlow/OpenScraper/internal/output"
	"github.com/PentesterFlow/OpenScraper/internal/server"
	"github.com/PentesterFlow/OpenScraper/internal/shutdown"
	"github.com/PentesterFlow/OpenScraper/pkg/analysis"
	"github.com/PentesterFlow/OpenScraper/pkg/har"
	"github.com/PentesterFlow/OpenScraper/pkg/scraper"
)

var (
	// Global flags
	configFile string
	logLevel   string
	prettyLog  bool

	// Serve flags
	listen       string
	poolSize     int
	noRateLimit  bool
	archiveOn    bool
	archivePath  string
	corsOrigins  []string
	pageTimeout  int
	headful      bool
	chromeBinary string

	// Scrape flags
	simpleMode bool
	harFile    string
	outputFile string

	// Captures flags
	listLimit int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "openscraper",
		Short: "OpenScraper - Headless page capture and network analysis",
		Long: `OpenScraper - Loads pages in a headless browser and reports what they did on the wire.

Returns rendered text, raw HTML and an analysis of every request the page
made: which hosts it talked to, the response headers it received and how
long it took. Runs as an HTTP service or from the command line.`,
		Version:       scraper.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Long:  "Serve /detailed_scrape and /simple_scrape until interrupted.",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	scrapeCmd := &cobra.Command{
		Use:   "scrape [url]",
		Short: "Scrape a single URL",
		Long:  "Load a URL once and print the same JSON the HTTP service would return.",
		Args:  cobra.ExactArgs(1),
		RunE:  runScrape,
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze [har-file]",
		Short: "Analyze a saved HAR file",
		Long:  "Run the network analysis over an existing HAR document without a browser. Use - for stdin.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}

	capturesCmd := &cobra.Command{
		Use:   "captures",
		Short: "Inspect the capture archive",
	}
	capturesListCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived captures, newest first",
		Args:  cobra.NoArgs,
		RunE:  runCapturesList,
	}
	capturesShowCmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Print the HAR document of an archived capture",
		Args:  cobra.ExactArgs(1),
		RunE:  runCapturesShow,
	}
	capturesDeleteCmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Remove an archived capture",
		Args:  cobra.ExactArgs(1),
		RunE:  runCapturesDelete,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	configInitCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration to a file (.yaml or .json)",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigInit,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&prettyLog, "pretty-log", false, "Human readable log output")

	// Browser flags shared by serve and scrape
	for _, cmd := range []*cobra.Command{serveCmd, scrapeCmd} {
		cmd.Flags().IntVar(&poolSize, "pool-size", 2, "Number of browsers in the pool")
		cmd.Flags().IntVarP(&pageTimeout, "timeout", "t", 30, "Page load timeout in seconds")
		cmd.Flags().BoolVar(&headful, "headful", false, "Show the browser window")
		cmd.Flags().StringVar(&chromeBinary, "chrome", "", "Path to a Chrome/Chromium binary")
	}

	// Serve flags
	serveCmd.Flags().StringVarP(&listen, "listen", "l", ":3000", "Listen address")
	serveCmd.Flags().BoolVar(&noRateLimit, "no-rate-limit", false, "Disable per-host admission limits")
	serveCmd.Flags().BoolVar(&archiveOn, "archive", false, "Archive every detailed capture")
	serveCmd.Flags().StringArrayVar(&corsOrigins, "cors-origin", nil, "Allowed CORS origin (repeatable)")

	// Archive location
	serveCmd.Flags().StringVar(&archivePath, "archive-path", "", "Capture archive file")
	capturesCmd.PersistentFlags().StringVar(&archivePath, "archive-path", "", "Capture archive file")

	// Scrape flags
	scrapeCmd.Flags().BoolVar(&simpleMode, "simple", false, "Only print the rendered text")
	scrapeCmd.Flags().StringVar(&harFile, "har", "", "Also write the network capture as HAR to this file")
	scrapeCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	analyzeCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	capturesShowCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	capturesListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of captures to list")

	// Add commands
	capturesCmd.AddCommand(capturesListCmd, capturesShowCmd, capturesDeleteCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(serveCmd, scrapeCmd, analyzeCmd, capturesCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file when given and applies any flags the
// user set explicitly.
func loadConfig(cmd *cobra.Command) (*scraper.Config, error) {
	config := scraper.DefaultConfig()
	if configFile != "" {
		fileConfig, err := scraper.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		config.Log.Level = logLevel
	}
	if flags.Changed("pretty-log") {
		config.Log.Pretty = prettyLog
	}
	if flags.Changed("listen") {
		config.Server.Listen = listen
	}
	if flags.Changed("pool-size") {
		config.Browser.PoolSize = poolSize
	}
	if flags.Changed("timeout") {
		config.Browser.Timeout = time.Duration(pageTimeout) * time.Second
	}
	if flags.Changed("headful") {
		config.Browser.Headless = !headful
	}
	if flags.Changed("chrome") {
		config.Browser.ChromePath = chromeBinary
	}
	if flags.Changed("no-rate-limit") {
		config.RateLimit.Enabled = !noRateLimit
	}
	if flags.Changed("archive") {
		config.Archive.Enabled = archiveOn
	}
	if flags.Changed("archive-path") {
		config.Archive.Path = archivePath
	}
	if flags.Changed("cors-origin") {
		config.Server.CORSOrigins = corsOrigins
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func newLogger(config *scraper.Config) *logger.Logger {
	level, err := logger.ParseLevel(config.Log.Level)
	if err != nil {
		level = logger.InfoLevel
	}
	log := logger.New(logger.Config{
		Level:  level,
		Pretty: config.Log.Pretty,
		Output: os.Stderr,
	})
	logger.SetGlobal(log)
	return log
}

func runServe(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(config)

	s, err := scraper.New(
		scraper.WithConfig(config),
		scraper.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("failed to create scraper: %w", err)
	}

	srv := server.New(s, log)

	h := shutdown.New(shutdown.Config{
		Timeout: config.Server.ShutdownTimeout,
		OnShutdownStart: func() {
			log.Info("Received shutdown signal, draining requests...")
		},
		OnShutdownDone: func(elapsed time.Duration, err error) {
			if err != nil {
				log.WithError(err).WithDuration(elapsed).Warn("Shutdown finished with errors")
				return
			}
			log.WithDuration(elapsed).Info("Shutdown complete")
		},
	})
	defer h.Stop()

	// Steps run in reverse: the listener drains before browsers close.
	h.RegisterCloser("scraper", s.Close)
	h.RegisterServer("http", srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failed := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			failed <- err
			cancel()
		}
	}()

	printBanner(config)

	err = h.Wait(ctx)
	select {
	case serveErr := <-failed:
		return fmt.Errorf("server failed: %w", serveErr)
	default:
	}
	return err
}

func runScrape(cmd *cobra.Command, args []string) error {
	target := args[0]

	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// One-shot runs never need admission control.
	config.RateLimit.Enabled = false
	config.Browser.PoolSize = 1
	log := newLogger(config)

	s, err := scraper.New(
		scraper.WithConfig(config),
		scraper.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("failed to create scraper: %w", err)
	}
	defer s.Close()

	// An interrupt cancels the page load in progress.
	h := shutdown.New(shutdown.Config{Timeout: config.Server.ShutdownTimeout})
	defer h.Stop()
	go h.Wait(context.Background())
	ctx := h.Context()

	out, err := output.Open(output.Config{Pretty: true, FilePath: outputFile})
	if err != nil {
		return err
	}
	defer out.Close()

	if simpleMode {
		res, err := s.Simple(ctx, target)
		if err != nil {
			return fmt.Errorf("scrape failed: %w", err)
		}
		return out.WriteJSON(server.SimpleResponse{RenderedContent: res.RenderedContent})
	}

	res, err := s.Detailed(ctx, target)
	if err != nil {
		return fmt.Errorf("scrape failed: %w", err)
	}

	if harFile != "" {
		if err := writeHAR(harFile, res.Capture); err != nil {
			return err
		}
		log.WithField("path", harFile).Info("HAR written")
	}

	return out.WriteJSON(server.NewDetailedResponse(res))
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(config)

	var in io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open HAR file: %w", err)
		}
		defer f.Close()
		in = f
	}

	capture, err := har.Decode(in)
	if err != nil {
		return fmt.Errorf("failed to decode HAR: %w", err)
	}

	result := analysis.Analyze(capture)
	if n := result.Skipped(); n > 0 {
		log.SkippedRecordsEvent(args[0], n, result.Diagnostics[0])
	}

	out, err := output.Open(output.Config{Pretty: true, FilePath: outputFile})
	if err != nil {
		return err
	}
	defer out.Close()

	return out.WriteJSON(result)
}

// openArchive opens the archive named by the config regardless of whether
// the service has archiving enabled.
func openArchive(cmd *cobra.Command) (*archive.Store, error) {
	config, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	newLogger(config)

	if _, err := os.Stat(config.Archive.Path); err != nil {
		return nil, fmt.Errorf("no capture archive at %s", config.Archive.Path)
	}
	store, err := archive.Open(config.Archive, scraper.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return store, nil
}

func runCapturesList(cmd *cobra.Command, args []string) error {
	store, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(listLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No captures archived")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %9s  %7s  %s\n", "ID", "CAPTURED", "EXCHANGES", "SKIPPED", "URL")
	for _, rec := range records {
		fmt.Printf("%-36s  %-20s  %9d  %7d  %s\n",
			rec.ID, rec.CreatedAt.Local().Format("2006-01-02 15:04:05"), rec.Exchanges, rec.Skipped, rec.URL)
	}
	if total := store.Count(); total > len(records) {
		fmt.Printf("... and %d more\n", total-len(records))
	}
	return nil
}

func runCapturesShow(cmd *cobra.Command, args []string) error {
	store, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	doc, err := store.HAR(args[0])
	if err != nil {
		return err
	}

	out, err := output.Open(output.Config{FilePath: outputFile})
	if err != nil {
		return err
	}
	defer out.Close()

	return out.WriteRaw(doc)
}

func runCapturesDelete(cmd *cobra.Command, args []string) error {
	store, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := scraper.DefaultConfig().SaveToFile(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}

func writeHAR(path string, c *har.Capture) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create HAR file: %w", err)
	}
	if err := har.Encode(f, c, scraper.Version, true); err != nil {
		f.Close()
		return fmt.Errorf("failed to write HAR: %w", err)
	}
	return f.Close()
}

func printBanner(config *scraper.Config) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Printf("║                      OpenScraper v%-27s║\n", scraper.Version)
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Listen:       %s\n", config.Server.Listen)
	fmt.Printf("Browsers:     %d (headless: %v)\n", config.Browser.PoolSize, config.Browser.Headless)
	fmt.Printf("Page timeout: %v\n", config.Browser.Timeout)
	if config.RateLimit.Enabled {
		fmt.Printf("Rate limit:   %.1f req/s per host\n", config.RateLimit.PerHostRPS)
	} else {
		fmt.Println("Rate limit:   off")
	}
	if config.Archive.Enabled {
		fmt.Printf("Archive:      %s\n", config.Archive.Path)
	}
	if len(config.Server.CORSOrigins) > 0 {
		fmt.Printf("CORS:         %s\n", strings.Join(config.Server.CORSOrigins, ", "))
	}
	fmt.Println()
}
