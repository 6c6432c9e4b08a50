package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/voucherscan/internal/config"
	"github.com/andresmejia3/voucherscan/internal/extract"
	"github.com/andresmejia3/voucherscan/internal/metrics"
	"github.com/andresmejia3/voucherscan/internal/ocr"
	"github.com/andresmejia3/voucherscan/internal/tracing"
	"github.com/andresmejia3/voucherscan/internal/types"
	"github.com/andresmejia3/voucherscan/internal/utils"
	"github.com/andresmejia3/voucherscan/internal/video"
	"github.com/andresmejia3/voucherscan/internal/worker"
)

// Options holds the scan command's flags. Zero values defer to the loaded Config.
type Options struct {
	InputPath    string
	Workers      int
	Backend      string
	OCREndpoint  string
	OCRWorkerCmd string
	OCRTimeout   time.Duration
	Pattern      string
	JPEGQuality  int
	MaxWidth     int
	MetricsAddr  string
	OTLPEndpoint string
	Persist      bool
}

var scanOpts Options

var scanCmd = &cobra.Command{
	Use:   "scan [youtube-url]",
	Short: "Download a video and print the voucher codes shown in it",
	Example: `  voucherscan scan https://www.youtube.com/watch?v=dQw4w9WgXcQ
  voucherscan scan --input ./promo.mp4 --backend engine --ocr-cmd "python3 ocr_engine.py"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyScanFlags(cmd, Cfg, scanOpts)
		if err := Cfg.Validate(); err != nil {
			return err
		}
		url := ""
		if len(args) == 1 {
			url = args[0]
		}
		return runScan(cmd.Context(), url, scanOpts)
	},
}

func init() {
	scanCmd.Flags().StringVarP(&scanOpts.InputPath, "input", "i", "", "Scan a local video file instead of downloading a URL")
	scanCmd.Flags().IntVarP(&scanOpts.Workers, "workers", "w", 4, "Number of frames recognized in parallel")
	scanCmd.Flags().StringVarP(&scanOpts.Backend, "backend", "b", config.BackendVision, "OCR backend: vision, http or engine")
	scanCmd.Flags().StringVar(&scanOpts.OCREndpoint, "ocr-endpoint", "", "URL the http backend POSTs JPEG frames to")
	scanCmd.Flags().StringVar(&scanOpts.OCRWorkerCmd, "ocr-cmd", "", "Command line of the local OCR engine for the engine backend")
	scanCmd.Flags().DurationVarP(&scanOpts.OCRTimeout, "ocr-timeout", "t", 30*time.Second, "Maximum time for a single recognition call (0 disables)")
	scanCmd.Flags().StringVarP(&scanOpts.Pattern, "pattern", "p", "", "Regular expression a voucher code must match (default XXXX-XXXX-XXXX)")
	scanCmd.Flags().IntVarP(&scanOpts.JPEGQuality, "quality", "q", 90, "JPEG quality of frames sent to OCR (1-100)")
	scanCmd.Flags().IntVar(&scanOpts.MaxWidth, "max-width", 0, "Downscale frames wider than this before OCR (0 keeps native size)")
	scanCmd.Flags().StringVar(&scanOpts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while scanning (e.g. :9090)")
	scanCmd.Flags().StringVar(&scanOpts.OTLPEndpoint, "otlp-endpoint", "", "Export traces to this OTLP/HTTP endpoint")
	scanCmd.Flags().BoolVarP(&scanOpts.Persist, "store", "s", false, "Save the found codes to PostgreSQL")

	rootCmd.AddCommand(scanCmd)
}

// applyScanFlags copies explicitly set flags over cfg so flags beat file and environment.
func applyScanFlags(cmd *cobra.Command, cfg *config.Config, opts Options) {
	set := cmd.Flags().Changed
	if set("workers") {
		cfg.Workers = opts.Workers
	}
	if set("backend") {
		cfg.OCRBackend = opts.Backend
	}
	if set("ocr-endpoint") {
		cfg.OCREndpoint = opts.OCREndpoint
	}
	if set("ocr-cmd") {
		cfg.OCRWorkerCmd = opts.OCRWorkerCmd
	}
	if set("ocr-timeout") {
		cfg.OCRTimeout = opts.OCRTimeout
	}
	if set("pattern") {
		cfg.Pattern = opts.Pattern
	}
	if set("quality") {
		cfg.JPEGQuality = opts.JPEGQuality
	}
	if set("max-width") {
		cfg.FrameMaxWidth = opts.MaxWidth
	}
	if set("metrics-addr") {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	if set("otlp-endpoint") {
		cfg.OTLPEndpoint = opts.OTLPEndpoint
	}
}

// validateScanInput checks that exactly one of url and a readable local file was given.
func validateScanInput(url string, opts Options) error {
	switch {
	case url != "" && opts.InputPath != "":
		return errors.New("pass either a URL or --input, not both")
	case url == "" && opts.InputPath == "":
		return errors.New("a YouTube URL or --input file is required")
	case url != "":
		return video.ValidateURL(url)
	}

	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %w", err)
		}
		return fmt.Errorf("unable to access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path %s is a directory, expected a video file", opts.InputPath)
	}
	return nil
}

// runScan orchestrates one scan: acquire video, probe, extract, report, persist.
func runScan(ctx context.Context, url string, opts Options) error {
	if err := validateScanInput(url, opts); err != nil {
		return err
	}

	// 1. Observability (both optional)
	if srv := metrics.StartMetricsServer(ctx, Cfg.MetricsAddr, Log); srv != nil {
		defer srv.Close()
	}
	if Cfg.OTLPEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, Cfg.OTLPEndpoint)
		if err != nil {
			Log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
		}
	}

	// 2. Acquire the video
	path, source := opts.InputPath, opts.InputPath
	if url != "" {
		source = url
		fmt.Fprintln(os.Stderr, "⏳ Downloading video...")
		fetcher := &video.Fetcher{Dir: Cfg.DownloadDir}
		start := time.Now()
		downloaded, cleanup, err := fetcher.Fetch(ctx, url)
		metrics.ScanDuration.WithLabelValues("download").Observe(time.Since(start).Seconds())
		defer cleanup()
		if err != nil {
			return err
		}
		path = downloaded
	}

	// 3. Probe and open the decoder
	info, err := video.Probe(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %v", extract.ErrSourceUnreadable, err)
	}
	Log.Debug("probed video",
		zap.String("path", path),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.Float64("fps", info.FPS),
		zap.Int("frames", info.Frames),
	)
	src, err := video.OpenFFmpeg(path, info)
	if err != nil {
		return err
	}

	// 4. OCR backend
	rec, closeRec, err := newRecognizer(ctx, Cfg, Log)
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to initialise %s OCR backend: %w", Cfg.OCRBackend, err)
	}
	defer closeRec()

	matcher, err := extract.NewMatcher(Cfg.Pattern)
	if err != nil {
		src.Close()
		return err
	}

	// 5. Extract
	bar := newProgressBar(os.Stderr, info.Frames)
	ex := extract.New(
		newEncoder(Cfg),
		rec,
		matcher,
		extract.WithWorkers(Cfg.Workers),
		extract.WithRecognizeTimeout(Cfg.OCRTimeout),
		extract.WithLogger(Log),
		extract.WithProgress(func(read int) { bar.Set(read) }),
	)

	fmt.Fprintln(os.Stderr, "🔍 Analyzing video frames...")
	start := time.Now()
	res, err := ex.Extract(ctx, src)
	metrics.ScanDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	// 6. Report
	printCodes(os.Stdout, os.Stderr, res)
	Log.Info("scan finished",
		zap.Int("frames_read", res.Stats.FramesRead),
		zap.Int("frames_sampled", res.Stats.FramesSampled),
		zap.Int("frames_failed", res.Stats.Failed()),
		zap.Int("codes", res.Codes.Len()),
	)

	// 7. Persist
	if DB != nil {
		if err := persistResult(ctx, path, source, url != "", res); err != nil {
			return fmt.Errorf("failed to save scan: %w", err)
		}
	}

	if res.Stats.AllFailed() {
		return fmt.Errorf("%w: OCR failed on all %d sampled frames", extract.ErrRecognitionService, res.Stats.FramesSampled)
	}
	return nil
}

// newEncoder is where --max-width takes effect; the decoder always emits native size.
func newEncoder(cfg *config.Config) extract.JPEGEncoder {
	return extract.JPEGEncoder{Quality: cfg.JPEGQuality, MaxWidth: cfg.FrameMaxWidth}
}

// newRecognizer builds the configured OCR backend and a func releasing it.
func newRecognizer(ctx context.Context, cfg *config.Config, log *zap.Logger) (ocr.Recognizer, func(), error) {
	switch cfg.OCRBackend {
	case config.BackendVision:
		client, err := ocr.NewVisionClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { client.Close() }, nil
	case config.BackendHTTP:
		// The extractor bounds each call through its context.
		return ocr.NewHTTPClient(cfg.OCREndpoint, 0), func() {}, nil
	case config.BackendEngine:
		fmt.Fprintf(os.Stderr, "⚙️  Spawning %d OCR engines...\n", cfg.Workers)
		pool, err := worker.NewPool(cfg.Workers, cfg.OCRWorkerCmd, log)
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown ocr backend %q", cfg.OCRBackend)
	}
}

// newProgressBar draws on w only when it is a terminal. total <= 0 shows a spinner.
func newProgressBar(w io.Writer, total int) *progressbar.ProgressBar {
	if total <= 0 {
		total = -1
	}
	visible := false
	if f, ok := w.(*os.File); ok {
		visible = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🔍 Reading frames"),
		progressbar.OptionSetWriter(w), // Write bar to Stderr
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(visible),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

// printCodes writes codes to out, one per line, and the status lines to status.
func printCodes(out, status io.Writer, res *extract.Result) {
	if res.Codes.Len() == 0 {
		if res.Stats.AllFailed() {
			fmt.Fprintf(status, "❌ OCR failed on every sampled frame (%d)\n", res.Stats.FramesSampled)
			return
		}
		fmt.Fprintln(status, "❌ No valid codes found in the video")
		return
	}
	if n := res.Stats.Failed(); n > 0 {
		fmt.Fprintf(status, "⚠️  %d of %d sampled frames could not be read; results may be incomplete\n", n, res.Stats.FramesSampled)
	}
	fmt.Fprintln(status, "🎉 Found potential voucher codes:")
	for _, code := range res.Codes.Sorted() {
		fmt.Fprintf(out, "👉 %s\n", code)
	}
}

// persistResult stores the scan under a stable video ID so a rescan replaces old codes.
// A scan where OCR failed on every sampled frame says nothing about the video and is not stored.
func persistResult(ctx context.Context, path, source string, remote bool, res *extract.Result) error {
	if res.Stats.AllFailed() {
		fmt.Fprintln(os.Stderr, "💾 Skipped saving: no frame was recognised")
		return nil
	}

	var videoID string
	if remote {
		videoID = utils.GenerateSourceID(source)
	} else {
		id, err := utils.GenerateVideoID(path)
		if err != nil {
			return fmt.Errorf("failed to generate video ID: %w", err)
		}
		videoID = id
	}
	if err := DB.EnsureVideoMetadata(ctx, videoID, source); err != nil {
		return fmt.Errorf("failed to register video metadata: %w", err)
	}

	codes := make([]types.CodeRecord, 0, res.Codes.Len())
	for _, code := range res.Codes.Sorted() {
		codes = append(codes, types.CodeRecord{Code: code, VideoID: videoID, FirstSeen: res.FirstSeen[code]})
	}
	scanID, err := DB.SaveScan(ctx, types.ScanRecord{
		VideoID:       videoID,
		Source:        source,
		FramesRead:    res.Stats.FramesRead,
		FramesSampled: res.Stats.FramesSampled,
		FramesFailed:  res.Stats.Failed(),
	}, codes)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "💾 Saved scan %s for video %s\n", scanID, videoID[:12])
	return nil
}
