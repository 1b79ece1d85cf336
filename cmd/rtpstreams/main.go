package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rtpstream-analyzer/internal/capture"
	"rtpstream-analyzer/internal/config"
	"rtpstream-analyzer/internal/dissect"
	"rtpstream-analyzer/internal/export"
	"rtpstream-analyzer/internal/filter"
	"rtpstream-analyzer/internal/stats"
	"rtpstream-analyzer/internal/store"
	"rtpstream-analyzer/internal/stream"
	"rtpstream-analyzer/internal/tap"
	"rtpstream-analyzer/internal/upload"
	"rtpstream-analyzer/pkg/types"
)

var (
	version = "1.0.0"
	cfgFile string
)

// flagBindings maps CLI flags to configuration keys.
var flagBindings = map[string]string{
	"pcap":               "input.pcap_file",
	"filter":             "analysis.display_filter",
	"apply-filter":       "analysis.apply_display_filter",
	"end-gap":            "analysis.end_gap_ms",
	"secure-stats":       "analysis.secure_stats",
	"heuristic-rtp":      "dissect.heuristic_rtp",
	"min-port":           "dissect.min_port",
	"format":             "export.format",
	"max-silence-frames": "export.max_silence_frames",
	"s3-uri":             "export.s3_uri",
	"s3-region":          "export.s3_region",
	"json":               "output.json_file",
	"sqlite":             "output.sqlite_file",
	"metrics-textfile":   "output.metrics_textfile",
	"log-level":          "logging.level",
	"log-file":           "logging.file",
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "rtpstreams",
		Short: "RTP stream analyzer - find, measure and export RTP streams in a capture",
		Long: `A Go-based tool that reconstructs RTP streams from a pcap file, reports
per-stream loss, jitter and sequence statistics, exports a stream as raw audio
or rtpdump, and lists the frames belonging to selected streams.`,
		Version:      version,
		SilenceUsage: true,
	}

	// Configuration file
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default: config.yaml)")

	// CLI overrides
	pf := rootCmd.PersistentFlags()
	pf.String("pcap", "", "Input PCAP file path")
	pf.String("filter", "", "BPF filter restricting the frames seen by a pass")
	pf.Bool("apply-filter", false, "Apply --filter to passes")
	pf.Int("end-gap", 0, "End a stream after this many ms without packets (0 = never)")
	pf.String("secure-stats", "", "Statistics kept for SRTP streams (full|count_only)")
	pf.Bool("heuristic-rtp", true, "Treat version 2 UDP payloads as RTP without SDP")
	pf.Int("min-port", 0, "Lowest UDP port accepted by the RTP heuristic")
	pf.String("json", "", "Write stream list and statistics to this JSON file")
	pf.String("sqlite", "", "Store scan results in this SQLite database")
	pf.String("metrics-textfile", "", "Write Prometheus metrics to this file")
	pf.String("log-level", "", "Log level (debug|info|warn|error)")
	pf.String("log-file", "", "Log to this file instead of the console")

	saveCmd := &cobra.Command{
		Use:   "save <stream> <output>",
		Short: "Export one stream, by its index in the scan list, to a file",
		Args:  cobra.ExactArgs(2),
		RunE:  runSave,
	}
	saveCmd.Flags().String("format", "", "Export format (raw|rtpdump)")
	saveCmd.Flags().Int("max-silence-frames", 0, "Maximum silence frames inserted per timing gap")
	saveCmd.Flags().String("s3-uri", "", "Upload the export to this s3://bucket/prefix")
	saveCmd.Flags().String("s3-region", "", "AWS region of the S3 bucket")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "scan",
			Short: "List the RTP streams of the capture with their statistics",
			Args:  cobra.NoArgs,
			RunE:  runScan,
		},
		saveCmd,
		&cobra.Command{
			Use:   "mark <forward> [reverse]",
			Short: "List the frames belonging to one or two streams",
			Args:  cobra.RangeArgs(1, 2),
			RunE:  runMark,
		},
		&cobra.Command{
			Use:   "filter <stream>...",
			Short: "Print a display filter matching the given streams",
			Args:  cobra.MinimumNArgs(1),
			RunE:  runFilter,
		},
		&cobra.Command{
			Use:   "history [scan-id]",
			Short: "List scans stored with --sqlite, or the streams of one scan",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runHistory,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app wires one command invocation together.
type app struct {
	cfg       *config.Config
	source    *capture.File
	session   *tap.Session
	collector *stats.Collector
	reporter  *stats.Reporter
	marked    []types.Frame
}

func newApp(cmd *cobra.Command, showTable bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	setupLogging(cfg)

	fmt.Printf("RTP Stream Analyzer v%s\n", version)
	fmt.Println("==============================")
	fmt.Print(cfg.Summary())
	fmt.Println()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	secure, err := stream.ParseSecurePolicy(cfg.Analysis.SecureStats)
	if err != nil {
		return nil, err
	}
	format, err := export.ParseFormat(cfg.Export.Format)
	if err != nil {
		return nil, err
	}

	var end stream.EndPolicy = stream.NeverEnd{}
	if cfg.Analysis.EndGapMs > 0 {
		end = stream.GapPolicy{Threshold: time.Duration(cfg.Analysis.EndGapMs) * time.Millisecond}
	}

	opts := dissect.Options{
		HeuristicRTP: cfg.Dissect.HeuristicRTP,
		MinPort:      uint16(cfg.Dissect.MinPort),
	}
	for _, p := range cfg.Dissect.SIPPorts {
		opts.SIPPorts = append(opts.SIPPorts, uint16(p))
	}

	a := &app{
		cfg:       cfg,
		source:    capture.NewFile(cfg.Input.PcapFile, opts),
		collector: stats.NewCollector(),
	}
	a.reporter = stats.NewReporter(a.collector, cfg.Output.JSONFile)

	callbacks := tap.Callbacks{
		Reset: func(*tap.Session) {
			log.Debug("Stream list cleared")
		},
		MarkPacket: func(_ *tap.Session, f types.Frame) {
			a.marked = append(a.marked, f)
		},
		Error: func(msg string) {
			fmt.Fprintln(os.Stderr, msg)
		},
	}
	if showTable {
		callbacks.Draw = func(s *tap.Session) {
			fmt.Print(stats.FormatStreams(s.Table().Streams()))
		}
	}

	a.session = tap.NewSession(
		a.source,
		stream.NewAnalyzer(end, secure),
		callbacks,
	)
	a.session.ApplyDisplayFilter = cfg.Analysis.ApplyDisplayFilter
	a.session.Export = export.Options{Format: format, MaxSilenceFrames: cfg.Export.MaxSilenceFrames}
	a.session.Stats = a.collector
	return a, nil
}

func (a *app) scan(ctx context.Context) error {
	return a.session.Scan(ctx, a.cfg.Analysis.DisplayFilter)
}

// record resolves a 1-based index into the scan list.
func (a *app) record(arg string) (*stream.Record, error) {
	streams := a.session.Table().Streams()
	idx, err := strconv.Atoi(arg)
	if err != nil || idx < 1 || idx > len(streams) {
		return nil, fmt.Errorf("invalid stream %q: expected an index between 1 and %d", arg, len(streams))
	}
	return streams[idx-1], nil
}

// finish prints the final report and writes the configured outputs.
func (a *app) finish() {
	a.reporter.PrintFinalReport()

	streams := a.session.Table().Streams()
	if err := a.reporter.ExportJSON(streams); err != nil {
		log.WithError(err).Warn("Failed to export statistics")
	}

	if path := a.cfg.Output.SQLiteFile; path != "" {
		db, err := store.Open(path)
		if err != nil {
			log.WithError(err).Warn("Failed to open scan database")
		} else {
			id, err := db.SaveScan(a.source.Path(), a.session.Filter(), stats.Summarize(streams))
			if err != nil {
				log.WithError(err).Warn("Failed to store scan")
			} else {
				log.WithFields(log.Fields{"file": path, "scan_id": id}).Info("Scan stored")
			}
			db.Close()
		}
	}

	if path := a.cfg.Output.MetricsTextfile; path != "" {
		if err := a.collector.WriteMetrics(path); err != nil {
			log.WithError(err).Warn("Failed to write metrics")
		}
	}
}

func runScan(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	defer a.finish()
	return a.scan(ctx)
}

func runSave(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	defer a.finish()

	if err := a.scan(ctx); err != nil {
		return err
	}
	rec, err := a.record(args[0])
	if err != nil {
		return err
	}

	res, err := a.session.Save(ctx, rec, args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Saved %d packets (%d bytes, %d silence frames) of %s to %s\n",
		res.Packets, res.Bytes, res.SilenceFrames, rec.ID, args[1])

	if a.cfg.Export.S3URI != "" {
		u, err := upload.New(ctx, a.cfg.Export.S3URI, a.cfg.Export.S3Region)
		if err != nil {
			return err
		}
		location, err := u.Upload(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Uploaded to %s\n", location)
	}
	return nil
}

func runMark(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	defer a.finish()

	if err := a.scan(ctx); err != nil {
		return err
	}
	fwd, err := a.record(args[0])
	if err != nil {
		return err
	}
	var rev *stream.Record
	if len(args) > 1 {
		if rev, err = a.record(args[1]); err != nil {
			return err
		}
	}

	if err := a.session.Mark(ctx, fwd, rev); err != nil {
		return err
	}

	nums := make([]string, 0, len(a.marked))
	for _, f := range a.marked {
		nums = append(nums, strconv.FormatUint(uint64(f.Num), 10))
	}
	fmt.Printf("Marked %d frames: %s\n", len(a.marked), strings.Join(nums, ","))
	return nil
}

func runFilter(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	if err := a.scan(ctx); err != nil {
		return err
	}
	ids := make([]types.StreamID, 0, len(args))
	for _, arg := range args {
		rec, err := a.record(arg)
		if err != nil {
			return err
		}
		ids = append(ids, rec.ID)
	}
	fmt.Println(filter.DisplayFilter(ids...))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	if cfg.Output.SQLiteFile == "" {
		return fmt.Errorf("history requires --sqlite or output.sqlite_file")
	}
	db, err := store.Open(cfg.Output.SQLiteFile)
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid scan id %q: %w", args[0], err)
		}
		streams, err := db.Streams(id)
		if err != nil {
			return err
		}
		fmt.Print(stats.FormatSummaries(streams))
		return nil
	}

	scans, err := db.Scans()
	if err != nil {
		return err
	}
	fmt.Printf("%-6s %-20s %7s  %-40s %s\n", "ID", "Created", "Streams", "Capture", "Filter")
	for _, sc := range scans {
		fmt.Printf("%-6d %-20s %7d  %-40s %s\n",
			sc.ID, sc.CreatedAt.Format("2006-01-02 15:04:05"), sc.Streams, sc.Capture, sc.Filter)
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	// Load config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK if using CLI flags
		log.Debug("No config file found, using defaults and CLI flags")
	}

	// Bind CLI flags (override config file values)
	bindViperFlags(v, cmd)

	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.WithError(err).Warn("Failed to open log file, using console only")
		} else {
			log.SetOutput(f)
		}
	}
}

// bindViperFlags copies the flags given on the command line over the
// configuration file values.
func bindViperFlags(v *viper.Viper, cmd *cobra.Command) {
	for name, key := range flagBindings {
		if f := cmd.Flag(name); f != nil && f.Changed {
			_ = v.BindPFlag(key, f)
		}
	}
}
