package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/deckgrab/deckgrab/internal/capture"
	"github.com/deckgrab/deckgrab/internal/config"
	"github.com/deckgrab/deckgrab/internal/events"
	"github.com/deckgrab/deckgrab/internal/logging"
	"github.com/deckgrab/deckgrab/internal/metrics"
	"github.com/deckgrab/deckgrab/internal/mux"
	"github.com/deckgrab/deckgrab/internal/session"
)

// RecordOptions holds the record command configuration. Precedence is
// CLI flags > DECKGRAB_* env vars > TOML config file.
type RecordOptions struct {
	Config string `help:"Path to configuration file"`

	Output string `toml:"record.output" env:"OUTPUT"`
	Format string `toml:"record.format" env:"FORMAT"`

	Mode            int `toml:"record.mode" env:"MODE"`
	Instance        int `toml:"record.instance" env:"INSTANCE"`
	VideoConnection int `toml:"record.video_connection" env:"VIDEO_CONNECTION"`
	AudioConnection int `toml:"record.audio_connection" env:"AUDIO_CONNECTION"`

	Channels    int `toml:"record.channels" env:"CHANNELS"`
	SampleDepth int `toml:"record.sample_depth" env:"SAMPLE_DEPTH"`
	PixelDepth  int `toml:"record.pixel_depth" env:"PIXEL_DEPTH"`

	MaxFrames   int64   `toml:"record.max_frames" env:"MAX_FRAMES"`
	MemoryLimit float64 `toml:"record.memory_limit" env:"MEMORY_LIMIT"`

	Device      string `toml:"record.device" env:"DEVICE"`
	MetricsAddr string `toml:"record.metrics_addr" env:"METRICS_ADDR"`

	Verbose bool `toml:"record.verbose" env:"VERBOSE"`
}

// CreateRecordCmd creates the record command.
func CreateRecordCmd() *cobra.Command {
	opts := &RecordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Capture audio and video to a file",
		Long: `Captures raw audio and video from a capture device and writes them into ` +
			`a container file. Recording stops on SIGINT/SIGTERM, after --max-frames ` +
			`video frames, or when queued packets exceed --memory-limit.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if loadErr := config.LoadConfig(opts, cmd); loadErr != nil {
				fmt.Fprintln(os.Stderr, "failed to load config:", loadErr)
				os.Exit(1)
			}

			loggingConfig := config.LoadLoggingConfig(opts.Config)
			if opts.Verbose {
				loggingConfig.Level = "debug"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("record")

			if err := runRecord(cmd, opts, logger); err != nil {
				logger.Error("recording failed", "error", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "f", "", "Output file path (required)")
	cmd.Flags().StringVarP(&opts.Format, "format", "F", "", "Container format (default: guess from filename)")
	cmd.Flags().IntVarP(&opts.Mode, "mode", "m", 8, "Video mode index (see the modes command)")
	cmd.Flags().IntVarP(&opts.Instance, "instance", "C", 0, "Capture card instance")
	cmd.Flags().IntVarP(&opts.VideoConnection, "video-connection", "V", 0, "Video input connection")
	cmd.Flags().IntVarP(&opts.AudioConnection, "audio-connection", "A", 0, "Audio input connection")
	cmd.Flags().IntVarP(&opts.Channels, "channels", "c", 2, "Audio channels (2, 8 or 16)")
	cmd.Flags().IntVarP(&opts.SampleDepth, "sample-depth", "s", 16, "Audio sample depth in bits (16 or 32)")
	cmd.Flags().IntVarP(&opts.PixelDepth, "pixel-depth", "p", 8, "Video pixel depth in bits (8 or 10)")
	cmd.Flags().Int64VarP(&opts.MaxFrames, "max-frames", "n", 0, "Stop after this many video frames (0 = unbounded)")
	cmd.Flags().Float64VarP(&opts.MemoryLimit, "memory-limit", "M", 1.0, "Stop when queued packets exceed this many GiB")
	cmd.Flags().StringVar(&opts.Device, "device", "decklink", "Capture device (decklink, synthetic)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "Path to configuration file")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

func runRecord(cmd *cobra.Command, opts *RecordOptions, logger logging.Logger) error {
	cfg, err := buildStreamConfig(opts)
	if err != nil {
		return err
	}
	if opts.Output == "" {
		return errors.New("output file is required (-f)")
	}
	if opts.MemoryLimit <= 0 {
		return fmt.Errorf("memory limit must be positive, got %v GiB", opts.MemoryLimit)
	}

	dev, err := openDevice(opts.Device)
	if err != nil {
		return err
	}

	muxer, err := mux.Open(opts.Output, opts.Format)
	if err != nil {
		return fmt.Errorf("opening output %s: %w", opts.Output, err)
	}

	mtx := metrics.New()
	bus := events.New()

	sess := session.New(session.Options{
		Config: cfg,
		Limits: session.Limits{
			MaxFrames:        opts.MaxFrames,
			MemoryLimitBytes: uint64(opts.MemoryLimit * (1 << 30)),
		},
		Device:  dev,
		Muxer:   muxer,
		Bus:     bus,
		Metrics: mtx,
		Logger:  logging.GetLogger("session"),
	})

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if opts.MetricsAddr != "" {
		logger.Info("serving metrics", "addr", opts.MetricsAddr)
		g.Go(func() error {
			return mtx.Serve(ctx, opts.MetricsAddr)
		})
	}
	g.Go(func() error {
		defer cancel()
		return sess.Run(ctx)
	})

	err = g.Wait()
	logger.Info("recording finished",
		"output", opts.Output,
		"packets_written", sess.PacketsWritten(),
		"reason", string(sess.Reason()))
	return err
}

// buildStreamConfig translates CLI options into a validated StreamConfig.
func buildStreamConfig(opts *RecordOptions) (capture.StreamConfig, error) {
	mode, err := capture.LookupMode(opts.Mode)
	if err != nil {
		return capture.StreamConfig{}, err
	}
	pixelFormat, err := capture.PixelFormatForDepth(opts.PixelDepth)
	if err != nil {
		return capture.StreamConfig{}, err
	}

	cfg := capture.StreamConfig{
		Width:           mode.Width,
		Height:          mode.Height,
		TimeBaseNum:     mode.TBNum,
		TimeBaseDen:     mode.TBDen,
		PixelFormat:     pixelFormat,
		Channels:        opts.Channels,
		SampleDepth:     opts.SampleDepth,
		VideoMode:       mode.Index,
		Instance:        opts.Instance,
		VideoConnection: opts.VideoConnection,
		AudioConnection: opts.AudioConnection,
	}
	if err := cfg.Validate(); err != nil {
		return capture.StreamConfig{}, err
	}
	return cfg, nil
}

// openDevice selects the capture device backend.
func openDevice(name string) (capture.Device, error) {
	switch name {
	case "synthetic":
		return capture.NewSynthetic(), nil
	case "decklink":
		return nil, errors.New("this build has no DeckLink driver support, use --device synthetic")
	default:
		return nil, fmt.Errorf("unknown capture device %q (decklink, synthetic)", name)
	}
}
