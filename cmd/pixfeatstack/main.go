package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pixfeatstack/internal/logger"
	"pixfeatstack/pkg/config"
	"pixfeatstack/pkg/engine"
	"pixfeatstack/pkg/features"
	"pixfeatstack/pkg/giftops"
	"pixfeatstack/pkg/imageio"
	"pixfeatstack/pkg/scheduler"
	"pixfeatstack/pkg/stack"
	"pixfeatstack/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "2D image (PNG or JPEG) to compute features for")
	configPath := flag.String("config", "pixfeatstack.yaml", "YAML configuration file (defaults are used if it does not exist)")
	outputPath := flag.String("output", "features.stack", "Output file for the raw float32 feature stack")
	channelsDir := flag.String("channels-dir", "", "Directory to save one PNG per stack channel (overrides config)")
	featureList := flag.String("features", "", "Comma-separated feature names (overrides config)")
	numCores := flag.Int("cores", -1, "Number of worker goroutines (overrides config; 0 uses all cores)")
	sequential := flag.Bool("sequential", false, "Compute features one after another")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	listFeatures := flag.Bool("list", false, "List the available features and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *listFeatures {
		printFeatures()
		return
	}

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg, *featureList, *channelsDir, *numCores, *sequential)

	log := logger.NewConsole(logger.Level(*debug, cfg.Output.Verbose))

	if err := run(cfg, *inputPath, *outputPath, log); err != nil {
		os.Exit(exitCode(err))
	}
}

func applyOverrides(cfg *config.Config, featureList, channelsDir string, numCores int, sequential bool) {
	if featureList != "" {
		var names []string
		for _, name := range strings.Split(featureList, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		cfg.Features.List = names
	}
	if channelsDir != "" {
		cfg.Output.ChannelsDir = channelsDir
	}
	if numCores >= 0 {
		cfg.Processing.NumCores = numCores
	}
	if sequential {
		cfg.Processing.Sequential = true
	}
}

func run(cfg *config.Config, inputPath, outputPath string, log zerolog.Logger) error {
	requests, err := cfg.Requests()
	if err != nil {
		log.Error().Err(err).Msg("invalid feature selection")
		return err
	}

	input, err := imageio.LoadVolume(inputPath)
	if err != nil {
		log.Error().Err(err).Str("input", inputPath).Msg("failed to load input image")
		return err
	}

	registry := giftops.NewRegistry()
	for _, req := range requests {
		if !registry.Supports(req.Kind) {
			err := fmt.Errorf("%w: %s", features.ErrUnsupportedFeature, req.Kind)
			log.Error().Err(err).Msg("feature not available in this build")
			return err
		}
	}

	// SIGINT or SIGTERM cancels the computation
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(registry,
		engine.WithMode(cfg.Mode()),
		engine.WithAxisLabel(cfg.Features.AxisLabel),
		engine.WithLogger(log),
		engine.WithProgress(func(completed, total int, kind features.Kind) {
			fmt.Printf("\rComputing features: %d/%d (%s)%s", completed, total, kind, strings.Repeat(" ", 8))
			if completed == total {
				fmt.Println()
			}
		}),
	)

	fmt.Printf("Computing %d features on %dx%d image (%s)...\n", len(requests), input.Width, input.Height, eng.Mode())
	startTime := time.Now()
	out, err := eng.Compute(ctx, input, requests)
	if err != nil {
		fmt.Println()
		var evalErr *scheduler.EvaluationError
		switch {
		case scheduler.IsCancelled(err):
			fmt.Println("Computation cancelled.")
		case errors.As(err, &evalErr):
			fmt.Fprintf(os.Stderr, "Feature %q failed: %v\n", evalErr.Kind, evalErr.Cause)
		default:
			fmt.Fprintf(os.Stderr, "Feature stack failed: %v\n", err)
		}
		return err
	}
	elapsed := time.Since(startTime)

	if err := imageio.WriteStackFile(outputPath, out); err != nil {
		log.Error().Err(err).Str("output", outputPath).Msg("failed to write stack")
		return err
	}

	fmt.Printf("\nFeature stack completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Stack: %dx%dx%d (axis %q) saved to %s\n\n", out.Width, out.Height, out.Channels, out.AxisLabel, outputPath)
	printSummary(stack.Summarize(out))

	if cfg.Output.ChannelsDir != "" {
		dir, err := filepath.Abs(cfg.Output.ChannelsDir)
		if err != nil {
			dir = cfg.Output.ChannelsDir
		}
		files, err := visualization.NewViewer(out).SaveChannels(dir)
		if err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("failed to save channel images")
		} else {
			fmt.Printf("\nSaved %d channel images to %s\n", len(files), dir)
		}
	}

	return nil
}

func printSummary(stats []stack.ChannelStats) {
	fmt.Printf("%-4s %-30s %12s %12s %12s %12s\n", "Ch", "Feature", "Mean", "StdDev", "Min", "Max")
	fmt.Println(strings.Repeat("=", 87))
	for _, s := range stats {
		fmt.Printf("%-4d %-30s %12.5f %12.5f %12.5f %12.5f\n", s.Channel, s.Label, s.Mean, s.StdDev, s.Min, s.Max)
	}
}

func printFeatures() {
	registry := giftops.NewRegistry()
	fmt.Println("Available features:")
	for _, k := range features.All() {
		status := "unsupported by the gift evaluator"
		if registry.Supports(k) {
			status = "parameters: " + strings.Join(k.Parameters(), ", ")
			if len(k.Parameters()) == 0 {
				status = "no parameters"
			}
		}
		fmt.Printf("  %-30s %s\n", k, status)
	}
}

func exitCode(err error) int {
	if scheduler.IsCancelled(err) {
		return 130
	}
	return 1
}
