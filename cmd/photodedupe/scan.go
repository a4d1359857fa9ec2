package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/localphoto/photodedupe/internal/rescan"
	"github.com/localphoto/photodedupe/internal/settings"
	"github.com/localphoto/photodedupe/pkg/photodedupe"
)

// scanOptions holds CLI flags for the scan command.
type scanOptions struct {
	dbPath      string
	presetName  string
	configFile  string
	includes    []string
	excludes    []string
	noProgress  bool
	fullRebuild bool
	metricsAddr string
}

// newScanCmd creates the scan subcommand.
func newScanCmd() *cobra.Command {
	opts := &scanOptions{
		dbPath:     "photodedupe.db",
		presetName: string(settings.PresetBalanced),
	}

	cmd := &cobra.Command{
		Use:   "scan [roots...]",
		Short: "Scan directories and (re)build duplicate groups",
		Long: `Walks the given root directories, extracts perceptual and content hashes for
every photo, and regroups exact and near-duplicates.

The run mode (delta, missing-features, or full-rebuild) is chosen
automatically from how much of the store already has features, unless
--full-rebuild forces a clean rebuild.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runScan(args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.dbPath, "db", opts.dbPath, "Path to the store database file")
	cmd.Flags().StringVar(&opts.presetName, "preset", opts.presetName, "Settings preset (ultra_lite, balanced, accurate, custom)")
	cmd.Flags().StringVar(&opts.configFile, "config", "", "Path to a JSON settings file applied on top of the preset")
	cmd.Flags().StringSliceVar(&opts.includes, "include", nil, "Glob patterns to include (default: every file)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().BoolVar(&opts.fullRebuild, "full-rebuild", false, "Force a full rebuild instead of the recommended mode")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")

	return cmd
}

func runScan(roots []string, opts *scanOptions) error {
	disableColorIfNotATerminal()

	preset, err := parsePreset(opts.presetName)
	if err != nil {
		return fmt.Errorf("invalid --preset: %w", err)
	}
	cfg, err := settings.LoadFile(opts.configFile, preset)
	if err != nil {
		return err
	}

	engine, err := photodedupe.OpenStore(opts.dbPath, cfg, roots, opts.includes, opts.excludes)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = engine.Close() }()

	if opts.metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", engine.MetricsHandler())
			srv := &http.Server{Addr: opts.metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
	}

	var report func(rescan.Progress)
	if !opts.noProgress {
		report = func(p rescan.Progress) {
			fmt.Fprintf(os.Stderr, "\r\033[K%s: %d/%d", p.Stage, p.Processed, p.Total)
		}
	}

	var result rescan.Result
	if opts.fullRebuild {
		result, err = engine.RunPipelineMode(rescan.ModeFullRebuild, report)
	} else {
		result, err = engine.RunPipeline(report)
	}
	if !opts.noProgress {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	fmt.Printf("mode: %s\n", result.Mode)
	fmt.Printf("scanned: %d  features: %d (%d failed)\n", result.ScanResult.ScannedFiles, result.FeaturesExtracted, result.FeaturesFailed)
	fmt.Printf("groups: %s exact, %s near\n",
		color.GreenString("%d", result.Grouping.ExactGroupsCreated),
		color.CyanString("%d", result.Grouping.NearGroupsCreated))
	fmt.Printf("escalation: %d promoted, %d downgraded\n", result.Escalation.Promoted, result.Escalation.Downgraded)
	return nil
}
