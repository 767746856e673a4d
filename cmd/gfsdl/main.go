// Package main implements the gfsdl command-line tool for downloading
// atmospheric forecast GRIB2 datasets.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gfsdl/gfsdl/internal/dataset"
	"github.com/gfsdl/gfsdl/internal/wind"
)

const defaultConfigPath = "/etc/gfsdl/gfsdl.toml"

var (
	version = "dev"
	commit  = "unknown"

	configPath string
	logLevel   string
	directory  string
)

var rootCmd = &cobra.Command{
	Use:   "gfsdl",
	Short: "Download GFS atmospheric forecast GRIB2 datasets",
	Long: `gfsdl downloads and assembles atmospheric forecast GRIB2 datasets from
a NOAA-style mirror, either as a one-shot run or a perpetual scheduling daemon.`,
}

var downloadCmd = &cobra.Command{
	Use:   "download [YYYYMMDDHH]",
	Short: "Run a single download session",
	Long: `Runs one download session for the given dataset time (defaults to the
most recently publishable cycle if omitted).

Examples:
  gfsdl download 2026080100
  gfsdl download --directory /data/gfs --dry-run`,
	Args: cobra.MaximumNArgs(1),
	Run:  runDownload,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the perpetual scheduling daemon",
	Long:  `Runs forever, downloading each new dataset cycle as it is published and pruning old ones.`,
	Run:   runDaemonCmd,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List dataset artifacts present in the target directory",
	Run:   runList,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Run:   runValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("gfsdl %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd, daemonCmd, listCmd, validateCmd, versionCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&directory, "directory", "d", "", "override target directory")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output")

	downloadCmd.Flags().Bool("dry-run", false, "report the file set without downloading or writing outputs")
	downloadCmd.Flags().Bool("no-dataset", false, "disable Dataset output")
	downloadCmd.Flags().Bool("no-gribmirror", false, "disable raw GRIB mirror output")
	downloadCmd.Flags().Int("timeout", 0, "override per-file timeout in seconds")
	downloadCmd.Flags().Int("first-file-timeout", 0, "override first-file timeout in seconds")

	daemonCmd.Flags().Int("num-datasets", 0, "override number of retained dataset cycles")
}

func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err)
	}
	if flattened := errors.FlattenDetails(err); flattened != "" {
		return flattened
	}
	return err.Error()
}

func loadConfig(verbose bool) (*wind.Config, error) {
	cfg := wind.NewConfig()
	if _, err := os.Stat(configPath); err == nil {
		meta, err := toml.DecodeFile(configPath, cfg)
		if err != nil {
			return nil, errors.Wrap(err, "decode config file")
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			slog.Warn("configuration contains unrecognized keys", "keys", undecoded)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "stat config file")
	}

	if err := cfg.ApplyEnvironmentVariables(); err != nil {
		return nil, errors.Wrap(err, "apply environment overrides")
	}

	if directory != "" {
		cfg.Directory = directory
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Log.Apply(); err != nil {
		return nil, errors.Wrap(err, "apply log config")
	}

	if err := cfg.Check(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func newAlerter(cfg *wind.Config) *wind.Alerter {
	alerter, err := wind.NewAlerter(cfg.SentryDSN, cfg.EmailExceptions, "localhost:25", "gfsdl@localhost")
	if err != nil {
		slog.Warn("failed to initialize alerter", "error", err)
		return nil
	}
	return alerter
}

func runDownload(cmd *cobra.Command, args []string) {
	verbose, _ := cmd.Flags().GetBool("verbose-errors")
	quiet, _ := cmd.Flags().GetBool("quiet")

	cfg, err := loadConfig(verbose)
	if err != nil {
		slog.Error("configuration error", "error", formatError(err, verbose))
		os.Exit(1)
	}

	if v, _ := cmd.Flags().GetInt("timeout"); v > 0 {
		cfg.TimeoutSeconds = v
	}
	if v, _ := cmd.Flags().GetInt("first-file-timeout"); v > 0 {
		cfg.FirstFileTimeoutSec = v
	}
	if v, _ := cmd.Flags().GetBool("no-dataset"); v {
		cfg.NoDataset = true
	}
	if v, _ := cmd.Flags().GetBool("no-gribmirror"); v {
		cfg.NoGribMirror = true
	}

	var dsTime wind.DatasetTime
	if len(args) == 1 {
		dsTime, err = wind.ParseDatasetTime(args[0])
		if err != nil {
			slog.Error("invalid dataset time", "value", args[0], "error", err)
			os.Exit(1)
		}
	} else {
		dsTime = wind.LatestPublishable(time.Now())
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		runDryRun(cfg, dsTime)
		return
	}

	alerter := newAlerter(cfg)
	stats, err := wind.RunOnce(cfg, dsTime, cfg.Directory, slog.Default(), alerter, !quiet)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("download cancelled", "dataset_time", dsTime.String())
			os.Exit(0)
		}
		slog.Error("download session failed", "dataset_time", dsTime.String(), "error", formatError(err, verbose))
		os.Exit(1)
	}

	color.Green("session for %s complete: %d files, %d bytes", dsTime.String(), stats.FilesComplete, stats.BytesReceived)
}

func runDryRun(cfg *wind.Config, dsTime wind.DatasetTime) {
	fmt.Printf("Dry run for dataset time %s\n", dsTime.String())
	total := 0
	for _, hour := range cfg.Axes.Hours {
		for _, suffix := range []string{"f", "bf"} {
			total++
			fmt.Printf("  would fetch: gfs.%s.pgrb2%s%02d\n", dsTime.FilePrefix(), suffix, hour)
		}
	}
	fmt.Printf("%d files would be fetched (no output written)\n", total)
}

func runDaemonCmd(cmd *cobra.Command, _ []string) {
	verbose, _ := cmd.Flags().GetBool("verbose-errors")

	cfg, err := loadConfig(verbose)
	if err != nil {
		slog.Error("configuration error", "error", formatError(err, verbose))
		os.Exit(1)
	}
	if v, _ := cmd.Flags().GetInt("num-datasets"); v > 0 {
		cfg.NumDatasets = v
	}

	alerter := newAlerter(cfg)
	if err := wind.RunDaemon(cfg, cfg.Directory, slog.Default(), alerter); err != nil {
		slog.Error("daemon exited with error", "error", formatError(err, verbose))
		os.Exit(1)
	}
}

func runList(cmd *cobra.Command, _ []string) {
	verbose, _ := cmd.Flags().GetBool("verbose-errors")
	cfg, err := loadConfig(verbose)
	if err != nil {
		slog.Error("configuration error", "error", formatError(err, verbose))
		os.Exit(1)
	}

	names, err := dataset.ListDir(cfg.Directory)
	if err != nil {
		slog.Error("failed to list directory", "directory", cfg.Directory, "error", formatError(err, verbose))
		os.Exit(1)
	}

	if len(names) == 0 {
		fmt.Println("no dataset artifacts found")
		return
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func runValidate(cmd *cobra.Command, _ []string) {
	verbose, _ := cmd.Flags().GetBool("verbose-errors")
	_, err := loadConfig(verbose)
	if err != nil {
		slog.Error("configuration is invalid", "error", formatError(err, verbose))
		os.Exit(1)
	}
	slog.Info("configuration is valid")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
