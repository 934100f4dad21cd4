package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	lt "github.com/theoremus-urban-solutions/location-tracking"
	"github.com/theoremus-urban-solutions/location-tracking/config"
	"github.com/theoremus-urban-solutions/location-tracking/internal"
)

var (
	configPath    string
	startOnLaunch bool
	bootLaunch    bool
	exportFormat  string
	exportOut     string

	rootCmd = &cobra.Command{
		Use:           "locationtracker",
		Short:         "Record the device position to a local trace log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the tracker and its HTTP API until interrupted",
		RunE:  runTracker,
	}

	bootCmd = &cobra.Command{
		Use:   "boot",
		Short: "Like run, but start tracking as after a host reboot",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootLaunch = true
			return runTracker(cmd, args)
		},
	}

	logsCmd = &cobra.Command{
		Use:   "logs",
		Short: "Print the recorded trace as JSON",
		RunE:  printLogs,
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete the recorded trace",
		RunE:  clearLogs,
	}

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Write the recorded trace as JSON or a GTFS-Realtime feed",
		RunE:  exportLogs,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search config.yml, config.yaml, config.jsonc)")

	runCmd.Flags().BoolVar(&startOnLaunch, "start", false, "start tracking immediately")

	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "json|gtfsrt")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")

	rootCmd.AddCommand(runCmd, bootCmd, logsCmd, clearCmd, exportCmd)
}

func newApp(cmd *cobra.Command) (*lt.App, config.AppConfig, error) {
	cfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		return nil, config.AppConfig{}, err
	}
	logger := internal.InitLogging(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	app, err := lt.New(cfg, lt.Deps{Logger: logger})
	if err != nil {
		return nil, config.AppConfig{}, err
	}
	return app, cfg, nil
}

func runTracker(cmd *cobra.Command, args []string) error {
	app, cfg, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := lt.NewServer(app, cfg.Server.Port)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Run(gctx) })
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		termCtx, cancel := context.WithTimeout(context.Background(), lt.ShutdownTimeout)
		defer cancel()
		if err := app.OnTerminating(termCtx); err != nil {
			slog.Warn("stopping tracking on shutdown", "error", err)
		}
		return srv.Shutdown(context.Background())
	})

	switch {
	case bootLaunch:
		if err := app.OnBootCompleted(ctx); err != nil {
			slog.Error("boot start failed", "error", err)
		}
	case startOnLaunch:
		if err := app.Start(ctx); err != nil {
			slog.Error("start failed", "error", err)
		}
	}

	return g.Wait()
}

func printLogs(cmd *cobra.Command, args []string) error {
	app, _, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	locs, err := app.GetAllLogs()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(locs)
}

func clearLogs(cmd *cobra.Command, args []string) error {
	app, _, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.ClearLogs(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "trace log cleared")
	return nil
}

func exportLogs(cmd *cobra.Command, args []string) error {
	app, _, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	var data []byte
	switch exportFormat {
	case "gtfsrt":
		data, err = app.ExportGTFSRT()
	case "json":
		data, err = os.ReadFile(app.ExportLogs())
		if errors.Is(err, os.ErrNotExist) {
			data, err = []byte("[]\n"), nil
		}
	default:
		return fmt.Errorf("unsupported format %q", exportFormat)
	}
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	_, err = w.Write(data)
	return err
}
