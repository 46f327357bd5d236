// Command map-explorer serves and drives historical map searches against a
// SPARQL endpoint.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/config"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/executor"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/httpclient"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/model"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/formstate"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/logger"
)

var Version = "dev"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is filled in by the root command before any sub-command runs
type app struct {
	cfg    config.Config
	logger *slog.Logger
	logOut io.Writer
	now    func() time.Time
}

func newRootCmd(out, logOut io.Writer) *cobra.Command {
	a := &app{logOut: logOut, now: time.Now}
	var (
		configPath string
		logLevel   string
		endpoint   string
	)

	cmd := &cobra.Command{
		Use:           "map-explorer",
		Short:         "Search historical maps by place, period, collection and creator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				if err := os.Setenv("CONFIG_FILE", configPath); err != nil {
					return fmt.Errorf("set CONFIG_FILE: %w", err)
				}
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("endpoint") {
				cfg.SPARQLEndpoint = endpoint
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			a.cfg = cfg

			zl := logger.Build(logger.Config{
				Level:     cfg.LogLevel,
				Console:   cfg.LogConsole,
				Service:   "map-explorer",
				Component: cmd.Name(),
			}, a.logOut)
			a.logger = logger.NewSlog(&zl)
			return nil
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(logOut)

	pf := cmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file (overrides CONFIG_FILE)")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&endpoint, "endpoint", config.DefaultEndpoint, "SPARQL endpoint URL")

	cmd.AddCommand(
		newServeCmd(a),
		newQueryCmd(a),
		newRunCmd(a),
		newCollectionsCmd(a),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "map-explorer %s\n", Version)
			},
		},
	)
	return cmd
}

func (a *app) bounds() formstate.Bounds {
	return formstate.DefaultBounds(a.cfg.PeriodMin, a.now())
}

func (a *app) center() model.Coordinates {
	return model.Coordinates{Lat: a.cfg.DefaultLat, Lng: a.cfg.DefaultLng}
}

func (a *app) executor() (*executor.Executor, error) {
	client := httpclient.NewOutbound(httpclient.WithTimeout(a.cfg.ExecuteTimeout))
	exec, err := executor.New(a.logger, client, a.cfg.SPARQLEndpoint)
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}
	return exec, nil
}
