package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/pg-sharding/ddlcoord/coordinator/app"
	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/config"
	"github.com/pg-sharding/ddlcoord/pkg/conn"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"github.com/pg-sharding/ddlcoord/qdb"
)

var (
	cfgPath   string
	prettyLog bool
	logLevel  string
	outFormat string
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// applyFlags lets explicitly passed flags win over the config file.
func applyFlags(cmd *cobra.Command, cfg *config.Coordinator) {
	if cmd.Flags().Changed("pretty-log") {
		cfg.PrettyLogging = prettyLog
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
}

func loadConfig(cmd *cobra.Command) (*config.Coordinator, error) {
	if _, err := config.LoadCoordinatorCfg(cfgPath); err != nil {
		return nil, errors.Wrapf(err, "failed to load config %s", cfgPath)
	}
	cfg := config.CoordinatorConfig()
	applyFlags(cmd, cfg)

	if cfg.LogFileName != "" {
		coordlog.ReloadLogger(cfg.LogFileName, cfg.LogLevel, cfg.PrettyLogging)
	} else {
		coordlog.Zero = coordlog.NewZeroLogger("", cfg.LogLevel, cfg.PrettyLogging)
	}
	return cfg, nil
}

func buildApp(ctx context.Context, cfg *config.Coordinator) (*app.App, error) {
	log, err := qdb.NewRecoveryLog(cfg)
	if err != nil {
		return nil, err
	}

	var (
		dir         catalog.Directory
		distributor catalog.Distributor
		closers     []io.Closer
	)
	if c, ok := log.(io.Closer); ok {
		closers = append(closers, c)
	}

	if cfg.CatalogDSN != "" {
		pg, pool, err := catalog.ConnectPgDirectory(ctx, cfg.CatalogDSN)
		if err != nil {
			return nil, err
		}
		closers = append(closers, closerFunc(func() error {
			pool.Close()
			return nil
		}))
		dir, distributor = pg, pg
	} else {
		coordlog.Zero.Warn().Msg("catalog_dsn is not set, using an empty in-memory catalog")
		mem := catalog.NewMemDirectory()
		mem.SetLocalGroupID(cfg.LocalGroupID)
		dir, distributor = mem, mem
	}

	a, err := app.NewApp(cfg, log, conn.NewPgDialer(cfg.Worker), dir, distributor)
	if err != nil {
		return nil, err
	}
	for _, c := range closers {
		a.AddCloser(c)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use: "ddlcoord-coordinator --config `path-to-config`",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "run a single transaction recovery pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		report, err := a.RecoverOnce(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "committed: %d, aborted: %d, skipped: %d, forgotten: %d, failed groups: %v\n",
			report.Committed, report.Aborted, report.Skipped, report.Forgotten, report.FailedGroups)
		return err
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return printConfig(cmd.OutOrStdout(), cfg, outFormat)
	},
}

func printConfig(w io.Writer, cfg *config.Coordinator, format string) error {
	var (
		out []byte
		err error
	)
	switch format {
	case "json":
		out, err = json.MarshalIndent(cfg, "", "  ")
	case "yaml":
		out, err = yaml.Marshal(cfg)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "/etc/ddlcoord/coordinator.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&prettyLog, "pretty-log", "P", false, "write logs in human readable form")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level")
	configCmd.Flags().StringVarP(&outFormat, "format", "f", "yaml", "output format, yaml or json")

	rootCmd.AddCommand(recoverCmd, configCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		coordlog.Zero.Fatal().Err(err).Msg("")
	}
}

func main() {
	Execute()
}
