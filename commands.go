package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource/clickhouse"
	_ "github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/ekaya-replica/pkg/config"
	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/metrics/datadog"
	"github.com/ekaya-inc/ekaya-replica/pkg/replica"
	"github.com/ekaya-inc/ekaya-replica/pkg/report"
)

// errRelationsFailed makes the process exit non-zero after the report is printed.
var errRelationsFailed = errors.New("one or more relations failed")

func exitCode(err error) int {
	if errors.Is(err, errRelationsFailed) {
		return 2
	}
	return 1
}

func newApp(version string, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "replica",
		Usage:   "Sample a warehouse into a smaller, referentially consistent copy",
		Version: version,
		Writer:  stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "the replica config file",
				Sources: cli.EnvVars("REPLICA_CONFIG"),
				Value:   config.DefaultPath,
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "report format: " + strings.Join(report.ValidFormats, ", ") + " (overrides report.format)",
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Sample every included relation and load it into the target",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return execute(ctx, cmd, false)
				},
			},
			{
				Name:  "analyze",
				Usage: "Report population and sample sizes without loading anything",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return execute(ctx, cmd, true)
				},
			},
			{
				Name:  "adapters",
				Usage: "List the registered source and target adapters",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					for _, info := range datasource.DefaultRegistry.RegisteredAdapters() {
						fmt.Fprintf(cmd.Root().Writer, "%-12s source=%-5t target=%-5t %s\n", info.Type, info.Source, info.Target, info.DisplayName)
					}
					return nil
				},
			},
		},
	}
}

func execute(ctx context.Context, cmd *cli.Command, analyze bool) error {
	cfg, err := config.Load(cmd.String("config"), datasource.DefaultRegistry)
	if err != nil {
		return err
	}
	format := strings.ToLower(cfg.Report.Format)
	if f := cmd.String("format"); f != "" {
		format = strings.ToLower(f)
	}
	if !report.IsValidFormat(format) {
		return fmt.Errorf("unknown format %q (valid: %s)", format, strings.Join(report.ValidFormats, ", "))
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	r, err := replica.New(cfg, datasource.DefaultRegistry, logger)
	if err != nil {
		return err
	}

	var result *report.Result
	if analyze {
		result, err = r.Analyze(ctx)
	} else {
		result, err = r.Run(ctx)
	}
	if err != nil {
		return logging.SanitizedError(err)
	}

	if err := report.Print(cmd.Root().Writer, format, result); err != nil {
		return err
	}

	if cfg.Report.Datadog.Enabled {
		submitMetrics(ctx, cfg.Report.Datadog, result, logger)
	}

	if result.Failed() {
		return errRelationsFailed
	}
	return nil
}

// submitMetrics never fails the run; the report has already been printed.
func submitMetrics(ctx context.Context, cfg config.DatadogConfig, result *report.Result, logger *zap.Logger) {
	backend, err := datadog.NewBackend(ctx, datadog.Options{
		JobName: cfg.JobName,
		Site:    cfg.Site,
		Tags:    datadog.ParseTagsCSV(cfg.Tags),
	}, logger)
	if err != nil {
		logger.Warn("Datadog disabled", zap.Error(err))
		return
	}
	backend.Record(result)
	if err := backend.Close(); err != nil {
		logger.Warn("Failed to submit metrics", zap.String("error", logging.SanitizeError(err)))
	}
}
