// Package replica wires catalog assembly, graph building, compilation and
// execution into one sampling run.
package replica

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/catalog"
	"github.com/ekaya-inc/ekaya-replica/pkg/compiler"
	"github.com/ekaya-inc/ekaya-replica/pkg/config"
	"github.com/ekaya-inc/ekaya-replica/pkg/graph"
	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/report"
	"github.com/ekaya-inc/ekaya-replica/pkg/retry"
	"github.com/ekaya-inc/ekaya-replica/pkg/runner"
	"github.com/ekaya-inc/ekaya-replica/pkg/sampling"
	"github.com/ekaya-inc/ekaya-replica/pkg/workerpool"
)

// Registry creates adapters by identifier.
type Registry interface {
	IsSourceRegistered(kind string) bool
	IsTargetRegistered(kind string) bool
	NewSource(ctx context.Context, kind string, config map[string]any, connMgr *datasource.ConnectionManager, logger *zap.Logger) (datasource.SourceAdapter, error)
	NewTarget(ctx context.Context, kind string, config map[string]any, connMgr *datasource.ConnectionManager, logger *zap.Logger) (datasource.TargetAdapter, error)
}

// Replica runs samples for one configuration.
type Replica struct {
	cfg      *config.Config
	registry Registry
	method   sampling.Method
	logger   *zap.Logger
	now      func() time.Time
	newRunID func() string
}

// New checks the configured adapters and sample method. Nothing is opened until
// Run or Analyze.
func New(cfg *config.Config, registry Registry, logger *zap.Logger) (*Replica, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !registry.IsSourceRegistered(cfg.Source.Adapter) {
		return nil, &apperrors.UnknownAdapterError{Role: "source", Name: cfg.Source.Adapter}
	}
	if cfg.Target.Adapter != "" && !registry.IsTargetRegistered(cfg.Target.Adapter) {
		return nil, &apperrors.UnknownAdapterError{Role: "target", Name: cfg.Target.Adapter}
	}

	method, err := cfg.SampleMethod()
	if err != nil {
		return nil, err
	}
	if _, err := models.CompilePatterns(cfg.Source.Include); err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	if _, err := models.CompilePatterns(cfg.Source.Exclude); err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}

	return &Replica{
		cfg:      cfg,
		registry: registry,
		method:   method,
		logger:   logger.Named("replica"),
		now:      time.Now,
		newRunID: uuid.NewString,
	}, nil
}

// Run samples every included relation into the target.
func (r *Replica) Run(ctx context.Context) (*report.Result, error) {
	if err := r.cfg.RequireTarget(); err != nil {
		return nil, err
	}
	return r.execute(ctx, false)
}

// Analyze reports population and sample sizes without extracting rows or opening
// the target.
func (r *Replica) Analyze(ctx context.Context) (*report.Result, error) {
	return r.execute(ctx, true)
}

func (r *Replica) execute(ctx context.Context, analyze bool) (*report.Result, error) {
	mode := report.ModeRun
	if analyze {
		mode = report.ModeAnalyze
	}
	runID := r.newRunID()
	logger := r.logger.With(zap.String("run_id", runID), zap.String("mode", mode))
	started := r.now().UTC()

	connMgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:   r.cfg.Connections.TTLMinutes,
		MaxPools:     r.cfg.Connections.MaxPools,
		PoolMaxConns: r.cfg.Connections.PoolMaxConns,
	}, logger)
	defer func() {
		if err := connMgr.Close(); err != nil {
			logger.Warn("Failed to close connection pools", zap.String("error", logging.SanitizeError(err)))
		}
	}()

	source, err := r.registry.NewSource(ctx, r.cfg.Source.Adapter, r.cfg.Source.Connection, connMgr, logger)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", r.cfg.Source.Adapter, err)
	}
	defer source.Close()

	var target datasource.TargetAdapter
	if !analyze {
		target, err = r.registry.NewTarget(ctx, r.cfg.Target.Adapter, r.cfg.Target.Connection, connMgr, logger)
		if err != nil {
			return nil, fmt.Errorf("open target %s: %w", r.cfg.Target.Adapter, err)
		}
		defer target.Close()
	}

	logger.Info("Starting",
		zap.String("source", source.Kind()),
		zap.Any("connection", logging.SanitizeConnectionMap(r.cfg.Source.Connection)),
		zap.Stringer("sample_method", r.method),
		zap.Int("threads", r.cfg.Threads))

	graphs, err := r.compile(ctx, source, analyze, logger)
	if err != nil {
		return nil, err
	}

	exec := runner.New(runner.Config{MaxRows: r.cfg.MaxRows, Retry: retry.DefaultConfig()}, logger)
	graphs = exec.Execute(ctx, graphs, source, target, r.cfg.Threads, analyze)

	result := report.NewResult(runID, mode, graphs, started, r.now().UTC())
	result.Source = source.Kind()
	if target != nil {
		result.Target = target.Kind()
	}
	result.Method = r.method.String()

	logger.Info("Finished",
		zap.Int("relations", result.Summary.Relations),
		zap.Int("failed", result.Summary.Failed),
		zap.Int64("rows_sampled", result.Summary.RowsSampled),
		zap.String("elapsed", result.Summary.Elapsed))
	return result, nil
}

// compile runs every pre-flight step. Errors here abort the run before any relation
// is extracted.
func (r *Replica) compile(ctx context.Context, source datasource.SourceAdapter, analyze bool, logger *zap.Logger) ([]*graph.DependencyGraph, error) {
	pool := workerpool.New(workerpool.Config{MaxConcurrent: r.cfg.Threads}, logger)

	cat, err := catalog.NewAssembler(pool, logger).Assemble(ctx, source, r.cfg.MaxDatabases)
	if err != nil {
		return nil, fmt.Errorf("assemble catalog: %w", err)
	}

	graphs, err := graph.NewBuilder(logger).Build(cat, r.cfg.Source.Include, r.cfg.Source.Exclude)
	if err != nil {
		return nil, fmt.Errorf("build graphs: %w", err)
	}

	graphs, err = compiler.NewCompiler(logger).Compile(ctx, graphs, source, r.method, analyze)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	return graphs, nil
}
