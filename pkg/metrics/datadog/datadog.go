// Package datadog submits run results to Datadog as gauges and counts.
//
// Metrics are buffered by Record and sent by Flush, so a run that fails half way
// still reports what it sampled. API credentials come from DD_API_KEY and
// DD_APP_KEY as read by the Datadog client.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/report"
)

// Metric names.
const (
	MetricSampleSize     = "replica.sample_size"
	MetricPopulationSize = "replica.population_size"
	MetricRelations      = "replica.relations"
	MetricRowsSampled    = "replica.rows_sampled"
	MetricDuration       = "replica.duration_seconds"
)

// Options controls the backend.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "replica".
	JobName string
	// Site overrides the Datadog site, e.g. "datadoghq.eu".
	Site string
	// Tags are extra tags such as "team:data".
	Tags []string

	// test seams
	now       func() time.Time
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

type point struct {
	metric string
	kind   datadogV2.MetricIntakeType
	value  float64
	tags   []string
}

// Backend buffers metrics until Flush.
type Backend struct {
	api      metricsSubmitter
	ctx      context.Context
	baseTags []string
	now      func() time.Time
	logger   *zap.Logger

	mu     sync.Mutex
	points []point
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a backend over the official client.
func NewBackend(parent context.Context, opts Options, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	job := opts.JobName
	if job == "" {
		job = "replica"
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}

	ctx := dd.NewDefaultContext(parent)
	if opts.Site != "" {
		ctx = context.WithValue(ctx, dd.ContextServerVariables, map[string]string{"site": opts.Site})
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	return &Backend{
		api:      submitter,
		ctx:      ctx,
		baseTags: baseTags,
		now:      nowFn,
		logger:   logger.Named("datadog"),
	}, nil
}

// Record buffers the metrics of one run: per-relation sample and population
// gauges, relation counts by status, and run totals.
func (b *Backend) Record(result *report.Result) {
	runTags := []string{"mode:" + result.Mode, "run_id:" + result.RunID}
	if result.Source != "" {
		runTags = append(runTags, "source:"+result.Source)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	byStatus := make(map[string]int)
	for _, row := range result.Rows {
		byStatus[row.Status]++
		if row.Status == "failed" || row.Status == "skipped" {
			continue
		}
		tags := append(append([]string{}, runTags...), "relation:"+row.Relation)
		b.points = append(b.points,
			point{MetricSampleSize, datadogV2.METRICINTAKETYPE_GAUGE, float64(row.SampleSize), tags},
			point{MetricPopulationSize, datadogV2.METRICINTAKETYPE_GAUGE, float64(row.PopulationSize), tags},
		)
	}

	statuses := make([]string, 0, len(byStatus))
	for s := range byStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		tags := append(append([]string{}, runTags...), "status:"+s)
		b.points = append(b.points, point{MetricRelations, datadogV2.METRICINTAKETYPE_COUNT, float64(byStatus[s]), tags})
	}

	b.points = append(b.points, point{MetricRowsSampled, datadogV2.METRICINTAKETYPE_COUNT, float64(result.Summary.RowsSampled), runTags})
	b.points = append(b.points, point{MetricDuration, datadogV2.METRICINTAKETYPE_GAUGE, result.FinishedAt.Sub(result.StartedAt).Seconds(), runTags})
}

func (b *Backend) snapshotAndReset() []point {
	b.mu.Lock()
	defer b.mu.Unlock()
	points := b.points
	b.points = nil
	return points
}

// Flush submits buffered metrics. Buffers are reset even when submission fails.
func (b *Backend) Flush() error {
	points := b.snapshotAndReset()
	if len(points) == 0 {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(points, b.now().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return fmt.Errorf("submit %d series to datadog: %w", len(payload.Series), err)
	}
	b.logger.Debug("Submitted metrics", zap.Int("series", len(payload.Series)))
	return nil
}

// Close flushes anything still buffered.
func (b *Backend) Close() error {
	return b.Flush()
}

func (b *Backend) buildSeries(points []point, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(points))
	for _, p := range points {
		series = append(series, datadogV2.MetricSeries{
			Metric: p.metric,
			Type:   p.kind.Ptr(),
			Points: []datadogV2.MetricPoint{
				{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(p.value)},
			},
			Tags: withTags(b.baseTags, p.tags...),
		})
	}
	return series
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
