// Package export runs a full CRM export: every object type in the table is
// fetched, flattened and written to its own CSV file, one after another.
package export

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/crm-export/pkg/cache"
	"github.com/Sternrassler/crm-export/pkg/client"
	"github.com/Sternrassler/crm-export/pkg/csvfile"
	"github.com/Sternrassler/crm-export/pkg/objects"
	"github.com/Sternrassler/crm-export/pkg/pagination"
	"github.com/Sternrassler/crm-export/pkg/record"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	crmExportRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_export_records_total",
		Help: "Records written to CSV by object type",
	}, []string{"object"})

	crmExportObjectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_export_objects_total",
		Help: "Object exports by outcome (ok, failed)",
	}, []string{"status"})

	crmExportObjectDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_export_object_duration_seconds",
		Help:    "Time to export one object type",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"object"})
)

// DefaultPropertiesChunkSize keeps property query strings well below URL limits.
const DefaultPropertiesChunkSize = 50

// Config holds runner configuration.
type Config struct {
	// OutputDir receives one <object>.csv per object type.
	OutputDir string

	// Pagination bounds each list request sequence.
	Pagination pagination.Config

	// Separator joins nested keys into column names.
	Separator string

	// CSV controls the file layout.
	CSV csvfile.Options

	// AllProperties requests every defined property instead of the API defaults.
	AllProperties bool

	// PropertiesChunkSize is the number of property names per pass.
	PropertiesChunkSize int

	// Cache holds property lists between runs. Nil disables caching.
	Cache cache.Cache

	// CacheNamespace scopes cache keys to one account.
	CacheNamespace string

	// CacheTTL is the lifetime of cached property lists.
	CacheTTL time.Duration
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		OutputDir:           "crm_data",
		Pagination:          pagination.DefaultConfig(),
		Separator:           record.DefaultSeparator,
		PropertiesChunkSize: DefaultPropertiesChunkSize,
		CacheTTL:            cache.DefaultTTL,
	}
}

// Runner exports the objects of a table.
type Runner struct {
	config    Config
	table     objects.Table
	getter    pagination.Getter
	paginator *pagination.Paginator
	logger    zerolog.Logger
}

// New creates a runner. getter is usually a *client.Client.
func New(cfg Config, table objects.Table, getter pagination.Getter, logger zerolog.Logger) *Runner {
	if cfg.Separator == "" {
		cfg.Separator = record.DefaultSeparator
	}
	if cfg.PropertiesChunkSize <= 0 {
		cfg.PropertiesChunkSize = DefaultPropertiesChunkSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}

	return &Runner{
		config:    cfg,
		table:     table,
		getter:    getter,
		paginator: pagination.New(getter, cfg.Pagination),
		logger:    logger,
	}
}

// Run exports every object in table order. A failing object does not stop
// the run; a cancelled context does, and the objects not yet started are
// reported as failed with the context error.
func (r *Runner) Run(ctx context.Context) Summary {
	start := time.Now()
	summary := Summary{RunID: uuid.New().String()}
	logger := r.logger.With().Str("run_id", summary.RunID).Logger()

	specs := r.table.Specs()
	logger.Info().
		Int("objects", len(specs)).
		Str("output_dir", r.config.OutputDir).
		Bool("all_properties", r.config.AllProperties).
		Msg("Export started")

	for i, spec := range specs {
		if err := ctx.Err(); err != nil {
			for _, rest := range specs[i:] {
				summary.Results = append(summary.Results, Result{Object: rest.Name, Err: err})
				crmExportObjectsTotal.WithLabelValues("failed").Inc()
			}
			logger.Warn().Err(err).Int("skipped", len(specs)-i).Msg("Export cancelled")
			break
		}

		result := r.exportObject(ctx, spec, logger)
		summary.Results = append(summary.Results, result)
	}

	summary.Duration = time.Since(start)

	failed := summary.Failed()
	event := logger.Info()
	if len(failed) > 0 {
		event = logger.Warn().Strs("failed", failed)
	}
	event.
		Int("objects", len(summary.Results)).
		Int("records", summary.Records()).
		Dur("duration", summary.Duration).
		Msg("Export finished")

	return summary
}

func (r *Runner) exportObject(ctx context.Context, spec objects.Spec, logger zerolog.Logger) (result Result) {
	start := time.Now()
	logger = logger.With().Str("object", spec.Name).Str("endpoint", spec.Endpoint).Logger()
	logger.Info().Msg("Exporting object")

	result.Object = spec.Name
	defer func() {
		result.Duration = time.Since(start)
		crmExportObjectDuration.WithLabelValues(spec.Name).Observe(result.Duration.Seconds())
	}()

	recs, err := r.fetch(ctx, spec, logger)
	if err == nil {
		rows := record.FlattenAll(recs, r.config.Separator)
		warnCollisions(rows, logger)
		outPath := filepath.Join(r.config.OutputDir, spec.Name+".csv")
		result.Records, err = csvfile.Write(outPath, rows, r.config.CSV)
		if err == nil {
			result.Path = outPath
		}
	}

	if err != nil {
		result.Err = err
		crmExportObjectsTotal.WithLabelValues("failed").Inc()
		logger.Error().
			Err(err).
			Str("reason", Diagnose(err)).
			Dur("duration", time.Since(start)).
			Msg("Object export failed")
		return result
	}

	crmExportObjectsTotal.WithLabelValues("ok").Inc()
	crmExportRecordsTotal.WithLabelValues(spec.Name).Add(float64(result.Records))
	logger.Info().
		Int("records", result.Records).
		Str("path", result.Path).
		Dur("duration", time.Since(start)).
		Msg("Object exported")
	return result
}

// fetch collects all records of one object type.
func (r *Runner) fetch(ctx context.Context, spec objects.Spec, logger zerolog.Logger) ([]record.Record, error) {
	base := url.Values{"archived": {"false"}}

	if !r.config.AllProperties {
		return pagination.Collect(r.paginator.Records(ctx, spec.Endpoint, base))
	}

	names, err := r.propertyNames(ctx, spec, logger)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		logger.Warn().Msg("No property definitions available - exporting default properties")
		return pagination.Collect(r.paginator.Records(ctx, spec.Endpoint, base))
	}

	return r.fetchChunked(ctx, spec, names, base, logger)
}

// fetchChunked paginates once per property chunk and merges the partial
// records by id. Record order is the order of first appearance.
func (r *Runner) fetchChunked(ctx context.Context, spec objects.Spec, names []string, base url.Values, logger zerolog.Logger) ([]record.Record, error) {
	var merged []record.Record
	index := make(map[string]int)
	skipped := 0

	chunks := chunk(names, r.config.PropertiesChunkSize)
	for i, props := range chunks {
		query := url.Values{}
		for k, v := range base {
			query[k] = v
		}
		query.Set("properties", strings.Join(props, ","))

		for rec, err := range r.paginator.Records(ctx, spec.Endpoint, query) {
			if err != nil {
				return nil, fmt.Errorf("property chunk %d/%d: %w", i+1, len(chunks), err)
			}

			id := record.ID(rec)
			if id == "" {
				skipped++
				continue
			}
			if at, ok := index[id]; ok {
				record.Merge(&merged[at], rec)
				continue
			}
			index[id] = len(merged)
			merged = append(merged, rec)
		}

		logger.Debug().
			Int("chunk", i+1).
			Int("chunks", len(chunks)).
			Int("records", len(merged)).
			Msg("Property chunk fetched")
	}

	if skipped > 0 {
		logger.Warn().Int("skipped", skipped).Msg("Records without id could not be merged across property chunks")
	}
	return merged, nil
}

// propertyNames lists the object's property definitions, through the cache
// when one is configured. Listing failures that only mean "no access to
// the schema" yield no names.
func (r *Runner) propertyNames(ctx context.Context, spec objects.Spec, logger zerolog.Logger) ([]string, error) {
	objectType := path.Base(spec.Endpoint)
	key := cache.Key{Namespace: r.config.CacheNamespace, Object: objectType}

	if r.config.Cache != nil {
		entry, err := r.config.Cache.Get(ctx, key)
		switch {
		case err == nil:
			logger.Debug().Int("properties", len(entry.Names)).Msg("Property list from cache")
			return entry.Names, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			logger.Warn().Err(err).Msg("Property cache unavailable")
		}
	}

	var resp struct {
		Results []struct {
			Name string `json:"name"`
		} `json:"results"`
	}
	err := r.getter.GetJSON(ctx, "crm/v3/properties/"+objectType, url.Values{"archived": {"false"}}, &resp)
	if err != nil {
		var httpErr *client.HTTPError
		if errors.As(err, &httpErr) && (httpErr.PermissionDenied() || httpErr.StatusCode == 400) {
			logger.Warn().Err(err).Msg("Property definitions not accessible")
			return nil, nil
		}
		return nil, fmt.Errorf("list properties: %w", err)
	}

	names := make([]string, 0, len(resp.Results))
	for _, p := range resp.Results {
		if p.Name != "" {
			names = append(names, p.Name)
		}
	}
	logger.Info().Int("properties", len(names)).Msg("Property definitions fetched")

	if r.config.Cache != nil && len(names) > 0 {
		if err := r.config.Cache.Set(ctx, key, cache.NewEntry(names, r.config.CacheTTL)); err != nil {
			logger.Warn().Err(err).Msg("Failed to cache property list")
		}
	}
	return names, nil
}

// warnCollisions logs the columns that more than one key path mapped to.
func warnCollisions(rows []record.Flat, logger zerolog.Logger) {
	seen := make(map[string]struct{})
	var columns []string
	affected := 0
	for _, row := range rows {
		c := row.Collisions()
		if len(c) == 0 {
			continue
		}
		affected++
		for _, col := range c {
			if _, ok := seen[col]; !ok {
				seen[col] = struct{}{}
				columns = append(columns, col)
			}
		}
	}
	if affected > 0 {
		logger.Warn().
			Strs("columns", columns).
			Int("records", affected).
			Msg("Flattened column names collide - last value kept")
	}
}

func chunk(names []string, size int) [][]string {
	var out [][]string
	for len(names) > size {
		out = append(out, names[:size])
		names = names[size:]
	}
	if len(names) > 0 {
		out = append(out, names)
	}
	return out
}
