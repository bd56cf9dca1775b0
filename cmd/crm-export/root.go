package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/crm-export/internal/config"
	"github.com/Sternrassler/crm-export/pkg/cache"
	"github.com/Sternrassler/crm-export/pkg/client"
	"github.com/Sternrassler/crm-export/pkg/export"
	"github.com/Sternrassler/crm-export/pkg/logging"
	"github.com/Sternrassler/crm-export/pkg/metrics"
	"github.com/Sternrassler/crm-export/pkg/objects"
	"github.com/Sternrassler/crm-export/pkg/pagination"
	"github.com/Sternrassler/crm-export/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// options are the command-line overrides of the environment configuration.
type options struct {
	token         string
	baseURL       string
	outputDir     string
	objectsFile   string
	only          []string
	pageSize      int
	maxPages      int
	timeout       time.Duration
	maxRetries    int
	minInterval   time.Duration
	allProperties bool
	chunkSize     int
	redisURL      string
	logLevel      string
	logPretty     bool
	report        string
	metricsFile   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "crm-export",
		Short: "Export CRM object types to CSV files",
		Long: `crm-export downloads every configured CRM object type (contacts,
companies, deals, ...) page by page and writes one flattened CSV file per
type. Settings come from the environment (or a .env file); flags override them.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return &ExitError{Code: exitConfigError, Err: err}
			}
			return runExport(cmd.Context(), cfg, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.objectsFile, "objects-file", "", "YAML file listing the object types (env "+config.EnvObjectsFile+")")
	pf.StringSliceVar(&opts.only, "only", nil, "export only these object types (env "+config.EnvObjects+")")

	f := cmd.Flags()
	f.StringVar(&opts.token, "token", "", "private app access token (env "+config.EnvAccessToken+")")
	f.StringVar(&opts.baseURL, "base-url", "", "API base URL (env "+config.EnvBaseURL+")")
	f.StringVarP(&opts.outputDir, "output-dir", "o", "", "directory for the CSV files (env "+config.EnvOutputDir+")")
	f.IntVar(&opts.pageSize, "page-size", 0, "records per request, 1-100 (env "+config.EnvPageSize+")")
	f.IntVar(&opts.maxPages, "max-pages", 0, "fail an object after this many pages, 0 = unbounded (env "+config.EnvMaxPages+")")
	f.DurationVar(&opts.timeout, "timeout", 0, "per-request timeout (env "+config.EnvRequestTimeout+")")
	f.IntVar(&opts.maxRetries, "max-retries", 0, "retries for 429, 5xx and network errors (env "+config.EnvMaxRetries+")")
	f.DurationVar(&opts.minInterval, "min-interval", 0, "minimum spacing between requests (env "+config.EnvMinInterval+")")
	f.BoolVar(&opts.allProperties, "all-properties", false, "request every defined property (env "+config.EnvAllProperties+")")
	f.IntVar(&opts.chunkSize, "properties-chunk-size", 0, "property names per request with --all-properties (env "+config.EnvPropertiesChunkSize+")")
	f.StringVar(&opts.redisURL, "redis-url", "", "Redis for shared rate limit state and property cache (env "+config.EnvRedisURL+")")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn, error or disabled (env "+config.EnvLogLevel+")")
	f.BoolVar(&opts.logPretty, "log-pretty", false, "human-readable logs (env "+config.EnvLogPretty+")")
	f.StringVar(&opts.report, "report", "", "write a CSV run report to this file (env "+config.EnvReportFile+")")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile (env "+config.EnvMetricsFile+")")

	cmd.AddCommand(newObjectsCmd(stdout, opts))
	cmd.AddCommand(newRelationshipsCmd(stdout, stderr))

	return cmd
}

// newObjectsCmd prints the object table that an export would use.
func newObjectsCmd(stdout io.Writer, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "objects",
		Short: "List the object types that would be exported",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return &ExitError{Code: exitConfigError, Err: err}
			}
			if cmd.Flags().Changed("objects-file") {
				cfg.ObjectsFile = opts.objectsFile
			}
			if cmd.Flags().Changed("only") {
				cfg.Objects = opts.only
			}

			table, err := loadTable(cfg)
			if err != nil {
				return &ExitError{Code: exitConfigError, Err: err}
			}

			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tENDPOINT")
			for _, s := range table.Specs() {
				fmt.Fprintf(tw, "%s\t%s\n", s.Name, s.Endpoint)
			}
			return tw.Flush()
		},
	}
}

// newRelationshipsCmd scans exported CSV files for id values that other
// exports reference.
func newRelationshipsCmd(stdout, stderr io.Writer) *cobra.Command {
	var dir, out string

	cmd := &cobra.Command{
		Use:   "relationships",
		Short: "Find columns that reference the ids of other exported objects",
		Long: `relationships compares the id column of every CSV file in the export
directory with every column of the other files and writes the pairs that share
values to ` + export.RelationshipsFile + `.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return &ExitError{Code: exitConfigError, Err: err}
			}
			level, err := logging.ParseLevel(cfg.LogLevel)
			if err != nil {
				return &ExitError{Code: exitConfigError, Err: &config.ConfigError{Field: config.EnvLogLevel, Reason: err.Error()}}
			}
			logging.Setup(logging.Config{Level: level, Pretty: cfg.LogPretty, Output: stderr})

			if !cmd.Flags().Changed("dir") {
				dir = cfg.OutputDir
			}
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				return &ExitError{Code: exitConfigError, Err: &config.ConfigError{Field: config.EnvOutputDir, Reason: fmt.Sprintf("export directory %q not found", dir)}}
			}
			if out == "" {
				out = filepath.Join(dir, export.RelationshipsFile)
			}

			rels, err := export.FindRelationships(dir, logging.NewLogger("relationships"))
			if err != nil {
				return &ExitError{Code: exitFailed, Err: err}
			}
			if err := writeFile(out, func(w io.Writer) error { return export.WriteRelationships(w, rels) }); err != nil {
				return &ExitError{Code: exitFailed, Err: fmt.Errorf("write relationships: %w", err)}
			}

			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tID COLUMN\tOTHER FILE\tOTHER COLUMN\tMATCHES")
			for _, r := range rels {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.File, r.IDColumn, r.Other, r.Column, r.Matches)
			}
			tw.Flush()
			fmt.Fprintf(stdout, "\n%d relationships written to %s\n", len(rels), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "export directory to scan (env "+config.EnvOutputDir+")")
	cmd.Flags().StringVar(&out, "out", "", "report path (default <dir>/"+export.RelationshipsFile+")")
	return cmd
}

// loadConfig reads the environment and applies the flags that were set.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("token") {
		cfg.AccessToken = opts.token
	}
	if f.Changed("base-url") {
		cfg.BaseURL = opts.baseURL
	}
	if f.Changed("output-dir") {
		cfg.OutputDir = opts.outputDir
	}
	if f.Changed("objects-file") {
		cfg.ObjectsFile = opts.objectsFile
	}
	if f.Changed("only") {
		cfg.Objects = opts.only
	}
	if f.Changed("page-size") {
		cfg.PageSize = opts.pageSize
	}
	if f.Changed("max-pages") {
		cfg.MaxPages = opts.maxPages
	}
	if f.Changed("timeout") {
		cfg.RequestTimeout = opts.timeout
	}
	if f.Changed("max-retries") {
		cfg.MaxRetries = opts.maxRetries
	}
	if f.Changed("min-interval") {
		cfg.MinInterval = opts.minInterval
	}
	if f.Changed("all-properties") {
		cfg.AllProperties = opts.allProperties
	}
	if f.Changed("properties-chunk-size") {
		cfg.PropertiesChunkSize = opts.chunkSize
	}
	if f.Changed("redis-url") {
		cfg.RedisURL = opts.redisURL
	}
	if f.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if f.Changed("log-pretty") {
		cfg.LogPretty = opts.logPretty
	}
	if f.Changed("report") {
		cfg.ReportFile = opts.report
	}
	if f.Changed("metrics-file") {
		cfg.MetricsFile = opts.metricsFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return nil, &config.ConfigError{Field: config.EnvLogLevel, Reason: err.Error()}
	}
	return cfg, nil
}

func loadTable(cfg *config.Config) (objects.Table, error) {
	table := objects.Default()
	if cfg.ObjectsFile != "" {
		loaded, err := objects.LoadFile(cfg.ObjectsFile)
		if err != nil {
			return objects.Table{}, &config.ConfigError{Field: config.EnvObjectsFile, Reason: err.Error()}
		}
		table = loaded
	}

	selected, err := table.Select(cfg.Objects)
	if err != nil {
		return objects.Table{}, &config.ConfigError{Field: config.EnvObjects, Reason: err.Error()}
	}
	return selected, nil
}

func runExport(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	level, _ := logging.ParseLevel(cfg.LogLevel)
	logging.Setup(logging.Config{Level: level, Pretty: cfg.LogPretty, Output: stderr})
	logger := logging.NewLogger("crm-export")

	table, err := loadTable(cfg)
	if err != nil {
		return &ExitError{Code: exitConfigError, Err: err}
	}

	redisClient, err := connectRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		return &ExitError{Code: exitConfigError, Err: err}
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var store ratelimit.Store = ratelimit.NewMemoryStore()
	var propertyCache cache.Cache
	if redisClient != nil {
		store = ratelimit.NewRedisStore(redisClient, "")
		propertyCache = cache.NewManager(redisClient)
	}

	trackerCfg := ratelimit.DefaultTrackerConfig()
	trackerCfg.MinInterval = cfg.MinInterval
	tracker := ratelimit.NewTracker(store, trackerCfg, logging.NewLogger("ratelimit"))

	clientCfg := client.DefaultConfig(cfg.AccessToken)
	clientCfg.BaseURL = cfg.GetBaseURL()
	clientCfg.Timeout = cfg.RequestTimeout
	clientCfg.Retry.MaxRetries = cfg.MaxRetries
	clientCfg.RatePolicy = tracker

	crm, err := client.New(clientCfg)
	if err != nil {
		return &ExitError{Code: exitConfigError, Err: &config.ConfigError{Field: "client", Reason: err.Error()}}
	}

	exportCfg := export.DefaultConfig()
	exportCfg.OutputDir = cfg.OutputDir
	exportCfg.Pagination = pagination.Config{PageSize: cfg.PageSize, MaxPages: cfg.MaxPages}
	exportCfg.AllProperties = cfg.AllProperties
	exportCfg.PropertiesChunkSize = cfg.PropertiesChunkSize
	exportCfg.Cache = propertyCache
	exportCfg.CacheNamespace = cache.Namespace(cfg.AccessToken)

	summary := export.New(exportCfg, table, crm, logging.NewLogger("export")).Run(ctx)

	printSummary(stdout, summary)

	if cfg.ReportFile != "" {
		if err := writeReport(cfg.ReportFile, summary); err != nil {
			logger.Error().Err(err).Str("path", cfg.ReportFile).Msg("Failed to write run report")
		}
	}
	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error().Err(err).Str("path", cfg.MetricsFile).Msg("Failed to write metrics textfile")
		}
	}

	if failed := summary.Failed(); len(failed) > 0 {
		return &ExitError{Code: exitFailed, Err: fmt.Errorf("%d of %d objects failed", len(failed), len(summary.Results))}
	}
	return nil
}

// connectRedis returns nil when no URL is configured or Redis is down;
// the export then runs with in-process state only.
func connectRedis(ctx context.Context, redisURL string, logger zerolog.Logger) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, &config.ConfigError{Field: config.EnvRedisURL, Reason: err.Error()}
	}

	rc := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", opts.Addr).Msg("Redis unavailable - continuing without shared state")
		rc.Close()
		return nil, nil
	}

	logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	return rc, nil
}

func printSummary(w io.Writer, summary export.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OBJECT\tSTATUS\tRECORDS\tDETAIL")
	for _, r := range summary.Results {
		if r.OK() {
			fmt.Fprintf(tw, "%s\tok\t%d\t%s\n", r.Object, r.Records, r.Path)
			continue
		}
		fmt.Fprintf(tw, "%s\tFAILED\t-\t%s: %v\n", r.Object, export.Diagnose(r.Err), r.Err)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nrun %s: %d objects, %d failed, %d records in %s\n",
		summary.RunID, len(summary.Results), len(summary.Failed()), summary.Records(),
		summary.Duration.Round(time.Millisecond))
}

func writeReport(path string, summary export.Summary) error {
	return writeFile(path, summary.Report)
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
