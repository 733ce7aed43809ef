package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/TFMV/starcat"
	"github.com/TFMV/starcat/auth"
	"github.com/TFMV/starcat/config"
	"github.com/TFMV/starcat/coords"
	"github.com/TFMV/starcat/flight"
	"github.com/TFMV/starcat/query"
	"github.com/TFMV/starcat/storage"
	"github.com/docopt/docopt.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const version = "starcat 0.1.0"

const usage = `Starcat star catalog analyzer.

Usage:
  starcat analyze <source> [--config=<file>] [--hdu=<n>] [--min-brightness=<value>] [--frame=<frame>] [--cone=<ra,dec,radius>] [--limit=<n>] [--id-column=<name>] [--json] [--metrics-file=<path>] [--verbose]
  starcat export <source> <dest> [--config=<file>] [--format=<fmt>] [--compression=<codec>] [--hdu=<n>] [--min-brightness=<value>] [--cone=<ra,dec,radius>] [--limit=<n>] [--metrics-file=<path>] [--verbose]
  starcat serve <source> [--config=<file>] [--hdu=<n>] [--addr=<addr>] [--token=<token>] [--id-column=<name>] [--verbose]
  starcat (-h | --help)
  starcat --version

Sources and destinations are local paths or gs://bucket/object URIs.

Options:
  -h --help                  Show this screen.
  --version                  Show version.
  --config=<file>            YAML configuration file.
  --hdu=<n>                  Table HDU to read, 0 or 1 is the first extension.
  --min-brightness=<value>   Keep rows brighter than value (analyze default 10.0).
  --frame=<frame>            Coordinate frame: icrs, fk5, galactic, ecliptic.
  --cone=<ra,dec,radius>     Keep rows within radius degrees of ra,dec.
  --limit=<n>                Maximum number of rows to return.
  --id-column=<name>         Identifier column to index.
  --json                     Print coordinates and bright rows as one JSON document.
  --metrics-file=<path>      Write Prometheus metrics to path on exit.
  --format=<fmt>             Export format: arrow, parquet, csv, fits (default from extension).
  --compression=<codec>      Parquet codec (default snappy).
  --addr=<addr>              Flight listen address (default localhost:8815).
  --token=<token>            Require this bearer token from Flight clients.
  --verbose                  Enable debug logging.
`

func main() {
	arguments, err := docopt.ParseArgs(usage, nil, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(arguments, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, arguments, cfg, os.Stdout, logger); err != nil {
		logger.Error("Command failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// run dispatches the parsed command.
func run(ctx context.Context, arguments docopt.Opts, cfg config.Config, stdout io.Writer, logger *zap.Logger) error {
	source, _ := arguments.String("<source>")
	analyzer := starcat.New(source, starcat.Options{
		HDU:           cfg.HDU,
		Columns:       cfg.Columns,
		Logger:        logger,
		ClientOptions: storage.GCSOptions(cfg.GCSEndpoint),
		Index:         cfg.Index,
	})
	defer analyzer.Close()

	if err := analyzer.LoadData(ctx); err != nil {
		return err
	}

	var err error
	switch {
	case isCommand(arguments, "analyze"):
		err = analyze(ctx, analyzer, cfg, stdout)
	case isCommand(arguments, "export"):
		dest, _ := arguments.String("<dest>")
		err = export(ctx, analyzer, cfg, exportQuery(arguments, cfg), dest, logger)
	case isCommand(arguments, "serve"):
		return serve(ctx, analyzer, cfg, logger)
	default:
		return errors.New("no command given")
	}
	if err != nil {
		return err
	}
	return writeMetrics(cfg.MetricsFile, logger)
}

func isCommand(arguments docopt.Opts, name string) bool {
	v, _ := arguments.Bool(name)
	return v
}

// exportQuery selects everything unless a filter was asked for
// explicitly; the analyze brightness default does not apply to exports.
func exportQuery(arguments docopt.Opts, cfg config.Config) *query.Query {
	q := &query.Query{Cone: cfg.Cone, Limit: cfg.Limit}
	if arguments["--min-brightness"] != nil {
		threshold := cfg.MinBrightness
		q.MinBrightness = &threshold
	}
	return q
}

func analyze(ctx context.Context, a *starcat.Analyzer, cfg config.Config, stdout io.Writer) error {
	positions, err := a.CalculateCoordinates(ctx)
	if err != nil {
		return err
	}
	if cfg.Frame != coords.ICRS {
		if positions, err = coords.TransformAll(positions, cfg.Frame); err != nil {
			return err
		}
	}

	threshold := cfg.MinBrightness
	bright, err := a.Query(ctx, &query.Query{MinBrightness: &threshold, Cone: cfg.Cone, Limit: cfg.Limit})
	if err != nil {
		return err
	}
	defer bright.Release()

	if cfg.JSON {
		return printJSON(stdout, positions, bright)
	}
	return printText(stdout, positions, bright, a.Columns().Brightness, threshold)
}

func export(ctx context.Context, a *starcat.Analyzer, cfg config.Config, q *query.Query, dest string, logger *zap.Logger) error {
	selected, err := a.Query(ctx, q)
	if err != nil {
		return err
	}
	defer selected.Release()

	err = storage.ExportTo(ctx, selected, dest, cfg.Format, storage.ExportOptions{Compression: cfg.Compression},
		storage.GCSOptions(cfg.GCSEndpoint)...)
	if err != nil {
		return err
	}
	logger.Info("Exported catalog",
		zap.String("dest", dest),
		zap.Int64("rows", selected.NumRows()))
	return nil
}

func serve(ctx context.Context, a *starcat.Analyzer, cfg config.Config, logger *zap.Logger) error {
	svc := flight.NewCatalogService(a.Table(), a.Planner(),
		flight.WithBatchSize(cfg.BatchSize),
		flight.WithLogger(logger))
	srv, err := flight.NewServer(cfg.Addr, svc, auth.Config{Enabled: cfg.Token != "", Token: cfg.Token})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		logger.Info("Received shutdown signal, stopping Flight server")
		srv.Shutdown()
	}()

	logger.Info("Starting Flight server",
		zap.String("addr", srv.Addr().String()),
		zap.Bool("auth", cfg.Token != ""))
	return srv.Serve()
}

func writeMetrics(path string, logger *zap.Logger) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	logger.Debug("Wrote metrics", zap.String("path", path))
	return nil
}
