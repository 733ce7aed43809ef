// Package starcat loads star catalogs from FITS tables, computes sky
// coordinates and selects rows by brightness.
package starcat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/TFMV/starcat/catalog"
	"github.com/TFMV/starcat/coords"
	"github.com/TFMV/starcat/index"
	"github.com/TFMV/starcat/query"
	"github.com/TFMV/starcat/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// ErrNotLoaded is returned by operations that need LoadData first.
var ErrNotLoaded = errors.New("starcat: no catalog loaded")

// Options configures an Analyzer.
type Options struct {
	// HDU is the table HDU to read, the first extension when zero.
	HDU     int
	Columns catalog.Columns
	Logger  *zap.Logger
	// ClientOptions are passed to the GCS client for gs:// sources.
	ClientOptions []option.ClientOption
	Index         index.Settings
}

// Analyzer holds one loaded catalog and answers questions about it.
type Analyzer struct {
	source  string
	opts    Options
	logger  *zap.Logger
	table   *catalog.Table
	indexes *index.Manager
	planner *query.Planner
}

// New returns an Analyzer for source, a local path or gs:// URI. Nothing
// is read until LoadData.
func New(source string, opts Options) *Analyzer {
	if opts.Columns == (catalog.Columns{}) {
		opts.Columns = catalog.DefaultColumns()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Index == (index.Settings{}) {
		opts.Index = index.DefaultSettings()
	}
	return &Analyzer{source: source, opts: opts, logger: opts.Logger}
}

// LoadData reads the source into memory and indexes the brightness and
// identifier columns. Arrow IPC snapshots are accepted besides FITS.
func (a *Analyzer) LoadData(ctx context.Context) error {
	start := time.Now()

	r, err := storage.Open(ctx, a.source, a.opts.ClientOptions...)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.Close()
	}()

	t, err := a.decode(ctx, r)
	if err != nil {
		return err
	}

	im, err := a.buildIndexes(t)
	if err != nil {
		t.Release()
		return err
	}

	a.Close()
	a.table = t
	a.indexes = im
	a.planner = query.NewPlanner(im, a.opts.Columns, a.logger)

	hdu, extName := t.HDU()
	a.logger.Info("Data loaded successfully.",
		zap.String("source", a.source),
		zap.Int("hdu", hdu),
		zap.String("extname", extName),
		zap.Int64("rows", t.NumRows()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (a *Analyzer) decode(ctx context.Context, r io.Reader) (*catalog.Table, error) {
	if f, err := storage.FormatFromPath(a.source); err == nil && f == storage.FormatArrow {
		return storage.ReadSnapshot(r, a.source)
	}
	return catalog.Load(ctx, r, catalog.LoadOptions{
		HDU:    a.opts.HDU,
		Name:   a.source,
		Logger: a.logger,
	})
}

func (a *Analyzer) buildIndexes(t *catalog.Table) (*index.Manager, error) {
	im := index.NewManager(a.opts.Index)
	cols := a.opts.Columns
	if arr, err := t.Column(cols.Brightness); err == nil && index.Numeric(arr.DataType()) {
		if err := im.Build(t, cols.Brightness, index.SortedColumn); err != nil {
			return nil, fmt.Errorf("starcat: index %q: %w", cols.Brightness, err)
		}
	}
	if t.HasColumn(cols.ID) {
		for _, s := range []index.Strategy{im.Settings().IDStrategy, index.Bloom} {
			if err := im.Build(t, cols.ID, s); err != nil {
				return nil, fmt.Errorf("starcat: index %q: %w", cols.ID, err)
			}
		}
	}
	return im, nil
}

// CalculateCoordinates returns the ICRS position of every row.
func (a *Analyzer) CalculateCoordinates(ctx context.Context) ([]coords.SkyCoord, error) {
	if a.table == nil {
		return nil, ErrNotLoaded
	}
	return coords.FromTable(ctx, a.table, a.opts.Columns.RA, a.opts.Columns.Dec)
}

// FilterByBrightness returns the rows whose brightness is strictly greater
// than threshold. The caller must release the result.
func (a *Analyzer) FilterByBrightness(ctx context.Context, threshold float64) (*catalog.Table, error) {
	return a.Query(ctx, &query.Query{MinBrightness: &threshold})
}

// Query plans and runs q against the loaded catalog. The caller must
// release the result.
func (a *Analyzer) Query(ctx context.Context, q *query.Query) (*catalog.Table, error) {
	if a.table == nil {
		return nil, ErrNotLoaded
	}
	return a.planner.Run(ctx, a.table, q)
}

// Table returns the loaded catalog, or nil before LoadData.
func (a *Analyzer) Table() *catalog.Table { return a.table }

// Planner returns the planner bound to the loaded catalog's indexes.
func (a *Analyzer) Planner() *query.Planner { return a.planner }

// Columns returns the column names the analyzer reads.
func (a *Analyzer) Columns() catalog.Columns { return a.opts.Columns }

// Close releases the loaded catalog.
func (a *Analyzer) Close() {
	if a.table != nil {
		a.table.Release()
		a.table = nil
	}
	a.indexes = nil
	a.planner = nil
}
