package query

import (
	"context"
	"fmt"
	"time"

	roaring "github.com/RoaringBitmap/roaring"
	"github.com/TFMV/starcat/catalog"
	"github.com/TFMV/starcat/index"
	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"
)

// Access names how a predicate is evaluated.
type Access int

const (
	Scan Access = iota
	IndexRange
	IndexLookup
)

func (a Access) String() string {
	switch a {
	case IndexRange:
		return "index-range"
	case IndexLookup:
		return "index-lookup"
	default:
		return "scan"
	}
}

// Step is one predicate of a plan.
type Step struct {
	Kind   string
	Column string
	Access Access
}

// Plan represents a query execution plan
type Plan struct {
	Query   *Query
	Steps   []Step
	Columns []string
}

// Planner chooses between index access and column scans.
type Planner struct {
	indexes *index.Manager
	columns catalog.Columns
	logger  *zap.Logger
}

// NewPlanner creates a query planner. A nil manager plans scans only.
func NewPlanner(im *index.Manager, cols catalog.Columns, logger *zap.Logger) *Planner {
	if im == nil {
		im = index.NewManager(index.DefaultSettings())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{indexes: im, columns: cols, logger: logger}
}

// Plan creates an execution plan for q
func (p *Planner) Plan(q *Query) (*Plan, error) {
	if q == nil {
		q = &Query{}
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	plan := &Plan{Query: q, Columns: q.Columns}

	if q.MinBrightness != nil {
		step := Step{Kind: "brightness", Column: p.columns.Brightness, Access: Scan}
		if _, ok := p.indexes.Range(p.columns.Brightness); ok {
			step.Access = IndexRange
		}
		plan.Steps = append(plan.Steps, step)
	}
	if len(q.IDs) > 0 {
		if p.columns.ID == "" {
			return nil, fmt.Errorf("%w: no identifier column configured", ErrInvalidQuery)
		}
		step := Step{Kind: "id", Column: p.columns.ID, Access: Scan}
		if _, ok := p.indexes.Get(p.columns.ID, p.indexes.Settings().IDStrategy); ok {
			step.Access = IndexLookup
		}
		plan.Steps = append(plan.Steps, step)
	}
	if q.Cone != nil {
		plan.Steps = append(plan.Steps, Step{Kind: "cone", Column: p.columns.RA + "," + p.columns.Dec, Access: Scan})
	}
	return plan, nil
}

// Execute runs plan against t. The caller must release the result.
func (p *Planner) Execute(ctx context.Context, t *catalog.Table, plan *Plan) (*catalog.Table, error) {
	start := time.Now()
	q := plan.Query
	n := int(t.NumRows())

	selected := roaring.New()
	selected.AddRange(0, uint64(n))
	for _, step := range plan.Steps {
		rows, err := p.evaluate(ctx, t, q, step)
		if err != nil {
			return nil, err
		}
		selected.And(rows)
		if selected.IsEmpty() {
			break
		}
	}

	if q.Limit > 0 && selected.GetCardinality() > uint64(q.Limit) {
		limited := roaring.New()
		it := selected.Iterator()
		for i := 0; i < q.Limit && it.HasNext(); i++ {
			limited.Add(it.Next())
		}
		selected = limited
	}

	var result *catalog.Table
	if selected.GetCardinality() == uint64(n) {
		result = t.Derive(t.Record())
	} else {
		mask := bitmapMask(selected, n)
		defer mask.Release()
		var err error
		if result, err = filterTable(ctx, t, mask); err != nil {
			return nil, err
		}
	}

	if len(plan.Columns) > 0 {
		projected, err := result.Select(plan.Columns...)
		result.Release()
		if err != nil {
			return nil, err
		}
		result = projected
	}

	queryLatency.Observe(time.Since(start).Seconds())
	rowsSelected.Add(float64(result.NumRows()))
	p.logger.Debug("Executed query",
		zap.Int("steps", len(plan.Steps)),
		zap.Int64("rows", result.NumRows()),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// Run plans and executes q in one call.
func (p *Planner) Run(ctx context.Context, t *catalog.Table, q *Query) (*catalog.Table, error) {
	plan, err := p.Plan(q)
	if err != nil {
		return nil, err
	}
	return p.Execute(ctx, t, plan)
}

func (p *Planner) evaluate(ctx context.Context, t *catalog.Table, q *Query, step Step) (*roaring.Bitmap, error) {
	switch step.Kind {
	case "brightness":
		if step.Access == IndexRange {
			if r, ok := p.indexes.Range(step.Column); ok {
				return r.Greater(*q.MinBrightness), nil
			}
		}
		mask, err := GreaterMask(ctx, t, step.Column, *q.MinBrightness)
		if err != nil {
			return nil, err
		}
		defer mask.Release()
		return maskBitmap(mask), nil
	case "id":
		return p.lookupIDs(t, step, q.IDs)
	case "cone":
		return coneBitmap(ctx, t, p.columns, q.Cone)
	default:
		return nil, fmt.Errorf("%w: unknown step %q", ErrInvalidQuery, step.Kind)
	}
}

func (p *Planner) lookupIDs(t *catalog.Table, step Step, ids []string) (*roaring.Bitmap, error) {
	col, err := t.Column(step.Column)
	if err != nil {
		return nil, err
	}
	keys := make(map[interface{}]struct{}, len(ids))
	for _, id := range ids {
		key, err := index.ParseValue(col.DataType(), id)
		if err != nil {
			return nil, fmt.Errorf("%w: identifier %q: %v", ErrInvalidQuery, id, err)
		}
		keys[key] = struct{}{}
	}

	result := roaring.New()
	if step.Access == IndexLookup {
		for key := range keys {
			rows, ok, err := p.indexes.Lookup(step.Column, key)
			if err != nil {
				return nil, err
			}
			if ok {
				result.Or(rows)
				continue
			}
			return p.scanIDs(col, keys), nil
		}
		return result, nil
	}
	return p.scanIDs(col, keys), nil
}

func (p *Planner) scanIDs(col arrow.Array, keys map[interface{}]struct{}) *roaring.Bitmap {
	result := roaring.New()
	for i := 0; i < col.Len(); i++ {
		v, ok := index.Value(col, i)
		if !ok {
			continue
		}
		if _, hit := keys[v]; hit {
			result.Add(uint32(i))
		}
	}
	return result
}
