package coords_test

import (
	"context"
	"math"
	"testing"

	"github.com/TFMV/starcat/catalog"
	"github.com/TFMV/starcat/coords"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func positionTable(raUnit string, ra, dec []float64, valid []bool) *catalog.Table {
	raMeta := arrow.Metadata{}
	if raUnit != "" {
		raMeta = arrow.NewMetadata([]string{catalog.UnitKey}, []string{raUnit})
	}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "ra", Type: arrow.PrimitiveTypes.Float64, Nullable: true, Metadata: raMeta},
		{Name: "dec", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
	}, nil)

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()
	builder.Field(0).(*array.Float64Builder).AppendValues(ra, valid)
	for _, d := range dec {
		builder.Field(1).(*array.Float32Builder).Append(float32(d))
	}

	rec := builder.NewRecord()
	defer rec.Release()
	return catalog.New(rec, "positions")
}

func TestFromTable(t *testing.T) {
	t.Parallel()

	tbl := positionTable("", []float64{10, 200.5}, []float64{-45, 60.25}, nil)
	defer tbl.Release()

	cs, err := coords.FromTable(context.Background(), tbl, "ra", "dec")
	require.NoError(t, err)
	require.Len(t, cs, 2)

	assert.Equal(t, coords.ICRS, cs[0].Frame)
	assert.InDelta(t, 10.0, cs[0].RA().Deg(), 1e-9)
	assert.InDelta(t, -45.0, cs[0].Dec().Deg(), 1e-6)
	assert.InDelta(t, 200.5, cs[1].RA().Deg(), 1e-9)
	assert.InDelta(t, 60.25, cs[1].Dec().Deg(), 1e-6)
	assert.NotEmpty(t, cs[1].String())
}

func TestFromTableUnits(t *testing.T) {
	t.Parallel()

	tbl := positionTable("hourangle", []float64{6.5}, []float64{0}, nil)
	defer tbl.Release()

	cs, err := coords.FromTable(context.Background(), tbl, "ra", "dec")
	require.NoError(t, err)
	assert.InDelta(t, 97.5, cs[0].RA().Deg(), 1e-9)

	bad := positionTable("furlong", []float64{1}, []float64{1}, nil)
	defer bad.Release()
	_, err = coords.FromTable(context.Background(), bad, "ra", "dec")
	assert.Error(t, err)
}

func TestFromTableErrors(t *testing.T) {
	t.Parallel()

	tbl := positionTable("deg", []float64{1, 2}, []float64{3, 4}, []bool{true, false})
	defer tbl.Release()

	_, err := coords.FromTable(context.Background(), tbl, "ra", "dec")
	assert.ErrorIs(t, err, coords.ErrNullPosition)

	_, err = coords.FromTable(context.Background(), tbl, "ra", "declination")
	assert.ErrorIs(t, err, catalog.ErrColumnNotFound)
}

func TestTransformGalactic(t *testing.T) {
	t.Parallel()

	pole, err := coords.NewICRS(192.85948, 27.12825).Transform(coords.Galactic)
	require.NoError(t, err)
	assert.InDelta(t, 90.0, pole.Lat.Deg(), 0.01)

	center, err := coords.NewICRS(266.40499, -28.93617).Transform(coords.Galactic)
	require.NoError(t, err)
	l := center.Lon.Deg()
	assert.Less(t, math.Min(l, 360-l), 0.05)
	assert.InDelta(t, 0.0, center.Lat.Deg(), 0.05)
	assert.NotEmpty(t, center.String())
}

func TestTransformEcliptic(t *testing.T) {
	t.Parallel()

	solstice, err := coords.NewICRS(90, 23.4393).Transform(coords.Ecliptic)
	require.NoError(t, err)
	assert.InDelta(t, 90.0, solstice.Lon.Deg(), 1e-3)
	assert.InDelta(t, 0.0, solstice.Lat.Deg(), 1e-3)
}

func TestTransformRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ra := rapid.Float64Range(0, 359.9).Draw(t, "ra")
		dec := rapid.Float64Range(-89, 89).Draw(t, "dec")
		frame := rapid.SampledFrom([]coords.Frame{coords.FK5, coords.Galactic, coords.Ecliptic}).Draw(t, "frame")

		start := coords.NewICRS(ra, dec)
		there, err := start.Transform(frame)
		if err != nil {
			t.Fatalf("transform to %s: %v", frame, err)
		}
		back, err := there.Transform(coords.ICRS)
		if err != nil {
			t.Fatalf("transform back: %v", err)
		}
		if sep := coords.Separation(start, back).Deg(); sep > 1e-4 {
			t.Fatalf("round trip through %s moved %g deg", frame, sep)
		}
	})
}

func TestSeparation(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, coords.Separation(coords.NewICRS(0, 0), coords.NewICRS(0, 1)).Deg(), 1e-9)
	assert.InDelta(t, 90.0, coords.Separation(coords.NewICRS(0, 0), coords.NewICRS(0, 90)).Deg(), 1e-9)

	gal, err := coords.NewICRS(0, 1).Transform(coords.Galactic)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, coords.Separation(coords.NewICRS(0, 0), gal).Deg(), 1e-6)

	unknown := coords.SkyCoord{Frame: coords.Frame(99)}
	assert.True(t, math.IsNaN(coords.Separation(unknown, coords.NewICRS(0, 0)).Deg()))
}

func TestParse(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]coords.Frame{
		"":         coords.ICRS,
		"ICRS":     coords.ICRS,
		"fk5":      coords.FK5,
		"galactic": coords.Galactic,
		"ecl":      coords.Ecliptic,
	} {
		got, err := coords.ParseFrame(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := coords.ParseFrame("supergalactic")
	assert.Error(t, err)

	u, err := coords.ParseUnit("arcsec")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, u.Angle(3600).Deg(), 1e-12)
	u, err = coords.ParseUnit("rad")
	require.NoError(t, err)
	assert.InDelta(t, 180.0, u.Angle(math.Pi).Deg(), 1e-12)
}
