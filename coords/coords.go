// Package coords turns catalog position columns into sky coordinates and
// converts them between reference frames.
package coords

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/TFMV/starcat/catalog"
	"github.com/soniakeys/meeus/v3/angle"
	"github.com/soniakeys/meeus/v3/base"
	"github.com/soniakeys/meeus/v3/coord"
	"github.com/soniakeys/meeus/v3/nutation"
	"github.com/soniakeys/meeus/v3/precess"
	sexa "github.com/soniakeys/sexagesimal"
	"github.com/soniakeys/unit"
)

// ErrNullPosition is returned when a row has no right ascension or declination.
var ErrNullPosition = errors.New("coords: null position")

// Frame is a celestial reference frame.
type Frame int

const (
	ICRS Frame = iota
	FK5
	Galactic
	Ecliptic
)

func (f Frame) String() string {
	switch f {
	case ICRS:
		return "icrs"
	case FK5:
		return "fk5"
	case Galactic:
		return "galactic"
	case Ecliptic:
		return "ecliptic"
	default:
		return fmt.Sprintf("frame(%d)", int(f))
	}
}

// ParseFrame parses a frame name as written on the command line.
func ParseFrame(s string) (Frame, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "icrs":
		return ICRS, nil
	case "fk5", "j2000":
		return FK5, nil
	case "galactic", "gal":
		return Galactic, nil
	case "ecliptic", "ecl":
		return Ecliptic, nil
	default:
		return 0, fmt.Errorf("coords: unknown frame %q", s)
	}
}

// Equatorial reports whether Lon/Lat of the frame are RA/Dec.
func (f Frame) Equatorial() bool { return f == ICRS || f == FK5 }

// B1950 and J2000 in Julian years, the epochs used by the precession step
// of the galactic transform.
const (
	epochB1950 = 1950.0
	epochJ2000 = 2000.0
)

var obliquityJ2000 = coord.NewObliquity(nutation.MeanObliquity(base.J2000))

// SkyCoord is a position on the celestial sphere. For equatorial frames
// Lon is the right ascension and Lat the declination.
type SkyCoord struct {
	Lon   unit.Angle
	Lat   unit.Angle
	Frame Frame
}

// NewICRS builds an ICRS coordinate from degrees.
func NewICRS(raDeg, decDeg float64) SkyCoord {
	return SkyCoord{Lon: unit.AngleFromDeg(raDeg), Lat: unit.AngleFromDeg(decDeg), Frame: ICRS}
}

// RA returns the longitude normalized to [0, 24h).
func (c SkyCoord) RA() unit.RA { return unit.RAFromRad(c.Lon.Rad()) }

// Dec returns the latitude.
func (c SkyCoord) Dec() unit.Angle { return c.Lat }

// String renders equatorial coordinates in sexagesimal and the others in degrees.
func (c SkyCoord) String() string {
	if c.Frame.Equatorial() {
		return fmt.Sprintf("%s %.2s %+.1s", c.Frame, sexa.FmtRA(c.RA()), sexa.FmtAngle(c.Lat))
	}
	return fmt.Sprintf("%s l=%.6f b=%+.6f", c.Frame, unit.PMod(c.Lon.Deg(), 360), c.Lat.Deg())
}

// equatorialJ2000 returns c as mean equatorial coordinates of J2000.
// ICRS and FK5 J2000 differ by less than 25 mas, well under catalog
// precision, so they share one representation.
func (c SkyCoord) equatorialJ2000() *coord.Equatorial {
	switch c.Frame {
	case Galactic:
		b1950 := new(coord.Equatorial).GalToEq(&coord.Galactic{Lon: c.Lon, Lat: c.Lat})
		return precess.Position(b1950, new(coord.Equatorial), epochB1950, epochJ2000, 0, 0)
	case Ecliptic:
		return new(coord.Equatorial).EclToEq(&coord.Ecliptic{Lon: c.Lon, Lat: c.Lat}, obliquityJ2000)
	default:
		return &coord.Equatorial{RA: c.RA(), Dec: c.Lat}
	}
}

// Transform converts c into frame to.
func (c SkyCoord) Transform(to Frame) (SkyCoord, error) {
	if c.Frame == to {
		return c, nil
	}
	eq := c.equatorialJ2000()
	switch to {
	case ICRS, FK5:
		return SkyCoord{Lon: unit.Angle(eq.RA.Rad()), Lat: eq.Dec, Frame: to}, nil
	case Galactic:
		// The galactic pole is defined on the B1950 equator.
		b1950 := precess.Position(eq, new(coord.Equatorial), epochJ2000, epochB1950, 0, 0)
		g := new(coord.Galactic).EqToGal(b1950)
		return SkyCoord{Lon: unit.AngleFromDeg(unit.PMod(g.Lon.Deg(), 360)), Lat: g.Lat, Frame: Galactic}, nil
	case Ecliptic:
		e := new(coord.Ecliptic).EqToEcl(eq, obliquityJ2000)
		return SkyCoord{Lon: unit.AngleFromDeg(unit.PMod(e.Lon.Deg(), 360)), Lat: e.Lat, Frame: Ecliptic}, nil
	default:
		return SkyCoord{}, fmt.Errorf("coords: cannot transform to %s", to)
	}
}

// Separation returns the angular distance between a and b, or NaN when b
// cannot be expressed in a's frame.
func Separation(a, b SkyCoord) unit.Angle {
	if a.Frame != b.Frame {
		var err error
		if b, err = b.Transform(a.Frame); err != nil {
			return unit.Angle(math.NaN())
		}
	}
	return angle.Sep(a.Lon, a.Lat, b.Lon, b.Lat)
}

// FromTable computes ICRS sky coordinates from the right ascension and
// declination columns of t, honoring their FITS units. Columns without a
// unit are read as degrees.
func FromTable(ctx context.Context, t *catalog.Table, raCol, decCol string) ([]SkyCoord, error) {
	raUnit, err := ParseUnit(t.Unit(raCol))
	if err != nil {
		return nil, fmt.Errorf("coords: column %q: %w", raCol, err)
	}
	decUnit, err := ParseUnit(t.Unit(decCol))
	if err != nil {
		return nil, fmt.Errorf("coords: column %q: %w", decCol, err)
	}

	ra, err := t.Float64Column(ctx, raCol)
	if err != nil {
		return nil, err
	}
	defer ra.Release()
	dec, err := t.Float64Column(ctx, decCol)
	if err != nil {
		return nil, err
	}
	defer dec.Release()

	out := make([]SkyCoord, ra.Len())
	for i := range out {
		if ra.IsNull(i) || dec.IsNull(i) {
			return nil, fmt.Errorf("%w: row %d", ErrNullPosition, i)
		}
		out[i] = SkyCoord{
			Lon:   raUnit.Angle(ra.Value(i)),
			Lat:   decUnit.Angle(dec.Value(i)),
			Frame: ICRS,
		}
	}
	return out, nil
}

// TransformAll converts every coordinate of cs into frame to.
func TransformAll(cs []SkyCoord, to Frame) ([]SkyCoord, error) {
	out := make([]SkyCoord, len(cs))
	for i, c := range cs {
		tc, err := c.Transform(to)
		if err != nil {
			return nil, err
		}
		out[i] = tc
	}
	return out, nil
}
