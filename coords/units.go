package coords

import (
	"fmt"
	"strings"

	"github.com/soniakeys/unit"
)

// Unit converts raw column values into angles.
type Unit struct {
	name string
	conv func(float64) unit.Angle
}

func (u Unit) String() string { return u.name }

// Angle converts v, expressed in u, to an angle.
func (u Unit) Angle(v float64) unit.Angle { return u.conv(v) }

var (
	Degree    = Unit{"deg", unit.AngleFromDeg}
	Radian    = Unit{"rad", func(v float64) unit.Angle { return unit.Angle(v) }}
	HourAngle = Unit{"hourangle", func(v float64) unit.Angle { return unit.AngleFromDeg(v * 15) }}
	Arcminute = Unit{"arcmin", unit.AngleFromMin}
	Arcsecond = Unit{"arcsec", unit.AngleFromSec}
	Milliarc  = Unit{"mas", func(v float64) unit.Angle { return unit.AngleFromSec(v / 1000) }}
)

// ParseUnit maps a FITS TUNIT string onto an angular unit. The empty
// string is degrees.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "deg", "degree", "degrees":
		return Degree, nil
	case "rad", "radian", "radians":
		return Radian, nil
	case "h", "hr", "hour", "hours", "hourangle":
		return HourAngle, nil
	case "arcmin", "amin":
		return Arcminute, nil
	case "arcsec", "asec":
		return Arcsecond, nil
	case "mas":
		return Milliarc, nil
	default:
		return Unit{}, fmt.Errorf("unsupported angular unit %q", s)
	}
}
