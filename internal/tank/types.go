// Package tank contains the pure tank model: geometry, volume estimation and alert rules.
// This package has NO external dependencies (no MQTT, storage or clocks).
// Time is always passed in by the caller.
package tank

import (
	"fmt"
	"strings"
	"time"
)

// Shape is the physical form of a tank.
type Shape string

const (
	ShapeRectangle          Shape = "Rectangle"
	ShapeVerticalCylinder   Shape = "Vertical Cylinder"
	ShapeHorizontalCylinder Shape = "Horizontal Cylinder"
)

// ParseShape accepts the stored display names as well as compact forms
// such as "vertical_cylinder" or "horizontalcylinder".
func ParseShape(s string) (Shape, error) {
	key := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))

	switch key {
	case "rectangle", "rectangular":
		return ShapeRectangle, nil
	case "verticalcylinder", "vertical":
		return ShapeVerticalCylinder, nil
	case "horizontalcylinder", "horizontal":
		return ShapeHorizontalCylinder, nil
	}
	return "", fmt.Errorf("unknown tank shape %q", s)
}

// Geometry describes a tank. Linear fields are centimetres, DailyUsage is litres per day.
// Nil pointers mean the field was never entered.
type Geometry struct {
	Shape      Shape    `json:"shape" yaml:"shape"`
	Height     *float64 `json:"height,omitempty" yaml:"height,omitempty"` // sensor mount to bottom
	Width      *float64 `json:"width,omitempty" yaml:"width,omitempty"`
	Length     *float64 `json:"length,omitempty" yaml:"length,omitempty"`
	Diameter   *float64 `json:"diameter,omitempty" yaml:"diameter,omitempty"`
	FullDepth  *float64 `json:"fullDepth,omitempty" yaml:"fullDepth,omitempty"`
	DailyUsage *float64 `json:"dailyUsage,omitempty" yaml:"dailyUsage,omitempty"`
}

// Validate reports the fields the shape requires that are missing or not positive.
// Estimate does not call it; incomplete geometry only degrades estimates.
func (g Geometry) Validate() error {
	var missing []string
	need := func(name string, v *float64) {
		if _, ok := positive(v); !ok {
			missing = append(missing, name)
		}
	}

	switch g.Shape {
	case ShapeRectangle:
		need("height", g.Height)
		need("width", g.Width)
		need("length", g.Length)
	case ShapeVerticalCylinder:
		need("height", g.Height)
		need("diameter", g.Diameter)
	case ShapeHorizontalCylinder:
		need("diameter", g.Diameter)
		need("length", g.Length)
	default:
		return fmt.Errorf("unknown tank shape %q", g.Shape)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%s tank requires positive %s", g.Shape, strings.Join(missing, ", "))
	}
	return nil
}

// LevelReading is one raw distance sample received for a tank.
type LevelReading struct {
	TankID     string
	DistanceCm float64
	ReceivedAt time.Time
}

// VolumeEstimate is derived from a single reading. Each field is nil when
// the inputs it depends on are missing or out of range.
type VolumeEstimate struct {
	VolumeLiters   *float64 `json:"volume_liters"`
	FillPercent    *float64 `json:"fill_percent"`
	DaysUntilEmpty *float64 `json:"days_until_empty"`
}

// Float returns a pointer to v. Handy for building geometries in code and tests.
func Float(v float64) *float64 {
	return &v
}
