package tank

import "math"

// litersPerCubicCm converts cm³ to litres.
const litersPerCubicCm = 0.001

// fillTolerance absorbs float noise when a reading sits exactly at the full mark.
const fillTolerance = 1e-9

// Estimate computes volume, fill percentage and days until empty for a tank
// whose sensor reports distanceCm from the mount to the liquid surface.
//
// A reading outside the tank (negative distance, or a distance beyond the
// reference height) yields no volume and no fill percentage rather than a
// negative or over-full figure.
func Estimate(g Geometry, distanceCm float64) VolumeEstimate {
	var est VolumeEstimate

	ref, ok := referenceHeight(g)
	if !ok || !finite(distanceCm) || distanceCm < 0 {
		return est
	}

	h := ref - distanceCm
	if h < 0 || h > ref {
		return est
	}

	if v, ok := volume(g, h); ok {
		est.VolumeLiters = &v
	}
	if p, ok := fillPercent(g, h, ref); ok {
		est.FillPercent = &p
	}
	if est.VolumeLiters != nil {
		if usage, ok := positive(g.DailyUsage); ok {
			days := *est.VolumeLiters / usage
			est.DaysUntilEmpty = &days
		}
	}
	return est
}

// EffectiveHeight returns the liquid column height for a reading, and false
// when the geometry has no reference height or the reading is out of range.
func EffectiveHeight(g Geometry, distanceCm float64) (float64, bool) {
	ref, ok := referenceHeight(g)
	if !ok || !finite(distanceCm) || distanceCm < 0 || distanceCm > ref {
		return 0, false
	}
	return ref - distanceCm, true
}

// referenceHeight is the mount-to-bottom distance. A horizontal cylinder
// without an explicit height is assumed to have the sensor on its top.
func referenceHeight(g Geometry) (float64, bool) {
	if h, ok := positive(g.Height); ok {
		return h, true
	}
	if g.Shape == ShapeHorizontalCylinder {
		return positive(g.Diameter)
	}
	return 0, false
}

func volume(g Geometry, h float64) (float64, bool) {
	var v float64
	switch g.Shape {
	case ShapeRectangle:
		length, okL := positive(g.Length)
		width, okW := positive(g.Width)
		if !okL || !okW {
			return 0, false
		}
		v = length * width * h * litersPerCubicCm

	case ShapeVerticalCylinder:
		d, ok := positive(g.Diameter)
		if !ok {
			return 0, false
		}
		r := d / 2
		v = math.Pi * r * r * h * litersPerCubicCm

	case ShapeHorizontalCylinder:
		d, okD := positive(g.Diameter)
		length, okL := positive(g.Length)
		if !okD || !okL || h > d {
			return 0, false
		}
		v = horizontalCylinderVolume(d/2, length, h)

	default:
		return 0, false
	}

	if !finite(v) {
		return 0, false
	}
	return v, true
}

// horizontalCylinderVolume returns litres held by a cylinder of radius r lying
// on its side, filled to depth h (0 <= h <= 2r).
func horizontalCylinderVolume(r, length, h float64) float64 {
	if h == 0 {
		return 0
	}
	if h <= r {
		return segmentArea(r, h) * length * litersPerCubicCm
	}
	total := math.Pi * r * r * length * litersPerCubicCm
	return total - segmentArea(r, 2*r-h)*length*litersPerCubicCm
}

// segmentArea is the area of the circular segment of depth h cut from a circle of radius r.
func segmentArea(r, h float64) float64 {
	ratio := (r - h) / r
	// sensor jitter can push the ratio just outside acos's domain
	ratio = math.Max(-1, math.Min(1, ratio))
	theta := 2 * math.Acos(ratio)
	return (r * r / 2) * (theta - math.Sin(theta))
}

// fillPercent measures h against the full mark: FullDepth when set, else the reference height.
func fillPercent(g Geometry, h, ref float64) (float64, bool) {
	full := ref
	if fd, ok := positive(g.FullDepth); ok {
		full = fd
	}
	p := h / full * 100
	if !finite(p) || p > 100+fillTolerance {
		return 0, false
	}
	return math.Min(p, 100), true
}

func positive(v *float64) (float64, bool) {
	if v == nil || !finite(*v) || *v <= 0 {
		return 0, false
	}
	return *v, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
