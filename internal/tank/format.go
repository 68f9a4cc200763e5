package tank

import "fmt"

// Unavailable is shown in place of a value that could not be computed.
const Unavailable = "N/A"

// FormatValue renders v with two decimals and a unit suffix, or Unavailable.
func FormatValue(v *float64, unit string) string {
	if v == nil {
		return Unavailable
	}
	if unit == "" {
		return fmt.Sprintf("%.2f", *v)
	}
	if unit == "%" {
		return fmt.Sprintf("%.2f%%", *v)
	}
	return fmt.Sprintf("%.2f %s", *v, unit)
}

// Lines renders an estimate the way the tank detail view shows it.
func (e VolumeEstimate) Lines() []string {
	return []string{
		"Water Volume: " + FormatValue(e.VolumeLiters, "liters"),
		"Water Height: " + FormatValue(e.FillPercent, "%"),
		"Estimated Days Until Empty: " + FormatValue(e.DaysUntilEmpty, "days"),
	}
}
