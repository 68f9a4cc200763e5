package tank

import (
	"fmt"
	"strings"
)

// AlertType names an alert a user can configure on a tank.
type AlertType string

const (
	AlertEmpty    AlertType = "empty"
	AlertFilling  AlertType = "filling"
	AlertFull     AlertType = "full"
	AlertDraining AlertType = "draining"
	AlertLeaking  AlertType = "leaking"
	AlertFlooding AlertType = "flooding"
)

// ParseAlertType normalizes user input to a known alert type.
func ParseAlertType(s string) (AlertType, error) {
	t := AlertType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case AlertEmpty, AlertFilling, AlertFull, AlertDraining, AlertLeaking, AlertFlooding:
		return t, nil
	}
	return "", fmt.Errorf("unknown alert type %q", s)
}

// AlertRule is one configured alert: a type and its threshold.
// empty/full thresholds are fill percentages, filling/draining are litres per reading.
type AlertRule struct {
	ID    string    `json:"id"`
	Type  AlertType `json:"type"`
	Value float64   `json:"value"`
}

// Alert is a rule that fired for a reading.
type Alert struct {
	Type      AlertType
	Threshold float64
	Observed  float64
	Message   string
}

// EvaluateAlerts checks rules against the current estimate. previous is the
// estimate from the prior reading of the same tank, or nil for the first one.
// empty and full fire when the fill crosses into the threshold, not on every
// reading that stays past it. leaking and flooding rules need flow
// correlation and never fire here.
func EvaluateAlerts(rules []AlertRule, previous *VolumeEstimate, current VolumeEstimate) []Alert {
	var fired []Alert

	for _, rule := range rules {
		switch rule.Type {
		case AlertEmpty:
			if crossed(previous, current, func(fill float64) bool { return fill <= rule.Value }) {
				fired = append(fired, Alert{
					Type:      rule.Type,
					Threshold: rule.Value,
					Observed:  *current.FillPercent,
					Message:   fmt.Sprintf("Tank is empty: %.1f%% <= %.1f%%", *current.FillPercent, rule.Value),
				})
			}

		case AlertFull:
			if crossed(previous, current, func(fill float64) bool { return fill >= rule.Value }) {
				fired = append(fired, Alert{
					Type:      rule.Type,
					Threshold: rule.Value,
					Observed:  *current.FillPercent,
					Message:   fmt.Sprintf("Tank is full: %.1f%% >= %.1f%%", *current.FillPercent, rule.Value),
				})
			}

		case AlertFilling, AlertDraining:
			delta, ok := volumeDelta(previous, current)
			if !ok || rule.Value <= 0 {
				continue
			}
			if rule.Type == AlertFilling && delta >= rule.Value {
				fired = append(fired, Alert{
					Type:      rule.Type,
					Threshold: rule.Value,
					Observed:  delta,
					Message:   fmt.Sprintf("Tank is filling up: +%.1f L", delta),
				})
			}
			if rule.Type == AlertDraining && -delta >= rule.Value {
				fired = append(fired, Alert{
					Type:      rule.Type,
					Threshold: rule.Value,
					Observed:  -delta,
					Message:   fmt.Sprintf("Tank is draining: -%.1f L", -delta),
				})
			}
		}
	}
	return fired
}

// crossed reports whether past holds for the current fill but did not hold
// for the previous one. An unavailable previous fill counts as not past.
func crossed(previous *VolumeEstimate, current VolumeEstimate, past func(float64) bool) bool {
	if current.FillPercent == nil || !past(*current.FillPercent) {
		return false
	}
	return previous == nil || previous.FillPercent == nil || !past(*previous.FillPercent)
}

func volumeDelta(previous *VolumeEstimate, current VolumeEstimate) (float64, bool) {
	if previous == nil || previous.VolumeLiters == nil || current.VolumeLiters == nil {
		return 0, false
	}
	return *current.VolumeLiters - *previous.VolumeLiters, true
}
