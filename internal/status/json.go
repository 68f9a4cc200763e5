package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Tanks         []TankJSON `json:"tanks"`
	Config        ConfigJSON `json:"config"`
}

// MQTTStatus reports how many tank sessions are connected.
type MQTTStatus struct {
	Broker    string `json:"broker"`
	Sessions  int    `json:"sessions"`
	Connected int    `json:"connected"`
}

// TankJSON is the JSON representation of a tank view. Unavailable values are null.
type TankJSON struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Shape          string      `json:"shape,omitempty"`
	Channel        ChannelJSON `json:"channel"`
	DistanceCm     *float64    `json:"distance_cm"`
	VolumeLiters   *float64    `json:"volume_liters"`
	FillPercent    *float64    `json:"fill_percent"`
	DaysUntilEmpty *float64    `json:"days_until_empty"`
	Temperature    *float64    `json:"temperature"`
	PH             *float64    `json:"ph"`
	TDS            *float64    `json:"tds"`
	Turbidity      *float64    `json:"turbidity"`
	Flow           *float64    `json:"waterflow"`
	PumpOn         *bool       `json:"pump_on"`
	LastReading    string      `json:"last_reading,omitempty"`
	Alerts         []AlertJSON `json:"alerts,omitempty"`
}

// ChannelJSON is the JSON representation of a session state.
type ChannelJSON struct {
	Status    string `json:"status"`
	Text      string `json:"text"`
	LastError string `json:"last_error,omitempty"`
	Attempts  int    `json:"attempts"`
}

// AlertJSON is the JSON representation of a fired alert.
type AlertJSON struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ConfigJSON is the JSON representation of service config.
type ConfigJSON struct {
	Broker       string `json:"broker"`
	HTTPAddr     string `json:"http_addr"`
	RetryDelayMs int64  `json:"retry_delay_ms"`
	Database     string `json:"database,omitempty"`
}

// BuildTank converts a tank view to its JSON form.
func BuildTank(tv TankView) TankJSON {
	tj := TankJSON{
		ID:    tv.ID,
		Name:  tv.Name,
		Shape: string(tv.Shape),
		Channel: ChannelJSON{
			Status:    string(tv.Channel.Status),
			Text:      tv.Channel.Text(),
			LastError: tv.Channel.LastError,
			Attempts:  tv.Channel.Attempts,
		},
		DistanceCm:     tv.DistanceCm,
		VolumeLiters:   tv.Estimate.VolumeLiters,
		FillPercent:    tv.Estimate.FillPercent,
		DaysUntilEmpty: tv.Estimate.DaysUntilEmpty,
		Temperature:    tv.Temperature,
		PH:             tv.PH,
		TDS:            tv.TDS,
		Turbidity:      tv.Turbidity,
		Flow:           tv.Flow,
		PumpOn:         tv.PumpOn,
	}
	if !tv.LastReading.IsZero() {
		tj.LastReading = tv.LastReading.UTC().Format(time.RFC3339)
	}
	for _, a := range tv.Alerts {
		tj.Alerts = append(tj.Alerts, AlertJSON{Type: string(a.Type), Message: a.Message})
	}
	return tj
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT: MQTTStatus{
			Broker:    snap.Config.Broker,
			Sessions:  len(snap.Tanks),
			Connected: snap.Connected(),
		},
		Tanks: make([]TankJSON, 0, len(snap.Tanks)),
		Config: ConfigJSON{
			Broker:       snap.Config.Broker,
			HTTPAddr:     snap.Config.HTTPAddr,
			RetryDelayMs: snap.Config.RetryDelayMs,
			Database:     snap.Config.Database,
		},
	}
	for _, tv := range snap.Tanks {
		inner.Tanks = append(inner.Tanks, BuildTank(tv))
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
