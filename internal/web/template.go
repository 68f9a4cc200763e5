package web

import (
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/tank-monitor/internal/channel"
	"github.com/sweeney/tank-monitor/internal/status"
	"github.com/sweeney/tank-monitor/internal/tank"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"value": tank.FormatValue,
	"pump": func(on *bool) string {
		switch {
		case on == nil:
			return tank.Unavailable
		case *on:
			return "ON"
		}
		return "OFF"
	},
	"statusClass": func(tv status.TankView) string {
		if tv.Channel.Status == channel.StatusConnected {
			return "connected"
		}
		if tv.Channel.LastError != "" {
			return "disconnected"
		}
		return "pending"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Tank Monitor</title>
<style>
body { font-family: monospace; max-width: 800px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
h2 { font-size: 1.2em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.connected { color: green; }
.disconnected { color: red; }
.pending { color: orange; }
.alert { color: #b00; }
</style>
</head>
<body>
<h1>Tank Monitor</h1>

{{range .Tanks}}
<h2>{{if .Name}}{{.Name}}{{else}}{{.ID}}{{end}}</h2>
<table data-tank="{{.ID}}">
<tr><th>Connection</th><td class="{{statusClass .}}" data-field="channel">{{.Channel.Text}}</td></tr>
<tr><th>Shape</th><td>{{.Shape}}</td></tr>
<tr><th>Water Level</th><td data-field="distance_cm">{{value .DistanceCm "cm"}}</td></tr>
<tr><th>Water Volume</th><td data-field="volume_liters">{{value .Estimate.VolumeLiters "liters"}}</td></tr>
<tr><th>Water Height</th><td data-field="fill_percent">{{value .Estimate.FillPercent "%"}}</td></tr>
<tr><th>Estimated Days Until Empty</th><td data-field="days_until_empty">{{value .Estimate.DaysUntilEmpty "days"}}</td></tr>
<tr><th>Temperature</th><td data-field="temperature">{{value .Temperature "°C"}}</td></tr>
<tr><th>pH</th><td data-field="ph">{{value .PH ""}}</td></tr>
<tr><th>TDS</th><td data-field="tds">{{value .TDS "ppm"}}</td></tr>
<tr><th>Turbidity</th><td data-field="turbidity">{{value .Turbidity "NTU"}}</td></tr>
<tr><th>Water Flow</th><td data-field="waterflow">{{value .Flow "L/min"}}</td></tr>
<tr><th>Pump</th><td data-field="pump_on">{{pump .PumpOn}}</td></tr>
<tr><th>Last Reading</th><td>{{if .LastReading.IsZero}}never{{else}}{{.LastReading.UTC.Format "2006-01-02T15:04:05Z"}}{{end}}</td></tr>
</table>
{{range .Alerts}}<p class="alert">{{.Message}}</p>
{{end}}
{{else}}
<p>No tanks registered.</p>
{{end}}

<h2>System</h2>
<table>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Sessions</th><td>{{.Connected}} of {{len .Tanks}} connected</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Retry delay</th><td>{{.Config.RetryDelayMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var units = { distance_cm: " cm", volume_liters: " liters", fill_percent: "%",
    days_until_empty: " days", temperature: " °C", ph: "", tds: " ppm",
    turbidity: " NTU", waterflow: " L/min" };

  function show(table, t) {
    table.querySelectorAll("[data-field]").forEach(function(el) {
      var f = el.getAttribute("data-field");
      if (f === "channel") { el.textContent = t.channel.text; return; }
      if (f === "pump_on") { el.textContent = t.pump_on === null ? "N/A" : (t.pump_on ? "ON" : "OFF"); return; }
      var v = t[f];
      el.textContent = (v === null || v === undefined) ? "N/A" : v.toFixed(2) + units[f];
    });
  }

  document.querySelectorAll("table[data-tank]").forEach(function(table) {
    var id = table.getAttribute("data-tank");
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws/tanks/" + encodeURIComponent(id));
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.type === "tank") { show(table, msg.data); }
      } catch (e) {}
    };
  });
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() and Connected() methods but the template needs fields.
	data := struct {
		status.Snapshot
		Uptime    time.Duration
		Connected int
	}{
		Snapshot:  snap,
		Uptime:    snap.Uptime(),
		Connected: snap.Connected(),
	}
	return indexTmpl.Execute(w, data)
}

func (h *Handler) index(c *gin.Context) {
	snap := h.svc.Tracker().Snapshot()
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := renderHTML(c.Writer, snap); err != nil {
		h.log.Errorw("index_render_failed", "err", err)
	}
}

func (h *Handler) indexJSON(c *gin.Context) {
	snap := h.svc.Tracker().Snapshot()
	c.Data(http.StatusOK, "application/json", status.FormatJSON(snap))
}
