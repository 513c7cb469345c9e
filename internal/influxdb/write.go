package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

// LampStatePoint builds the lamp_state measurement for s.
func LampStatePoint(s model.LampState) *write.Point {
	on := 0
	if s.IsOn {
		on = 1
	}
	return write.NewPoint(
		"lamp_state",
		map[string]string{
			"mode":    string(s.Mode),
			"trigger": string(s.LastTrigger),
		},
		map[string]interface{}{
			"is_on":      on,
			"brightness": s.Brightness,
			"red":        s.Color.R,
			"green":      s.Color.G,
			"blue":       s.Color.B,
		},
		s.UpdatedAt,
	)
}

func PredictionPoint(p model.PredictionResult) *write.Point {
	return write.NewPoint(
		"prediction",
		map[string]string{
			"should_be_on": boolTag(p.ShouldBeOn),
		},
		map[string]interface{}{
			"power_confidence": p.PowerConfidence,
			"color_confidence": p.ColorConfidence,
			"hour":             p.Hour,
			"red":              p.PredictedColor.R,
			"green":            p.PredictedColor.G,
			"blue":             p.PredictedColor.B,
		},
		p.GeneratedAt,
	)
}

func AlertPoint(a model.Alert) *write.Point {
	return write.NewPoint(
		"environmental_alert",
		map[string]string{
			"type":     string(a.Type),
			"severity": string(a.Severity),
		},
		map[string]interface{}{
			"value": a.Value,
		},
		a.ReceivedAt,
	)
}

func (c *Client) WriteLampState(s model.LampState) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(LampStatePoint(s))
}

func (c *Client) WritePrediction(p model.PredictionResult) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(PredictionPoint(p))
}

func (c *Client) WriteAlert(a model.Alert) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(AlertPoint(a))
}

func boolTag(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
