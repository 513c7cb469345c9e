package model

import "time"

type AlertType string

const (
	AlertSeismic     AlertType = "seismic"
	AlertAirQuality  AlertType = "air_quality"
	AlertTemperature AlertType = "temperature"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Alert struct {
	ID         string            `json:"id"`
	Type       AlertType         `json:"type"`
	Severity   Severity          `json:"severity"`
	Value      float64           `json:"value"`
	Payload    map[string]string `json:"payload,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Emergency is true for the only alert class that overrides every mode.
func (a Alert) Emergency() bool {
	return a.Type == AlertSeismic && a.Severity == SeverityHigh
}

type PredictionResult struct {
	ShouldBeOn      bool      `json:"should_be_on"`
	PowerConfidence float64   `json:"power_confidence"`
	PredictedColor  Color     `json:"predicted_color"`
	ColorConfidence float64   `json:"color_confidence"`
	GeneratedAt     time.Time `json:"generated_at"`
	Hour            int       `json:"hour"`
}

type InputKind string

const (
	InputPowerToggle   InputKind = "power_toggle"
	InputPowerOn       InputKind = "power_on"
	InputPowerOff      InputKind = "power_off"
	InputColorCycle    InputKind = "color_cycle"
	InputColorSet      InputKind = "color_set"
	InputBrightnessSet InputKind = "brightness_set"
	InputModeCycle     InputKind = "mode_cycle"
	InputModeSet       InputKind = "mode_set"
)

type InputSource string

const (
	SourceButton        InputSource = "button"
	SourcePotentiometer InputSource = "potentiometer"
	SourceAPI           InputSource = "api"
)

type InputEvent struct {
	Kind       InputKind   `json:"kind"`
	Source     InputSource `json:"source"`
	Brightness int         `json:"brightness,omitempty"`
	Color      Color       `json:"color,omitempty"`
	Mode       Mode        `json:"mode,omitempty"`
}

type Button string

const (
	ButtonPower Button = "power"
	ButtonColor Button = "color"
	ButtonMode  Button = "mode"
)
