package coordinator

import (
	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

// DefaultPalette is the ColorCycle order.
var DefaultPalette = []model.Color{
	{R: 255, G: 100, B: 100},
	{R: 100, G: 255, B: 100},
	{R: 100, G: 100, B: 255},
	{R: 255, G: 255, B: 100},
	{R: 255, G: 100, B: 255},
	{R: 100, G: 255, B: 255},
	{R: 255, G: 255, B: 255},
}

var (
	colorAQIGood      = model.Color{R: 0, G: 255, B: 0}
	colorAQIModerate  = model.Color{R: 255, G: 255, B: 0}
	colorAQIUnhealthy = model.Color{R: 255, G: 165, B: 0}
	colorAQIDangerous = model.Color{R: 255, G: 0, B: 0}

	colorCold = model.Color{R: 255, G: 140, B: 0}
	colorHot  = model.Color{R: 0, G: 191, B: 255}
	colorWarm = model.Color{R: 255, G: 244, B: 229}
)

const aqiGood = 50

// gatedInAuto lists the inputs that would fight the automation.
func gatedInAuto(k model.InputKind) bool {
	switch k {
	case model.InputColorCycle, model.InputColorSet, model.InputBrightnessSet:
		return true
	}
	return false
}

// nextColor returns the palette entry after c, or the first entry when c is
// not in the palette.
func nextColor(palette []model.Color, c model.Color) model.Color {
	for i, p := range palette {
		if p == c {
			return palette[(i+1)%len(palette)]
		}
	}
	return palette[0]
}

func clampBrightness(v, floor int) int {
	if v < floor {
		return floor
	}
	if v > 100 {
		return 100
	}
	return v
}

// applyInput is the pure manual transition for in. It also returns the
// interaction action it counts as.
func (c *Coordinator) applyInput(s model.LampState, in model.InputEvent) (model.LampState, model.Action) {
	switch in.Kind {
	case model.InputPowerToggle:
		return c.power(s, !s.IsOn)
	case model.InputPowerOn:
		return c.power(s, true)
	case model.InputPowerOff:
		return c.power(s, false)
	case model.InputColorCycle:
		s.Color = nextColor(c.opts.Palette, s.Color)
		return s, model.ActionColorChange
	case model.InputColorSet:
		s.Color = in.Color
		return s, model.ActionColorChange
	case model.InputBrightnessSet:
		s.Brightness = clampBrightness(in.Brightness, c.opts.MinBrightness)
		return s, model.ActionBrightnessChange
	case model.InputModeCycle:
		s.Mode = s.Mode.Next()
		return s, model.ActionModeChange
	case model.InputModeSet:
		s.Mode = in.Mode
		return s, model.ActionModeChange
	}
	return s, ""
}

func (c *Coordinator) power(s model.LampState, on bool) (model.LampState, model.Action) {
	s.IsOn = on
	if !on {
		return s, model.ActionTurnOff
	}
	if s.Brightness < c.opts.MinBrightness {
		s.Brightness = c.opts.MinBrightness
	}
	return s, model.ActionTurnOn
}

func (c *Coordinator) aqiColor(aqi float64) model.Color {
	switch {
	case aqi <= aqiGood:
		return colorAQIGood
	case aqi <= c.opts.AQIMedium:
		return colorAQIModerate
	case aqi <= c.opts.AQIHigh:
		return colorAQIUnhealthy
	}
	return colorAQIDangerous
}

func (c *Coordinator) temperatureColor(celsius float64) model.Color {
	switch {
	case celsius < c.opts.ColdBelow:
		return colorCold
	case celsius > c.opts.HotAbove:
		return colorHot
	}
	return colorWarm
}
