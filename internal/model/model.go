package model

import (
	"fmt"
	"time"
)

type Mode string

const (
	ModeManual        Mode = "manual"
	ModeAuto          Mode = "auto"
	ModeEnvironmental Mode = "environmental"
)

// Next returns the mode that follows m in the button cycle.
func (m Mode) Next() Mode {
	switch m {
	case ModeManual:
		return ModeAuto
	case ModeAuto:
		return ModeEnvironmental
	default:
		return ModeManual
	}
}

func (m Mode) Valid() bool {
	switch m {
	case ModeManual, ModeAuto, ModeEnvironmental:
		return true
	}
	return false
}

type Trigger string

const (
	TriggerManual        Trigger = "manual"
	TriggerPotentiometer Trigger = "potentiometer"
	TriggerPrediction    Trigger = "ml_prediction"
	TriggerAlert         Trigger = "environmental_alert"
	TriggerAutoTimeout   Trigger = "auto_timeout"
	TriggerRestore       Trigger = "system_restore"
)

type Color struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

var (
	White = Color{255, 255, 255}
	Black = Color{0, 0, 0}
)

func (c Color) Valid() bool {
	return inByte(c.R) && inByte(c.G) && inByte(c.B)
}

func (c Color) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.R, c.G, c.B)
}

func inByte(v int) bool {
	return v >= 0 && v <= 255
}

type LampState struct {
	IsOn        bool      `json:"is_on"`
	Brightness  int       `json:"brightness"`
	Color       Color     `json:"color"`
	Mode        Mode      `json:"mode"`
	LastTrigger Trigger   `json:"last_trigger"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate reports the first range violation in s, wrapped in ErrInvalidTransition.
func (s LampState) Validate() error {
	if s.Brightness < 0 || s.Brightness > 100 {
		return fmt.Errorf("%w: brightness %d out of range 0-100", ErrInvalidTransition, s.Brightness)
	}
	if !s.Color.Valid() {
		return fmt.Errorf("%w: color %s out of range 0-255", ErrInvalidTransition, s.Color)
	}
	if !s.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidTransition, s.Mode)
	}
	return nil
}

// SameOutput compares the user-visible fields, ignoring trigger and timestamp.
func (s LampState) SameOutput(o LampState) bool {
	return s.IsOn == o.IsOn &&
		s.Brightness == o.Brightness &&
		s.Color == o.Color &&
		s.Mode == o.Mode
}

type Action string

const (
	ActionTurnOn           Action = "turn_on"
	ActionTurnOff          Action = "turn_off"
	ActionColorChange      Action = "color_change"
	ActionBrightnessChange Action = "brightness_change"
	ActionModeChange       Action = "mode_change"
	ActionPredictionAdjust Action = "ml_adjust"
)

type InteractionRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Action     Action    `json:"action"`
	IsOn       bool      `json:"is_on"`
	Brightness int       `json:"resulting_brightness"`
	Color      Color     `json:"resulting_color"`
	Hour       int       `json:"hour"`
	DayOfWeek  int       `json:"day_of_week"`
	IsWeekend  bool      `json:"is_weekend"`
}

// NewInteraction stamps the calendar fields from at. Monday is day 0.
func NewInteraction(at time.Time, action Action, s LampState) InteractionRecord {
	day := (int(at.Weekday()) + 6) % 7
	return InteractionRecord{
		Timestamp:  at,
		Action:     action,
		IsOn:       s.IsOn,
		Brightness: s.Brightness,
		Color:      s.Color,
		Hour:       at.Hour(),
		DayOfWeek:  day,
		IsWeekend:  day >= 5,
	}
}

type SystemEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Trigger   Trigger   `json:"trigger,omitempty"`
	Detail    string    `json:"detail"`
}

type GPIOPin struct {
	Number     int
	ActiveHigh bool
}
