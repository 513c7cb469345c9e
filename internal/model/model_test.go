package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLampStateValidate(t *testing.T) {
	base := LampState{IsOn: true, Brightness: 50, Color: White, Mode: ModeManual}

	tests := []struct {
		name    string
		mutate  func(s *LampState)
		wantErr bool
	}{
		{"valid", func(s *LampState) {}, false},
		{"brightness zero", func(s *LampState) { s.Brightness = 0 }, false},
		{"brightness max", func(s *LampState) { s.Brightness = 100 }, false},
		{"brightness negative", func(s *LampState) { s.Brightness = -1 }, true},
		{"brightness over", func(s *LampState) { s.Brightness = 101 }, true},
		{"red over", func(s *LampState) { s.Color.R = 256 }, true},
		{"blue negative", func(s *LampState) { s.Color.B = -5 }, true},
		{"unknown mode", func(s *LampState) { s.Mode = "party" }, true},
		{"empty mode", func(s *LampState) { s.Mode = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidTransition))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestModeNextCycles(t *testing.T) {
	assert.Equal(t, ModeAuto, ModeManual.Next())
	assert.Equal(t, ModeEnvironmental, ModeAuto.Next())
	assert.Equal(t, ModeManual, ModeEnvironmental.Next())
}

func TestNewInteractionCalendarFields(t *testing.T) {
	// 2024-06-08 is a Saturday
	at := time.Date(2024, 6, 8, 21, 15, 0, 0, time.UTC)
	rec := NewInteraction(at, ActionTurnOn, LampState{IsOn: true, Brightness: 70, Color: White})

	assert.Equal(t, 21, rec.Hour)
	assert.Equal(t, 5, rec.DayOfWeek)
	assert.True(t, rec.IsWeekend)
	assert.Equal(t, 70, rec.Brightness)
	assert.True(t, rec.IsOn)

	monday := time.Date(2024, 6, 10, 7, 0, 0, 0, time.UTC)
	rec = NewInteraction(monday, ActionTurnOff, LampState{})
	assert.Equal(t, 0, rec.DayOfWeek)
	assert.False(t, rec.IsWeekend)
}

func TestAlertEmergency(t *testing.T) {
	assert.True(t, Alert{Type: AlertSeismic, Severity: SeverityHigh}.Emergency())
	assert.False(t, Alert{Type: AlertSeismic, Severity: SeverityMedium}.Emergency())
	assert.False(t, Alert{Type: AlertAirQuality, Severity: SeverityHigh}.Emergency())
}
