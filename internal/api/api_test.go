package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/smart-lamp/db"
	"github.com/thatsimonsguy/smart-lamp/internal/coordinator"
	"github.com/thatsimonsguy/smart-lamp/internal/events"
	"github.com/thatsimonsguy/smart-lamp/internal/model"
	"github.com/thatsimonsguy/smart-lamp/internal/prediction"
)

type fakeLamp struct {
	state     model.LampState
	submitted []model.InputEvent
	reject    string
	err       error
}

func (f *fakeLamp) Status() coordinator.Status {
	return coordinator.Status{State: f.state, Mode: f.state.Mode}
}

func (f *fakeLamp) Submit(_ context.Context, in model.InputEvent) (events.Outcome, error) {
	if f.err != nil {
		return events.Outcome{}, f.err
	}
	f.submitted = append(f.submitted, in)
	if f.reject != "" {
		return events.Outcome{Reason: f.reject, State: f.state}, nil
	}
	switch in.Kind {
	case model.InputPowerOn:
		f.state.IsOn = true
	case model.InputBrightnessSet:
		f.state.Brightness = in.Brightness
	case model.InputColorSet:
		f.state.Color = in.Color
	}
	return events.Outcome{Accepted: true, State: f.state}, nil
}

func (f *fakeLamp) SetMode(ctx context.Context, mode model.Mode) (events.Outcome, error) {
	out, err := f.Submit(ctx, model.InputEvent{Kind: model.InputModeSet, Source: model.SourceAPI, Mode: mode})
	if err == nil && out.Accepted {
		f.state.Mode = mode
		out.State = f.state
	}
	return out, err
}

type fakePredictor struct {
	forecastDay time.Time
	trainErr    error
	trained     int
}

func (f *fakePredictor) Forecast(day time.Time) []prediction.ForecastEntry {
	f.forecastDay = day
	return make([]prediction.ForecastEntry, 24)
}

func (f *fakePredictor) Status() prediction.Status {
	return prediction.Status{State: prediction.StateTrained, RecordCount: 42, Threshold: 0.75}
}

func (f *fakePredictor) TrainNow(time.Time) error {
	if f.trainErr != nil {
		return f.trainErr
	}
	f.trained++
	return nil
}

type fakeStats struct {
	stats  db.Stats
	alerts []model.Alert
	err    error
}

func (f fakeStats) Stats() (db.Stats, error) { return f.stats, f.err }

func (f fakeStats) Alerts(since time.Time, limit int) ([]model.Alert, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Alert
	for _, a := range f.alerts {
		if !a.ReceivedAt.Before(since) && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeThermometer struct {
	celsius float64
	ok      bool
}

func (f fakeThermometer) Current() (float64, bool) { return f.celsius, f.ok }

type fakeAlerts struct {
	got []model.Alert
	err error
}

func (f *fakeAlerts) Deliver(a model.Alert) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, a)
	return nil
}

func setupTestServer(t *testing.T) (*Server, *fakeLamp, *fakePredictor) {
	t.Helper()
	lamp := &fakeLamp{state: model.LampState{Brightness: 50, Color: model.White, Mode: model.ModeManual}}
	pred := &fakePredictor{}
	return NewServer(lamp, pred, fakeStats{stats: db.Stats{Interactions: 12, SystemEvents: 3}}, &fakeAlerts{}), lamp, pred
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if str, ok := body.(string); ok {
			buf.WriteString(str)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestGetStatus(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := do(t, server, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var status coordinator.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, model.ModeManual, status.Mode)
	assert.Equal(t, 50, status.State.Brightness)
}

func TestPostCommand(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
		expectedKind   model.InputKind
	}{
		{"power on", CommandRequest{Command: "power_on"}, http.StatusOK, model.InputPowerOn},
		{"brightness", CommandRequest{Command: "brightness_set", Brightness: 70}, http.StatusOK, model.InputBrightnessSet},
		{"color", CommandRequest{Command: "color_set", Color: &model.Color{R: 1, G: 2, B: 3}}, http.StatusOK, model.InputColorSet},
		{"color missing", CommandRequest{Command: "color_set"}, http.StatusBadRequest, ""},
		{"brightness out of range", CommandRequest{Command: "brightness_set", Brightness: 101}, http.StatusBadRequest, ""},
		{"unknown command", CommandRequest{Command: "disco"}, http.StatusBadRequest, ""},
		{"invalid json", "not json", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, lamp, _ := setupTestServer(t)

			w := do(t, server, http.MethodPost, "/api/commands", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus != http.StatusOK {
				assert.Empty(t, lamp.submitted)
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.Error)
				return
			}
			require.Len(t, lamp.submitted, 1)
			assert.Equal(t, tt.expectedKind, lamp.submitted[0].Kind)
			assert.Equal(t, model.SourceAPI, lamp.submitted[0].Source)

			var out events.Outcome
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
			assert.True(t, out.Accepted)
		})
	}
}

func TestPostCommandRejected(t *testing.T) {
	server, lamp, _ := setupTestServer(t)
	lamp.reject = "color_cycle ignored in auto mode"

	w := do(t, server, http.MethodPost, "/api/commands", CommandRequest{Command: "color_cycle"})
	assert.Equal(t, http.StatusConflict, w.Code)

	var out events.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.False(t, out.Accepted)
	assert.Equal(t, "color_cycle ignored in auto mode", out.Reason)
}

func TestPostCommandShuttingDown(t *testing.T) {
	server, lamp, _ := setupTestServer(t)
	lamp.err = context.Canceled

	w := do(t, server, http.MethodPost, "/api/commands", CommandRequest{Command: "power_toggle"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSetMode(t *testing.T) {
	tests := []struct {
		name           string
		mode           string
		expectedStatus int
	}{
		{"auto", "auto", http.StatusOK},
		{"environmental", "environmental", http.StatusOK},
		{"manual", "manual", http.StatusOK},
		{"invalid", "party", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, lamp, _ := setupTestServer(t)

			w := do(t, server, http.MethodPut, "/api/mode", ModeRequest{Mode: tt.mode})
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, model.Mode(tt.mode), lamp.state.Mode)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := do(t, server, http.MethodDelete, "/api/mode", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestForecast(t *testing.T) {
	server, _, pred := setupTestServer(t)

	w := do(t, server, http.MethodGet, "/api/prediction/forecast?date=2024-06-12", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var entries []prediction.ForecastEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 24)
	assert.Equal(t, 12, pred.forecastDay.Day())

	w = do(t, server, http.MethodGet, "/api/prediction/forecast?date=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredictionStatus(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := do(t, server, http.MethodGet, "/api/prediction/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var st prediction.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, prediction.StateTrained, st.State)
	assert.Equal(t, 42, st.RecordCount)
}

func TestStats(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := do(t, server, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var stats db.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 12, stats.Interactions)

	failing := NewServer(&fakeLamp{}, &fakePredictor{}, fakeStats{err: errors.New("database is locked")}, &fakeAlerts{})
	w = do(t, failing, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCORSHeaders(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPostAlert(t *testing.T) {
	alerts := &fakeAlerts{}
	server := NewServer(&fakeLamp{}, &fakePredictor{}, fakeStats{}, alerts)

	w := do(t, server, http.MethodPost, "/api/alerts", map[string]interface{}{"type": "seismic", "value": 6.1})
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, alerts.got, 1)
	assert.Equal(t, model.AlertSeismic, alerts.got[0].Type)

	w = do(t, server, http.MethodPost, "/api/alerts", map[string]interface{}{"value": 6.1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	alerts.err = model.ErrAlertProcessing
	w = do(t, server, http.MethodPost, "/api/alerts", map[string]interface{}{"type": "air_quality", "value": 180})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTrainNow(t *testing.T) {
	tests := []struct {
		name     string
		trainErr error
		want     int
	}{
		{"trained", nil, http.StatusOK},
		{"not eligible", fmt.Errorf("%w: %w: 3 records", model.ErrModelTraining, prediction.ErrNotEligible), http.StatusConflict},
		{"fit failed", fmt.Errorf("%w: singular matrix", model.ErrModelTraining), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := &fakePredictor{trainErr: tt.trainErr}
			server := NewServer(&fakeLamp{}, pred, fakeStats{}, &fakeAlerts{})

			w := do(t, server, http.MethodPost, "/api/prediction/train", nil)
			assert.Equal(t, tt.want, w.Code)
			if tt.trainErr == nil {
				assert.Equal(t, 1, pred.trained)
				var st prediction.Status
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
				assert.Equal(t, prediction.StateTrained, st.State)
			}
		})
	}
}

func TestGetAlerts(t *testing.T) {
	now := time.Now()
	stats := fakeStats{alerts: []model.Alert{
		{ID: "a1", Type: model.AlertSeismic, Severity: model.SeverityHigh, Value: 6.2, ReceivedAt: now.Add(-time.Hour)},
		{ID: "a2", Type: model.AlertAirQuality, Severity: model.SeverityMedium, Value: 130, ReceivedAt: now.Add(-30 * time.Hour)},
	}}
	server := NewServer(&fakeLamp{}, &fakePredictor{}, stats, &fakeAlerts{})

	tests := []struct {
		name    string
		path    string
		code    int
		wantIDs []string
	}{
		{"default window", "/api/alerts", http.StatusOK, []string{"a1"}},
		{"wider window", "/api/alerts?hours=48", http.StatusOK, []string{"a1", "a2"}},
		{"zero hours", "/api/alerts?hours=0", http.StatusBadRequest, nil},
		{"not a number", "/api/alerts?hours=day", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, server, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.code, w.Code)
			if tt.code != http.StatusOK {
				return
			}
			var got []model.Alert
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			ids := make([]string, 0, len(got))
			for _, a := range got {
				ids = append(ids, a.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}

	failing := NewServer(&fakeLamp{}, &fakePredictor{}, fakeStats{err: errors.New("database is locked")}, &fakeAlerts{})
	w := do(t, failing, http.MethodGet, "/api/alerts", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetAlertsEmptyIsArray(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := do(t, server, http.MethodGet, "/api/alerts", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestGetTemperature(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := do(t, server, http.MethodGet, "/api/temperature", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	server.SetThermometer(fakeThermometer{celsius: 21.5, ok: true})
	w = do(t, server, http.MethodGet, "/api/temperature", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var got TemperatureResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.Available)
	assert.Equal(t, 21.5, got.Celsius)

	server.SetThermometer(fakeThermometer{})
	w = do(t, server, http.MethodGet, "/api/temperature", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.False(t, got.Available)
}
