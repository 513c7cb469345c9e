package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/smart-lamp/db"
	"github.com/thatsimonsguy/smart-lamp/internal/coordinator"
	"github.com/thatsimonsguy/smart-lamp/internal/events"
	"github.com/thatsimonsguy/smart-lamp/internal/model"
	"github.com/thatsimonsguy/smart-lamp/internal/prediction"
)

const (
	commandTimeout = 5 * time.Second
	alertLimit     = 100
)

// Lamp is implemented by coordinator.Coordinator.
type Lamp interface {
	Status() coordinator.Status
	Submit(ctx context.Context, in model.InputEvent) (events.Outcome, error)
	SetMode(ctx context.Context, mode model.Mode) (events.Outcome, error)
}

// Predictor is implemented by prediction.Engine.
type Predictor interface {
	Forecast(day time.Time) []prediction.ForecastEntry
	Status() prediction.Status
	TrainNow(now time.Time) error
}

// StatsSource is implemented by db.Repository.
type StatsSource interface {
	Stats() (db.Stats, error)
	Alerts(since time.Time, limit int) ([]model.Alert, error)
}

// Thermometer is implemented by temperature.Service.
type Thermometer interface {
	Current() (float64, bool)
}

// AlertSink is implemented by sensors.Bridge.
type AlertSink interface {
	Deliver(a model.Alert) error
}

type Server struct {
	lamp      Lamp
	predictor Predictor
	stats     StatsSource
	alerts    AlertSink
	thermo    Thermometer
	router    *mux.Router
	http      *http.Server
}

type CommandRequest struct {
	Command    string       `json:"command"`
	Brightness int          `json:"brightness,omitempty"`
	Color      *model.Color `json:"color,omitempty"`
}

type ModeRequest struct {
	Mode string `json:"mode"`
}

type TemperatureResponse struct {
	Available bool    `json:"available"`
	Celsius   float64 `json:"celsius"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

var commands = map[string]model.InputKind{
	"power_toggle":   model.InputPowerToggle,
	"power_on":       model.InputPowerOn,
	"power_off":      model.InputPowerOff,
	"color_cycle":    model.InputColorCycle,
	"color_set":      model.InputColorSet,
	"brightness_set": model.InputBrightnessSet,
	"mode_cycle":     model.InputModeCycle,
}

func NewServer(lamp Lamp, predictor Predictor, stats StatsSource, alerts AlertSink) *Server {
	s := &Server{
		lamp:      lamp,
		predictor: predictor,
		stats:     stats,
		alerts:    alerts,
		router:    mux.NewRouter(),
	}

	r := s.router.PathPrefix("/api").Subrouter()
	r.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/commands", s.postCommand).Methods(http.MethodPost)
	r.HandleFunc("/mode", s.setMode).Methods(http.MethodPut)
	r.HandleFunc("/prediction/forecast", s.getForecast).Methods(http.MethodGet)
	r.HandleFunc("/prediction/status", s.getPredictionStatus).Methods(http.MethodGet)
	r.HandleFunc("/prediction/train", s.trainNow).Methods(http.MethodPost)
	r.HandleFunc("/stats", s.getStats).Methods(http.MethodGet)
	r.HandleFunc("/alerts", s.getAlerts).Methods(http.MethodGet)
	r.HandleFunc("/alerts", s.postAlert).Methods(http.MethodPost)
	r.HandleFunc("/temperature", s.getTemperature).Methods(http.MethodGet)

	return s
}

// SetThermometer enables GET /api/temperature. Call before Start.
func (s *Server) SetThermometer(t Thermometer) {
	s.thermo = t
}

// Handler wraps the router with CORS and access logging.
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	access := log.With().Str("component", "api").Logger()
	return handlers.LoggingHandler(access, cors(s.router))
}

// Start blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("address", addr).Msg("Starting REST API server")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.lamp.Status())
}

func (s *Server) postCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	kind, ok := commands[req.Command]
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown command %q", req.Command))
		return
	}

	in := model.InputEvent{Kind: kind, Source: model.SourceAPI, Brightness: req.Brightness}
	switch kind {
	case model.InputColorSet:
		if req.Color == nil {
			s.writeError(w, http.StatusBadRequest, "color_set requires a color")
			return
		}
		in.Color = *req.Color
	case model.InputBrightnessSet:
		if req.Brightness < 0 || req.Brightness > 100 {
			s.writeError(w, http.StatusBadRequest, "Brightness must be between 0 and 100")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	out, err := s.lamp.Submit(ctx, in)
	s.writeOutcome(w, "command "+req.Command, out, err)
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	mode := model.Mode(req.Mode)
	if !mode.Valid() {
		s.writeError(w, http.StatusBadRequest, "Invalid mode. Valid modes: manual, auto, environmental")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	out, err := s.lamp.SetMode(ctx, mode)
	s.writeOutcome(w, "mode "+req.Mode, out, err)
}

func (s *Server) getForecast(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	s.writeJSON(w, http.StatusOK, s.predictor.Forecast(day))
}

func (s *Server) getPredictionStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.predictor.Status())
}

// trainNow retrains immediately. History that is not yet eligible is a
// conflict; a failed fit keeps the previous model and reports 500.
func (s *Server) trainNow(w http.ResponseWriter, r *http.Request) {
	err := s.predictor.TrainNow(time.Now())
	switch {
	case errors.Is(err, prediction.ErrNotEligible):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		log.Error().Err(err).Msg("Manual training failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Msg("Prediction model retrained via API")
	s.writeJSON(w, http.StatusOK, s.predictor.Status())
}

func (s *Server) getTemperature(w http.ResponseWriter, r *http.Request) {
	if s.thermo == nil {
		s.writeError(w, http.StatusNotFound, "Temperature sensor disabled")
		return
	}
	c, ok := s.thermo.Current()
	s.writeJSON(w, http.StatusOK, TemperatureResponse{Available: ok, Celsius: c})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Stats()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load stats")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// getAlerts lists logged alerts from the last hours (default 24), newest first.
func (s *Server) getAlerts(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	alerts, err := s.stats.Alerts(time.Now().Add(-time.Duration(hours)*time.Hour), alertLimit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load alerts")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

// postAlert hands an alert to the sensor bridge. Classification happens
// asynchronously, so acceptance only means it was queued.
func (s *Server) postAlert(w http.ResponseWriter, r *http.Request) {
	var a model.Alert
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if a.Type == "" {
		s.writeError(w, http.StatusBadRequest, "Alert type is required")
		return
	}
	if err := s.alerts.Deliver(a); err != nil {
		log.Warn().Err(err).Str("type", string(a.Type)).Msg("Alert dropped")
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeOutcome(w http.ResponseWriter, request string, out events.Outcome, err error) {
	if err != nil {
		log.Warn().Err(err).Str("request", request).Msg("Command not processed")
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	log.Info().
		Str("request", request).
		Bool("accepted", out.Accepted).
		Str("reason", out.Reason).
		Msg("Command processed via API")
	if !out.Accepted {
		s.writeJSON(w, http.StatusConflict, out)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
