// Package temperature polls an on-board DS18B20 sensor, filters out sensor
// glitches and reports accepted readings as temperature alerts.
package temperature

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

const (
	readRetries  = 3
	stableStdDev = 1.0
	// DS18B20 reports 85C after a power-on reset before its first conversion.
	resetValue = 85.0
	minValid   = -55.0
	maxValid   = 125.0
)

var readSensor = ReadCelsius

// Sink is implemented by sensors.Bridge.
type Sink interface {
	Deliver(a model.Alert) error
}

type Notifier interface {
	Send(title, message string) error
}

type Metrics interface {
	Gauge(name string, value float64, tags ...string)
}

type Config struct {
	SensorPath   string
	Poll         time.Duration
	MaxDelta     float64
	MaxAnomalies int
	HistorySize  int
	ReportDelta  float64
	RetryDelay   time.Duration
}

type Reading struct {
	Celsius   float64
	Timestamp time.Time
}

type Service struct {
	cfg      Config
	sink     Sink
	notifier Notifier
	metrics  Metrics
	log      zerolog.Logger

	mu           sync.RWMutex
	history      []Reading
	lastGood     Reading
	anomalies    int
	recovery     int
	disabled     bool
	reported     bool
	lastReported float64
}

// New builds the service. notifier and metrics may be nil.
func New(cfg Config, sink Sink, notifier Notifier, metrics Metrics) *Service {
	return &Service{
		cfg:      cfg,
		sink:     sink,
		notifier: notifier,
		metrics:  metrics,
		log:      log.With().Str("component", "temperature").Str("sensor", filepath.Base(cfg.SensorPath)).Logger(),
		history:  make([]Reading, 0, cfg.HistorySize),
	}
}

func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Poll)
	defer ticker.Stop()

	s.log.Info().Dur("poll", s.cfg.Poll).Msg("Temperature sensor started")
	s.Poll(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Temperature sensor stopped")
			return
		case now := <-ticker.C:
			s.Poll(ctx, now)
		}
	}
}

// Poll reads the sensor once, filters the value and forwards it when it moved
// by at least ReportDelta since the last report.
func (s *Service) Poll(ctx context.Context, now time.Time) {
	temp, err := s.read(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Temperature read failed, keeping last good value")
		return
	}

	if !s.processReading(temp, now) {
		s.log.Warn().Float64("celsius", temp).Msg("Temperature reading rejected as anomalous")
		return
	}

	s.mu.Lock()
	report := !s.disabled && (!s.reported || math.Abs(temp-s.lastReported) >= s.cfg.ReportDelta)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Gauge("temperature.celsius", temp)
	}
	if !report {
		return
	}

	err = s.sink.Deliver(model.Alert{
		Type:    model.AlertTemperature,
		Value:   temp,
		Payload: map[string]string{"source": "local_sensor"},
	})
	if err != nil {
		s.log.Warn().Err(err).Float64("celsius", temp).Msg("Temperature reading not delivered")
		return
	}

	s.mu.Lock()
	s.reported = true
	s.lastReported = temp
	s.mu.Unlock()
}

func (s *Service) read(ctx context.Context) (float64, error) {
	var lastErr error
	for attempt := 0; attempt < readRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(s.cfg.RetryDelay):
			}
		}
		temp, err := readSensor(s.cfg.SensorPath)
		if err == nil {
			return temp, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("%w: %w", model.ErrHardwareRead, lastErr)
}

// Current returns the last accepted reading. It is unavailable while the
// sensor is disabled or when the value is older than two poll intervals.
func (s *Service) Current() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.disabled || len(s.history) == 0 {
		return 0, false
	}
	if time.Since(s.lastGood.Timestamp) > 2*s.cfg.Poll {
		return 0, false
	}
	return s.lastGood.Celsius, true
}

func (s *Service) processReading(temp float64, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Reading{Celsius: temp, Timestamp: at}

	if temp < minValid || temp > maxValid || temp == resetValue {
		s.anomalies++
		s.checkDisable(temp)
		return false
	}

	// bootstrap: accept until there is enough history to judge
	if len(s.history) < s.cfg.MaxAnomalies {
		s.history = append(s.history, r)
		s.lastGood = r
		if len(s.history) == s.cfg.MaxAnomalies {
			s.analyzeBootstrap()
		}
		return true
	}

	if s.disabled {
		if !s.withinDelta(temp) {
			s.recovery = 0
			return false
		}
		s.recovery++
		s.addToHistory(r)
		if s.recovery >= s.cfg.MaxAnomalies {
			s.disabled = false
			s.anomalies = 0
			s.recovery = 0
			s.lastGood = r
			s.send("Temperature Sensor Recovered",
				fmt.Sprintf("%.1fC after %d consecutive good readings", temp, s.cfg.MaxAnomalies))
			s.log.Info().Float64("celsius", temp).Msg("Temperature sensor recovered and re-enabled")
		}
		return true
	}

	if !s.withinDelta(temp) {
		s.addToHistory(r)
		if s.stableNewBaseline() {
			s.anomalies = 0
			s.lastGood = r
			s.log.Info().Float64("celsius", temp).Msg("New temperature baseline accepted")
			return true
		}
		s.anomalies++
		s.checkDisable(temp)
		return false
	}

	if len(s.history) > s.cfg.MaxAnomalies {
		s.anomalies = 0
	}
	s.recovery = 0
	s.lastGood = r
	s.addToHistory(r)
	return true
}

func (s *Service) withinDelta(temp float64) bool {
	return math.Abs(temp-s.lastGood.Celsius) <= s.cfg.MaxDelta
}

// stableNewBaseline accepts a jump once the recent readings either settle at
// the new level or move steadily in one direction.
func (s *Service) stableNewBaseline() bool {
	if s.anomalies < 1 || len(s.history) < s.cfg.MaxAnomalies+2 {
		return false
	}

	recent := s.history[len(s.history)-3:]
	temps := make([]float64, len(recent))
	for i, r := range recent {
		temps[i] = r.Celsius
	}
	mean, stdDev := meanStdDev(temps)
	if stdDev < stableStdDev {
		return true
	}

	// 4+ anomalies looks like a failing sensor rather than a real change
	if s.anomalies >= 4 {
		return false
	}
	if math.Abs(mean-s.lastGood.Celsius) > 5*s.cfg.MaxDelta {
		return false
	}

	var jumps []float64
	for _, r := range s.history[s.cfg.MaxAnomalies:] {
		jumps = append(jumps, r.Celsius)
	}
	if len(jumps) < 2 {
		return false
	}
	increasing := jumps[1] > jumps[0]
	maxStep := 0.0
	for i := 1; i < len(jumps); i++ {
		step := jumps[i] - jumps[i-1]
		if (increasing && step < -0.5) || (!increasing && step > 0.5) {
			return false
		}
		maxStep = math.Max(maxStep, math.Abs(step))
	}
	return maxStep > 0 && maxStep <= s.cfg.MaxDelta
}

// analyzeBootstrap picks the newest reading within two standard deviations
// as the baseline and counts the outliers.
func (s *Service) analyzeBootstrap() {
	temps := make([]float64, len(s.history))
	for i, r := range s.history {
		temps[i] = r.Celsius
	}
	mean, stdDev := meanStdDev(temps)

	outliers := 0
	found := false
	for i := len(s.history) - 1; i >= 0; i-- {
		r := s.history[i]
		if math.Abs(r.Celsius-mean) > 2*stdDev {
			outliers++
		} else if !found {
			s.lastGood = r
			found = true
		}
	}
	if !found {
		s.lastGood = Reading{Celsius: mean, Timestamp: s.history[len(s.history)-1].Timestamp}
	}
	s.anomalies = outliers

	if outliers > 0 {
		s.log.Info().
			Int("outliers", outliers).
			Float64("baseline", s.lastGood.Celsius).
			Msg("Temperature bootstrap analysis complete")
	}
}

func (s *Service) addToHistory(r Reading) {
	if len(s.history) >= s.cfg.HistorySize {
		s.history = s.history[1:]
	}
	s.history = append(s.history, r)
}

func (s *Service) checkDisable(temp float64) {
	if s.anomalies < s.cfg.MaxAnomalies || s.disabled {
		return
	}
	s.disabled = true
	s.send("Temperature Sensor Disabled",
		fmt.Sprintf("%.1fC (%d anomalies, last good: %.1fC)", temp, s.cfg.MaxAnomalies, s.lastGood.Celsius))
	s.log.Error().Float64("celsius", temp).Int("anomalies", s.anomalies).Msg("Temperature sensor disabled")
}

func (s *Service) send(title, msg string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(title, msg); err != nil {
		s.log.Error().Err(err).Msg("Failed to send temperature notification")
	}
}

func meanStdDev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}

// ReadCelsius parses the w1_slave file of a 1-Wire device directory.
func ReadCelsius(sensorPath string) (float64, error) {
	data, err := os.ReadFile(filepath.Join(sensorPath, "w1_slave"))
	if err != nil {
		return 0, err
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) < 2 || !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("crc check failed on %s", sensorPath)
	}

	parts := strings.Split(lines[1], "t=")
	if len(parts) != 2 {
		return 0, fmt.Errorf("temperature data missing on %s", sensorPath)
	}
	milliC, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, fmt.Errorf("parse temperature: %w", err)
	}
	return float64(milliC) / 1000.0, nil
}
