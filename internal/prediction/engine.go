// Package prediction learns when the lamp is usually on, and in what color,
// from logged interactions, and proposes adjustments while in auto mode.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/smart-lamp/internal/events"
	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

// ErrNotEligible is returned by TrainNow when history is too short or too young.
var ErrNotEligible = errors.New("not enough history to train")

type State string

const (
	StateUntrained        State = "untrained"
	StateTrainingEligible State = "training_eligible"
	StateTrained          State = "trained"
)

// RecordSource returns interactions since a point in time, oldest first.
type RecordSource interface {
	Interactions(since time.Time) ([]model.InteractionRecord, error)
}

// Recorder receives every prediction that cleared the gate.
type Recorder interface {
	WritePrediction(p model.PredictionResult)
}

type Config struct {
	MinRecords        int
	LearningPeriod    time.Duration
	Lookback          time.Duration
	Threshold         float64
	InferenceInterval time.Duration
	TrainingCheck     time.Duration
	RetrainInterval   time.Duration
}

type Status struct {
	State          State      `json:"state"`
	RecordCount    int        `json:"record_count"`
	FirstRecord    *time.Time `json:"first_record,omitempty"`
	LastTrained    *time.Time `json:"last_trained,omitempty"`
	LastConfidence float64    `json:"last_confidence"`
	Threshold      float64    `json:"threshold"`
}

type ForecastEntry struct {
	model.PredictionResult
	Actionable      bool `json:"actionable"`
	ColorActionable bool `json:"color_actionable"`
}

type Engine struct {
	classifier Classifier
	source     RecordSource
	recorder   Recorder
	cfg        Config
	log        zerolog.Logger

	mu             sync.RWMutex
	state          State
	recordCount    int
	firstRecord    time.Time
	lastTrained    time.Time
	lastConfidence float64
}

func NewEngine(c Classifier, source RecordSource, cfg Config) *Engine {
	return &Engine{
		classifier: c,
		source:     source,
		cfg:        cfg,
		state:      StateUntrained,
		log:        log.With().Str("component", "prediction").Logger(),
	}
}

// SetRecorder must be called before Run.
func (e *Engine) SetRecorder(r Recorder) {
	e.recorder = r
}

// MaybeTrain refreshes eligibility and trains when eligible and either
// untrained or due for a retrain. A failed train keeps the previous model.
func (e *Engine) MaybeTrain(now time.Time) error {
	return e.train(now, false)
}

// TrainNow trains immediately, ignoring the retrain interval. History must
// still be eligible; otherwise the error wraps ErrNotEligible and
// ErrModelTraining. A failed train keeps the previous model.
func (e *Engine) TrainNow(now time.Time) error {
	return e.train(now, true)
}

func (e *Engine) train(now time.Time, force bool) error {
	records, err := e.source.Interactions(now.Add(-e.cfg.Lookback))
	if err != nil {
		return fmt.Errorf("%w: load interactions: %w", model.ErrModelTraining, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.recordCount = len(records)
	e.firstRecord = time.Time{}
	if len(records) > 0 {
		e.firstRecord = records[0].Timestamp
	}

	eligible := len(records) >= e.cfg.MinRecords &&
		!e.firstRecord.IsZero() &&
		now.Sub(e.firstRecord) >= e.cfg.LearningPeriod

	if !eligible {
		if e.state != StateTrained {
			e.state = StateUntrained
		}
		e.log.Debug().
			Int("records", len(records)).
			Time("first_record", e.firstRecord).
			Msg("Not enough history to train")
		if force {
			return fmt.Errorf("%w: %w: %d records", model.ErrModelTraining, ErrNotEligible, len(records))
		}
		return nil
	}

	if !force && e.state == StateTrained && now.Sub(e.lastTrained) < e.cfg.RetrainInterval {
		return nil
	}
	if e.state == StateUntrained {
		e.state = StateTrainingEligible
		e.log.Info().Int("records", len(records)).Msg("Prediction engine eligible for training")
	}

	if err := e.classifier.Train(records); err != nil {
		err = fmt.Errorf("%w: %w", model.ErrModelTraining, err)
		e.log.Warn().Err(err).Str("state", string(e.state)).Msg("Training failed, keeping previous model")
		return err
	}

	e.state = StateTrained
	e.lastTrained = now
	e.log.Info().Int("records", len(records)).Msg("Prediction model trained")
	return nil
}

// Gate reports whether r may change power, and whether it may also change color.
func (e *Engine) Gate(r model.PredictionResult) (power, color bool) {
	power = r.PowerConfidence > e.cfg.Threshold
	color = power && r.ColorConfidence > e.cfg.Threshold
	return power, color
}

// Evaluate runs one inference for now. It returns ok=false when the model is
// not trained or the result did not clear the gate.
func (e *Engine) Evaluate(now time.Time) (events.Event, bool) {
	e.mu.RLock()
	trained := e.state == StateTrained
	e.mu.RUnlock()
	if !trained {
		return events.Event{}, false
	}

	res, err := e.classifier.Predict(Encode(now))
	if err != nil {
		e.log.Warn().Err(err).Time("at", now).Msg("Prediction failed")
		return events.Event{}, false
	}
	res.GeneratedAt = now
	res.Hour = now.Hour()

	e.mu.Lock()
	e.lastConfidence = res.PowerConfidence
	e.mu.Unlock()

	power, color := e.Gate(res)
	if !power {
		e.log.Debug().
			Float64("power_confidence", res.PowerConfidence).
			Float64("threshold", e.cfg.Threshold).
			Msg("Prediction below threshold, discarded")
		return events.Event{}, false
	}
	if e.recorder != nil {
		e.recorder.WritePrediction(res)
	}
	return events.Event{Kind: events.KindPrediction, At: now, Prediction: res, ApplyColor: color}, true
}

// Forecast predicts each hour of day independently. An untrained engine
// returns 24 non-actionable entries.
func (e *Engine) Forecast(day time.Time) []ForecastEntry {
	e.mu.RLock()
	trained := e.state == StateTrained
	e.mu.RUnlock()

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	out := make([]ForecastEntry, 24)
	for h := 0; h < 24; h++ {
		at := start.Add(time.Duration(h) * time.Hour)
		entry := ForecastEntry{PredictionResult: model.PredictionResult{Hour: h, GeneratedAt: at, PredictedColor: model.White}}
		if trained {
			res, err := e.classifier.Predict(Encode(at))
			if err == nil {
				res.Hour = h
				res.GeneratedAt = at
				entry.PredictionResult = res
				entry.Actionable, entry.ColorActionable = e.Gate(res)
			}
		}
		out[h] = entry
	}
	return out
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Status{
		State:          e.state,
		RecordCount:    e.recordCount,
		LastConfidence: e.lastConfidence,
		Threshold:      e.cfg.Threshold,
	}
	if !e.firstRecord.IsZero() {
		t := e.firstRecord
		st.FirstRecord = &t
	}
	if !e.lastTrained.IsZero() {
		t := e.lastTrained
		st.LastTrained = &t
	}
	return st
}

// Run checks training eligibility and runs inference on their own tickers
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, pub events.Publisher) {
	if err := e.MaybeTrain(time.Now()); err != nil {
		e.log.Warn().Err(err).Msg("Initial training check failed")
	}

	training := time.NewTicker(e.cfg.TrainingCheck)
	defer training.Stop()
	inference := time.NewTicker(e.cfg.InferenceInterval)
	defer inference.Stop()

	e.log.Info().
		Dur("inference_interval", e.cfg.InferenceInterval).
		Dur("training_check", e.cfg.TrainingCheck).
		Float64("threshold", e.cfg.Threshold).
		Msg("Prediction engine started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("Prediction engine stopped")
			return
		case now := <-training.C:
			if err := e.MaybeTrain(now); err != nil {
				e.log.Warn().Err(err).Msg("Training check failed")
			}
		case now := <-inference.C:
			ev, ok := e.Evaluate(now)
			if !ok {
				continue
			}
			if err := pub.Publish(ctx, ev); err != nil {
				e.log.Debug().Err(err).Msg("Prediction not queued")
			}
		}
	}
}
