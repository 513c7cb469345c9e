package sensors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/smart-lamp/internal/events"
	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

// Thresholds used to derive a severity when the producer did not send one.
type Thresholds struct {
	SeismicHigh   float64
	SeismicMedium float64
	AQIMedium     float64
	AQIHigh       float64
}

// AlertLogger records every forwarded alert. db.Repository implements it.
type AlertLogger interface {
	LogAlert(a model.Alert) error
}

// Bridge normalizes externally delivered alerts and forwards them to the
// coordinator queue. It never touches lamp state.
type Bridge struct {
	in         chan model.Alert
	thresholds Thresholds
	journal    AlertLogger
	log        zerolog.Logger
	now        func() time.Time
}

func NewBridge(size int, th Thresholds, journal AlertLogger) *Bridge {
	if size <= 0 {
		size = 32
	}
	return &Bridge{
		in:         make(chan model.Alert, size),
		thresholds: th,
		journal:    journal,
		log:        log.With().Str("component", "sensors").Logger(),
		now:        time.Now,
	}
}

// Deliver enqueues an alert without blocking. A full buffer drops the alert.
func (b *Bridge) Deliver(a model.Alert) error {
	if a.ReceivedAt.IsZero() {
		a.ReceivedAt = b.now()
	}
	select {
	case b.in <- a:
		return nil
	default:
		err := fmt.Errorf("%w: alert buffer full, dropping %s alert", model.ErrAlertProcessing, a.Type)
		b.log.Warn().Err(err).Str("type", string(a.Type)).Msg("Alert dropped")
		return err
	}
}

// Run forwards classified alerts until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, pub events.Publisher) {
	b.log.Info().Int("buffer", cap(b.in)).Msg("Sensor alert bridge started")
	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("Sensor alert bridge stopped")
			return
		case raw := <-b.in:
			alert, err := b.Classify(raw)
			if err != nil {
				b.log.Warn().Err(err).
					Str("type", string(raw.Type)).
					Time("received_at", raw.ReceivedAt).
					Msg("Alert rejected")
				continue
			}
			if b.journal != nil {
				if err := b.journal.LogAlert(alert); err != nil {
					b.log.Warn().Err(err).Str("alert_id", alert.ID).Msg("Failed to log alert")
				}
			}
			if err := pub.Publish(ctx, events.Event{Kind: events.KindAlert, At: alert.ReceivedAt, Alert: alert}); err != nil {
				b.log.Debug().Err(err).Str("alert_id", alert.ID).Msg("Alert not queued")
			}
		}
	}
}

// Classify validates the alert type and fills in id and severity.
func (b *Bridge) Classify(a model.Alert) (model.Alert, error) {
	a.Type = model.AlertType(strings.ToLower(string(a.Type)))
	a.Severity = model.Severity(strings.ToLower(string(a.Severity)))

	switch a.Type {
	case model.AlertSeismic, model.AlertAirQuality, model.AlertTemperature:
	default:
		return a, fmt.Errorf("%w: unknown alert type %q", model.ErrAlertProcessing, a.Type)
	}

	switch a.Severity {
	case model.SeverityLow, model.SeverityMedium, model.SeverityHigh:
	case "":
		a.Severity = b.severityFor(a)
	default:
		return a, fmt.Errorf("%w: unknown severity %q", model.ErrAlertProcessing, a.Severity)
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.ReceivedAt.IsZero() {
		a.ReceivedAt = b.now()
	}
	return a, nil
}

func (b *Bridge) severityFor(a model.Alert) model.Severity {
	switch a.Type {
	case model.AlertSeismic:
		if a.Value >= b.thresholds.SeismicHigh {
			return model.SeverityHigh
		}
		if a.Value >= b.thresholds.SeismicMedium {
			return model.SeverityMedium
		}
	case model.AlertAirQuality:
		if a.Value > b.thresholds.AQIHigh {
			return model.SeverityHigh
		}
		if a.Value > b.thresholds.AQIMedium {
			return model.SeverityMedium
		}
	}
	return model.SeverityLow
}

// HandleMQTT decodes a JSON alert published by an upstream monitor. The
// alert type falls back to the last topic segment, so producers may publish
// to smartlamp/alerts/seismic with only a value in the body.
func (b *Bridge) HandleMQTT(topic string, payload []byte) error {
	var a model.Alert
	if err := json.Unmarshal(payload, &a); err != nil {
		return fmt.Errorf("%w: decode alert on %s: %w", model.ErrAlertProcessing, topic, err)
	}
	if a.Type == "" {
		if i := strings.LastIndex(topic, "/"); i >= 0 {
			a.Type = model.AlertType(topic[i+1:])
		}
	}
	a.ReceivedAt = b.now()
	return b.Deliver(a)
}
