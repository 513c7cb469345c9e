package input

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/smart-lamp/internal/events"
	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

// Hardware is the subset of the GPIO driver the aggregator polls.
type Hardware interface {
	ReadButtonEdge(b model.Button) (bool, error)
	ReadPotentiometer() (int, error)
}

type Config struct {
	ButtonPoll     time.Duration
	PotPoll        time.Duration
	Debounce       time.Duration
	NoiseThreshold int
}

var buttonEvents = map[model.Button]model.InputKind{
	model.ButtonPower: model.InputPowerToggle,
	model.ButtonColor: model.InputColorCycle,
	model.ButtonMode:  model.InputModeCycle,
}

// fixed order so simultaneous presses queue deterministically
var buttonOrder = []model.Button{model.ButtonPower, model.ButtonColor, model.ButtonMode}

// Aggregator turns raw button and potentiometer polling into InputEvents.
type Aggregator struct {
	hw  Hardware
	cfg Config
	log zerolog.Logger

	lastEdge map[model.Button]time.Time

	potSeeded  bool
	potCached  int
	potEmitted int
}

func New(hw Hardware, cfg Config) *Aggregator {
	return &Aggregator{
		hw:       hw,
		cfg:      cfg,
		log:      log.With().Str("component", "input").Logger(),
		lastEdge: make(map[model.Button]time.Time),
	}
}

// Run polls until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, pub events.Publisher) {
	buttons := time.NewTicker(a.cfg.ButtonPoll)
	defer buttons.Stop()
	pot := time.NewTicker(a.cfg.PotPoll)
	defer pot.Stop()

	a.log.Info().
		Dur("button_poll", a.cfg.ButtonPoll).
		Dur("pot_poll", a.cfg.PotPoll).
		Dur("debounce", a.cfg.Debounce).
		Msg("Input aggregator started")

	for {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("Input aggregator stopped")
			return
		case now := <-buttons.C:
			for _, ev := range a.PollButtons(now) {
				a.publish(ctx, pub, now, ev)
			}
		case now := <-pot.C:
			if ev, ok := a.PollPotentiometer(); ok {
				a.publish(ctx, pub, now, ev)
			}
		}
	}
}

func (a *Aggregator) publish(ctx context.Context, pub events.Publisher, at time.Time, ev model.InputEvent) {
	if err := pub.Publish(ctx, events.Event{Kind: events.KindInput, At: at, Input: ev}); err != nil {
		a.log.Debug().Err(err).Str("input", string(ev.Kind)).Msg("Input event not queued")
	}
}

// PollButtons reads every button once and returns the debounced presses.
func (a *Aggregator) PollButtons(now time.Time) []model.InputEvent {
	var out []model.InputEvent
	for _, b := range buttonOrder {
		edge, err := a.hw.ReadButtonEdge(b)
		if err != nil {
			a.log.Warn().Err(err).Str("button", string(b)).Msg("Button read failed")
			continue
		}
		if !edge {
			continue
		}
		if !a.acceptEdge(b, now) {
			a.log.Debug().Str("button", string(b)).Msg("Edge inside debounce window dropped")
			continue
		}
		out = append(out, model.InputEvent{Kind: buttonEvents[b], Source: model.SourceButton})
	}
	return out
}

// acceptEdge applies the debounce window. Dropped edges do not extend it.
func (a *Aggregator) acceptEdge(b model.Button, now time.Time) bool {
	last, seen := a.lastEdge[b]
	if seen && now.Sub(last) < a.cfg.Debounce {
		return false
	}
	a.lastEdge[b] = now
	return true
}

// PollPotentiometer returns a BrightnessSet when the scaled reading moved
// more than the noise threshold since the last emitted value. The first
// successful reading only seeds the baseline.
func (a *Aggregator) PollPotentiometer() (model.InputEvent, bool) {
	raw, err := a.hw.ReadPotentiometer()
	if err != nil {
		a.log.Warn().Err(err).Int("cached", a.potCached).Msg("Potentiometer read failed, using cached value")
		raw = a.potCached
		if !a.potSeeded {
			return model.InputEvent{}, false
		}
	}
	a.potCached = raw

	value := ScaleReading(raw)
	if !a.potSeeded {
		a.potSeeded = true
		a.potEmitted = value
		return model.InputEvent{}, false
	}

	if abs(value-a.potEmitted) <= a.cfg.NoiseThreshold {
		return model.InputEvent{}, false
	}
	a.potEmitted = value
	return model.InputEvent{Kind: model.InputBrightnessSet, Source: model.SourcePotentiometer, Brightness: value}, true
}

// ScaleReading maps a 10-bit ADC reading onto 0-100, rounding to nearest.
func ScaleReading(raw int) int {
	if raw <= 0 {
		return 0
	}
	if raw >= 1023 {
		return 100
	}
	return (raw*100 + 511) / 1023
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
