// Package coordinator arbitrates between manual input, environmental alerts,
// predictions and the inactivity timer. It is the only writer of LampState.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/smart-lamp/internal/events"
	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

const reasonShuttingDown = "shutting down"

// Store is implemented by store.Store.
type Store interface {
	Get() model.LampState
	Apply(trigger model.Trigger, fn func(model.LampState) model.LampState) (model.LampState, bool, error)
	Shutdown(final model.LampState) error
	LastError() error
}

// Journal is implemented by db.Repository.
type Journal interface {
	AppendInteraction(r model.InteractionRecord) error
	AppendSystemEvent(e model.SystemEvent) error
}

// Metrics is implemented by datadog.Metrics.
type Metrics interface {
	Gauge(name string, value float64, tags ...string)
	Incr(name string, tags ...string)
}

type Notifier interface {
	Send(title, message string) error
}

// Observer receives a copy of every applied state, off the event loop.
type Observer interface {
	StateChanged(s model.LampState)
}

type Options struct {
	Palette           []model.Color
	EmergencyColor    model.Color
	FlashCycles       int
	FlashInterval     time.Duration
	InactivityTimeout time.Duration
	MinBrightness     int
	AQIMedium         float64
	AQIHigh           float64
	ColdBelow         float64
	HotAbove          float64
}

type Status struct {
	State                    model.LampState `json:"state"`
	Mode                     model.Mode      `json:"mode"`
	Emergency                bool            `json:"emergency"`
	LastPredictionConfidence float64         `json:"last_prediction_confidence"`
	LastAlert                *model.Alert    `json:"last_alert,omitempty"`
	LastError                string          `json:"last_error,omitempty"`
}

type Coordinator struct {
	store     Store
	journal   Journal
	metrics   Metrics
	notifier  Notifier
	observers []Observer
	queue     events.Publisher
	opts      Options
	log       zerolog.Logger

	// owned by the Run goroutine
	baseline    time.Time
	interrupted *model.LampState

	mu             sync.RWMutex
	emergency      bool
	lastAlert      *model.Alert
	lastConfidence float64

	fanout chan model.LampState
	wg     sync.WaitGroup
	sleep  func(ctx context.Context, d time.Duration) bool
}

// New wires the coordinator. journal, metrics and notifier may be nil.
// queue is where Submit publishes; it must feed the channel passed to Run.
func New(st Store, queue events.Publisher, journal Journal, metrics Metrics, notifier Notifier, opts Options) *Coordinator {
	if len(opts.Palette) == 0 {
		opts.Palette = DefaultPalette
	}
	return &Coordinator{
		store:    st,
		journal:  journal,
		metrics:  metrics,
		notifier: notifier,
		queue:    queue,
		opts:     opts,
		log:      log.With().Str("component", "coordinator").Logger(),
		baseline: time.Now(),
		fanout:   make(chan model.LampState, 32),
		sleep:    sleepCtx,
	}
}

// AddObserver must be called before Run.
func (c *Coordinator) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

// Run consumes events in arrival order until ctx is cancelled, then drains
// the queue and persists the final state.
func (c *Coordinator) Run(ctx context.Context, in <-chan events.Event) error {
	c.wg.Add(1)
	go c.runObservers()

	c.log.Info().
		Dur("inactivity_timeout", c.opts.InactivityTimeout).
		Int("flash_cycles", c.opts.FlashCycles).
		Msg("Coordinator started")

	for {
		select {
		case <-ctx.Done():
			return c.shutdown(in)
		case ev := <-in:
			if ctx.Err() != nil {
				c.reply(ev, events.Outcome{Reason: reasonShuttingDown, State: c.store.Get()})
				return c.shutdown(in)
			}
			c.handle(ctx, ev)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev events.Event) {
	if c.metrics != nil {
		c.metrics.Incr("events", "kind:"+string(ev.Kind))
	}
	switch ev.Kind {
	case events.KindInput:
		c.handleInput(ev)
	case events.KindAlert:
		c.handleAlert(ctx, ev)
	case events.KindPrediction:
		c.handlePrediction(ev)
	case events.KindInactivityCheck:
		c.handleInactivity(ev)
	default:
		c.log.Warn().Str("kind", string(ev.Kind)).Time("at", ev.At).Msg("Unknown event kind")
		c.reply(ev, events.Outcome{Reason: "unknown event", State: c.store.Get()})
	}
}

func (c *Coordinator) handleInput(ev events.Event) {
	in := ev.Input
	current := c.store.Get()

	if current.Mode == model.ModeAuto && gatedInAuto(in.Kind) {
		reason := fmt.Sprintf("%s ignored in auto mode", in.Kind)
		c.log.Info().
			Str("input", string(in.Kind)).
			Str("source", string(in.Source)).
			Msg("Manual input dropped in auto mode")
		c.systemEvent(ev.At, "input_dropped", model.TriggerManual, reason)
		if c.metrics != nil {
			c.metrics.Incr("inputs.dropped", "input:"+string(in.Kind))
		}
		c.reply(ev, events.Outcome{Reason: reason, State: current})
		return
	}

	trigger := model.TriggerManual
	if in.Source == model.SourcePotentiometer {
		trigger = model.TriggerPotentiometer
	}

	var action model.Action
	next, changed, err := c.store.Apply(trigger, func(s model.LampState) model.LampState {
		var out model.LampState
		out, action = c.applyInput(s, in)
		return out
	})
	if err != nil {
		c.log.Warn().Err(err).Str("input", string(in.Kind)).Time("at", ev.At).Msg("Manual input rejected")
		c.reply(ev, events.Outcome{Reason: err.Error(), State: next})
		return
	}

	c.baseline = ev.At
	if changed {
		if trigger == model.TriggerManual {
			c.interaction(ev.At, action, next)
		}
		c.published(next)
	}
	c.reply(ev, events.Outcome{Accepted: true, State: next})
}

func (c *Coordinator) handleAlert(ctx context.Context, ev events.Event) {
	a := ev.Alert
	c.mu.Lock()
	c.lastAlert = &a
	c.mu.Unlock()

	if a.Emergency() {
		c.flash(ctx, a)
		c.reply(ev, events.Outcome{Accepted: true, State: c.store.Get()})
		return
	}

	current := c.store.Get()
	if current.Mode != model.ModeEnvironmental {
		c.log.Info().
			Str("type", string(a.Type)).
			Str("severity", string(a.Severity)).
			Str("mode", string(current.Mode)).
			Msg("Alert dropped outside environmental mode")
		c.reply(ev, events.Outcome{Reason: "not in environmental mode", State: current})
		return
	}

	var color model.Color
	switch a.Type {
	case model.AlertAirQuality:
		if !current.IsOn {
			c.reply(ev, events.Outcome{Reason: "lamp is off", State: current})
			return
		}
		color = c.aqiColor(a.Value)
	case model.AlertTemperature:
		color = c.temperatureColor(a.Value)
	default:
		c.log.Info().
			Str("type", string(a.Type)).
			Str("severity", string(a.Severity)).
			Float64("value", a.Value).
			Msg("Seismic activity below emergency level")
		c.systemEvent(ev.At, "seismic_notice", model.TriggerAlert, fmt.Sprintf("%s magnitude %.1f", a.Severity, a.Value))
		c.reply(ev, events.Outcome{Accepted: true, State: current})
		return
	}

	next, changed, err := c.store.Apply(model.TriggerAlert, func(s model.LampState) model.LampState {
		s.Color = color
		return s
	})
	if err != nil {
		c.log.Error().Err(err).Str("alert_id", a.ID).Msg("Alert transition rejected")
		c.reply(ev, events.Outcome{Reason: err.Error(), State: next})
		return
	}
	if changed {
		c.systemEvent(ev.At, "environmental_adjust", model.TriggerAlert,
			fmt.Sprintf("%s %s value %.1f color %s", a.Type, a.Severity, a.Value, color))
		c.published(next)
	}
	c.reply(ev, events.Outcome{Accepted: true, State: next})
}

// flash overrides every mode, then restores the pre-alert state verbatim.
// Cancellation mid-flash leaves the restore to shutdown.
func (c *Coordinator) flash(ctx context.Context, a model.Alert) {
	pre := c.store.Get()
	c.setEmergency(true)
	defer c.setEmergency(false)

	detail := fmt.Sprintf("seismic magnitude %.1f", a.Value)
	c.log.Warn().
		Str("alert_id", a.ID).
		Float64("magnitude", a.Value).
		Int("cycles", c.opts.FlashCycles).
		Msg("Emergency alert, flashing lamp")
	c.systemEvent(a.ReceivedAt, "emergency_flash", model.TriggerAlert, detail)
	c.notify("Earthquake alert", detail)
	if c.metrics != nil {
		c.metrics.Incr("alerts.emergency")
	}

	frame := func(on bool) {
		next, changed, err := c.store.Apply(model.TriggerAlert, func(s model.LampState) model.LampState {
			s.IsOn = on
			s.Color = c.opts.EmergencyColor
			s.Brightness = 100
			return s
		})
		if err != nil {
			c.log.Error().Err(err).Msg("Emergency frame rejected")
			return
		}
		if changed {
			c.published(next)
		}
	}

	for i := 0; i < c.opts.FlashCycles; i++ {
		frame(true)
		if !c.sleep(ctx, c.opts.FlashInterval) {
			c.interrupted = &pre
			return
		}
		frame(false)
		if !c.sleep(ctx, c.opts.FlashInterval) {
			c.interrupted = &pre
			return
		}
	}

	next, changed, err := c.store.Apply(model.TriggerRestore, func(model.LampState) model.LampState {
		return pre
	})
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to restore pre-alert state")
		return
	}
	if changed {
		c.published(next)
	}
	c.log.Info().
		Bool("is_on", next.IsOn).
		Str("color", next.Color.String()).
		Str("mode", string(next.Mode)).
		Msg("Pre-alert state restored")
}

func (c *Coordinator) handlePrediction(ev events.Event) {
	p := ev.Prediction
	c.mu.Lock()
	c.lastConfidence = p.PowerConfidence
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.Gauge("prediction.confidence", p.PowerConfidence)
	}

	current := c.store.Get()
	if current.Mode != model.ModeAuto {
		c.log.Debug().Str("mode", string(current.Mode)).Msg("Prediction ignored outside auto mode")
		c.reply(ev, events.Outcome{Reason: "not in auto mode", State: current})
		return
	}

	next, changed, err := c.store.Apply(model.TriggerPrediction, func(s model.LampState) model.LampState {
		s.IsOn = p.ShouldBeOn
		if s.IsOn && s.Brightness < c.opts.MinBrightness {
			s.Brightness = c.opts.MinBrightness
		}
		// an off lamp keeps its color for the next power-on
		if ev.ApplyColor && s.IsOn {
			s.Color = p.PredictedColor
		}
		return s
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("Prediction transition rejected")
		c.reply(ev, events.Outcome{Reason: err.Error(), State: next})
		return
	}
	if changed {
		if next.IsOn && !current.IsOn {
			c.baseline = ev.At
		}
		c.log.Info().
			Bool("is_on", next.IsOn).
			Str("color", next.Color.String()).
			Float64("confidence", p.PowerConfidence).
			Msg("Applied prediction")
		c.interaction(ev.At, model.ActionPredictionAdjust, next)
		c.published(next)
	}
	c.reply(ev, events.Outcome{Accepted: true, State: next})
}

func (c *Coordinator) handleInactivity(ev events.Event) {
	current := c.store.Get()
	if !current.IsOn || ev.At.Before(c.baseline.Add(c.opts.InactivityTimeout)) {
		c.reply(ev, events.Outcome{State: current})
		return
	}

	next, changed, err := c.store.Apply(model.TriggerAutoTimeout, func(s model.LampState) model.LampState {
		s.IsOn = false
		return s
	})
	if err != nil {
		c.log.Error().Err(err).Msg("Auto-off rejected")
		c.reply(ev, events.Outcome{Reason: err.Error(), State: next})
		return
	}
	if changed {
		idle := ev.At.Sub(c.baseline).Round(time.Second)
		c.log.Info().Dur("idle", idle).Msg("Lamp turned off after inactivity")
		c.systemEvent(ev.At, "auto_off", model.TriggerAutoTimeout, fmt.Sprintf("no manual input for %s", idle))
		c.published(next)
	}
	c.reply(ev, events.Outcome{Accepted: changed, State: next})
}

func (c *Coordinator) shutdown(in <-chan events.Event) error {
	dropped := 0
	for done := false; !done; {
		select {
		case ev := <-in:
			dropped++
			c.reply(ev, events.Outcome{Reason: reasonShuttingDown, State: c.store.Get()})
		default:
			done = true
		}
	}

	final := c.store.Get()
	if c.interrupted != nil {
		final = *c.interrupted
		final.LastTrigger = model.TriggerRestore
	}

	close(c.fanout)
	c.wg.Wait()

	c.log.Info().Int("dropped_events", dropped).Msg("Coordinator stopping")
	err := c.store.Shutdown(final)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to persist final state")
	}
	return err
}

// Status is safe to call from any goroutine.
func (c *Coordinator) Status() Status {
	st := c.store.Get()
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := Status{
		State:                    st,
		Mode:                     st.Mode,
		Emergency:                c.emergency,
		LastPredictionConfidence: c.lastConfidence,
	}
	if c.lastAlert != nil {
		a := *c.lastAlert
		out.LastAlert = &a
	}
	if err := c.store.LastError(); err != nil {
		out.LastError = err.Error()
	}
	return out
}

// Submit queues a manual command and waits for its outcome.
func (c *Coordinator) Submit(ctx context.Context, in model.InputEvent) (events.Outcome, error) {
	if c.queue == nil {
		return events.Outcome{}, errors.New("coordinator has no command queue")
	}
	reply := make(chan events.Outcome, 1)
	if err := c.queue.Publish(ctx, events.Event{Kind: events.KindInput, At: time.Now(), Input: in, Reply: reply}); err != nil {
		return events.Outcome{}, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return events.Outcome{}, ctx.Err()
	}
}

func (c *Coordinator) SetMode(ctx context.Context, mode model.Mode) (events.Outcome, error) {
	return c.Submit(ctx, model.InputEvent{Kind: model.InputModeSet, Source: model.SourceAPI, Mode: mode})
}

func (c *Coordinator) reply(ev events.Event, out events.Outcome) {
	if ev.Reply == nil {
		return
	}
	select {
	case ev.Reply <- out:
	default:
		c.log.Warn().Str("kind", string(ev.Kind)).Msg("Reply channel full, outcome dropped")
	}
}

func (c *Coordinator) setEmergency(v bool) {
	c.mu.Lock()
	c.emergency = v
	c.mu.Unlock()
}

func (c *Coordinator) interaction(at time.Time, action model.Action, s model.LampState) {
	if c.journal == nil {
		return
	}
	if err := c.journal.AppendInteraction(model.NewInteraction(at, action, s)); err != nil {
		c.log.Error().Err(err).Str("action", string(action)).Msg("Failed to log interaction")
	}
}

func (c *Coordinator) systemEvent(at time.Time, kind string, trigger model.Trigger, detail string) {
	if c.journal == nil {
		return
	}
	ev := model.SystemEvent{ID: uuid.NewString(), Timestamp: at, Kind: kind, Trigger: trigger, Detail: detail}
	if err := c.journal.AppendSystemEvent(ev); err != nil {
		c.log.Error().Err(err).Str("kind", kind).Msg("Failed to log system event")
	}
}

func (c *Coordinator) notify(title, message string) {
	if c.notifier == nil {
		return
	}
	go func() {
		if err := c.notifier.Send(title, message); err != nil {
			log.Warn().Err(err).Str("title", title).Msg("Notification failed")
		}
	}()
}

// published hands s to metrics and observers without blocking the loop.
func (c *Coordinator) published(s model.LampState) {
	if c.metrics != nil {
		on := 0.0
		if s.IsOn {
			on = 1
		}
		c.metrics.Gauge("lamp.is_on", on)
		c.metrics.Gauge("lamp.brightness", float64(s.Brightness))
		c.metrics.Incr("transitions", "trigger:"+string(s.LastTrigger))
	}
	if len(c.observers) == 0 {
		return
	}
	// Only the loop sends, so after dropping the oldest entry the send succeeds.
	for {
		select {
		case c.fanout <- s:
			return
		default:
		}
		select {
		case old := <-c.fanout:
			c.log.Debug().Str("trigger", string(old.LastTrigger)).Msg("Observer queue full, dropped oldest state")
		default:
		}
	}
}

func (c *Coordinator) runObservers() {
	defer c.wg.Done()
	for s := range c.fanout {
		for _, o := range c.observers {
			o.StateChanged(s)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
