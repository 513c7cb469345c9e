// Package events carries every producer's output to the coordinator over a
// single ordered, bounded queue.
package events

import (
	"context"
	"time"

	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

type Kind string

const (
	KindInput           Kind = "input"
	KindAlert           Kind = "alert"
	KindPrediction      Kind = "prediction"
	KindInactivityCheck Kind = "inactivity_check"
)

type Event struct {
	Kind Kind
	At   time.Time

	Input      model.InputEvent
	Alert      model.Alert
	Prediction model.PredictionResult
	// ApplyColor is set when the color prediction also cleared the gate.
	ApplyColor bool

	// Reply, when set, receives exactly one Outcome.
	Reply chan Outcome
}

type Outcome struct {
	Accepted bool            `json:"accepted"`
	Reason   string          `json:"reason,omitempty"`
	State    model.LampState `json:"state"`
}

// Publisher is implemented by Queue; producers depend on this instead.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Queue struct {
	ch chan Event
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{ch: make(chan Event, size)}
}

// Publish blocks until there is room or ctx is done.
func (q *Queue) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case q.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Events() <-chan Event {
	return q.ch
}

func (q *Queue) Len() int {
	return len(q.ch)
}
