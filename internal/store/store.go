package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

var ErrClosed = errors.New("state store closed")

// Persister writes snapshots. Implemented by db.Repository and FileSnapshot.
type Persister interface {
	SaveState(s model.LampState) error
}

// Snapshotter can also read back the last snapshot at startup.
type Snapshotter interface {
	Persister
	LoadState() (*model.LampState, error)
}

// Output drives the physical fixture.
type Output interface {
	SetOutput(c model.Color, brightness int) error
}

type job struct {
	state model.LampState
	flush chan struct{}
}

// Store owns the authoritative LampState. Mutations are serialized; hardware
// and persistence side effects run in order on a single sink goroutine.
type Store struct {
	mu     sync.Mutex
	state  model.LampState
	closed bool

	persister Persister
	output    Output
	jobs      chan job
	wg        sync.WaitGroup

	// cleared by the next successful write of the same kind
	errMu      sync.RWMutex
	hwErr      error
	persistErr error

	now func() time.Time
}

func New(initial model.LampState, persister Persister, output Output) *Store {
	s := &Store{
		state:     initial,
		persister: persister,
		output:    output,
		jobs:      make(chan job, 128),
		now:       time.Now,
	}
	s.wg.Add(1)
	go s.sink()
	return s
}

func (s *Store) Get() model.LampState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Apply runs fn against the current state. An invalid result is rejected and
// the current state returned with the validation error. A result with the
// same output as the current state is a no-op and reports changed=false.
func (s *Store) Apply(trigger model.Trigger, fn func(model.LampState) model.LampState) (model.LampState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.state, false, ErrClosed
	}

	next := fn(s.state)
	if err := next.Validate(); err != nil {
		log.Warn().
			Err(err).
			Str("trigger", string(trigger)).
			Msg("Rejected state transition")
		return s.state, false, err
	}
	if next.SameOutput(s.state) {
		return s.state, false, nil
	}

	next.LastTrigger = trigger
	next.UpdatedAt = s.now()
	s.state = next
	s.jobs <- job{state: next}

	log.Debug().
		Str("trigger", string(trigger)).
		Bool("is_on", next.IsOn).
		Int("brightness", next.Brightness).
		Str("color", next.Color.String()).
		Str("mode", string(next.Mode)).
		Msg("State transition applied")

	return next, true, nil
}

// Flush blocks until every side effect queued so far has run.
func (s *Store) Flush() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	done := make(chan struct{})
	s.jobs <- job{flush: done}
	s.mu.Unlock()
	<-done
}

// Shutdown stops accepting transitions, drains pending side effects and
// persists final synchronously.
func (s *Store) Shutdown(final model.LampState) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	s.wg.Wait()

	if s.persister == nil {
		return nil
	}
	if err := s.persister.SaveState(final); err != nil {
		return fmt.Errorf("%w: final snapshot: %w", model.ErrPersistence, err)
	}
	log.Info().
		Bool("is_on", final.IsOn).
		Str("mode", string(final.Mode)).
		Msg("Final state persisted")
	return nil
}

// LastError reports an outstanding hardware failure first, then a
// persistence failure. It is nil once both have recovered.
func (s *Store) LastError() error {
	s.errMu.RLock()
	defer s.errMu.RUnlock()
	if s.hwErr != nil {
		return s.hwErr
	}
	return s.persistErr
}

func (s *Store) setHardwareError(err error) {
	s.errMu.Lock()
	s.hwErr = err
	s.errMu.Unlock()
}

func (s *Store) setPersistError(err error) {
	s.errMu.Lock()
	s.persistErr = err
	s.errMu.Unlock()
}

func (s *Store) sink() {
	defer s.wg.Done()

	var pending *model.LampState
	for j := range s.jobs {
		if j.flush == nil {
			st := j.state
			s.drive(st)
			pending = &st
		}
		// persistence is coalesced; hardware sees every frame
		if pending != nil && (j.flush != nil || len(s.jobs) == 0) {
			s.persist(*pending)
			pending = nil
		}
		if j.flush != nil {
			close(j.flush)
		}
	}
	if pending != nil {
		s.persist(*pending)
	}
}

func (s *Store) drive(st model.LampState) {
	if s.output == nil {
		return
	}
	color, brightness := st.Color, st.Brightness
	if !st.IsOn {
		color, brightness = model.Black, 0
	}
	if err := s.output.SetOutput(color, brightness); err != nil {
		err = fmt.Errorf("%w: %w", model.ErrHardwareWrite, err)
		s.setHardwareError(err)
		log.Error().Err(err).Str("color", color.String()).Int("brightness", brightness).Msg("Failed to drive lamp output")
		return
	}
	s.setHardwareError(nil)
}

func (s *Store) persist(st model.LampState) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveState(st); err != nil {
		err = fmt.Errorf("%w: %w", model.ErrPersistence, err)
		s.setPersistError(err)
		log.Error().Err(err).Msg("Failed to persist lamp state")
		return
	}
	s.setPersistError(nil)
}

// Restore picks the startup state: a valid snapshot, else the defaults. It
// only fails when neither is usable.
func Restore(loaded *model.LampState, defaults model.LampState) (model.LampState, error) {
	if loaded != nil {
		err := loaded.Validate()
		if err == nil {
			st := *loaded
			st.LastTrigger = model.TriggerRestore
			return st, nil
		}
		log.Warn().Err(err).Msg("Persisted lamp state is invalid, falling back to defaults")
	}

	if err := defaults.Validate(); err != nil {
		return model.LampState{}, fmt.Errorf("no usable lamp state: %w", err)
	}
	st := defaults
	st.LastTrigger = model.TriggerRestore
	st.UpdatedAt = time.Now()
	return st, nil
}
