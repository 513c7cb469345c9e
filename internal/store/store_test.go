package store

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

type recordingOutput struct {
	mu     sync.Mutex
	writes []model.LampState
	err    error
}

func (o *recordingOutput) SetOutput(c model.Color, brightness int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = append(o.writes, model.LampState{Color: c, Brightness: brightness})
	return o.err
}

func (o *recordingOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.writes)
}

type memoryPersister struct {
	mu    sync.Mutex
	saved []model.LampState
	err   error
}

func (p *memoryPersister) SaveState(s model.LampState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.saved = append(p.saved, s)
	return nil
}

func (p *memoryPersister) last() model.LampState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saved[len(p.saved)-1]
}

func initialState() model.LampState {
	return model.LampState{IsOn: true, Brightness: 50, Color: model.White, Mode: model.ModeManual}
}

func TestApplyRejectsOutOfRange(t *testing.T) {
	out := &recordingOutput{}
	s := New(initialState(), nil, out)

	tests := []struct {
		name string
		fn   func(model.LampState) model.LampState
	}{
		{"brightness high", func(st model.LampState) model.LampState { st.Brightness = 150; return st }},
		{"brightness low", func(st model.LampState) model.LampState { st.Brightness = -10; return st }},
		{"color channel", func(st model.LampState) model.LampState { st.Color = model.Color{R: 300}; return st }},
		{"mode", func(st model.LampState) model.LampState { st.Mode = "disco"; return st }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed, err := s.Apply(model.TriggerManual, tt.fn)
			assert.True(t, errors.Is(err, model.ErrInvalidTransition))
			assert.False(t, changed)
			assert.Equal(t, initialState(), got)
		})
	}

	s.Flush()
	assert.Equal(t, 0, out.count())
	assert.Equal(t, initialState(), s.Get())
}

func TestApplySameOutputIsNoop(t *testing.T) {
	out := &recordingOutput{}
	p := &memoryPersister{}
	s := New(initialState(), p, out)

	_, changed, err := s.Apply(model.TriggerPrediction, func(st model.LampState) model.LampState { return st })
	require.NoError(t, err)
	assert.False(t, changed)

	s.Flush()
	assert.Equal(t, 0, out.count())
	assert.Empty(t, p.saved)
}

func TestApplyIsSerialUnderConcurrency(t *testing.T) {
	start := initialState()
	start.Brightness = 0
	s := New(start, nil, nil)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Apply(model.TriggerManual, func(st model.LampState) model.LampState {
				st.Brightness++
				return st
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, s.Get().Brightness)
}

func TestApplyDrivesHardwareAndPersistsLatest(t *testing.T) {
	out := &recordingOutput{}
	p := &memoryPersister{}
	s := New(initialState(), p, out)

	_, _, err := s.Apply(model.TriggerManual, func(st model.LampState) model.LampState {
		st.Color = model.Color{R: 10, G: 20, B: 30}
		return st
	})
	require.NoError(t, err)
	_, _, err = s.Apply(model.TriggerManual, func(st model.LampState) model.LampState {
		st.IsOn = false
		return st
	})
	require.NoError(t, err)
	s.Flush()

	require.Equal(t, 2, out.count())
	assert.Equal(t, model.Color{R: 10, G: 20, B: 30}, out.writes[0].Color)
	// off is driven as black at zero brightness
	assert.Equal(t, model.Black, out.writes[1].Color)
	assert.Equal(t, 0, out.writes[1].Brightness)

	last := p.last()
	assert.False(t, last.IsOn)
	assert.Equal(t, model.TriggerManual, last.LastTrigger)
}

func TestHardwareFailureIsRecordedNotRolledBack(t *testing.T) {
	out := &recordingOutput{err: errors.New("pwm busy")}
	s := New(initialState(), nil, out)

	next, changed, err := s.Apply(model.TriggerManual, func(st model.LampState) model.LampState {
		st.Brightness = 80
		return st
	})
	require.NoError(t, err)
	assert.True(t, changed)
	s.Flush()

	assert.Equal(t, 80, s.Get().Brightness)
	assert.Equal(t, next, s.Get())
	assert.True(t, errors.Is(s.LastError(), model.ErrHardwareWrite))
}

func TestLastErrorClearsAfterRecovery(t *testing.T) {
	out := &recordingOutput{err: errors.New("pwm busy")}
	p := &memoryPersister{}
	s := New(initialState(), p, out)

	_, _, err := s.Apply(model.TriggerManual, func(st model.LampState) model.LampState {
		st.Brightness = 70
		return st
	})
	require.NoError(t, err)
	s.Flush()
	assert.ErrorIs(t, s.LastError(), model.ErrHardwareWrite)

	out.mu.Lock()
	out.err = nil
	out.mu.Unlock()

	_, _, err = s.Apply(model.TriggerManual, func(st model.LampState) model.LampState {
		st.Brightness = 60
		return st
	})
	require.NoError(t, err)
	s.Flush()
	assert.NoError(t, s.LastError())
}

func TestHardwareErrorOutlivesPersistSuccess(t *testing.T) {
	out := &recordingOutput{err: errors.New("pwm busy")}
	p := &memoryPersister{}
	s := New(initialState(), p, out)

	_, _, err := s.Apply(model.TriggerManual, func(st model.LampState) model.LampState {
		st.Brightness = 70
		return st
	})
	require.NoError(t, err)
	s.Flush()

	assert.Equal(t, 70, p.last().Brightness)
	assert.ErrorIs(t, s.LastError(), model.ErrHardwareWrite)
}

func TestPersistenceFailureIsRecorded(t *testing.T) {
	p := &memoryPersister{err: errors.New("disk full")}
	s := New(initialState(), p, nil)

	_, _, err := s.Apply(model.TriggerManual, func(st model.LampState) model.LampState {
		st.IsOn = false
		return st
	})
	require.NoError(t, err)
	s.Flush()

	assert.False(t, s.Get().IsOn)
	assert.True(t, errors.Is(s.LastError(), model.ErrPersistence))
}

func TestShutdownPersistsFinalAndRejectsFurtherApply(t *testing.T) {
	p := &memoryPersister{}
	s := New(initialState(), p, nil)

	final := initialState()
	final.Color = model.Color{R: 1, G: 2, B: 3}
	require.NoError(t, s.Shutdown(final))
	assert.Equal(t, final, p.last())

	_, _, err := s.Apply(model.TriggerManual, func(st model.LampState) model.LampState {
		st.IsOn = false
		return st
	})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Shutdown(final), ErrClosed)
}

func TestRestore(t *testing.T) {
	defaults := model.LampState{Brightness: 50, Color: model.White, Mode: model.ModeManual}
	saved := model.LampState{IsOn: true, Brightness: 20, Color: model.Color{R: 1}, Mode: model.ModeAuto}
	corrupt := model.LampState{Brightness: 900, Mode: model.ModeAuto}

	got, err := Restore(&saved, defaults)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Brightness)
	assert.Equal(t, model.TriggerRestore, got.LastTrigger)

	got, err = Restore(&corrupt, defaults)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Brightness)

	got, err = Restore(nil, defaults)
	require.NoError(t, err)
	assert.Equal(t, model.ModeManual, got.Mode)

	_, err = Restore(&corrupt, model.LampState{Brightness: -1})
	assert.Error(t, err)
}

func TestFileSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "state.json")
	snap := NewFileSnapshot(path)

	loaded, err := snap.LoadState()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	want := model.LampState{IsOn: true, Brightness: 42, Color: model.Color{R: 9, G: 8, B: 7}, Mode: model.ModeEnvironmental, LastTrigger: model.TriggerManual}
	require.NoError(t, snap.SaveState(want))

	loaded, err = snap.LoadState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, want.Brightness, loaded.Brightness)
	assert.Equal(t, want.Color, loaded.Color)
	assert.Equal(t, want.Mode, loaded.Mode)
}
