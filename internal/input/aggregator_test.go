package input

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/smart-lamp/internal/events"
	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

type fakeHardware struct {
	mu      sync.Mutex
	edges   map[model.Button]bool
	pot     int
	potErr  error
	btnErrs map[model.Button]error
}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{edges: map[model.Button]bool{}, btnErrs: map[model.Button]error{}}
}

func (f *fakeHardware) ReadButtonEdge(b model.Button) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.btnErrs[b]; err != nil {
		return false, err
	}
	edge := f.edges[b]
	f.edges[b] = false
	return edge, nil
}

func (f *fakeHardware) ReadPotentiometer() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pot, f.potErr
}

func (f *fakeHardware) press(b model.Button) {
	f.mu.Lock()
	f.edges[b] = true
	f.mu.Unlock()
}

func testConfig() Config {
	return Config{
		ButtonPoll:     5 * time.Millisecond,
		PotPoll:        5 * time.Millisecond,
		Debounce:       200 * time.Millisecond,
		NoiseThreshold: 3,
	}
}

func TestDebounceDropsSecondEdge(t *testing.T) {
	hw := newFakeHardware()
	a := New(hw, testConfig())
	t0 := time.Now()

	hw.press(model.ButtonPower)
	first := a.PollButtons(t0)

	hw.press(model.ButtonPower)
	second := a.PollButtons(t0.Add(50 * time.Millisecond))

	require.Len(t, first, 1)
	assert.Equal(t, model.InputPowerToggle, first[0].Kind)
	assert.Empty(t, second)

	hw.press(model.ButtonPower)
	third := a.PollButtons(t0.Add(250 * time.Millisecond))
	assert.Len(t, third, 1)
}

func TestDebounceIsPerButton(t *testing.T) {
	hw := newFakeHardware()
	a := New(hw, testConfig())
	t0 := time.Now()

	hw.press(model.ButtonPower)
	hw.press(model.ButtonColor)
	got := a.PollButtons(t0)
	require.Len(t, got, 2)
	assert.Equal(t, model.InputPowerToggle, got[0].Kind)
	assert.Equal(t, model.InputColorCycle, got[1].Kind)

	hw.press(model.ButtonMode)
	got = a.PollButtons(t0.Add(10 * time.Millisecond))
	require.Len(t, got, 1)
	assert.Equal(t, model.InputModeCycle, got[0].Kind)
}

func TestButtonReadErrorDoesNotStallOthers(t *testing.T) {
	hw := newFakeHardware()
	hw.btnErrs[model.ButtonPower] = model.ErrHardwareRead
	a := New(hw, testConfig())

	hw.press(model.ButtonMode)
	got := a.PollButtons(time.Now())
	require.Len(t, got, 1)
	assert.Equal(t, model.InputModeCycle, got[0].Kind)
}

func TestScaleReading(t *testing.T) {
	tests := []struct {
		raw  int
		want int
	}{
		{0, 0},
		{-4, 0},
		{1023, 100},
		{2000, 100},
		{512, 50},
		{102, 10},
		{1013, 99},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ScaleReading(tt.raw), "raw=%d", tt.raw)
	}
}

func TestPotentiometerNoiseThreshold(t *testing.T) {
	hw := newFakeHardware()
	a := New(hw, testConfig())

	hw.pot = 512
	_, ok := a.PollPotentiometer()
	assert.False(t, ok, "first reading seeds the baseline")

	hw.pot = 540 // 53, within threshold of 50
	_, ok = a.PollPotentiometer()
	assert.False(t, ok)

	hw.pot = 563 // 55
	ev, ok := a.PollPotentiometer()
	require.True(t, ok)
	assert.Equal(t, model.InputBrightnessSet, ev.Kind)
	assert.Equal(t, 55, ev.Brightness)
	assert.Equal(t, model.SourcePotentiometer, ev.Source)

	// threshold is measured from the last emitted value, not the last reading
	hw.pot = 583 // 57
	_, ok = a.PollPotentiometer()
	assert.False(t, ok)
}

func TestPotentiometerErrorUsesCachedValue(t *testing.T) {
	hw := newFakeHardware()
	a := New(hw, testConfig())

	hw.potErr = errors.New("spi timeout")
	_, ok := a.PollPotentiometer()
	assert.False(t, ok)

	hw.potErr = nil
	hw.pot = 300
	_, ok = a.PollPotentiometer()
	assert.False(t, ok)

	hw.potErr = errors.New("spi timeout")
	hw.pot = 900
	_, ok = a.PollPotentiometer()
	assert.False(t, ok, "cached value equals baseline")
	assert.Equal(t, 300, a.potCached)
}

func TestRunPublishesUntilCancelled(t *testing.T) {
	hw := newFakeHardware()
	a := New(hw, testConfig())
	q := events.NewQueue(16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, q)
		close(done)
	}()

	hw.press(model.ButtonColor)

	select {
	case ev := <-q.Events():
		assert.Equal(t, events.KindInput, ev.Kind)
		assert.Equal(t, model.InputColorCycle, ev.Input.Kind)
	case <-time.After(time.Second):
		t.Fatal("no input event published")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("aggregator did not stop")
	}
}
