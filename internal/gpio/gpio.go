package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/smart-lamp/internal/config"
	"github.com/thatsimonsguy/smart-lamp/internal/model"
	"github.com/thatsimonsguy/smart-lamp/internal/pinctrl"
)

// Package level hooks so tests can run without pinctrl or sysfs.
var (
	readLevel = pinctrl.ReadLevel
	readPin   = pinctrl.ReadPin
	configure = pinctrl.ConfigureInput
	writeFile = func(path string, data []byte) error { return os.WriteFile(path, data, 0644) }
	readFile  = os.ReadFile
)

const adcMax = 1023

// Driver reads the buttons and potentiometer and drives the RGB channels.
// Buttons are active low; the potentiometer sits behind an MCP3008 exposed
// through the kernel IIO driver; the LED channels are sysfs PWM outputs.
type Driver struct {
	buttons  map[model.Button]model.GPIOPin
	adcPath  string
	pwmChip  string
	channels [3]int
	periodNs int
	safeMode bool

	mu      sync.Mutex
	pressed map[model.Button]bool
}

func NewDriver(cfg config.Config) *Driver {
	return &Driver{
		buttons: map[model.Button]model.GPIOPin{
			model.ButtonPower: {Number: *cfg.GPIO.PowerButton},
			model.ButtonColor: {Number: *cfg.GPIO.ColorButton},
			model.ButtonMode:  {Number: *cfg.GPIO.ModeButton},
		},
		adcPath:  cfg.Hardware.ADCPath,
		pwmChip:  cfg.Hardware.PWMChip,
		channels: [3]int{cfg.Hardware.PWMRed, cfg.Hardware.PWMGreen, cfg.Hardware.PWMBlue},
		periodNs: cfg.Hardware.PWMPeriodNs,
		safeMode: cfg.SafeMode,
		pressed:  make(map[model.Button]bool),
	}
}

// ValidatePins refuses to start if a button pin is not configured as input.
func (d *Driver) ValidatePins() error {
	for name, pin := range d.buttons {
		ps, err := readPin(pin.Number)
		if err != nil {
			return fmt.Errorf("failed to read pin state for %s button (GPIO %d): %w", name, pin.Number, err)
		}
		if !ps.IsInput() {
			return fmt.Errorf("%s button pin %d is in mode %q, expected input", name, pin.Number, ps.Mode)
		}
	}
	return nil
}

// ConfigureButtons sets every button pin to a pulled-up input, the same
// thing the boot script does.
func (d *Driver) ConfigureButtons() error {
	for name, pin := range d.buttons {
		if err := configure(pin.Number, "pu"); err != nil {
			return fmt.Errorf("configure %s button (GPIO %d): %w", name, pin.Number, err)
		}
	}
	return nil
}

// ReadButtonEdge reports a press edge: the line went low since the last read.
func (d *Driver) ReadButtonEdge(b model.Button) (bool, error) {
	pin, ok := d.buttons[b]
	if !ok {
		return false, fmt.Errorf("%w: unknown button %q", model.ErrHardwareRead, b)
	}

	level, err := readLevel(pin.Number)
	if err != nil {
		return false, fmt.Errorf("%w: %w", model.ErrHardwareRead, err)
	}
	pressed := level == pin.ActiveHigh

	d.mu.Lock()
	defer d.mu.Unlock()
	edge := pressed && !d.pressed[b]
	d.pressed[b] = pressed
	return edge, nil
}

// ReadPotentiometer returns the raw 10-bit ADC value.
func (d *Driver) ReadPotentiometer() (int, error) {
	data, err := readFile(d.adcPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", model.ErrHardwareRead, err)
	}
	raw, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: parse adc value: %w", model.ErrHardwareRead, err)
	}
	if raw < 0 || raw > adcMax {
		return 0, fmt.Errorf("%w: adc value %d out of range", model.ErrHardwareRead, raw)
	}
	return raw, nil
}

// EnableOutputs exports the three PWM channels, sets their period and
// enables them at zero duty.
func (d *Driver) EnableOutputs() error {
	if d.safeMode {
		return nil
	}
	for _, ch := range d.channels {
		dir := filepath.Join(d.pwmChip, fmt.Sprintf("pwm%d", ch))
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := writeFile(filepath.Join(d.pwmChip, "export"), []byte(strconv.Itoa(ch))); err != nil {
				return fmt.Errorf("export pwm%d: %w", ch, err)
			}
		}
		steps := []struct {
			file  string
			value string
		}{
			{"duty_cycle", "0"},
			{"period", strconv.Itoa(d.periodNs)},
			{"enable", "1"},
		}
		for _, s := range steps {
			if err := writeFile(filepath.Join(dir, s.file), []byte(s.value)); err != nil {
				return fmt.Errorf("pwm%d %s: %w", ch, s.file, err)
			}
		}
	}
	return nil
}

// SetOutput writes per-channel duty cycles scaled by brightness.
func (d *Driver) SetOutput(c model.Color, brightness int) error {
	if d.safeMode {
		log.Debug().Str("color", c.String()).Int("brightness", brightness).Msg("Safe mode: skipping lamp output")
		return nil
	}

	for i, value := range []int{c.R, c.G, c.B} {
		duty := DutyCycle(value, brightness, d.periodNs)
		path := filepath.Join(d.pwmChip, fmt.Sprintf("pwm%d", d.channels[i]), "duty_cycle")
		if err := writeFile(path, []byte(strconv.Itoa(duty))); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// DutyCycle maps a 0-255 channel at 0-100 brightness onto a PWM period.
func DutyCycle(channel, brightness, periodNs int) int {
	return periodNs * channel / 255 * brightness / 100
}

// DisableOutputs zeroes and disables every channel so the LED goes dark
// when the service exits.
func (d *Driver) DisableOutputs() error {
	if d.safeMode {
		return nil
	}
	var firstErr error
	for _, ch := range d.channels {
		dir := filepath.Join(d.pwmChip, fmt.Sprintf("pwm%d", ch))
		for _, file := range []string{"duty_cycle", "enable"} {
			if err := writeFile(filepath.Join(dir, file), []byte("0")); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%w: pwm%d %s: %w", model.ErrHardwareWrite, ch, file, err)
			}
		}
	}
	return firstErr
}
