package startup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/smart-lamp/internal/config"
)

func intPtr(v int) *int { return &v }

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		BootScriptFilePath: filepath.Join(dir, "smart-lamp-gpio.sh"),
		OSServicePath:      filepath.Join(dir, "smart-lamp-gpio.service"),
		MainServicePath:    filepath.Join(dir, "smart-lamp.service"),
		GPIO:               config.GPIO{PowerButton: intPtr(17), ColorButton: intPtr(27), ModeButton: intPtr(22)},
		Hardware:           config.Hardware{PWMChip: "/sys/class/pwm/pwmchip0", PWMRed: 0, PWMGreen: 1, PWMBlue: 2},
	}
}

func TestWriteStartupScript(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, WriteStartupScript(cfg))

	data, err := os.ReadFile(cfg.BootScriptFilePath)
	require.NoError(t, err)
	script := string(data)

	assert.Contains(t, script, "#!/bin/bash")
	assert.Contains(t, script, "pinctrl set 17 ip pu")
	assert.Contains(t, script, "pinctrl set 27 ip pu")
	assert.Contains(t, script, "pinctrl set 22 ip pu")
	assert.Contains(t, script, "[ -d /sys/class/pwm/pwmchip0/pwm2 ] || echo 2 > /sys/class/pwm/pwmchip0/export")

	info, err := os.Stat(cfg.BootScriptFilePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestWriteStartupScriptMissingPin(t *testing.T) {
	cfg := testConfig(t)
	cfg.GPIO.ModeButton = nil
	assert.Error(t, WriteStartupScript(cfg))
}

func TestInstallServices(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, InstallStartupService(cfg))
	require.NoError(t, InstallLampService(cfg, "pi", "/home/pi/smart-lamp", "./smart-lamp -config-file config.yaml"))

	gpioUnit, err := os.ReadFile(cfg.OSServicePath)
	require.NoError(t, err)
	assert.Contains(t, string(gpioUnit), "ExecStart="+cfg.BootScriptFilePath)

	mainUnit, err := os.ReadFile(cfg.MainServicePath)
	require.NoError(t, err)
	assert.Contains(t, string(mainUnit), "Requires=smart-lamp-gpio.service")
	assert.Contains(t, string(mainUnit), "User=pi")
	assert.Contains(t, string(mainUnit), "ExecStart=/bin/bash -lc './smart-lamp -config-file config.yaml'")
}
