package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/thatsimonsguy/smart-lamp/internal/config"
)

// WriteStartupScript writes the boot script that configures the button pins
// as pulled-up inputs and exports the PWM channels before the lamp starts.
func WriteStartupScript(cfg config.Config) error {
	var lines []string
	lines = append(lines, "#!/bin/bash", "", "# Smart lamp GPIO configuration at boot", "")

	buttons := []struct {
		label string
		pin   *int
	}{
		{"power_button", cfg.GPIO.PowerButton},
		{"color_button", cfg.GPIO.ColorButton},
		{"mode_button", cfg.GPIO.ModeButton},
	}
	for _, b := range buttons {
		if b.pin == nil {
			return fmt.Errorf("%s pin not configured", b.label)
		}
		lines = append(lines, fmt.Sprintf("# %s", b.label))
		lines = append(lines, fmt.Sprintf("pinctrl set %d ip pu", *b.pin))
		lines = append(lines, "")
	}

	lines = append(lines, "# RGB PWM channels")
	for _, ch := range []int{cfg.Hardware.PWMRed, cfg.Hardware.PWMGreen, cfg.Hardware.PWMBlue} {
		dir := filepath.Join(cfg.Hardware.PWMChip, fmt.Sprintf("pwm%d", ch))
		lines = append(lines, fmt.Sprintf("[ -d %s ] || echo %d > %s", dir, ch, filepath.Join(cfg.Hardware.PWMChip, "export")))
	}

	contents := strings.Join(lines, "\n") + "\n"
	return os.WriteFile(cfg.BootScriptFilePath, []byte(contents), 0755)
}

func InstallStartupService(cfg config.Config) error {
	unitContents := fmt.Sprintf(`[Unit]
Description=Configure smart lamp GPIO pins at boot
After=network.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, cfg.BootScriptFilePath)

	return os.WriteFile(cfg.OSServicePath, []byte(unitContents), 0644)
}

func RunStartupScript(cfg config.Config) error {
	cmd := exec.Command("/bin/bash", cfg.BootScriptFilePath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// InstallLampService writes the main unit; it requires the GPIO unit.
func InstallLampService(cfg config.Config, user, workdir, execCmd string) error {
	gpioUnitName := filepath.Base(cfg.OSServicePath)

	unit := fmt.Sprintf(`[Unit]
Description=Smart lamp automation service
After=%s
Requires=%s

[Service]
Type=simple
User=%s
WorkingDirectory=%s
Environment=PATH=/usr/local/go/bin:/usr/local/bin:/usr/bin:/bin
ExecStart=/bin/bash -lc '%s'
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, gpioUnitName, gpioUnitName, user, workdir, execCmd)

	return os.WriteFile(cfg.MainServicePath, []byte(unit), 0644)
}
