package main

import (
	"flag"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/thatsimonsguy/smart-lamp/db"
	"github.com/thatsimonsguy/smart-lamp/internal/config"
	"github.com/thatsimonsguy/smart-lamp/internal/gpio"
	"github.com/thatsimonsguy/smart-lamp/system/startup"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, command, mode, configFile string
	var limit, days int
	var runBoot bool
	flag.StringVar(&dbPath, "db", "data/lamp.db", "Path to the SQLite database file")
	flag.StringVar(&command, "cmd", "", "Command to run: status, interactions, events, set-mode, prune, install-service, configure-pins")
	flag.StringVar(&mode, "mode", "", "Mode for set-mode (manual, auto, environmental)")
	flag.IntVar(&limit, "limit", 20, "Rows to show for interactions and events")
	flag.IntVar(&days, "days", 30, "Retention in days for prune")
	flag.StringVar(&configFile, "config-file", "config.json", "Lamp config file for install-service and configure-pins")
	flag.BoolVar(&runBoot, "run-boot-script", false, "Run the boot script after install-service writes it")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of smart-lamp-debug:")
		fmt.Println("  -db string\tPath to the SQLite database file (default 'data/lamp.db')")
		fmt.Println("  -cmd string\tCommand to run: status, interactions, events, set-mode, prune, install-service, configure-pins")
		fmt.Println("  -mode string\tMode for set-mode")
		fmt.Println("  -limit int\tRows to show (default 20)")
		fmt.Println("  -days int\tRetention for prune (default 30)")
		fmt.Println("  -config-file string\tLamp config for install-service")
		fmt.Println("  -run-boot-script\tApply the GPIO boot script right after install-service")
		fmt.Println("  -help\tShow this help message")
		os.Exit(0)
	}

	var err error
	switch command {
	case "status":
		err = printStatus(dbPath)
	case "interactions":
		err = printInteractions(dbPath, limit)
	case "events":
		err = printEvents(dbPath, limit)
	case "set-mode":
		err = db.SetModeCLI(dbPath, mode)
	case "prune":
		var n int64
		n, err = db.PruneCLI(dbPath, days)
		if err == nil {
			color.Cyan("Pruned %d rows older than %d days", n, days)
		}
	case "install-service":
		err = installService(configFile, runBoot)
	case "configure-pins":
		err = configurePins(configFile)
	default:
		color.Red("Invalid command %q", command)
		os.Exit(1)
	}

	if err != nil {
		color.Red("Command %s failed: %v", command, err)
		os.Exit(1)
	}
	color.Green("Command %s completed successfully", command)
}

func printStatus(dbPath string) error {
	state, stats, err := db.StatusCLI(dbPath)
	if err != nil {
		return err
	}
	if state == nil {
		color.Yellow("No persisted lamp state")
	} else {
		power := color.RedString("off")
		if state.IsOn {
			power = color.GreenString("on")
		}
		fmt.Printf("Lamp:        %s\n", power)
		fmt.Printf("Brightness:  %d\n", state.Brightness)
		fmt.Printf("Color:       %s\n", state.Color)
		fmt.Printf("Mode:        %s\n", color.CyanString(string(state.Mode)))
		fmt.Printf("Trigger:     %s\n", state.LastTrigger)
		fmt.Printf("Updated:     %s\n", state.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Interactions: %d  System events: %d  Alerts: %d\n", stats.Interactions, stats.SystemEvents, stats.Alerts)
	return nil
}

func printInteractions(dbPath string, limit int) error {
	records, err := db.InteractionsCLI(dbPath, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		color.Yellow("No interactions logged")
		return nil
	}
	for _, r := range records {
		fmt.Printf("%s  %-18s on=%-5t brightness=%-3d color=%s\n",
			r.Timestamp.Local().Format("2006-01-02 15:04:05"),
			color.CyanString(string(r.Action)), r.IsOn, r.Brightness, r.Color)
	}
	return nil
}

func printEvents(dbPath string, limit int) error {
	evs, err := db.EventsCLI(dbPath, limit)
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		color.Yellow("No system events logged")
		return nil
	}
	for _, e := range evs {
		fmt.Printf("%s  %-20s %-20s %s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			color.MagentaString(e.Kind), e.Trigger, e.Detail)
	}
	return nil
}

// installService writes the boot script and both systemd units. It does not
// enable them; run systemctl daemon-reload and enable afterwards.
func installService(configFile string, runBoot bool) error {
	cfg, err := config.LoadFile(configFile, "")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	u, err := user.Current()
	if err != nil {
		return err
	}
	workdir, err := os.Getwd()
	if err != nil {
		return err
	}
	execCmd := fmt.Sprintf("%s -config-file %s", filepath.Join(workdir, "smart-lamp"), configFile)

	if err := startup.WriteStartupScript(cfg); err != nil {
		return fmt.Errorf("write boot script: %w", err)
	}
	if err := startup.InstallStartupService(cfg); err != nil {
		return fmt.Errorf("install gpio unit: %w", err)
	}
	if err := startup.InstallLampService(cfg, u.Username, workdir, execCmd); err != nil {
		return fmt.Errorf("install lamp unit: %w", err)
	}
	color.Cyan("Wrote %s, %s and %s", cfg.BootScriptFilePath, cfg.OSServicePath, cfg.MainServicePath)

	if runBoot {
		return startup.RunStartupScript(cfg)
	}
	return nil
}

// configurePins applies the button pull-ups without a reboot and checks
// them the way the service does at startup.
func configurePins(configFile string) error {
	cfg, err := config.LoadFile(configFile, "")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	hw := gpio.NewDriver(cfg)
	if err := hw.ConfigureButtons(); err != nil {
		return err
	}
	return hw.ValidatePins()
}
