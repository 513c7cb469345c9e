package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

type GPIO struct {
	// buttons, active low with pull-up
	PowerButton *int `json:"power_button" yaml:"power_button"`
	ColorButton *int `json:"color_button" yaml:"color_button"`
	ModeButton  *int `json:"mode_button" yaml:"mode_button"`
}

type Hardware struct {
	ADCPath     string `json:"adc_path" yaml:"adc_path"`
	PWMChip     string `json:"pwm_chip" yaml:"pwm_chip"`
	PWMRed      int    `json:"pwm_red" yaml:"pwm_red"`
	PWMGreen    int    `json:"pwm_green" yaml:"pwm_green"`
	PWMBlue     int    `json:"pwm_blue" yaml:"pwm_blue"`
	PWMPeriodNs int    `json:"pwm_period_ns" yaml:"pwm_period_ns"`
}

type Defaults struct {
	Brightness int         `json:"brightness" yaml:"brightness"`
	Color      model.Color `json:"color" yaml:"color"`
	Mode       model.Mode  `json:"mode" yaml:"mode"`
}

type Input struct {
	ButtonPollMillis int `json:"button_poll_millis" yaml:"button_poll_millis"`
	PotPollMillis    int `json:"pot_poll_millis" yaml:"pot_poll_millis"`
	DebounceMillis   int `json:"debounce_millis" yaml:"debounce_millis"`
	NoiseThreshold   int `json:"noise_threshold" yaml:"noise_threshold"`
}

type Alerts struct {
	QueueSize           int         `json:"queue_size" yaml:"queue_size"`
	FlashCycles         int         `json:"flash_cycles" yaml:"flash_cycles"`
	FlashIntervalMillis int         `json:"flash_interval_millis" yaml:"flash_interval_millis"`
	EmergencyColor      model.Color `json:"emergency_color" yaml:"emergency_color"`
	SeismicHighMag      float64     `json:"seismic_high_magnitude" yaml:"seismic_high_magnitude"`
	SeismicMediumMag    float64     `json:"seismic_medium_magnitude" yaml:"seismic_medium_magnitude"`
	AQIMedium           float64     `json:"aqi_medium" yaml:"aqi_medium"`
	AQIHigh             float64     `json:"aqi_high" yaml:"aqi_high"`
	ColdBelowC          float64     `json:"cold_below_c" yaml:"cold_below_c"`
	HotAboveC           float64     `json:"hot_above_c" yaml:"hot_above_c"`
}

type Prediction struct {
	MinRecords               int     `json:"min_records" yaml:"min_records"`
	LearningPeriodDays       int     `json:"learning_period_days" yaml:"learning_period_days"`
	LookbackDays             int     `json:"lookback_days" yaml:"lookback_days"`
	ConfidenceThreshold      float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	InferenceIntervalSeconds int     `json:"inference_interval_seconds" yaml:"inference_interval_seconds"`
	TrainingCheckSeconds     int     `json:"training_check_seconds" yaml:"training_check_seconds"`
	RetrainIntervalHours     int     `json:"retrain_interval_hours" yaml:"retrain_interval_hours"`
}

// Temperature configures the optional on-board DS18B20 sensor.
type Temperature struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	SensorPath   string  `json:"sensor_path" yaml:"sensor_path"`
	PollSeconds  int     `json:"poll_seconds" yaml:"poll_seconds"`
	MaxDeltaC    float64 `json:"max_delta_c" yaml:"max_delta_c"`
	MaxAnomalies int     `json:"max_anomalies" yaml:"max_anomalies"`
	HistorySize  int     `json:"history_size" yaml:"history_size"`
	ReportDeltaC float64 `json:"report_delta_c" yaml:"report_delta_c"`
}

type Automation struct {
	InactivityTimeoutMinutes int `json:"inactivity_timeout_minutes" yaml:"inactivity_timeout_minutes"`
	InactivityCheckSeconds   int `json:"inactivity_check_seconds" yaml:"inactivity_check_seconds"`
	EventQueueSize           int `json:"event_queue_size" yaml:"event_queue_size"`
	MinBrightness            int `json:"min_brightness" yaml:"min_brightness"`
	RetentionDays            int `json:"retention_days" yaml:"retention_days"`
}

type MQTT struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Broker     string `json:"broker" yaml:"broker"`
	ClientID   string `json:"client_id" yaml:"client_id"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"-" yaml:"-"`
	AlertTopic string `json:"alert_topic" yaml:"alert_topic"`
	StateTopic string `json:"state_topic" yaml:"state_topic"`
	QoS        int    `json:"qos" yaml:"qos"`
}

type InfluxDB struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	URL           string `json:"url" yaml:"url"`
	Token         string `json:"-" yaml:"-"`
	Org           string `json:"org" yaml:"org"`
	Bucket        string `json:"bucket" yaml:"bucket"`
	BatchSize     int    `json:"batch_size" yaml:"batch_size"`
	FlushInterval int    `json:"flush_interval_seconds" yaml:"flush_interval_seconds"`
}

type Datadog struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	AgentAddr string   `json:"agent_addr" yaml:"agent_addr"`
	Namespace string   `json:"namespace" yaml:"namespace"`
	Tags      []string `json:"tags" yaml:"tags"`
}

type Config struct {
	StateFile  string        `json:"-" yaml:"-"`
	ConfigFile string        `json:"-" yaml:"-"`
	DBPath     string        `json:"-" yaml:"-"`
	EnvFile    string        `json:"-" yaml:"-"`
	LogLevel   zerolog.Level `json:"-" yaml:"-"`

	LogFile      string `json:"log_file" yaml:"log_file"`
	StateBackend string `json:"state_backend" yaml:"state_backend"`
	SafeMode     bool   `json:"safe_mode" yaml:"safe_mode"`
	APIPort      int    `json:"api_port" yaml:"api_port"`
	NtfyTopic    string `json:"ntfy_topic" yaml:"ntfy_topic"`

	BootScriptFilePath string `json:"boot_script_file_path" yaml:"boot_script_file_path"`
	OSServicePath      string `json:"os_service_path" yaml:"os_service_path"`
	MainServicePath    string `json:"main_service_path" yaml:"main_service_path"`

	Defaults    Defaults    `json:"defaults" yaml:"defaults"`
	GPIO        GPIO        `json:"gpio" yaml:"gpio"`
	Hardware    Hardware    `json:"hardware" yaml:"hardware"`
	Input       Input       `json:"input" yaml:"input"`
	Alerts      Alerts      `json:"alerts" yaml:"alerts"`
	Prediction  Prediction  `json:"prediction" yaml:"prediction"`
	Automation  Automation  `json:"automation" yaml:"automation"`
	Temperature Temperature `json:"temperature" yaml:"temperature"`
	MQTT        MQTT        `json:"mqtt" yaml:"mqtt"`
	InfluxDB    InfluxDB    `json:"influxdb" yaml:"influxdb"`
	Datadog     Datadog     `json:"datadog" yaml:"datadog"`
}

// Load parses flags, the optional .env file and the config file. It panics
// on an unusable config so the service never starts half configured.
func Load() Config {
	var (
		stateFile, configFile, dbPath, envFile, logLevel string
	)

	flag.StringVar(&stateFile, "state-file", "data/state.json", "Path to lamp state file (state_backend=file)")
	flag.StringVar(&configFile, "config-file", "config.json", "Path to lamp config file (.json, .yaml or .yml)")
	flag.StringVar(&dbPath, "db", "data/lamp.db", "Path to the SQLite database file")
	flag.StringVar(&envFile, "env-file", ".env", "Optional dotenv file with secrets")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := LoadFile(configFile, envFile)
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}
	cfg.StateFile = stateFile
	cfg.DBPath = dbPath
	cfg.LogLevel = parseLogLevel(logLevel)

	if err := cfg.Validate(); err != nil {
		panic("Invalid config: " + err.Error())
	}
	return cfg
}

// LoadFile reads path and envFile without touching flags. A missing env file
// is not an error.
func LoadFile(path, envFile string) (Config, error) {
	var cfg Config
	cfg.ConfigFile = path
	cfg.EnvFile = envFile

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("load env file: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("NTFY_TOPIC"); v != "" {
		cfg.NtfyTopic = v
	}
	if v := os.Getenv("DD_AGENT_ADDR"); v != "" {
		cfg.Datadog.AgentAddr = v
	}
}

func (cfg *Config) applyDefaults() {
	setInt := func(v *int, d int) {
		if *v == 0 {
			*v = d
		}
	}
	setFloat := func(v *float64, d float64) {
		if *v == 0 {
			*v = d
		}
	}
	setString := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}

	setString(&cfg.LogFile, "/var/log/smart-lamp.log")
	setString(&cfg.StateBackend, "sqlite")
	setInt(&cfg.APIPort, 8080)
	setString(&cfg.BootScriptFilePath, "/usr/local/bin/smart-lamp-gpio.sh")
	setString(&cfg.OSServicePath, "/etc/systemd/system/smart-lamp-gpio.service")
	setString(&cfg.MainServicePath, "/etc/systemd/system/smart-lamp.service")

	setInt(&cfg.Defaults.Brightness, 50)
	if cfg.Defaults.Color == (model.Color{}) {
		cfg.Defaults.Color = model.White
	}
	if cfg.Defaults.Mode == "" {
		cfg.Defaults.Mode = model.ModeManual
	}

	setString(&cfg.Hardware.ADCPath, "/sys/bus/iio/devices/iio:device0/in_voltage0_raw")
	setString(&cfg.Hardware.PWMChip, "/sys/class/pwm/pwmchip0")
	setInt(&cfg.Hardware.PWMPeriodNs, 1000000)

	setInt(&cfg.Input.ButtonPollMillis, 20)
	setInt(&cfg.Input.PotPollMillis, 100)
	setInt(&cfg.Input.DebounceMillis, 250)
	setInt(&cfg.Input.NoiseThreshold, 3)

	setInt(&cfg.Alerts.QueueSize, 32)
	setInt(&cfg.Alerts.FlashCycles, 3)
	setInt(&cfg.Alerts.FlashIntervalMillis, 500)
	if cfg.Alerts.EmergencyColor == (model.Color{}) {
		cfg.Alerts.EmergencyColor = model.Color{R: 255}
	}
	setFloat(&cfg.Alerts.SeismicHighMag, 5.5)
	setFloat(&cfg.Alerts.SeismicMediumMag, 4.0)
	setFloat(&cfg.Alerts.AQIMedium, 100)
	setFloat(&cfg.Alerts.AQIHigh, 150)
	setFloat(&cfg.Alerts.ColdBelowC, 18)
	setFloat(&cfg.Alerts.HotAboveC, 28)

	setInt(&cfg.Prediction.MinRecords, 20)
	setInt(&cfg.Prediction.LearningPeriodDays, 7)
	setInt(&cfg.Prediction.LookbackDays, 30)
	setFloat(&cfg.Prediction.ConfidenceThreshold, 0.75)
	setInt(&cfg.Prediction.InferenceIntervalSeconds, 300)
	setInt(&cfg.Prediction.TrainingCheckSeconds, 3600)
	setInt(&cfg.Prediction.RetrainIntervalHours, 24)

	setInt(&cfg.Automation.InactivityTimeoutMinutes, 30)
	setInt(&cfg.Automation.InactivityCheckSeconds, 10)
	setInt(&cfg.Automation.EventQueueSize, 64)
	setInt(&cfg.Automation.MinBrightness, 5)
	setInt(&cfg.Automation.RetentionDays, 30)

	setInt(&cfg.Temperature.PollSeconds, 60)
	setFloat(&cfg.Temperature.MaxDeltaC, 3)
	setInt(&cfg.Temperature.MaxAnomalies, 6)
	setInt(&cfg.Temperature.HistorySize, 20)
	setFloat(&cfg.Temperature.ReportDeltaC, 0.5)

	setString(&cfg.MQTT.ClientID, "smart-lamp")
	setString(&cfg.MQTT.AlertTopic, "smartlamp/alerts/#")
	setString(&cfg.MQTT.StateTopic, "smartlamp/state")
	setInt(&cfg.MQTT.QoS, 1)

	setInt(&cfg.InfluxDB.BatchSize, 100)
	setInt(&cfg.InfluxDB.FlushInterval, 10)

	setString(&cfg.Datadog.AgentAddr, "127.0.0.1:8125")
	setString(&cfg.Datadog.Namespace, "smart_lamp.")
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Validate checks pins, defaults and optional integrations.
func (cfg *Config) Validate() error {
	var (
		missingFields []string
		usedPins      = map[int]string{}
		conflicts     []string
		problems      []string
	)

	v := reflect.ValueOf(cfg.GPIO)
	t := reflect.TypeOf(cfg.GPIO)

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldName := t.Field(i).Tag.Get("json")

		if field.IsNil() {
			missingFields = append(missingFields, "gpio."+fieldName)
			continue
		}

		pin := field.Elem().Int()
		if other, exists := usedPins[int(pin)]; exists {
			conflicts = append(conflicts, fmt.Sprintf("gpio.%s and gpio.%s both use pin %d", fieldName, other, pin))
		} else {
			usedPins[int(pin)] = fieldName
		}
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required GPIO config fields: %s", strings.Join(missingFields, ", "))
	}
	if len(conflicts) > 0 {
		return fmt.Errorf("conflicting GPIO pins: %s", strings.Join(conflicts, ", "))
	}

	defaults := model.LampState{Brightness: cfg.Defaults.Brightness, Color: cfg.Defaults.Color, Mode: cfg.Defaults.Mode}
	if err := defaults.Validate(); err != nil {
		problems = append(problems, "defaults: "+err.Error())
	}
	if !cfg.Alerts.EmergencyColor.Valid() {
		problems = append(problems, "alerts.emergency_color out of range")
	}
	if cfg.Prediction.LookbackDays < cfg.Prediction.LearningPeriodDays {
		problems = append(problems, fmt.Sprintf("prediction.lookback_days %d is shorter than learning_period_days %d",
			cfg.Prediction.LookbackDays, cfg.Prediction.LearningPeriodDays))
	}
	if th := cfg.Prediction.ConfidenceThreshold; th <= 0 || th >= 1 {
		problems = append(problems, fmt.Sprintf("prediction.confidence_threshold %.2f must be between 0 and 1", th))
	}
	if mb := cfg.Automation.MinBrightness; mb < 0 || mb > 100 {
		problems = append(problems, fmt.Sprintf("automation.min_brightness %d out of range", mb))
	}
	if cfg.StateBackend != "sqlite" && cfg.StateBackend != "file" {
		problems = append(problems, fmt.Sprintf("unknown state_backend %q", cfg.StateBackend))
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		problems = append(problems, "mqtt.broker is required when mqtt is enabled")
	}
	if cfg.Temperature.Enabled && cfg.Temperature.SensorPath == "" {
		problems = append(problems, "temperature.sensor_path is required when temperature is enabled")
	}
	if cfg.InfluxDB.Enabled && (cfg.InfluxDB.URL == "" || cfg.InfluxDB.Bucket == "") {
		problems = append(problems, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}
