package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/smart-lamp/db"
	"github.com/thatsimonsguy/smart-lamp/internal/api"
	"github.com/thatsimonsguy/smart-lamp/internal/config"
	"github.com/thatsimonsguy/smart-lamp/internal/coordinator"
	"github.com/thatsimonsguy/smart-lamp/internal/datadog"
	"github.com/thatsimonsguy/smart-lamp/internal/events"
	"github.com/thatsimonsguy/smart-lamp/internal/gpio"
	"github.com/thatsimonsguy/smart-lamp/internal/influxdb"
	"github.com/thatsimonsguy/smart-lamp/internal/input"
	"github.com/thatsimonsguy/smart-lamp/internal/logging"
	"github.com/thatsimonsguy/smart-lamp/internal/model"
	"github.com/thatsimonsguy/smart-lamp/internal/mqtt"
	"github.com/thatsimonsguy/smart-lamp/internal/notifications"
	"github.com/thatsimonsguy/smart-lamp/internal/prediction"
	"github.com/thatsimonsguy/smart-lamp/internal/sensors"
	"github.com/thatsimonsguy/smart-lamp/internal/store"
	"github.com/thatsimonsguy/smart-lamp/internal/temperature"
	"github.com/thatsimonsguy/smart-lamp/system/shutdown"
)

const pruneInterval = 24 * time.Hour

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("db", cfg.DBPath).
		Str("state_backend", cfg.StateBackend).
		Msg("Starting smart lamp")

	hw := gpio.NewDriver(cfg)
	if cfg.SafeMode {
		log.Warn().Msg("SAFE MODE ENABLED: lamp outputs are not driven")
	}
	if err := hw.ValidatePins(); err != nil {
		log.Fatal().Err(err).Msg("Refusing to start with misconfigured button pins")
	}
	if err := hw.EnableOutputs(); err != nil {
		shutdown.ShutdownWithError(hw, cfg.SafeMode, err, "Failed to enable PWM outputs")
	}

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		shutdown.ShutdownWithError(hw, cfg.SafeMode, err, "Failed to open database")
	}
	repo := db.NewRepository(conn)

	var snapshots store.Snapshotter = repo
	if cfg.StateBackend == "file" {
		snapshots = store.NewFileSnapshot(cfg.StateFile)
	}

	loaded, err := snapshots.LoadState()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load lamp state, starting with defaults")
	}
	initial, err := store.Restore(loaded, model.LampState{
		Brightness: cfg.Defaults.Brightness,
		Color:      cfg.Defaults.Color,
		Mode:       cfg.Defaults.Mode,
	})
	if err != nil {
		shutdown.ShutdownWithError(hw, cfg.SafeMode, err, "No usable lamp state")
	}

	log.Info().
		Bool("is_on", initial.IsOn).
		Int("brightness", initial.Brightness).
		Str("color", initial.Color.String()).
		Str("mode", string(initial.Mode)).
		Msg("Restored lamp state")

	st := store.New(initial, snapshots, hw)
	queue := events.NewQueue(cfg.Automation.EventQueueSize)

	metrics := datadog.New(cfg.Datadog)

	var notifier, notices coordinator.Notifier
	if n := notifications.New(cfg.NtfyTopic); n != nil {
		notifier = n
		notices = n.Tagged(notifications.PriorityDefault, "thermometer")
	}

	coord := coordinator.New(st, queue, repo, metrics, notifier, coordinator.Options{
		EmergencyColor:    cfg.Alerts.EmergencyColor,
		FlashCycles:       cfg.Alerts.FlashCycles,
		FlashInterval:     time.Duration(cfg.Alerts.FlashIntervalMillis) * time.Millisecond,
		InactivityTimeout: time.Duration(cfg.Automation.InactivityTimeoutMinutes) * time.Minute,
		MinBrightness:     cfg.Automation.MinBrightness,
		AQIMedium:         cfg.Alerts.AQIMedium,
		AQIHigh:           cfg.Alerts.AQIHigh,
		ColdBelow:         cfg.Alerts.ColdBelowC,
		HotAbove:          cfg.Alerts.HotAboveC,
	})

	engine := prediction.NewEngine(prediction.NewPatternClassifier(), repo, prediction.Config{
		MinRecords:        cfg.Prediction.MinRecords,
		LearningPeriod:    time.Duration(cfg.Prediction.LearningPeriodDays) * 24 * time.Hour,
		Lookback:          time.Duration(cfg.Prediction.LookbackDays) * 24 * time.Hour,
		Threshold:         cfg.Prediction.ConfidenceThreshold,
		InferenceInterval: time.Duration(cfg.Prediction.InferenceIntervalSeconds) * time.Second,
		TrainingCheck:     time.Duration(cfg.Prediction.TrainingCheckSeconds) * time.Second,
		RetrainInterval:   time.Duration(cfg.Prediction.RetrainIntervalHours) * time.Hour,
	})

	var alerts sensors.AlertLogger = repo

	influx, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
		log.Warn().Err(err).Msg("InfluxDB unavailable, time series disabled")
	}
	if influx.IsConnected() {
		coord.AddObserver(coordinator.StateObserverFunc(influx.WriteLampState))
		engine.SetRecorder(influx)
		alerts = alertJournal{repo: repo, influx: influx}
	}

	bridge := sensors.NewBridge(cfg.Alerts.QueueSize, sensors.Thresholds{
		SeismicHigh:   cfg.Alerts.SeismicHighMag,
		SeismicMedium: cfg.Alerts.SeismicMediumMag,
		AQIMedium:     cfg.Alerts.AQIMedium,
		AQIHigh:       cfg.Alerts.AQIHigh,
	}, alerts)

	broker, err := mqtt.Connect(cfg.MQTT)
	if err != nil && !errors.Is(err, mqtt.ErrDisabled) {
		log.Warn().Err(err).Msg("MQTT unavailable, alerts arrive only through the API")
	}
	if broker != nil {
		if err := broker.Subscribe(cfg.MQTT.AlertTopic, byte(cfg.MQTT.QoS), bridge.HandleMQTT); err != nil {
			log.Error().Err(err).Str("topic", cfg.MQTT.AlertTopic).Msg("Failed to subscribe to alerts")
		}
		coord.AddObserver(coordinator.StateObserverFunc(func(s model.LampState) {
			if err := broker.PublishState(s); err != nil {
				log.Debug().Err(err).Msg("Lamp state not published")
			}
		}))
	}

	agg := input.New(hw, input.Config{
		ButtonPoll:     time.Duration(cfg.Input.ButtonPollMillis) * time.Millisecond,
		PotPoll:        time.Duration(cfg.Input.PotPollMillis) * time.Millisecond,
		Debounce:       time.Duration(cfg.Input.DebounceMillis) * time.Millisecond,
		NoiseThreshold: cfg.Input.NoiseThreshold,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx, queue.Events()) }()

	go agg.Run(ctx, queue)
	go bridge.Run(ctx, queue)
	go engine.Run(ctx, queue)
	go coordinator.RunInactivityTicker(ctx, queue, time.Duration(cfg.Automation.InactivityCheckSeconds)*time.Second)
	go pruneHistory(ctx, repo, cfg.Automation.RetentionDays)

	server := api.NewServer(coord, engine, repo, bridge)

	if cfg.Temperature.Enabled {
		thermo := temperature.New(temperature.Config{
			SensorPath:   cfg.Temperature.SensorPath,
			Poll:         time.Duration(cfg.Temperature.PollSeconds) * time.Second,
			MaxDelta:     cfg.Temperature.MaxDeltaC,
			MaxAnomalies: cfg.Temperature.MaxAnomalies,
			HistorySize:  cfg.Temperature.HistorySize,
			ReportDelta:  cfg.Temperature.ReportDeltaC,
			RetryDelay:   2 * time.Second,
		}, bridge, notices, metrics)
		server.SetThermometer(thermo)
		go thermo.Run(ctx)
	}

	go func() {
		if err := server.Start(cfg.APIPort); err != nil {
			log.Error().Err(err).Msg("REST API server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("REST API server did not stop cleanly")
	}

	code := 0
	if err := <-done; err != nil {
		log.Error().Err(err).Msg("Final lamp state not persisted")
		code = 1
	}

	broker.Close()
	influx.Close()
	metrics.Close()
	conn.Close()
	shutdown.Shutdown(hw, cfg.SafeMode, code)
}

// alertJournal records alerts in sqlite and mirrors them to InfluxDB.
type alertJournal struct {
	repo   *db.Repository
	influx *influxdb.Client
}

func (j alertJournal) LogAlert(a model.Alert) error {
	j.influx.WriteAlert(a)
	return j.repo.LogAlert(a)
}

func pruneHistory(ctx context.Context, repo *db.Repository, days int) {
	prune := func() {
		n, err := repo.Prune(time.Now().AddDate(0, 0, -days))
		if err != nil {
			log.Warn().Err(err).Msg("Failed to prune history")
			return
		}
		log.Info().Int64("rows", n).Int("retention_days", days).Msg("Pruned history")
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
