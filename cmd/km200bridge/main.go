// Package main is the entry point for km200-bridge.
//
// km200-bridge polls a KM200 heating gateway, exports the decoded values as
// Prometheus gauges and MQTT topics, and forwards MQTT write requests back
// to the device.
//
// Usage:
//
//	km200bridge
//
// Configuration is loaded from configs/config.yaml by default, with
// environment variable overrides (KM200_DEVICE_PASSCODE, KM200_MQTT_AUTH_PASSWORD, ...).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nerrad567/km200-bridge/internal/api"
	"github.com/nerrad567/km200-bridge/internal/audit"
	"github.com/nerrad567/km200-bridge/internal/infrastructure/config"
	"github.com/nerrad567/km200-bridge/internal/infrastructure/database"
	"github.com/nerrad567/km200-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/km200-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/km200-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/km200-bridge/internal/km200"
	"github.com/nerrad567/km200-bridge/internal/metrics"
	"github.com/nerrad567/km200-bridge/internal/scheduler"
	"github.com/nerrad567/km200-bridge/migrations"
)

// Build information, set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
// Deferred calls tear components down in reverse start order.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup wiring is sequential
	log := logging.Default()
	log.Info("starting km200-bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"mode", cfg.Mode,
		"device_host", cfg.Device.Host,
		"poll_interval", cfg.Poll.Interval,
	)

	endpoints, err := km200.LoadMeasurements(cfg.Poll.MeasurementsFile)
	if err != nil {
		return fmt.Errorf("loading measurements: %w", err)
	}
	log.Info("measurements loaded", "endpoints", len(endpoints))

	codec, err := km200.NewCodec(cfg.Device.Passcode)
	if err != nil {
		return fmt.Errorf("creating codec: %w", err)
	}

	device := km200.NewDeviceClient(km200.DeviceOptions{
		Host:            cfg.Device.Host,
		UserAgent:       cfg.Device.UserAgent,
		Timeout:         cfg.Device.Timeout,
		RequestInterval: cfg.Device.RequestInterval,
	})

	m := metrics.New()
	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix)

	// Disabled sinks must stay untyped nil so the core skips them.
	var (
		publisher km200.Publisher
		transport km200.Transport
		gauges    km200.GaugeSink
		history   km200.HistorySink
		recorder  km200.AuditRecorder
		auditRepo audit.Repository
		db        *database.DB
	)

	if cfg.MetricsEnabled() {
		gauges = m
	}

	if cfg.MQTTEnabled() {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		mqttClient.SetLogger(log.With("component", "mqtt"))
		defer func() {
			log.Info("closing MQTT connection")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT connection", "error", closeErr)
			}
		}()
		publisher = mqttClient
		transport = mqttClient
		log.Info("MQTT connected",
			"broker", cfg.MQTT.Broker.Host,
			"port", cfg.MQTT.Broker.Port,
			"prefix", topics.Prefix(),
		)
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB connection", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		history = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if cfg.Audit.Enabled {
		db, err = database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		repo := audit.NewSQLiteRepository(db.DB)
		rec := audit.NewRecorder(repo, 0, log.With("component", "audit"))
		rec.Start(context.Background())
		defer rec.Stop()

		auditRepo = repo
		recorder = &auditAdapter{recorder: rec}
		log.Info("audit trail enabled", "path", db.Path())
	}

	registry := km200.NewRegistry()
	hub := api.NewHub(log.With("component", "websocket"))

	supervisor := km200.NewSupervisor(km200.SupervisorOptions{
		Publisher:        publisher,
		Topics:           topics,
		UnreachableAfter: cfg.Device.UnreachableAfter,
		Metrics:          m,
		Logger:           log.With("component", "supervisor"),
	})

	poller := km200.NewPoller(km200.PollerOptions{
		Device:     device,
		Codec:      codec,
		Registry:   registry,
		Endpoints:  endpoints,
		Gauges:     gauges,
		OnValue:    cfg.Metrics.OnValue,
		Publisher:  publisher,
		Topics:     topics,
		History:    history,
		Observer:   hub,
		Supervisor: supervisor,
		Metrics:    m,
		Logger:     log.With("component", "poller"),
	})

	var writer *km200.Writer
	if transport != nil {
		writer = km200.NewWriter(km200.WriterOptions{
			Registry:  registry,
			Codec:     codec,
			Device:    device,
			Refresher: poller,
			Publisher: publisher,
			Topics:    topics,
			Audit:     recorder,
			Observer:  hub,
			QueueSize: cfg.MQTT.QueueSize,
			Metrics:   m,
			Logger:    log.With("component", "writer"),
		})
	}

	health := km200.NewHealthReporter(km200.HealthReporterOptions{
		BridgeID:   cfg.Bridge.ID,
		Version:    version,
		DeviceHost: cfg.Device.Host,
		Interval:   cfg.Bridge.HealthInterval,
		Publisher:  publisher,
		Topics:     topics,
		Supervisor: supervisor,
		Poller:     poller,
		Registry:   registry,
		Logger:     log.With("component", "health"),
	})

	bridge, err := km200.NewBridge(km200.BridgeOptions{
		Poller:     poller,
		Transport:  transport,
		Writer:     writer,
		Supervisor: supervisor,
		Topics:     topics,
		QoS:        byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0-2
		Health:     health,
		Logger:     log.With("component", "bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	defer bridge.Stop()

	// Populate gauges and writable constraints before the first scrape
	// and before write requests are accepted.
	stats := bridge.Sync()
	log.Info("initial cycle complete",
		"attempted", stats.Attempted,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)

	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}

	apiDeps := api.Deps{
		Config:    cfg.Metrics,
		Logger:    log.With("component", "api"),
		Metrics:   m,
		Health:    health,
		Writables: registry,
		Audit:     auditRepo,
		Hub:       hub,
		Version:   version,
	}
	if db != nil {
		apiDeps.DB = db.DB
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server listening", "addr", server.Addr())

	cycles, err := scheduler.New(cfg.Poll.Interval, func() { bridge.Sync() }, log.With("component", "scheduler"))
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	cycles.Start()
	defer cycles.Stop()

	log.Info("km200-bridge started successfully")

	<-ctx.Done()
	log.Info("shutdown signal received, stopping...")

	return nil
}

// getConfigPath returns the configuration file path.
// Uses KM200_CONFIG environment variable if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("KM200_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// auditAdapter turns terminal write results into audit entries.
type auditAdapter struct {
	recorder interface {
		Record(entry *audit.Entry) error
	}
}

// RecordWrite implements km200.AuditRecorder.
func (a *auditAdapter) RecordWrite(result km200.WriteResult) error {
	if err := a.recorder.Record(auditEntry(result)); err != nil {
		return fmt.Errorf("audit entry for %s: %w", result.ID, err)
	}
	return nil
}

func auditEntry(result km200.WriteResult) *audit.Entry {
	entry := &audit.Entry{
		RequestID: result.RequestID,
		Path:      result.ID,
		Payload:   result.Payload,
		State:     string(result.State),
		Reason:    result.Reason,
		Duration:  result.Duration,
		CreatedAt: result.ReceivedAt,
	}
	if entry.Path == "" {
		entry.Path = result.Topic
	}
	if result.Confirmed != nil {
		entry.ConfirmedValue = confirmedText(*result.Confirmed)
	}
	return entry
}

func confirmedText(v km200.DecodedValue) string {
	if v.ValueType == km200.Numeric {
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	}
	return v.Text
}
