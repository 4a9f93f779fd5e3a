// beobridge connects Bang & Olufsen Mozart-platform audio devices to
// an MQTT-based home automation core.
//
// For each configured or discovered device it maintains a websocket
// notification stream and a REST command client, classifies physical
// control gestures into semantic events, tracks Beolink multiroom
// topology, and projects everything onto MQTT topics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/beotools/beobridge/migrations"

	"github.com/beotools/beobridge/internal/api"
	"github.com/beotools/beobridge/internal/bridges/mozart"
	"github.com/beotools/beobridge/internal/device"
	"github.com/beotools/beobridge/internal/discovery"
	"github.com/beotools/beobridge/internal/infrastructure/config"
	"github.com/beotools/beobridge/internal/infrastructure/database"
	"github.com/beotools/beobridge/internal/infrastructure/influxdb"
	"github.com/beotools/beobridge/internal/infrastructure/logging"
	"github.com/beotools/beobridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
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

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting beobridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	// Database and migrations
	db, err := database.Open(database.Config{
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
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	// Device registry
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if err := registry.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}

	// Register statically configured devices
	for _, d := range cfg.Mozart.Devices {
		if err := registry.Observe(ctx, d.JID, d.Name, d.Model, d.Host); err != nil {
			log.Warn("failed to register configured device", "jid", d.JID, "error", err)
		}
	}

	// MQTT
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Mozart bridge over every device known at startup
	devices, err := bridgeDevices(ctx, cfg, registry)
	if err != nil {
		return fmt.Errorf("assembling device list: %w", err)
	}

	var bridge *mozart.Bridge
	if len(devices) > 0 {
		bridge, err = startBridge(ctx, cfg, devices, mqttClient, influxClient, registry, log)
		if err != nil {
			return fmt.Errorf("starting Mozart bridge: %w", err)
		}
		defer func() {
			log.Info("stopping Mozart bridge")
			bridge.Stop()
		}()
	} else {
		log.Warn("no devices configured or registered; bridge idle until discovery finds devices and the service restarts")
	}

	// mDNS discovery (optional)
	if cfg.Discovery.Enabled {
		browser, err := startDiscovery(ctx, cfg, registry, bridge, log)
		if err != nil {
			return fmt.Errorf("starting discovery: %w", err)
		}
		defer func() {
			log.Info("stopping discovery")
			browser.Stop()
		}()
	} else {
		log.Info("discovery disabled")
	}

	// Status API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Registry: registry,
			Version:  version,
		}
		if bridge != nil {
			deps.Bridge = bridge
		}
		server, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BEOBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BEOBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// bridgeDevices merges statically configured devices with the registry.
// Config entries win on conflicts so an operator can pin an address.
func bridgeDevices(ctx context.Context, cfg *config.Config, registry *device.Registry) ([]mozart.DeviceConfig, error) {
	byJID := make(map[string]mozart.DeviceConfig)

	known, err := registry.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range known {
		byJID[d.JID] = mozart.DeviceConfig{
			JID:   d.JID,
			Host:  d.Address,
			Name:  d.Name,
			Model: d.Model,
		}
	}

	for _, d := range cfg.Mozart.Devices {
		byJID[d.JID] = mozart.DeviceConfig{
			JID:   d.JID,
			Host:  d.Host,
			Name:  d.Name,
			Model: d.Model,
		}
	}

	devices := make([]mozart.DeviceConfig, 0, len(byJID))
	for _, d := range byJID {
		devices = append(devices, d)
	}
	return devices, nil
}

// startBridge builds and starts the Mozart bridge.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	devices []mozart.DeviceConfig,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	registry *device.Registry,
	log *logging.Logger,
) (*mozart.Bridge, error) {
	opts := mozart.BridgeOptions{
		BridgeID: cfg.Bridge.ID,
		Version:  version,
		MQTT:     mqttClient,
		Devices:  devices,
		Logger:   log.With("component", "mozart"),
		OnSoftwareVersion: func(jid, swVersion string) {
			if err := registry.RecordSoftwareVersion(ctx, jid, swVersion); err != nil {
				log.Warn("failed to record software version", "jid", jid, "error", err)
			}
		},
		LongPressThreshold:     time.Duration(cfg.Mozart.LongPressMillis) * time.Millisecond,
		VeryLongPressThreshold: time.Duration(cfg.Mozart.VeryLongPressMillis) * time.Millisecond,
		WheelQuietPeriod:       time.Duration(cfg.Mozart.WheelQuietMillis) * time.Millisecond,
		ConnectTimeout:         time.Duration(cfg.Mozart.ConnectTimeout) * time.Second,
		ReconnectInterval:      time.Duration(cfg.Mozart.ReconnectInterval) * time.Second,
		HealthInterval:         time.Duration(cfg.Bridge.HealthInterval) * time.Second,
		QoS:                    byte(cfg.MQTT.QoS),
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	bridge, err := mozart.NewBridge(opts)
	if err != nil {
		return nil, err
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("Mozart bridge started", "devices", len(devices))

	return bridge, nil
}

// startDiscovery wires the mDNS browser into the registry and bridge.
func startDiscovery(
	ctx context.Context,
	cfg *config.Config,
	registry *device.Registry,
	bridge *mozart.Bridge,
	log *logging.Logger,
) (*discovery.Browser, error) {
	// Serialises registry writes and peer pushes from browse callbacks
	var mu sync.Mutex

	browser, err := discovery.NewBrowser(discovery.BrowserOptions{
		Interface:      cfg.Discovery.Interface,
		RescanInterval: time.Duration(cfg.Discovery.RescanInterval) * time.Second,
		Logger:         log.With("component", "discovery"),
		OnDevice: func(d discovery.DiscoveredDevice) {
			mu.Lock()
			defer mu.Unlock()

			if err := registry.Observe(ctx, d.JID, d.Name, "", d.Address); err != nil {
				log.Warn("failed to record discovered device", "jid", d.JID, "error", err)
				return
			}
			pushPeers(ctx, registry, bridge, log)
		},
		OnRemove: func(jid string) {
			mu.Lock()
			defer mu.Unlock()
			log.Info("device disappeared from mDNS", "jid", jid)
			pushPeers(ctx, registry, bridge, log)
		},
	})
	if err != nil {
		return nil, err
	}

	if err := browser.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("mDNS discovery started", "interface", cfg.Discovery.Interface)

	return browser, nil
}

// pushPeers refreshes the bridge's Beolink peer set from the registry.
func pushPeers(ctx context.Context, registry *device.Registry, bridge *mozart.Bridge, log *logging.Logger) {
	if bridge == nil {
		return
	}

	known, err := registry.ListDevices(ctx)
	if err != nil {
		log.Warn("failed to list devices for peer update", "error", err)
		return
	}

	peers := make([]mozart.Peer, 0, len(known))
	for _, d := range known {
		peers = append(peers, mozart.Peer{
			JID:     d.JID,
			Name:    d.Name,
			Address: d.Address,
		})
	}
	bridge.UpdatePeers(peers)
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
