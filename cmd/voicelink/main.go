// VoiceLink Core - Voice Capability Orchestrator
//
// This is the main entry point for the VoiceLink Core application.
// VoiceLink bridges a voice gateway (upstream of ASR/TTS) to capability
// servers discovered over MQTT:
//   - Per-device conversation sessions with isolated lifecycles
//   - Capability server discovery, handshake, and tool invocation
//   - Streaming LLM responses relayed back over the gateway socket
//   - Operator API for sessions, capability servers, and audit history
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	_ "github.com/nerrad567/voicelink-core/migrations"

	"github.com/nerrad567/voicelink-core/internal/agent"
	"github.com/nerrad567/voicelink-core/internal/api"
	"github.com/nerrad567/voicelink-core/internal/audit"
	"github.com/nerrad567/voicelink-core/internal/capability"
	"github.com/nerrad567/voicelink-core/internal/infrastructure/config"
	"github.com/nerrad567/voicelink-core/internal/infrastructure/database"
	"github.com/nerrad567/voicelink-core/internal/infrastructure/logging"
	"github.com/nerrad567/voicelink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/voicelink-core/internal/infrastructure/telemetry"
	"github.com/nerrad567/voicelink-core/internal/session"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting VoiceLink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Audit trail: repository plus async recorder so tool invocations
	// never block on SQLite mid-turn
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, log)
	defer recorder.Close()

	// Connect to the MQTT broker. This connection is the reachability
	// canary and LWT presence for the process; capability transports dial
	// their own connections per device session.
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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Set up MQTT logging callbacks
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB telemetry (optional)
	var telemetryClient *telemetry.Client
	if cfg.Telemetry.Enabled {
		telemetryClient, err = telemetry.Connect(cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("connecting telemetry: %w", err)
		}
		defer func() {
			log.Info("closing telemetry connection")
			if closeErr := telemetryClient.Close(); closeErr != nil {
				log.Error("error closing telemetry", "error", closeErr)
			}
		}()
		log.Info("telemetry connected",
			"url", cfg.Telemetry.URL,
			"org", cfg.Telemetry.Org,
			"bucket", cfg.Telemetry.Bucket,
		)

		telemetryClient.SetOnError(func(err error) {
			log.Error("telemetry write error", "error", err)
		})
	} else {
		log.Info("telemetry disabled")
	}

	// Build the LLM responder shared by all sessions
	responder, err := agent.New(cfg.Agent, log.With("component", "agent"))
	if err != nil {
		return fmt.Errorf("creating responder: %w", err)
	}
	log.Info("responder ready",
		"model", cfg.Agent.Model,
		"api_base", cfg.Agent.APIBase,
	)

	// Session wiring: each gateway connection gets its own manager; all
	// managers share the responder, the transport factory, and the hooks.
	factory := newTransportFactory(cfg, log)
	hooks := buildHooks(recorder, telemetryClient)

	managers := func(sender session.Sender) (*session.Manager, error) {
		return session.NewManager(session.Options{
			Factory:   factory,
			Responder: responder,
			Sender:    sender,
			Config:    cfg.Session,
			Hooks:     hooks,
			Logger:    log.With("component", "session"),
		})
	}

	// Start the API and gateway server
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.With("component", "api"),
		Managers: managers,
		Audit:    auditRepo,
		MQTT:     mqttClient,
		DB:       db,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"gateway_path", cfg.WebSocket.Path,
	)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, telemetryClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server (gateway connections, then their sessions)
	// 2. Telemetry (if enabled)
	// 3. MQTT
	// 4. Audit recorder (flushes queued records)
	// 5. Database

	log.Info("VoiceLink Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses VOICELINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("VOICELINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newTransportFactory returns the factory that dials a capability
// transport for one device session.
//
// Each transport gets its own broker connection and a unique client id:
// presence and RPC inbox subscriptions collide between clients sharing a
// connection, and RPC responses correlate on the client id. The random
// suffix keeps two sessions for the same device id (e.g. through two
// gateway connections) from kicking each other off the broker.
func newTransportFactory(cfg *config.Config, log *logging.Logger) session.TransportFactory {
	return func(deviceID string) (session.Transport, error) {
		filter, err := capability.ServerNameFilter(cfg.Capability.Scope, deviceID)
		if err != nil {
			return nil, err
		}

		clientID := fmt.Sprintf("%s-%s-%s", cfg.MQTT.Broker.ClientID, deviceID, uuid.NewString()[:8])

		brokerCfg := cfg.MQTT
		brokerCfg.Broker.ClientID = clientID

		broker, err := mqtt.Connect(brokerCfg)
		if err != nil {
			return nil, fmt.Errorf("dialing capability broker for %s: %w", deviceID, err)
		}

		client, err := capability.NewClient(capability.Options{
			Broker:     broker,
			ClientID:   clientID,
			NameFilter: filter,
			Config:     cfg.Capability,
			Logger:     log.With("component", "capability", "device_id", deviceID),
		})
		if err != nil {
			broker.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, err
		}
		return client, nil
	}
}

// buildHooks wires session observations into the audit recorder and
// telemetry. Hooks fire inline on session goroutines, so both sinks are
// non-blocking.
func buildHooks(recorder *audit.Recorder, telemetryClient *telemetry.Client) session.Hooks {
	return session.Hooks{
		Turn: func(deviceID string, duration time.Duration, chunks int, errored bool) {
			if telemetryClient != nil {
				telemetryClient.RecordTurn(deviceID, duration, chunks, errored)
			}
		},
		Tool: func(deviceID, server, tool string, outcome capability.Outcome, duration time.Duration) {
			recorder.Record(&audit.Invocation{
				DeviceID:   deviceID,
				ServerName: server,
				ToolName:   tool,
				Outcome:    string(outcome),
				DurationMS: duration.Milliseconds(),
			})
			if telemetryClient != nil {
				telemetryClient.RecordToolInvocation(server, tool, string(outcome), duration)
			}
		},
		Session: func(deviceID string, started bool) {
			if telemetryClient != nil {
				event := "stopped"
				if started {
					event = "started"
				}
				telemetryClient.RecordSessionEvent(deviceID, event)
			}
		},
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - telemetryClient: Telemetry client to check (may be nil if disabled)
//   - apiServer: API server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, telemetryClient *telemetry.Client, apiServer *api.Server) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Check telemetry (if enabled)
	if telemetryClient != nil {
		if err := telemetryClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	// Check API server
	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
