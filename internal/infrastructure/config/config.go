package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for VoiceLink Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Capability CapabilityConfig `yaml:"capability"`
	Session    SessionConfig    `yaml:"session"`
	Agent      AgentConfig      `yaml:"agent"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// ServiceConfig identifies this VoiceLink instance.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// CapabilityConfig controls discovery of capability servers and the
// per-call transport behaviour.
type CapabilityConfig struct {
	Scope ScopeConfig `yaml:"scope"`

	// HandshakeTimeout bounds a single server handshake, in seconds.
	HandshakeTimeout int `yaml:"handshake_timeout"`

	// CallTimeout bounds a single tool invocation, in seconds.
	CallTimeout int `yaml:"call_timeout"`

	// DiscoveryWindow is how long a new session waits for presence
	// announcements and initial handshakes before proceeding, in seconds.
	// Sessions start degraded (empty catalog) when the window elapses.
	DiscoveryWindow int `yaml:"discovery_window"`
}

// Capability scope modes.
const (
	// ScopeModeDeviceSuffix derives the server-name filter from the device
	// id: prefix + the segment after the last '-' in the device id.
	ScopeModeDeviceSuffix = "device-suffix"

	// ScopeModeAll matches every announced server.
	ScopeModeAll = "all"
)

// ScopeConfig selects which capability servers a device session binds to.
type ScopeConfig struct {
	Mode   string `yaml:"mode"`
	Prefix string `yaml:"prefix"`
}

// SessionConfig contains device session settings.
type SessionConfig struct {
	// QueueSize is the inbound message queue capacity per session.
	// Messages arriving while the queue is full are dropped with a warning.
	QueueSize int `yaml:"queue_size"`

	// HistoryLimit caps the conversation memory window, in messages.
	HistoryLimit int `yaml:"history_limit"`
}

// AgentConfig contains LLM responder settings for an OpenAI-compatible
// chat-completions endpoint.
type AgentConfig struct {
	APIBase          string  `yaml:"api_base"`
	APIKey           string  `yaml:"api_key"`
	Model            string  `yaml:"model"`
	Temperature      float64 `yaml:"temperature"`
	SystemPromptPath string  `yaml:"system_prompt_path"`

	// RequestTimeout bounds a single HTTP request, in seconds.
	RequestTimeout int `yaml:"request_timeout"`

	// MaxRetries is the retry count for transient HTTP failures.
	MaxRetries int `yaml:"max_retries"`

	// RetryBaseDelay is the initial backoff delay, in milliseconds.
	RetryBaseDelay int `yaml:"retry_base_delay"`

	// MaxToolRounds caps tool-call loops within a single turn.
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains gateway WebSocket settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// TelemetryConfig contains InfluxDB connection settings.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`

	// BatchSize is the number of points buffered before a write.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is how often buffered points are flushed (milliseconds).
	FlushInterval int `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT      JWTConfig      `yaml:"jwt"`
	Operator OperatorConfig `yaml:"operator"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// OperatorConfig contains the admin API credential.
// PasswordHash is an argon2id hash in PHC string format.
type OperatorConfig struct {
	PasswordHash string `yaml:"password_hash"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: VOICELINK_SECTION_KEY
// For example: VOICELINK_DATABASE_PATH, VOICELINK_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "voicelink-001",
			Name: "VoiceLink Core",
		},
		Database: DatabaseConfig{
			Path:        "./data/voicelink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "voicelink-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Capability: CapabilityConfig{
			Scope: ScopeConfig{
				Mode:   ScopeModeDeviceSuffix,
				Prefix: "web-ui-hardware-controller/",
			},
			HandshakeTimeout: 10,
			CallTimeout:      30,
			DiscoveryWindow:  3,
		},
		Session: SessionConfig{
			QueueSize:    32,
			HistoryLimit: 20,
		},
		Agent: AgentConfig{
			APIBase:          "https://dashscope-intl.aliyuncs.com/compatible-mode/v1",
			Model:            "deepseek-v3",
			Temperature:      0.6,
			SystemPromptPath: "./prompts/system.txt",
			RequestTimeout:   120,
			MaxRetries:       3,
			RetryBaseDelay:   1000,
			MaxToolRounds:    8,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws/gateway",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Telemetry: TelemetryConfig{
			BatchSize:     100,
			FlushInterval: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VOICELINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("VOICELINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("VOICELINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VOICELINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VOICELINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("VOICELINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Agent
	if v := os.Getenv("VOICELINK_AGENT_API_KEY"); v != "" {
		cfg.Agent.APIKey = v
	}

	// Telemetry
	if v := os.Getenv("VOICELINK_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("VOICELINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("VOICELINK_OPERATOR_PASSWORD_HASH"); v != "" {
		cfg.Security.Operator.PasswordHash = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Service validation
	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Capability validation
	switch c.Capability.Scope.Mode {
	case ScopeModeDeviceSuffix, ScopeModeAll:
	default:
		errs = append(errs, "capability.scope.mode must be \"device-suffix\" or \"all\"")
	}
	if c.Capability.HandshakeTimeout < 1 {
		errs = append(errs, "capability.handshake_timeout must be at least 1 second")
	}
	if c.Capability.CallTimeout < 1 {
		errs = append(errs, "capability.call_timeout must be at least 1 second")
	}

	// Session validation
	if c.Session.QueueSize < 1 {
		errs = append(errs, "session.queue_size must be at least 1")
	}
	if c.Session.HistoryLimit < 0 {
		errs = append(errs, "session.history_limit must not be negative")
	}

	// Agent validation
	if c.Agent.APIBase == "" {
		errs = append(errs, "agent.api_base is required")
	}
	if c.Agent.Model == "" {
		errs = append(errs, "agent.model is required")
	}
	if c.Agent.APIKey == "" {
		errs = append(errs, "agent.api_key is required (set VOICELINK_AGENT_API_KEY environment variable)")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Telemetry validation (only when enabled)
	if c.Telemetry.Enabled && c.Telemetry.URL == "" {
		errs = append(errs, "telemetry.url is required when telemetry is enabled")
	}

	// Security validation - JWT secret is REQUIRED
	// An empty or weak secret would allow forged tokens against the
	// admin API, which can stop live device sessions.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set VOICELINK_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if c.Security.Operator.PasswordHash == "" {
		errs = append(errs, "security.operator.password_hash is required (set VOICELINK_OPERATOR_PASSWORD_HASH environment variable)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetHandshakeTimeout returns the capability handshake timeout as a Duration.
func (c *CapabilityConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeout) * time.Second
}

// GetCallTimeout returns the tool invocation timeout as a Duration.
func (c *CapabilityConfig) GetCallTimeout() time.Duration {
	return time.Duration(c.CallTimeout) * time.Second
}

// GetDiscoveryWindow returns the session discovery window as a Duration.
func (c *CapabilityConfig) GetDiscoveryWindow() time.Duration {
	return time.Duration(c.DiscoveryWindow) * time.Second
}

// GetRequestTimeout returns the agent HTTP request timeout as a Duration.
func (c *AgentConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetRetryBaseDelay returns the agent retry base delay as a Duration.
func (c *AgentConfig) GetRetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelay) * time.Millisecond
}
