package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL    string
	HTTPListenAddr string
	MetricsAddr    string
	LogLevel       string
	// LogFile, when set, tees log output into a size-rotated file.
	LogFile     string
	ServiceName string

	TemporalAddress       string
	TemporalNamespace     string
	TemporalTLSCert       string
	TemporalTLSKey        string
	TemporalTLSCACert     string
	TemporalTLSServerName string

	// AgentPort is the port the host agent is reached on. 80 is canonical:
	// the agent listens on 8080 behind a reverse proxy on 80.
	AgentPort         int
	AgentUpdateSecret string
	SignalPath        string
	BotImage          string
	AgentImage        string
	SSHKeyID          string

	SSHUser      string
	SSHKeyPath   string
	SSHCAKeyPath string

	JWTSecret          string
	MasterPasswordHash string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first; variables already set in the process win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	agentPort, err := strconv.Atoi(getEnv("AGENT_PORT", "80"))
	if err != nil || agentPort <= 0 || agentPort > 65535 {
		return nil, fmt.Errorf("invalid AGENT_PORT %q", os.Getenv("AGENT_PORT"))
	}

	cfg := &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsAddr:    getEnv("METRICS_ADDR", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", ""),
		ServiceName:    getEnv("SERVICE_NAME", ""),

		TemporalAddress:       getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalNamespace:     getEnv("TEMPORAL_NAMESPACE", "default"),
		TemporalTLSCert:       getEnv("TEMPORAL_TLS_CERT", ""),
		TemporalTLSKey:        getEnv("TEMPORAL_TLS_KEY", ""),
		TemporalTLSCACert:     getEnv("TEMPORAL_TLS_CA_CERT", ""),
		TemporalTLSServerName: getEnv("TEMPORAL_TLS_SERVER_NAME", ""),

		AgentPort:         agentPort,
		AgentUpdateSecret: getEnv("AGENT_UPDATE_SECRET", ""),
		SignalPath:        getEnv("SIGNAL_PATH", "/app/data/START_SIGNAL"),
		BotImage:          getEnv("BOT_IMAGE", "ghcr.io/botplane/tradingbot:latest"),
		AgentImage:        getEnv("AGENT_IMAGE", "ghcr.io/botplane/agent:latest"),
		SSHKeyID:          getEnv("PROVIDER_SSH_KEY_ID", ""),

		SSHUser:      getEnv("SSH_USER", "root"),
		SSHKeyPath:   getEnv("SSH_KEY_PATH", ""),
		SSHCAKeyPath: getEnv("SSH_CA_KEY_PATH", ""),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		MasterPasswordHash: getEnv("MASTER_PASSWORD_HASH", ""),

		InfluxURL:    getEnv("INFLUXDB_URL", ""),
		InfluxToken:  getEnv("INFLUXDB_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUXDB_ORG", ""),
		InfluxBucket: getEnv("INFLUXDB_BUCKET", "botplane"),
	}

	return cfg, nil
}

// Validate checks that the fields a component needs are present.
func (c *Config) Validate(component string) error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	switch component {
	case "control-api":
		if c.HTTPListenAddr == "" {
			missing = append(missing, "HTTP_LISTEN_ADDR")
		}
		if c.JWTSecret == "" {
			missing = append(missing, "JWT_SECRET")
		}
		if c.MasterPasswordHash == "" {
			missing = append(missing, "MASTER_PASSWORD_HASH")
		}
	case "worker":
		if c.TemporalAddress == "" {
			missing = append(missing, "TEMPORAL_ADDRESS")
		}
	}

	if (c.TemporalTLSCert == "") != (c.TemporalTLSKey == "") {
		return fmt.Errorf("TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required config for %s: %s", component, strings.Join(missing, ", "))
	}
	if component == "control-api" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}
	return nil
}

// InfluxEnabled reports whether the time-series mirror is configured.
func (c *Config) InfluxEnabled() bool {
	return c.InfluxURL != "" && c.InfluxToken != "" && c.InfluxOrg != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
