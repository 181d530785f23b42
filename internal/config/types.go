package config

import (
	"log/slog"
	"strings"
	"time"
)

type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway" json:"gateway"`
	Session   SessionConfig   `yaml:"session" json:"session"`
	Transport TransportConfig `yaml:"transport" json:"transport"`
	Bridge    BridgeConfig    `yaml:"bridge" json:"bridge"`
	Locale    LocaleConfig    `yaml:"locale" json:"locale"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

type GatewayConfig struct {
	Port            int           `yaml:"port" json:"port" env:"WABRIDGE_PORT"`
	Auth            AuthConfig    `yaml:"auth" json:"auth"`
	AllowedOrigins  []string      `yaml:"allowedOrigins" json:"allowedOrigins"`
	ResyncSchedule  string        `yaml:"resyncSchedule" json:"resyncSchedule"` // empty disables the state-resync job
	RequestDedupTTL time.Duration `yaml:"requestDedupTTL" json:"requestDedupTTL"`
}

type AuthConfig struct {
	Token string `yaml:"token" json:"token" env:"WABRIDGE_TOKEN"`
}

type SessionConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnectDelay" json:"reconnectDelay"`
	ConnectTimeout time.Duration `yaml:"connectTimeout" json:"connectTimeout"`
	SendTimeout    time.Duration `yaml:"sendTimeout" json:"sendTimeout"`
	DefaultDomain  string        `yaml:"defaultDomain" json:"defaultDomain"`
	PrintQR        bool          `yaml:"printQR" json:"printQR"` // also render challenges on stdout
	QRSize         int           `yaml:"qrSize" json:"qrSize"`
}

type TransportConfig struct {
	URL   string `yaml:"url" json:"url" env:"WABRIDGE_TRANSPORT_URL"`
	Token string `yaml:"token" json:"token" env:"WABRIDGE_TRANSPORT_TOKEN"`
}

type BridgeConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Path    string            `yaml:"path" json:"path"`     // directory holding wabridge-bridge.json
	Listen  string            `yaml:"listen" json:"listen"` // passed to the bridge as WABRIDGE_LISTEN
	Env     map[string]string `yaml:"env" json:"env"`
}

type LocaleConfig struct {
	CountryCode string `yaml:"countryCode" json:"countryCode"`
	Timezone    string `yaml:"timezone" json:"timezone"` // IANA name, empty = system local
}

// Location resolves Timezone, falling back to time.Local.
func (l LocaleConfig) Location() *time.Location {
	if l.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		slog.Warn("unknown timezone, using local", "timezone", l.Timezone, "error", err)
		return time.Local
	}
	return loc
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" env:"WABRIDGE_LOG_LEVEL"`
	Format string `yaml:"format" json:"format"` // text | json
}

// SlogLevel maps Level to a slog level; unknown values mean info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Port:            19800,
			AllowedOrigins:  []string{"http://localhost:5173"},
			ResyncSchedule:  "@every 30s",
			RequestDedupTTL: 10 * time.Minute,
		},
		Session: SessionConfig{
			ReconnectDelay: 3 * time.Second,
			ConnectTimeout: 30 * time.Second,
			SendTimeout:    30 * time.Second,
			DefaultDomain:  "s.whatsapp.net",
			QRSize:         256,
		},
		Transport: TransportConfig{
			URL: "ws://127.0.0.1:19810/ws",
		},
		Bridge: BridgeConfig{
			Listen: "127.0.0.1:19810",
			Env:    map[string]string{},
		},
		Locale: LocaleConfig{
			CountryCode: "55",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
