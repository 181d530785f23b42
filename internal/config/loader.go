package config

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

var current atomic.Pointer[Config]

var (
	onReloadMu        sync.Mutex
	onReloadCallbacks []func(*Config)
)

// Get returns the current in-memory config (hot-reloaded when the file changes).
func Get() *Config { return current.Load() }

// Set sets the current in-memory config. Used at startup and by the file watcher.
func Set(c *Config) {
	if c != nil {
		current.Store(c)
	}
}

// RegisterOnReload registers a callback that runs after config is hot-reloaded.
func RegisterOnReload(fn func(*Config)) {
	onReloadMu.Lock()
	defer onReloadMu.Unlock()
	onReloadCallbacks = append(onReloadCallbacks, fn)
}

func notifyReload(cfg *Config) {
	onReloadMu.Lock()
	cb := make([]func(*Config), len(onReloadCallbacks))
	copy(cb, onReloadCallbacks)
	onReloadMu.Unlock()
	for _, fn := range cb {
		fn(cfg)
	}
}

//go:embed config.example.yaml
var exampleConfigBytes []byte

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path on top of DefaultConfig, so keys missing from the file keep
// their defaults while keys set to an empty value stay empty. WABRIDGE_*
// environment variables win over the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	resolveRelativePaths(cfg, filepath.Dir(path))
	return cfg, nil
}

// LoadFromExample parses the embedded config.example.yaml. Used when no
// config file exists yet.
func LoadFromExample(baseDir string) (*Config, error) {
	cfg, err := parse(exampleConfigBytes)
	if err != nil {
		return nil, fmt.Errorf("example config: %w", err)
	}
	resolveRelativePaths(cfg, baseDir)
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	ensureNonNilMaps(cfg)
	applyLoadDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ensureNonNilMaps(cfg *Config) {
	if cfg.Bridge.Env == nil {
		cfg.Bridge.Env = make(map[string]string)
	}
}

func applyLoadDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
	if cfg.Gateway.RequestDedupTTL <= 0 {
		cfg.Gateway.RequestDedupTTL = def.Gateway.RequestDedupTTL
	}
	if cfg.Session.ReconnectDelay <= 0 {
		cfg.Session.ReconnectDelay = def.Session.ReconnectDelay
	}
	if cfg.Session.ConnectTimeout <= 0 {
		cfg.Session.ConnectTimeout = def.Session.ConnectTimeout
	}
	if cfg.Session.SendTimeout <= 0 {
		cfg.Session.SendTimeout = def.Session.SendTimeout
	}
	if cfg.Session.DefaultDomain == "" {
		cfg.Session.DefaultDomain = def.Session.DefaultDomain
	}
	if cfg.Session.QRSize <= 0 {
		cfg.Session.QRSize = def.Session.QRSize
	}
	if cfg.Locale.CountryCode == "" {
		cfg.Locale.CountryCode = def.Locale.CountryCode
	}
	if cfg.Bridge.Enabled && cfg.Bridge.Path == "" {
		cfg.Bridge.Path = BridgeDir()
	}
}

// Validate rejects configs the server cannot start with.
func Validate(cfg *Config) error {
	var errs []error
	if cfg.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", cfg.Gateway.Port))
	}
	if cfg.Transport.URL == "" {
		errs = append(errs, errors.New("transport.url is required"))
	} else if u, err := url.Parse(cfg.Transport.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("transport.url %q must be a ws:// or wss:// URL", cfg.Transport.URL))
	}
	if cfg.Bridge.Enabled && cfg.Bridge.Path == "" {
		errs = append(errs, errors.New("bridge.path is required when bridge.enabled"))
	}
	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", cfg.Log.Format))
	}
	return errors.Join(errs...)
}

func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func resolveRelativePaths(cfg *Config, baseDir string) {
	if cfg.Bridge.Path != "" && !filepath.IsAbs(cfg.Bridge.Path) {
		cfg.Bridge.Path = filepath.Join(baseDir, cfg.Bridge.Path)
	}
}

var pathOverride atomic.Pointer[string]

// ResolveHome returns the WABRIDGE_HOME directory.
// Priority: WABRIDGE_HOME env > ~/.wabridge/
func ResolveHome() string {
	if home := os.Getenv("WABRIDGE_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".wabridge"
	}
	return filepath.Join(userHome, ".wabridge")
}

// ResolveConfigPath finds the config file.
// Priority: --config flag > WABRIDGE_HOME/config.yaml
func ResolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return filepath.Join(ResolveHome(), "config.yaml")
}

// SetPath fixes the process-wide config path, normally from --config.
func SetPath(p string) {
	if p != "" {
		pathOverride.Store(&p)
	}
}

// Path returns the process-wide config file path.
func Path() string {
	if p := pathOverride.Load(); p != nil {
		return *p
	}
	return ResolveConfigPath("")
}

// GenerateToken returns a random hex token (32 bytes = 64 chars) for gateway auth.
func GenerateToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "fallback-token-please-set-gateway-auth-token-in-config"
	}
	return hex.EncodeToString(b)
}

// CreateFromExample writes the embedded config.example.yaml to targetPath with token placeholder replaced by a generated token.
func CreateFromExample(targetPath string) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	token := GenerateToken()
	content := strings.ReplaceAll(string(exampleConfigBytes), "${WABRIDGE_TOKEN}", token)
	if err := os.WriteFile(targetPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Write marshals cfg to YAML and writes it to path. Creates parent directory if needed.
func Write(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
