// Package bridge runs the external protocol bridge process that speaks the
// WhatsApp Web protocol on our behalf.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	setupTimeout        = 5 * time.Minute
	DefaultRestartDelay = 5 * time.Second
)

// Status is the bridge view served by /health.
type Status struct {
	Enabled   bool      `json:"enabled"`
	Name      string    `json:"name,omitempty"`
	Path      string    `json:"path,omitempty"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"lastError,omitempty"`
}

// Config locates the bridge and what it is told on startup.
type Config struct {
	Enabled      bool
	Dir          string
	Listen       string // WABRIDGE_LISTEN
	Token        string // WABRIDGE_TOKEN
	Env          map[string]string
	RestartDelay time.Duration
}

// Manager supervises one bridge process: setup commands once, then the
// long-running command, restarted after RestartDelay whenever it exits on
// its own.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	manifest  *Manifest
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	restarts  int
	lastErr   string
}

func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	return &Manager{cfg: cfg}
}

// Start runs setup commands and launches the bridge. It returns once the
// process is started; supervision continues until ctx is done or Stop.
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}
	manifest, err := LoadManifest(m.cfg.Dir)
	if err != nil {
		m.setError(err)
		return fmt.Errorf("bridge manifest: %w", err)
	}
	workDir := filepath.Join(m.cfg.Dir, manifest.Cwd)
	env := m.buildEnv(manifest, workDir)
	if err := manifest.CheckEnv(env); err != nil {
		m.setError(err)
		return err
	}

	m.mu.Lock()
	m.manifest = manifest
	m.mu.Unlock()

	for i, argv := range manifest.setup() {
		if len(argv) == 0 {
			continue
		}
		if err := runSetup(ctx, workDir, env, argv); err != nil {
			err = fmt.Errorf("bridge setup step %d %v: %w", i+1, argv, err)
			m.setError(err)
			return err
		}
		slog.Info("bridge setup done", "step", i+1, "argv", argv)
	}

	procCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	if err := m.launch(procCtx, workDir, env, manifest.run()); err != nil {
		cancel()
		m.setError(err)
		return err
	}
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.supervise(procCtx, done, workDir, env, manifest.run())
	return nil
}

func runSetup(ctx context.Context, workDir string, env, argv []string) error {
	setupCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()
	cmd := buildCmd(setupCtx, workDir, env, argv)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (m *Manager) launch(ctx context.Context, workDir string, env, argv []string) error {
	cmd := buildCmd(ctx, workDir, env, argv)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("bridge start: %w", err)
	}
	m.mu.Lock()
	m.cmd = cmd
	m.startedAt = time.Now()
	m.mu.Unlock()
	slog.Info("bridge started", "pid", cmd.Process.Pid, "listen", m.cfg.Listen)
	return nil
}

func (m *Manager) supervise(ctx context.Context, done chan struct{}, workDir string, env, argv []string) {
	defer close(done)
	for {
		m.mu.Lock()
		cmd := m.cmd
		m.mu.Unlock()

		err := cmd.Wait()
		m.mu.Lock()
		m.cmd = nil
		m.mu.Unlock()

		if ctx.Err() != nil {
			slog.Info("bridge stopped")
			return
		}
		if err == nil {
			err = errors.New("exited")
		}
		m.setError(err)
		slog.Warn("bridge exited, restarting", "error", err, "delay", m.cfg.RestartDelay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.RestartDelay):
		}
		if err := m.launch(ctx, workDir, env, argv); err != nil {
			m.setError(err)
			slog.Error("bridge restart failed", "error", err)
			return
		}
		m.mu.Lock()
		m.restarts++
		m.mu.Unlock()
	}
}

// Stop kills the bridge and waits for supervision to end.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{
		Enabled:   m.cfg.Enabled,
		Path:      m.cfg.Dir,
		Restarts:  m.restarts,
		LastError: m.lastErr,
	}
	if m.manifest != nil {
		s.Name = m.manifest.Name
	}
	if m.cmd != nil && m.cmd.Process != nil {
		s.Running = true
		s.PID = m.cmd.Process.Pid
		s.StartedAt = m.startedAt
	}
	return s
}

func (m *Manager) setError(err error) {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}

func (m *Manager) buildEnv(manifest *Manifest, workDir string) []string {
	env := os.Environ()
	env = appendEnv(env, "WABRIDGE_LISTEN", m.cfg.Listen)
	env = appendEnv(env, "WABRIDGE_TOKEN", m.cfg.Token)
	for k, v := range m.cfg.Env {
		env = appendEnv(env, k, v)
	}
	if manifest.EnvFile != "" {
		envPath := filepath.Join(workDir, manifest.EnvFile)
		if data, err := os.ReadFile(envPath); err == nil {
			env = parseEnvFile(data, env)
		}
	}
	return env
}

func buildCmd(ctx context.Context, workDir string, env, argv []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = env
	return cmd
}

func appendEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// parseEnvFile layers KEY=VALUE lines from data over base. Blank lines and
// # comments are skipped; surrounding quotes are removed from values.
func parseEnvFile(data []byte, base []string) []string {
	env := make([]string, len(base))
	copy(env, base)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if i := strings.Index(line, "="); i > 0 {
			key := strings.TrimSpace(line[:i])
			val := strings.TrimSpace(line[i+1:])
			if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
				val = val[1 : len(val)-1]
			}
			if key != "" {
				env = appendEnv(env, key, val)
			}
		}
	}
	return env
}
