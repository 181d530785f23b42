package bridge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir string, m Manifest) {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), data, 0644); err != nil {
		t.Fatal(err)
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadManifest(dir); err == nil {
		t.Error("expected error for missing manifest")
	}

	writeManifest(t, dir, Manifest{Name: "baileys"})
	if _, err := LoadManifest(dir); err == nil {
		t.Error("expected error for manifest without commands")
	}

	writeManifest(t, dir, Manifest{Name: "baileys", Commands: [][]string{{"npm", "ci"}, {"node", "index.js"}}})
	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if m.Cwd != "." || len(m.setup()) != 1 || m.run()[0] != "node" {
		t.Errorf("unexpected manifest %+v", m)
	}
}

func TestCheckEnv(t *testing.T) {
	m := &Manifest{EnvSchema: []EnvSchema{
		{Key: "AUTH_DIR", Required: true, Description: "auth state directory"},
		{Key: "LOG_LEVEL"},
	}}
	if err := m.CheckEnv([]string{"LOG_LEVEL=info"}); err == nil || !strings.Contains(err.Error(), "AUTH_DIR") {
		t.Errorf("expected missing AUTH_DIR, got %v", err)
	}
	if err := m.CheckEnv([]string{"AUTH_DIR="}); err == nil {
		t.Error("empty value must not satisfy a required key")
	}
	if err := m.CheckEnv([]string{"AUTH_DIR=/data/auth"}); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestParseEnvFile(t *testing.T) {
	data := []byte(`
# bridge settings
AUTH_DIR=/data/auth
export LOG_LEVEL = debug
NAME="wa bridge"
BROKEN
`)
	env := parseEnvFile(data, []string{"AUTH_DIR=/tmp", "HOME=/root"})
	want := []string{"AUTH_DIR=/data/auth", "HOME=/root", "LOG_LEVEL=debug", "NAME=wa bridge"}
	if !slices.Equal(env, want) {
		t.Errorf("got %v, want %v", env, want)
	}
}

func TestStartRunsSetupAndStops(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	writeManifest(t, dir, Manifest{
		Name: "test-bridge",
		Commands: [][]string{
			{"sh", "-c", "echo \"$WABRIDGE_LISTEN $WABRIDGE_TOKEN $EXTRA\" > setup.out"},
			{"sh", "-c", "sleep 30"},
		},
	})

	m := NewManager(Config{
		Enabled: true,
		Dir:     dir,
		Listen:  "127.0.0.1:19810",
		Token:   "secret",
		Env:     map[string]string{"EXTRA": "x"},
	})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	out, err := os.ReadFile(filepath.Join(dir, "setup.out"))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(out)); got != "127.0.0.1:19810 secret x" {
		t.Errorf("setup saw env %q", got)
	}

	s := m.Status()
	if !s.Running || s.PID == 0 || s.Name != "test-bridge" {
		t.Fatalf("unexpected status %+v", s)
	}

	m.Stop()
	if s := m.Status(); s.Running {
		t.Errorf("still running after stop: %+v", s)
	}
}

func TestCrashedBridgeIsRestarted(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	writeManifest(t, dir, Manifest{Commands: [][]string{{"sh", "-c", "exit 3"}}})

	m := NewManager(Config{Enabled: true, Dir: dir, RestartDelay: 10 * time.Millisecond})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	waitFor(t, "restarts", func() bool { return m.Status().Restarts >= 2 })
	if s := m.Status(); !strings.Contains(s.LastError, "exit status 3") {
		t.Errorf("unexpected last error %q", s.LastError)
	}
}

func TestFailedSetupAborts(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	writeManifest(t, dir, Manifest{Commands: [][]string{{"sh", "-c", "exit 1"}, {"sh", "-c", "sleep 30"}}})

	m := NewManager(Config{Enabled: true, Dir: dir})
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected setup failure")
	}
	if s := m.Status(); s.Running || s.LastError == "" {
		t.Errorf("unexpected status %+v", s)
	}
}

func TestDisabledIsNoop(t *testing.T) {
	m := NewManager(Config{Dir: "/nonexistent"})
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Stop()
	if s := m.Status(); s.Enabled || s.Running {
		t.Errorf("unexpected status %+v", s)
	}
}
