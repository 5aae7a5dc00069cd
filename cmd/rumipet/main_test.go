package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BTreeMap/RumiPet/internal/config"
	"github.com/BTreeMap/RumiPet/internal/lockfile"
)

// isolate points every configuration source at a fresh state directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, key := range []string{config.EnvConfigFile, config.EnvDatabaseURL, config.EnvMusicDir, config.EnvAPIAddr, config.EnvLogLevel, config.EnvDebug, config.EnvOpenAIKey, config.EnvOpenAIModel, config.EnvChatDays} {
		t.Setenv(key, "")
	}
	t.Setenv(config.EnvStateDir, dir)
	return dir
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestHabitsLifecycle(t *testing.T) {
	dir := isolate(t)

	code, out, errOut := runCLI(t, "habits", "add", "Leer", "--difficulty", "medium", "--minutes", "20", "--days", "1,3,5", "--playlist", "7,8")
	if code != 0 {
		t.Fatalf("habits add exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "Created habit 1: Leer") {
		t.Errorf("add output = %q", out)
	}

	code, out, _ = runCLI(t, "habits")
	if code != 0 {
		t.Fatalf("habits exit %d", code)
	}
	for _, want := range []string{"Leer", "MEDIUM", "1,3,5", "7,8", "[ ]"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}

	code, out, _ = runCLI(t, "habits", "toggle", "1")
	if code != 0 || !strings.Contains(out, "Leer is now done") {
		t.Errorf("toggle exit %d output %q", code, out)
	}

	code, out, _ = runCLI(t, "status")
	if code != 0 {
		t.Fatalf("status exit %d", code)
	}
	if !strings.Contains(out, "health   [##########] 100%") || !strings.Contains(out, "last action") {
		t.Errorf("status output = %q", out)
	}

	code, _, _ = runCLI(t, "habits", "rm", "1")
	if code != 0 {
		t.Errorf("rm exit %d", code)
	}
	_, out, _ = runCLI(t, "habits")
	if !strings.Contains(out, "No habits yet.") {
		t.Errorf("list after rm = %q", out)
	}

	if _, err := os.Stat(filepath.Join(dir, config.DefaultDBFileName)); err != nil {
		t.Errorf("expected SQLite file in state dir: %v", err)
	}
}

func TestHabitsAddRejectsInvalidInput(t *testing.T) {
	isolate(t)
	tests := [][]string{
		{"habits", "add", "Correr", "--difficulty", "epic"},
		{"habits", "add", "Correr", "--minutes=-1"},
		{"habits", "add", "Correr", "--days", "0,9"},
		{"habits", "toggle", "abc"},
	}
	for _, args := range tests {
		if code, _, _ := runCLI(t, args...); code == 0 {
			t.Errorf("%v: expected non-zero exit", args)
		}
	}
}

func TestInvalidConfigFails(t *testing.T) {
	isolate(t)
	code, _, errOut := runCLI(t, "status", "--log-level", "chatty")
	if code != 1 || !strings.Contains(errOut, "invalid configuration") {
		t.Errorf("exit %d, stderr %q", code, errOut)
	}
}

func TestServeRefusesLockedStateDir(t *testing.T) {
	dir := isolate(t)
	lock, err := lockfile.AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	code, _, errOut := runCLI(t, "serve", "--api-addr", "127.0.0.1:0")
	if code != 1 {
		t.Errorf("serve exit = %d, want 1", code)
	}
	if !strings.Contains(errOut, "Another RumiPet instance is already running") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestUnknownCommand(t *testing.T) {
	isolate(t)
	if code, _, _ := runCLI(t, "feed-the-pet"); code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}
}

func TestBuildStoreOptions(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want int
	}{
		{"in-memory", "memory", 0},
		{"sqlite default", "", 1},
		{"postgres", "postgres://u@localhost/rumi", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.DatabaseURL = tt.url
			if got := len(buildStoreOptions(cfg)); got != tt.want {
				t.Errorf("len(buildStoreOptions) = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBar(t *testing.T) {
	tests := map[float64]string{
		0:    "[..........]   0%",
		0.5:  "[#####.....]  50%",
		0.96: "[##########]  96%",
		1:    "[##########] 100%",
	}
	for in, want := range tests {
		if got := bar(in); got != want {
			t.Errorf("bar(%v) = %q, want %q", in, got, want)
		}
	}
}
