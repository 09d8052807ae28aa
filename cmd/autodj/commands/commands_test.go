package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersion(t *testing.T) {
	setupTestEnv(t)

	stdout, _, code := runCLI(t, "version")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "autodj") {
		t.Fatalf("expected 'autodj', got: %s", stdout)
	}
}

func TestVersionVerbose(t *testing.T) {
	dir := setupTestEnv(t)

	stdout, _, code := runCLI(t, "version", "-v")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, filepath.Join(dir, "config.yaml")) {
		t.Fatalf("expected config path, got: %s", stdout)
	}
}

func TestConfigInit(t *testing.T) {
	dir := setupTestEnv(t)

	stdout, stderr, code := runCLI(t, "config", "init")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Wrote") {
		t.Fatalf("expected 'Wrote', got: %s", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatal(err)
	}

	_, stderr, code = runCLI(t, "config", "init")
	if code == 0 {
		t.Fatal("expected non-zero exit for existing file")
	}
	if !strings.Contains(stderr, "already exists") {
		t.Fatalf("expected 'already exists', got: %s", stderr)
	}

	if _, stderr, code = runCLI(t, "config", "init", "--force"); code != 0 {
		t.Fatalf("--force exit %d: %s", code, stderr)
	}
}

func TestConfigShowAndPath(t *testing.T) {
	dir := setupTestEnv(t)
	writeTestConfig(t, dir, "tick: 20ms\n")

	stdout, stderr, code := runCLI(t, "config", "show")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "tick: 20ms") {
		t.Fatalf("expected overridden tick, got: %s", stdout)
	}

	stdout, _, code = runCLI(t, "config", "path")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if strings.TrimSpace(stdout) != filepath.Join(dir, "config.yaml") {
		t.Fatalf("path = %q", stdout)
	}
}

func TestConfigInvalid(t *testing.T) {
	dir := setupTestEnv(t)
	writeTestConfig(t, dir, "policy:\n  name: average\n")

	_, stderr, code := runCLI(t, "config", "show")
	if code == 0 {
		t.Fatal("expected non-zero exit for invalid config")
	}
	if !strings.Contains(stderr, "unknown policy") {
		t.Fatalf("expected 'unknown policy', got: %s", stderr)
	}
}

func TestRunWithoutAPIKey(t *testing.T) {
	setupTestEnv(t)
	t.Setenv("GEMINI_API_KEY", "")

	_, stderr, code := runCLI(t, "run", "--dry-run")
	if code == 0 {
		t.Fatal("expected non-zero exit without API key")
	}
	if !strings.Contains(stderr, "GEMINI_API_KEY") {
		t.Fatalf("expected key error, got: %s", stderr)
	}
}

const rehearseConfig = `tick: 10ms
heartbeat: 1h
smoothing:
  ramp: 20ms
  hold: 50ms
  fallback_ramp: 50ms
reconnect:
  initial: 10ms
  max: 50ms
`

func writeScript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRehearse(t *testing.T) {
	dir := setupTestEnv(t)
	writeTestConfig(t, dir, rehearseConfig)
	script := writeScript(t,
		"# breakdown",
		`{"call": {"filter_macro": 0.8, "beat_repeat_macro": 0, "reverb_macro": 0.3, "eq_low_macro": -0.2}}`,
		`{"after": "20ms", "call": {"filter": 0.5}}`,
		`{"error": "socket reset"}`,
		`{"dial_error": "unavailable"}`,
		`{"after": "20ms", "text": "back"}`,
	)

	stdout, stderr, code := runCLI(t, "rehearse", script, "--dry-run", "--grace", "100ms")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	for _, want := range []string{
		"steps:      5",
		"dials:      2",
		"accepted:   1",
		"rejected:   1",
		"phase:      closed",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
	if !strings.Contains(stderr, "final=true") {
		t.Errorf("final flush not logged:\n%s", stderr)
	}
}

func TestRehearseMissingScript(t *testing.T) {
	setupTestEnv(t)

	_, _, code := runCLI(t, "rehearse", filepath.Join(t.TempDir(), "missing.jsonl"))
	if code == 0 {
		t.Fatal("expected non-zero exit for missing script")
	}
}

func TestSessionPersistAndClear(t *testing.T) {
	dir := setupTestEnv(t)
	writeTestConfig(t, dir, rehearseConfig)
	script := writeScript(t,
		`{"handle": "tok-1"}`,
		`{"after": "10ms", "handle": "tok-2"}`,
	)

	if _, stderr, code := runCLI(t, "rehearse", script, "--dry-run", "--persist", "--grace", "100ms"); code != 0 {
		t.Fatalf("rehearse exit %d: %s", code, stderr)
	}

	stdout, stderr, code := runCLI(t, "session", "show")
	if code != 0 {
		t.Fatalf("show exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "token=tok-2") || !strings.Contains(stdout, "seq=2") {
		t.Fatalf("expected latest handle, got: %s", stdout)
	}

	stdout, stderr, code = runCLI(t, "session", "clear")
	if code != 0 {
		t.Fatalf("clear exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Cleared 1") {
		t.Fatalf("expected 'Cleared 1', got: %s", stdout)
	}

	stdout, _, _ = runCLI(t, "session", "show")
	if !strings.Contains(stdout, "no stored handle") {
		t.Fatalf("expected no handle, got: %s", stdout)
	}
}
