package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"), ".yml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Tracking.Interval != 5*time.Minute {
		t.Errorf("interval = %v, want 5m", cfg.Tracking.Interval)
	}
	if cfg.Tracking.Accuracy != "balanced" {
		t.Errorf("accuracy = %q", cfg.Tracking.Accuracy)
	}
	if !cfg.Tracking.BackgroundEnabled() || !cfg.Tracking.LogsInternally() {
		t.Error("background tracking and internal logging default to true")
	}
	if cfg.Store.Path != DefaultStorePath {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if cfg.Supervisor.RestartMinLatency != time.Second || cfg.Supervisor.RestartDeadline != 5*time.Second {
		t.Errorf("restart window = %v..%v", cfg.Supervisor.RestartMinLatency, cfg.Supervisor.RestartDeadline)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Permission.Status != "granted" || cfg.Permission.OnRequest != "granted" {
		t.Errorf("permission = %+v", cfg.Permission)
	}
}

func TestParse_YAML(t *testing.T) {
	src := `
tracking:
  interval: 30s
  accuracy: best
  enableBackgroundTracking: false
  logInternally: false
provider:
  kind: gtfsrt
  gtfsrt:
    vehiclePositionsURL: https://example.org/vp.pb
    vehicleID: bus-17
forward:
  url: https://collector.example.org/fixes
`
	cfg, err := Parse([]byte(src), ".yml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Tracking.Interval != 30*time.Second {
		t.Errorf("interval = %v", cfg.Tracking.Interval)
	}
	if cfg.Tracking.BackgroundEnabled() || cfg.Tracking.LogsInternally() {
		t.Error("explicit false must be honored")
	}
	if cfg.Provider.GTFSRT.VehicleID != "bus-17" || cfg.Provider.GTFSRT.TimeoutMS != DefaultTimeoutMS {
		t.Errorf("gtfsrt = %+v", cfg.Provider.GTFSRT)
	}
}

func TestParse_JSONWithComments(t *testing.T) {
	src := `{
  // five minutes is too slow for a bike
  "tracking": {"interval": "1m", "accuracy": "high",},
  "server": {"port": 8080},
}`
	cfg, err := Parse([]byte(src), ".jsonc")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Tracking.Interval != time.Minute || cfg.Tracking.Accuracy != "high" {
		t.Errorf("tracking = %+v", cfg.Tracking)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad accuracy":     "tracking:\n  accuracy: extreme\n",
		"bad provider":     "provider:\n  kind: gnss\n",
		"gtfsrt no url":    "provider:\n  kind: gtfsrt\n  gtfsrt:\n    vehicleID: a\n",
		"gtfsrt no id":     "provider:\n  kind: gtfsrt\n  gtfsrt:\n    vehiclePositionsURL: vp.pb\n",
		"interval too low": "tracking:\n  interval: 10ms\n",
		"deadline order":   "supervisor:\n  restartMinLatency: 10s\n  restartDeadline: 2s\n",
		"bad forward url":  "forward:\n  url: not a url\n",
		"broken yaml":      "invalid: yaml: content: [[[",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(src), ".yml"); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadAppConfig_MissingFile(t *testing.T) {
	_, err := LoadAppConfig(filepath.Join(t.TempDir(), "nope.yml"))
	if err == nil {
		t.Fatal("loading a missing file should fail")
	}
}

func TestLoadAppConfig_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("store:\n  path: /var/lib/lt/trace.json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadAppConfig(path)
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	if cfg.Store.Path != "/var/lib/lt/trace.json" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
}
