package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Defaults applied after validation.
const (
	DefaultInterval          = 5 * time.Minute
	DefaultAccuracy          = "balanced"
	DefaultQueueSize         = 64
	DefaultStorePath         = "tracked_locations.json"
	DefaultStateDir          = "state"
	DefaultRestartMinLatency = time.Second
	DefaultRestartDeadline   = 5 * time.Second
	DefaultProviderKind      = "gpsd"
	DefaultGPSDPath          = "/run/gpsd/stream.json"
	DefaultTimeoutMS         = 10000
	DefaultForwardTimeoutMS  = 5000
	DefaultPort              = 16182
)

// SearchPaths are tried in order when no explicit path is given.
var SearchPaths = []string{"config.yml", "config.yaml", "config.jsonc", "./config/config.yml"}

// LoadAppConfig reads, validates and defaults the configuration at path.
// An empty path searches SearchPaths.
func LoadAppConfig(path string) (AppConfig, error) {
	var data []byte
	var err error
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		for _, p := range SearchPaths {
			data, err = os.ReadFile(p)
			if err == nil {
				path = p
				break
			}
		}
	}
	if err != nil {
		return AppConfig{}, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes configuration bytes. Files ending in .json or .jsonc are
// stripped of comments and trailing commas first.
func Parse(data []byte, ext string) (AppConfig, error) {
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return AppConfig{}, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// Validate checks struct tags and the cross-field rules the tags cannot
// express.
func Validate(cfg AppConfig) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Provider.Kind == "gtfsrt" {
		if cfg.Provider.GTFSRT.VehiclePositionsURL == "" {
			return errors.New("invalid config: provider.gtfsrt.vehiclePositionsURL is required")
		}
		if cfg.Provider.GTFSRT.VehicleID == "" {
			return errors.New("invalid config: provider.gtfsrt.vehicleID is required")
		}
	}
	s := cfg.Supervisor
	if s.RestartDeadline > 0 && s.RestartDeadline < s.RestartMinLatency {
		return errors.New("invalid config: supervisor.restartDeadline must not precede restartMinLatency")
	}
	return nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Tracking.Interval == 0 {
		cfg.Tracking.Interval = DefaultInterval
	}
	if cfg.Tracking.Accuracy == "" {
		cfg.Tracking.Accuracy = DefaultAccuracy
	}
	if cfg.Tracking.QueueSize == 0 {
		cfg.Tracking.QueueSize = DefaultQueueSize
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}
	if cfg.Supervisor.StateDir == "" {
		cfg.Supervisor.StateDir = DefaultStateDir
	}
	if cfg.Supervisor.RestartMinLatency == 0 {
		cfg.Supervisor.RestartMinLatency = DefaultRestartMinLatency
	}
	if cfg.Supervisor.RestartDeadline == 0 {
		cfg.Supervisor.RestartDeadline = DefaultRestartDeadline
		if cfg.Supervisor.RestartDeadline < cfg.Supervisor.RestartMinLatency {
			cfg.Supervisor.RestartDeadline = cfg.Supervisor.RestartMinLatency
		}
	}
	if cfg.Permission.Status == "" {
		cfg.Permission.Status = "granted"
	}
	if cfg.Permission.OnRequest == "" {
		cfg.Permission.OnRequest = cfg.Permission.Status
	}
	if cfg.Provider.Kind == "" {
		cfg.Provider.Kind = DefaultProviderKind
	}
	if cfg.Provider.GPSD.Path == "" {
		cfg.Provider.GPSD.Path = DefaultGPSDPath
	}
	if cfg.Provider.GTFSRT.TimeoutMS == 0 {
		cfg.Provider.GTFSRT.TimeoutMS = DefaultTimeoutMS
	}
	if cfg.Forward.TimeoutMS == 0 {
		cfg.Forward.TimeoutMS = DefaultForwardTimeoutMS
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "auto"
	}
}
