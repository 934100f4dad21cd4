package config

import "time"

// TrackingConfig holds the options a tracking session is started with.
type TrackingConfig struct {
	Interval                 time.Duration `yaml:"interval" validate:"omitempty,gte=1s"`
	Accuracy                 string        `yaml:"accuracy" validate:"omitempty,oneof=lowest low balanced high best"`
	EnableBackgroundTracking *bool         `yaml:"enableBackgroundTracking"`
	LogInternally            *bool         `yaml:"logInternally"`
	QueueSize                int           `yaml:"queueSize" validate:"gte=0"`
}

// StoreConfig locates the trace log.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SupervisorConfig controls restart scheduling and the wake guarantee.
type SupervisorConfig struct {
	StateDir          string        `yaml:"stateDir"`
	RestartMinLatency time.Duration `yaml:"restartMinLatency" validate:"gte=0"`
	RestartDeadline   time.Duration `yaml:"restartDeadline" validate:"gte=0"`
	WakeLockPath      string        `yaml:"wakeLockPath"`
}

// PermissionConfig describes the host's location permission.
type PermissionConfig struct {
	Status    string `yaml:"status" validate:"omitempty,oneof=granted denied notDetermined"`
	OnRequest string `yaml:"onRequest" validate:"omitempty,oneof=granted denied notDetermined"`
}

// GPSDConfig points at a gpsd JSON stream capture (gpspipe -w output).
type GPSDConfig struct {
	Path string `yaml:"path"`
}

// GTFSRTConfig contains GTFS-Realtime vehicle feed configuration
type GTFSRTConfig struct {
	VehiclePositionsURL string `yaml:"vehiclePositionsURL"`
	VehicleID           string `yaml:"vehicleID"`
	TimeoutMS           int    `yaml:"timeoutMS" validate:"gte=0"`
}

// ProviderConfig selects the fix provider variant.
type ProviderConfig struct {
	Kind   string       `yaml:"kind" validate:"omitempty,oneof=gpsd gtfsrt"`
	GPSD   GPSDConfig   `yaml:"gpsd"`
	GTFSRT GTFSRTConfig `yaml:"gtfsrt"`
}

// ForwardConfig configures the external fix sink used when fixes are not
// logged internally.
type ForwardConfig struct {
	URL       string `yaml:"url" validate:"omitempty,url"`
	TimeoutMS int    `yaml:"timeoutMS" validate:"gte=0"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=0,lte=65535"`
}

// LoggingConfig selects the slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=auto text json"`
}

// AppConfig is the root configuration structure
type AppConfig struct {
	Tracking   TrackingConfig   `yaml:"tracking"`
	Store      StoreConfig      `yaml:"store"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Permission PermissionConfig `yaml:"permission"`
	Provider   ProviderConfig   `yaml:"provider"`
	Forward    ForwardConfig    `yaml:"forward"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BackgroundEnabled reports the effective enableBackgroundTracking value.
func (t TrackingConfig) BackgroundEnabled() bool {
	return t.EnableBackgroundTracking == nil || *t.EnableBackgroundTracking
}

// LogsInternally reports the effective logInternally value.
func (t TrackingConfig) LogsInternally() bool {
	return t.LogInternally == nil || *t.LogInternally
}
