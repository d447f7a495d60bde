package config

import "time"

// InstanceMode selects which collaborators a running daemon wires up.
type InstanceMode string

const (
	ModeStandalone InstanceMode = "standalone"
	ModeLeader     InstanceMode = "leader"
	ModeFollower   InstanceMode = "follower"
)

// Config is the fully resolved runtime configuration for one daemon
// instance, merged from defaults, an optional YAML file, and environment
// variables (environment always wins).
type Config struct {
	UploadDir string `yaml:"uploadDir"`
	OutputDir string `yaml:"outputDir"`

	// CheckInterval is how often the scheduler's housekeeping loop (batch
	// garbage collection via GCBatches) runs.
	CheckInterval time.Duration `yaml:"-"`

	DiscordWebhookURL string `yaml:"-"`
	PushoverAPIToken  string `yaml:"-"`
	PushoverUserKey   string `yaml:"-"`

	Mode      InstanceMode `yaml:"mode"`
	Followers []string     `yaml:"followers"`
	LeaderURL string       `yaml:"leaderUrl"`

	StoreDriver string `yaml:"storeDriver"` // "memory" or "badger"
	StorePath   string `yaml:"storePath"`

	ListenAddr string `yaml:"listenAddr"`

	// LogLevel is the zerolog level name ("debug", "info", "warn", "error").
	LogLevel string `yaml:"logLevel"`
}

// Defaults returns a Config populated with the spec's documented defaults.
func Defaults() Config {
	return Config{
		UploadDir:     "./uploads",
		OutputDir:     "./outputs",
		CheckInterval: 60 * time.Second,
		Mode:          ModeStandalone,
		StoreDriver:   "memory",
		StorePath:     "./data/encodis.badger",
		ListenAddr:    ":8080",
		LogLevel:      "info",
	}
}
