package config

import (
	"fmt"
	"os"
	"time"

	"github.com/encodis/encodis/internal/log"
	"github.com/encodis/encodis/internal/validate"
	"gopkg.in/yaml.v3"
)

// Loader resolves a Config with precedence ENV > YAML file > defaults.
type Loader struct {
	// Path is the YAML overlay file. Empty means environment + defaults only.
	Path string
}

// NewLoader returns a Loader reading path, or environment-only if path is empty.
func NewLoader(path string) *Loader {
	return &Loader{Path: path}
}

// Load resolves the final Config.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.Path != "" {
		if err := l.mergeFile(&cfg); err != nil {
			return Config{}, err
		}
	}

	l.mergeEnv(&cfg)
	return cfg, nil
}

func (l *Loader) mergeFile(cfg *Config) error {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithComponent("config").Debug().Str("path", l.Path).Msg("no config file present, using environment and defaults")
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fileCfg.UploadDir != "" {
		cfg.UploadDir = fileCfg.UploadDir
	}
	if fileCfg.OutputDir != "" {
		cfg.OutputDir = fileCfg.OutputDir
	}
	if fileCfg.Mode != "" {
		cfg.Mode = fileCfg.Mode
	}
	if len(fileCfg.Followers) > 0 {
		cfg.Followers = fileCfg.Followers
	}
	if fileCfg.LeaderURL != "" {
		cfg.LeaderURL = fileCfg.LeaderURL
	}
	if fileCfg.StoreDriver != "" {
		cfg.StoreDriver = fileCfg.StoreDriver
	}
	if fileCfg.StorePath != "" {
		cfg.StorePath = fileCfg.StorePath
	}
	if fileCfg.ListenAddr != "" {
		cfg.ListenAddr = fileCfg.ListenAddr
	}
	if fileCfg.LogLevel != "" {
		cfg.LogLevel = fileCfg.LogLevel
	}

	log.WithComponent("config").Info().Str("path", l.Path).Msg("loaded configuration overlay from file")
	return nil
}

func (l *Loader) mergeEnv(cfg *Config) {
	cfg.UploadDir = ParseString("UPLOAD_DIR", cfg.UploadDir)
	cfg.OutputDir = ParseString("OUTPUT_DIR", cfg.OutputDir)
	cfg.CheckInterval = time.Duration(ParseInt("CHECK_INTERVAL_MS", int(cfg.CheckInterval/time.Millisecond))) * time.Millisecond
	cfg.DiscordWebhookURL = ParseString("DISCORD_WEBHOOK_URL", cfg.DiscordWebhookURL)
	cfg.PushoverAPIToken = ParseString("PUSHOVER_API_TOKEN", cfg.PushoverAPIToken)
	cfg.PushoverUserKey = ParseString("PUSHOVER_USER_KEY", cfg.PushoverUserKey)

	if mode := ParseString("INSTANCE_MODE", string(cfg.Mode)); mode != "" {
		cfg.Mode = InstanceMode(mode)
	}
	if followers := ParseStringSlice("FOLLOWERS"); followers != nil {
		cfg.Followers = followers
	}
	cfg.LeaderURL = ParseString("LEADER_URL", cfg.LeaderURL)
	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)
}

// Validate checks invariants Load cannot enforce on its own (cross-field
// requirements that depend on the fully merged Config). All violations are
// accumulated and reported together rather than failing on the first one.
func Validate(cfg Config) error {
	v := validate.New()

	v.OneOf("INSTANCE_MODE", string(cfg.Mode), []string{
		string(ModeStandalone), string(ModeLeader), string(ModeFollower),
	})
	v.Positive("CHECK_INTERVAL_MS", int(cfg.CheckInterval/time.Millisecond))

	if _, err := validate.ParseLogLevel(cfg.LogLevel); err != nil {
		v.AddError("LOG_LEVEL", err.Error(), cfg.LogLevel)
	}

	if cfg.Mode == ModeFollower {
		v.URL("LEADER_URL", cfg.LeaderURL, []string{"http", "https"})
	}
	if cfg.Mode == ModeLeader {
		for i, f := range cfg.Followers {
			v.URL(fmt.Sprintf("FOLLOWERS[%d]", i), f, []string{"http", "https"})
		}
	}

	return v.Err()
}
