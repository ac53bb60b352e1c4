package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Discord bot account
	Discord DiscordConfig `yaml:"discord"`

	// Music catalog server
	Subsonic SubsonicConfig `yaml:"subsonic"`

	// Voice streaming settings
	Voice VoiceConfig `yaml:"voice"`

	// Cache settings
	Cache CacheConfig `yaml:"cache"`

	// Operator control server
	Control ControlConfig `yaml:"control"`

	// Prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics"`

	// Play history database
	History HistoryConfig `yaml:"history"`

	Log LogConfig `yaml:"log"`
}

// DiscordConfig represents the bot credentials
type DiscordConfig struct {
	Token     string `yaml:"token,omitempty"`
	TokenFile string `yaml:"token_file,omitempty"`
	// Register slash commands in this guild only; global when empty
	GuildID string `yaml:"guild_id,omitempty"`
	// Also accept text commands starting with this prefix (needs the
	// message content intent); disabled when empty
	Prefix string `yaml:"prefix,omitempty"`
}

// SubsonicConfig represents the Subsonic server credentials
type SubsonicConfig struct {
	URL          string        `yaml:"url"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password,omitempty"`
	PasswordFile string        `yaml:"password_file,omitempty"`
	Timeout      time.Duration `yaml:"timeout"`
}

// VoiceConfig represents voice streaming settings
type VoiceConfig struct {
	// Leave the channel after this long without playback (0 disables)
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	FFmpegPath  string        `yaml:"ffmpeg_path"`
	// Opus bitrate in kbit/s
	Bitrate int `yaml:"bitrate"`
}

// CacheConfig represents cache settings
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
	MaxSizeGB int    `yaml:"max_size_gb"`
}

// ControlConfig represents the control server settings
type ControlConfig struct {
	// Listen address; empty disables the server
	Addr string `yaml:"addr"`
}

// MetricsConfig represents the metrics endpoint settings
type MetricsConfig struct {
	// Listen address; empty disables the endpoint
	Addr string `yaml:"addr"`
}

// HistoryConfig represents the play history settings
type HistoryConfig struct {
	// SQLite database path; empty disables history
	Path string `yaml:"path"`
}

// LogConfig represents logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Subsonic: SubsonicConfig{
			Timeout: 30 * time.Second,
		},
		Voice: VoiceConfig{
			IdleTimeout: 5 * time.Minute,
			FFmpegPath:  "ffmpeg",
			Bitrate:     96,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Directory: "/tmp/disconic-cache",
			MaxSizeGB: 2,
		},
		Control: ControlConfig{
			Addr: "127.0.0.1:6601",
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from file. Keys missing from the file keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		// If file doesn't exist, return default config
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "failed to read config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	return cfg, nil
}

// SaveConfig saves configuration to file
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// Load reads the optional .env files, the config file and the environment,
// in increasing order of precedence
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to load %s", f)
		}
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(lookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LookupFunc reads one environment variable
type LookupFunc func(key string) (string, bool)

var lookupEnv LookupFunc = os.LookupEnv

// ApplyEnv overrides settings from DISCONIC_* variables. Secrets may instead
// be read from the file named by the matching *_FILE variable.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("DISCONIC_SUBSONIC_URL", &c.Subsonic.URL)
	set("DISCONIC_SUBSONIC_USER", &c.Subsonic.User)
	set("DISCONIC_SUBSONIC_PASSWORD", &c.Subsonic.Password)
	set("DISCONIC_SUBSONIC_PASSWORD_FILE", &c.Subsonic.PasswordFile)
	set("DISCONIC_DISCORD_GUILD", &c.Discord.GuildID)
	set("DISCONIC_DISCORD_TOKEN", &c.Discord.Token)
	set("DISCONIC_DISCORD_TOKEN_FILE", &c.Discord.TokenFile)
	set("DISCONIC_DISCORD_PREFIX", &c.Discord.Prefix)
	set("DISCONIC_LOG_LEVEL", &c.Log.Level)

	if c.Subsonic.Password == "" && c.Subsonic.PasswordFile != "" {
		secret, err := readSecret(c.Subsonic.PasswordFile)
		if err != nil {
			return err
		}
		c.Subsonic.Password = secret
	}
	if c.Discord.Token == "" && c.Discord.TokenFile != "" {
		secret, err := readSecret(c.Discord.TokenFile)
		if err != nil {
			return err
		}
		c.Discord.Token = secret
	}
	return nil
}

func readSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read secret file %s", path)
	}
	return strings.TrimSpace(string(data)), nil
}

// Validate checks that the settings needed to start are present
func (c *Config) Validate() error {
	var missing []string
	if c.Discord.Token == "" {
		missing = append(missing, "discord token")
	}
	if c.Subsonic.URL == "" {
		missing = append(missing, "subsonic url")
	}
	if c.Subsonic.User == "" {
		missing = append(missing, "subsonic user")
	}
	if c.Subsonic.Password == "" {
		missing = append(missing, "subsonic password")
	}
	if len(missing) > 0 {
		return errors.Newf("missing required settings: %s", strings.Join(missing, ", "))
	}

	if c.Voice.Bitrate < 8 || c.Voice.Bitrate > 512 {
		return errors.Newf("voice bitrate %d kbit/s out of range 8-512", c.Voice.Bitrate)
	}
	if c.Cache.Enabled && c.Cache.MaxSizeGB <= 0 {
		return errors.Newf("cache max_size_gb must be positive, got %d", c.Cache.MaxSizeGB)
	}
	return nil
}
