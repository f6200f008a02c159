package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type SignalConfig struct {
	URL           string        `mapstructure:"url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeAttempts int           `mapstructure:"probe_attempts"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	BaseBackoff   time.Duration `mapstructure:"base_backoff"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	SendBuffer    int           `mapstructure:"send_buffer"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DirectoryConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type RelayConfig struct {
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

type ProfileConfig struct {
	Name      string `mapstructure:"name"`
	AvatarRef string `mapstructure:"avatar_ref"`
}

type GroupConfig struct {
	Owner   string   `mapstructure:"owner"`
	Members []string `mapstructure:"members"`
}

type EventConfig struct {
	Organizer string   `mapstructure:"organizer"`
	Attendees []string `mapstructure:"attendees"`
	Public    bool     `mapstructure:"public"`
}

// RosterConfig is the server's view of who may open and join calls.
// Friends is a list of participant id pairs.
type RosterConfig struct {
	Staff   []string               `mapstructure:"staff"`
	Friends [][]string             `mapstructure:"friends"`
	Groups  map[string]GroupConfig `mapstructure:"groups"`
	Events  map[string]EventConfig `mapstructure:"events"`
}

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	Secret      string        `mapstructure:"secret"`
	RingTimeout time.Duration `mapstructure:"ring_timeout"`

	ParticipantID string   `mapstructure:"participant_id"`
	ICEServers    []string `mapstructure:"ice_servers"`
	// RestrictedContexts lists "TYPE:id" pairs where this participant may
	// open RESTRICTED sessions; "TYPE:*" allows every context of a type.
	RestrictedContexts []string `mapstructure:"restricted_contexts"`

	Signal    SignalConfig             `mapstructure:"signal"`
	API       APIConfig                `mapstructure:"api"`
	Directory DirectoryConfig          `mapstructure:"directory"`
	Relay     RelayConfig              `mapstructure:"relay"`
	Profiles  map[string]ProfileConfig `mapstructure:"profiles"`
	Roster    RosterConfig             `mapstructure:"roster"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("ring_timeout", "15s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("signal.url", "ws://localhost:8080/call-signal")
	v.SetDefault("signal.probe_interval", "50ms")
	v.SetDefault("signal.probe_attempts", 10)
	v.SetDefault("signal.max_reconnects", 5)
	v.SetDefault("signal.base_backoff", "1s")
	v.SetDefault("signal.max_backoff", "10s")
	v.SetDefault("signal.send_buffer", 64)

	v.SetDefault("api.base_url", "http://localhost:8080/api")
	v.SetDefault("api.timeout", "10s")

	v.SetDefault("directory.base_url", "http://localhost:8080/api")
	v.SetDefault("directory.cache_size", 256)
	v.SetDefault("directory.cache_ttl", "10m")
	v.SetDefault("directory.timeout", "5s")

	v.SetDefault("relay.rate_limit", 50)
	v.SetDefault("relay.rate_burst", 100)
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults.
// Environment variables prefixed CALLCOORD_ and, when given, command line
// flags override both; a flag named foo-bar sets key foo_bar.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("CALLCOORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("signal_url", cfg.Signal.URL).Msg("config ready")
	return &cfg, nil
}
