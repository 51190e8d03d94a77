package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	StaticPath      string        `mapstructure:"static_path"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	Secret          string        `mapstructure:"secret"`
	LogLevel        string        `mapstructure:"log_level"`
	ICEServers      []string      `mapstructure:"ice_servers"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Media   MediaConfig   `mapstructure:"media"`
	Control ControlConfig `mapstructure:"control"`
}

type MediaConfig struct {
	// RTPListen is where the encoder pipeline sends its RTP stream.
	// Empty disables ingest.
	RTPListen string `mapstructure:"rtp_listen"`
	Autostart bool   `mapstructure:"autostart"`
}

type ControlConfig struct {
	Broker        string        `mapstructure:"broker"`
	Topic         string        `mapstructure:"topic"`
	ClientID      string        `mapstructure:"client_id"`
	PublishPeriod time.Duration `mapstructure:"publish_period"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	ProbeLimit    int           `mapstructure:"probe_limit"`
	ProbeWindow   time.Duration `mapstructure:"probe_window"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "rover-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("shutdown_timeout", "5s")

	v.SetDefault("media.rtp_listen", "127.0.0.1:5004")
	v.SetDefault("media.autostart", true)

	v.SetDefault("control.broker", "")
	v.SetDefault("control.topic", "cmd_vel")
	v.SetDefault("control.client_id", "rover")
	v.SetDefault("control.publish_period", "50ms")
	v.SetDefault("control.stale_after", "200ms")
	v.SetDefault("control.probe_timeout", "3s")
	v.SetDefault("control.probe_limit", 3)
	v.SetDefault("control.probe_window", "10s")
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"port":           "port",
	"mode":           "mode",
	"log-level":      "log_level",
	"static-path":    "static_path",
	"rtp-listen":     "media.rtp_listen",
	"mqtt-broker":    "control.broker",
	"mqtt-topic":     "control.topic",
	"mqtt-client-id": "control.client_id",
}

// RegisterFlags declares the flags Load understands on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("port", 8080, "HTTP listen port")
	fs.String("mode", "release", "gin mode (debug, release)")
	fs.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	fs.String("static-path", "./web", "directory served at / and /static")
	fs.String("rtp-listen", "127.0.0.1:5004", "UDP address receiving the encoder's RTP stream, empty to disable")
	fs.String("mqtt-broker", "", "control bus broker URL, e.g. tcp://localhost:1883")
	fs.String("mqtt-topic", "cmd_vel", "control bus topic")
	fs.String("mqtt-client-id", "rover", "control bus client id")
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults. Environment
// variables (ROVER_CONTROL_BROKER, ...) override the file and flags that
// were set explicitly override both. fs may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fileName = path
	}

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("rover")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Str("mqtt_broker", cfg.Control.Broker).
		Str("rtp_listen", cfg.Media.RTPListen).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.PingPeriod <= 0 {
		errs = append(errs, errors.New("ping_period must be positive"))
	}
	if c.Control.PublishPeriod <= 0 {
		errs = append(errs, errors.New("control.publish_period must be positive"))
	}
	if c.Control.StaleAfter <= 0 {
		errs = append(errs, errors.New("control.stale_after must be positive"))
	}
	if c.Control.Topic == "" {
		errs = append(errs, errors.New("control.topic must not be empty"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
