// Package config provides configuration management for rtspcast using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/opd-ai/rtspcast"
	"github.com/opd-ai/rtspcast/av/audio"
	"github.com/opd-ai/rtspcast/limits"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override, so
// server.port is read from RTSPCAST_SERVER_PORT.
const EnvPrefix = "RTSPCAST"

// Default configuration values not already exported by the server package.
const (
	defaultHost         = "0.0.0.0"
	defaultAdminAddress = "127.0.0.1:8554"
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Media     MediaConfig     `mapstructure:"media"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Clients   ClientsConfig   `mapstructure:"clients"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Subtitles SubtitlesConfig `mapstructure:"subtitles"`
}

// ServerConfig holds the RTSP control listener configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MediaConfig selects the tracks and their UDP ports.
type MediaConfig struct {
	Video            bool   `mapstructure:"video"`
	Audio            bool   `mapstructure:"audio"`
	Subtitles        bool   `mapstructure:"subtitles"`
	AudioIn          bool   `mapstructure:"audio_in"`
	VideoPort        int    `mapstructure:"video_port"`
	AudioPort        int    `mapstructure:"audio_port"`
	SubtitlesPort    int    `mapstructure:"subtitles_port"`
	AudioInPort      int    `mapstructure:"audio_in_port"`
	SampleRate       int    `mapstructure:"sample_rate"`
	MulticastAddress string `mapstructure:"multicast_address"`
	MulticastTTL     int    `mapstructure:"multicast_ttl"`
}

// AudioConfig selects the outbound and inbound audio codecs.
type AudioConfig struct {
	OutputCodec string `mapstructure:"output_codec"` // pcmu, pcma, l16
	InputCodec  string `mapstructure:"input_codec"`  // pcmu, pcma, l16, opus
	Upsample    bool   `mapstructure:"upsample"`
	ReceiveRate int    `mapstructure:"receive_rate"` // 0 follows media.sample_rate
}

// ClientsConfig holds admission control settings.
type ClientsConfig struct {
	Max int `mapstructure:"max"`
}

// AuthConfig holds Basic authentication credentials. An empty username
// disables authentication.
type AuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// AdminConfig holds the status API configuration.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// SubtitlesConfig drives the periodic subtitle timer. Zero disables it.
type SubtitlesConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from file, environment variables, and defaults.
// An empty configPath searches the usual locations and tolerates a missing
// file; an explicit path must exist.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("rtspcast")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/rtspcast")
		v.AddConfigPath("$HOME/.rtspcast")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return Unmarshal(v)
}

// Unmarshal decodes and validates the configuration held by v. It lets a
// caller that layers command-line flags onto its own viper instance share
// the validation done by Load.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", defaultHost)
	v.SetDefault("server.port", rtspcast.DefaultPort)

	v.SetDefault("media.video", true)
	v.SetDefault("media.audio", true)
	v.SetDefault("media.subtitles", false)
	v.SetDefault("media.audio_in", false)
	v.SetDefault("media.video_port", rtspcast.DefaultVideoPort)
	v.SetDefault("media.audio_port", rtspcast.DefaultAudioPort)
	v.SetDefault("media.subtitles_port", rtspcast.DefaultSubtitlesPort)
	v.SetDefault("media.audio_in_port", rtspcast.DefaultAudioInPort)
	v.SetDefault("media.sample_rate", 8000)
	v.SetDefault("media.multicast_address", rtspcast.DefaultMulticastAddress)
	v.SetDefault("media.multicast_ttl", rtspcast.DefaultMulticastTTL)

	v.SetDefault("audio.output_codec", audio.CodecPCMU.String())
	v.SetDefault("audio.input_codec", audio.CodecPCMU.String())
	v.SetDefault("audio.upsample", false)
	v.SetDefault("audio.receive_rate", 0)

	v.SetDefault("clients.max", rtspcast.DefaultMaxClients)

	v.SetDefault("auth.username", "")
	v.SetDefault("auth.password", "")

	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.format", defaultLogFormat)

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.address", defaultAdminAddress)

	v.SetDefault("subtitles.interval", time.Duration(0))
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("%w: server.port must be between 1 and %d", ErrInvalidConfig, maxPort)
	}

	if !c.Media.Video && !c.Media.Audio && !c.Media.Subtitles {
		return fmt.Errorf("%w: one of media.video, media.audio or media.subtitles must be enabled", ErrInvalidConfig)
	}
	mediaPorts := []struct {
		key  string
		port int
	}{
		{"media.video_port", c.Media.VideoPort},
		{"media.audio_port", c.Media.AudioPort},
		{"media.subtitles_port", c.Media.SubtitlesPort},
		{"media.audio_in_port", c.Media.AudioInPort},
	}
	for _, p := range mediaPorts {
		if p.port < 0 || p.port > maxPort {
			return fmt.Errorf("%w: %s must be between 0 and %d", ErrInvalidConfig, p.key, maxPort)
		}
	}
	if c.Media.SampleRate <= 0 {
		return fmt.Errorf("%w: media.sample_rate must be positive", ErrInvalidConfig)
	}
	ip := net.ParseIP(c.Media.MulticastAddress)
	if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		return fmt.Errorf("%w: media.multicast_address must be an IPv4 multicast address", ErrInvalidConfig)
	}
	if c.Media.MulticastTTL < 1 || c.Media.MulticastTTL > 255 {
		return fmt.Errorf("%w: media.multicast_ttl must be between 1 and 255", ErrInvalidConfig)
	}

	output, err := audio.ParseCodec(c.Audio.OutputCodec)
	if err != nil {
		return fmt.Errorf("%w: audio.output_codec: %v", ErrInvalidConfig, err)
	}
	if !output.CanEncode() {
		return fmt.Errorf("%w: audio.output_codec must be one of: pcmu, pcma, l16", ErrInvalidConfig)
	}
	if _, err := audio.ParseCodec(c.Audio.InputCodec); err != nil {
		return fmt.Errorf("%w: audio.input_codec: %v", ErrInvalidConfig, err)
	}
	if c.Audio.ReceiveRate < 0 {
		return fmt.Errorf("%w: audio.receive_rate must not be negative", ErrInvalidConfig)
	}

	if c.Clients.Max < 0 || c.Clients.Max > limits.MaxClientsHardCap {
		return fmt.Errorf("%w: clients.max must be between 0 and %d", ErrInvalidConfig, limits.MaxClientsHardCap)
	}
	if c.Auth.Password != "" && c.Auth.Username == "" {
		return fmt.Errorf("%w: auth.password requires auth.username", ErrInvalidConfig)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: logging.level must be one of: debug, info, warn, error", ErrInvalidConfig)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("%w: logging.format must be one of: json, text", ErrInvalidConfig)
	}

	if c.Admin.Enabled {
		if _, _, err := net.SplitHostPort(c.Admin.Address); err != nil {
			return fmt.Errorf("%w: admin.address: %v", ErrInvalidConfig, err)
		}
	}
	if c.Subtitles.Interval < 0 {
		return fmt.Errorf("%w: subtitles.interval must not be negative", ErrInvalidConfig)
	}
	if c.Subtitles.Interval > 0 && !c.Media.Subtitles {
		return fmt.Errorf("%w: subtitles.interval requires media.subtitles", ErrInvalidConfig)
	}

	return nil
}

// Address returns the control listener address in host:port format.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ServerOptions converts the configuration into server options. The
// configuration must have passed Validate.
func (c *Config) ServerOptions() (*rtspcast.Options, error) {
	output, err := audio.ParseCodec(c.Audio.OutputCodec)
	if err != nil {
		return nil, err
	}
	input, err := audio.ParseCodec(c.Audio.InputCodec)
	if err != nil {
		return nil, err
	}

	opts := rtspcast.NewOptions()
	opts.Host = c.Server.Host
	opts.Port = c.Server.Port
	opts.Video = c.Media.Video
	opts.Audio = c.Media.Audio
	opts.Subtitles = c.Media.Subtitles
	opts.AudioIn = c.Media.AudioIn
	opts.VideoPort = c.Media.VideoPort
	opts.AudioPort = c.Media.AudioPort
	opts.SubtitlesPort = c.Media.SubtitlesPort
	opts.AudioInPort = c.Media.AudioInPort
	opts.SampleRate = c.Media.SampleRate
	opts.MulticastAddress = c.Media.MulticastAddress
	opts.MulticastTTL = c.Media.MulticastTTL
	opts.AudioCodec = output
	opts.AudioInCodec = input
	opts.Upsample = c.Audio.Upsample
	opts.ReceiveRate = c.Audio.ReceiveRate
	opts.MaxClients = c.Clients.Max
	opts.Username = c.Auth.Username
	opts.Password = c.Auth.Password
	return opts, nil
}
