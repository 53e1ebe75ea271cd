// Package cmd implements the CLI commands for rtspcast.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/opd-ai/rtspcast/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rtspcast",
	Short: "RTSP server for MJPEG video, G.711 audio and T.140 subtitles",
	Long: `rtspcast serves a live motion-JPEG stream with optional G.711 or L16
audio and T.140 subtitles to a small number of RTSP clients, over UDP
unicast, UDP multicast, TCP interleaved or HTTP tunnelling. It can also
receive audio back from clients for two-way communication.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging(rootCmd.PersistentFlags())
	}

	// The logging flags are not bound to viper: they only override config
	// and environment values when set explicitly.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./rtspcast.yaml, /etc/rtspcast, $HOME/.rtspcast)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// initConfig reads in the config file and environment variables.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("rtspcast")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/rtspcast")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.rtspcast")
		}
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		cobra.CheckErr(fmt.Errorf("reading config file: %w", err))
	}
}

// initLogging configures logrus from configuration.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format), only if explicitly provided
//  2. Environment variables (RTSPCAST_LOGGING_LEVEL, RTSPCAST_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, text)
func initLogging(flags *pflag.FlagSet) error {
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	if flags.Changed("log-level") {
		level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		format, _ = flags.GetString("log-format")
	}

	parsed, err := parseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(parsed)
	name := parsed.String()
	if parsed == logrus.WarnLevel {
		name = "warn"
	}
	viper.Set("logging.level", name)

	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		format = "text"
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", format)
	}
	viper.Set("logging.format", strings.ToLower(format))
	logrus.SetOutput(os.Stderr)

	return nil
}

// parseLevel maps a configured level name to a logrus level. "warning" is
// accepted as an alias for "warn".
func parseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	}
	return logrus.InfoLevel, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", level)
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
