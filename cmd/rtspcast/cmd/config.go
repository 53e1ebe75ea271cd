package cmd

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/opd-ai/rtspcast/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing rtspcast configuration. Without a subcommand the effective configuration is printed.`,
	RunE:  runConfigDump,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format: defaults merged with
the config file and environment. The password is masked.

You can redirect this output to a file to create a configuration template:

  rtspcast config dump > rtspcast.yaml

Environment variables use the RTSPCAST_ prefix and underscores for nesting.
Example: clients.max -> RTSPCAST_CLIENTS_MAX`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations in their human readable form.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Unmarshal(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return writeConfig(cmd.OutOrStdout(), cfg)
}

// writeConfig prints cfg as YAML with a short header.
func writeConfig(w io.Writer, cfg *config.Config) error {
	masked := *cfg
	if masked.Auth.Password != "" {
		masked.Auth.Password = redacted
	}

	yamlData, err := yaml.Marshal(toMap(&masked))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(w, "# rtspcast configuration")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Duration format: 500ms, 2s, 1m")
	fmt.Fprintln(w, "# Environment variable overrides:")
	fmt.Fprintf(w, "#   %s_SERVER_PORT, %s_CLIENTS_MAX, %s_LOGGING_LEVEL, etc.\n",
		config.EnvPrefix, config.EnvPrefix, config.EnvPrefix)
	fmt.Fprintln(w, "")
	_, err = w.Write(yamlData)
	return err
}
