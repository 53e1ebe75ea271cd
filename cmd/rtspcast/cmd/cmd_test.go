package cmd

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/opd-ai/rtspcast/av/audio"
	"github.com/opd-ai/rtspcast/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    logrus.Level
		wantErr bool
	}{
		{"", logrus.InfoLevel, false},
		{"info", logrus.InfoLevel, false},
		{"DEBUG", logrus.DebugLevel, false},
		{"warn", logrus.WarnLevel, false},
		{"warning", logrus.WarnLevel, false},
		{" error ", logrus.ErrorLevel, false},
		{"trace", logrus.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func loggingFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-level", "info", "")
	fs.String("log-format", "text", "")
	return fs
}

func TestInitLogging(t *testing.T) {
	t.Cleanup(func() {
		viper.Set("logging.level", "info")
		viper.Set("logging.format", "text")
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
		logrus.SetOutput(os.Stderr)
	})

	viper.Set("logging.level", "debug")
	viper.Set("logging.format", "json")
	fs := loggingFlags()
	require.NoError(t, initLogging(fs))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	// Explicit flags win over configured values.
	require.NoError(t, fs.Set("log-level", "warning"))
	require.NoError(t, fs.Set("log-format", "text"))
	require.NoError(t, initLogging(fs))
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logrus.StandardLogger().Formatter)
	assert.Equal(t, "warn", viper.GetString("logging.level"))

	require.NoError(t, fs.Set("log-format", "xml"))
	assert.Error(t, initLogging(fs))
}

func TestWriteConfig(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("auth.username", "admin")
	v.Set("auth.password", "secret")
	v.Set("media.subtitles", true)
	v.Set("subtitles.interval", "2s")
	cfg, err := config.Unmarshal(v)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, cfg))
	out := buf.String()

	assert.Contains(t, out, "# rtspcast configuration")
	assert.Contains(t, out, "RTSPCAST_CLIENTS_MAX")
	assert.NotContains(t, out, "secret")
	assert.Equal(t, "secret", cfg.Auth.Password, "caller config untouched")

	var parsed map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, redacted, parsed["auth"]["password"])
	assert.Equal(t, "admin", parsed["auth"]["username"])
	assert.Equal(t, "2s", parsed["subtitles"]["interval"])
	assert.Equal(t, 3, parsed["clients"]["max"])
	assert.Equal(t, 554, parsed["server"]["port"])
	assert.Equal(t, "pcmu", parsed["audio"]["output_codec"])
}

func TestToneGenerator(t *testing.T) {
	gen := newToneGenerator(1000, 8000)

	first := gen.Next(20 * time.Millisecond)
	require.Len(t, first, 160)
	assert.Equal(t, int16(0), first[0])
	assert.InDelta(t, 23169, first[1], 1, "sin(pi/4)")
	assert.Equal(t, int16(32767), first[2])

	// 1 kHz at 8 kHz repeats every eight samples, across calls too.
	second := gen.Next(20 * time.Millisecond)
	for i := 0; i < 8; i++ {
		assert.InDelta(t, first[i], second[i], 1)
	}

	assert.InDelta(t, 0.707, audio.ComputeRMS(first), 0.01)
}

func TestClockText(t *testing.T) {
	_, err := time.Parse("15:04:05", clockText())
	assert.NoError(t, err)
}

func TestCommandTree(t *testing.T) {
	tests := []struct {
		path  []string
		flags []string
	}{
		{[]string{"serve"}, []string{"host", "port", "max-clients", "subtitles", "audio-in", "admin", "subtitle-interval", "test-pattern"}},
		{[]string{"config"}, nil},
		{[]string{"config", "dump"}, nil},
	}

	for _, tt := range tests {
		found, _, err := rootCmd.Find(tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.path[len(tt.path)-1], found.Name())
		for _, name := range tt.flags {
			assert.NotNil(t, found.Flags().Lookup(name), name)
		}
	}

	for _, name := range []string{"config", "log-level", "log-format"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
}
