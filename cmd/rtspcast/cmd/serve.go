package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/rtspcast"
	"github.com/opd-ai/rtspcast/admin"
	"github.com/opd-ai/rtspcast/av/rtp"
	"github.com/opd-ai/rtspcast/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// shutdownTimeout bounds how long the admin API may take to drain.
const shutdownTimeout = 5 * time.Second

var testPattern bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the RTSP server",
	Long: `Start the RTSP server and, when enabled, the admin status API.

Without --test-pattern the server only accepts clients; media is expected
from an embedding program. With --test-pattern a synthetic video pattern
and a sine tone are streamed so clients can be tested end to end.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "address to bind the RTSP listener to")
	serveCmd.Flags().Int("port", rtspcast.DefaultPort, "RTSP control port")
	serveCmd.Flags().Int("max-clients", rtspcast.DefaultMaxClients, "maximum concurrent clients (0-10)")
	serveCmd.Flags().Bool("subtitles", false, "enable the T.140 subtitle track")
	serveCmd.Flags().Bool("audio-in", false, "accept audio sent back by clients")
	serveCmd.Flags().Bool("admin", false, "enable the admin status API")
	serveCmd.Flags().Duration("subtitle-interval", 0, "send the wall clock time as a subtitle on this interval")
	serveCmd.Flags().BoolVar(&testPattern, "test-pattern", false, "stream a synthetic test pattern and tone")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("clients.max", serveCmd.Flags().Lookup("max-clients"))
	mustBindPFlag("media.subtitles", serveCmd.Flags().Lookup("subtitles"))
	mustBindPFlag("media.audio_in", serveCmd.Flags().Lookup("audio-in"))
	mustBindPFlag("admin.enabled", serveCmd.Flags().Lookup("admin"))
	mustBindPFlag("subtitles.interval", serveCmd.Flags().Lookup("subtitle-interval"))
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Unmarshal(viper.GetViper())
	if err != nil {
		return err
	}

	opts, err := cfg.ServerOptions()
	if err != nil {
		return fmt.Errorf("building server options: %w", err)
	}
	if testPattern {
		opts.JPEGType = rtp.JPEGType420
	}

	server, err := rtspcast.New(opts)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	server.OnClientActivity(func(kind rtspcast.ActivityType, ip string, port uint16, active int) {
		logrus.WithFields(logrus.Fields{
			"function": "runServe",
			"activity": kind.String(),
			"client":   fmt.Sprintf("%s:%d", ip, port),
			"active":   active,
		}).Info("Client activity")
	})
	if opts.AudioIn {
		server.OnAudioReceived(func(pcm []byte, length int) {
			logrus.WithFields(logrus.Fields{
				"function": "runServe",
				"bytes":    length,
			}).Debug("Received client audio")
		})
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	defer func() {
		if err := server.Stop(); err != nil {
			logrus.WithError(err).Warn("Failed to stop server cleanly")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function":    "runServe",
		"address":     server.Addr().String(),
		"max_clients": server.MaxClients(),
	}).Info("RTSP server listening")

	if cfg.Admin.Enabled {
		api := admin.NewServer(server)
		if err := api.Listen(cfg.Admin.Address); err != nil {
			return fmt.Errorf("starting admin API: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := api.Shutdown(ctx); err != nil {
				logrus.WithError(err).Warn("Failed to stop admin API cleanly")
			}
		}()
		logrus.WithFields(logrus.Fields{
			"function": "runServe",
			"address":  api.Addr().String(),
		}).Info("Admin API listening")
	}

	if cfg.Subtitles.Interval > 0 {
		if err := server.StartSubtitlesTimer(cfg.Subtitles.Interval, clockText); err != nil {
			return fmt.Errorf("starting subtitle timer: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if testPattern {
		feeder, err := newPatternFeeder(server, opts)
		if err != nil {
			return err
		}
		go feeder.run(ctx)
	}

	<-ctx.Done()
	logrus.WithField("function", "runServe").Info("Shutting down")
	return nil
}

// clockText is the subtitle source for the timer: the current wall clock.
func clockText() string {
	return time.Now().Format("15:04:05")
}
