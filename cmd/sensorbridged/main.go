// sensorbridged runs the telemetry bridge as a standalone daemon: it
// connects to the broker, ingests node readings and logs a snapshot line at
// a fixed interval. Presentation layers embed the bridge package directly;
// this binary exists for headless monitoring and smoke testing a broker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	bridge "github.com/espnode/sensorbridge"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if err := loadConfig(); err != nil {
		logger.Fatal().Err(err).Msg("error reading config")
	}
	if lvl, err := zerolog.ParseLevel(viper.GetString("log.level")); err == nil && lvl != zerolog.NoLevel {
		logger = logger.Level(lvl)
	}

	b, err := bridge.New(bridge.Config{
		ServerURL:          viper.GetString("broker.url"),
		Username:           viper.GetString("broker.username"),
		Password:           viper.GetString("broker.password"),
		ReconnectDelay:     viper.GetDuration("broker.reconnect_delay"),
		DataTopic:          viper.GetString("topics.data"),
		CommandTopic:       viper.GetString("topics.command"),
		HistorySize:        viper.GetInt("history.size"),
		FreshnessThreshold: viper.GetDuration("freshness.threshold"),
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid bridge configuration")
	}

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := b.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start bridge")
	}

	go reportSnapshots(ctx, b, logger, viper.GetDuration("poll.interval"))

	waitForShutdown(cancel, b, logger)
}

// loadConfig reads configs/config.yml.
func loadConfig() error {
	viper.AddConfigPath("configs")
	viper.SetConfigName("config")
	viper.SetDefault("poll.interval", time.Second)
	return viper.ReadInConfig()
}

// reportSnapshots logs one snapshot line per tick until ctx is cancelled.
func reportSnapshots(ctx context.Context, b *bridge.Bridge, logger zerolog.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logSnapshot(b.Snapshot(), logger)
		}
	}
}

func logSnapshot(snap bridge.Snapshot, logger zerolog.Logger) {
	evt := logger.Info().
		Stringer("state", snap.State).
		Bool("fresh", snap.Fresh).
		Uint64("seq", snap.Seq).
		Uint64("dropped", snap.Dropped)
	if snap.LastError != nil && snap.State != bridge.Connected {
		evt = evt.AnErr("lastError", snap.LastError)
	}
	if r := snap.Latest; r != nil {
		if r.Temperature != nil {
			evt = evt.Float64("temperature", *r.Temperature)
		}
		if r.Humidity != nil {
			evt = evt.Float64("humidity", *r.Humidity)
		}
		if r.Threshold != nil {
			evt = evt.Float64("threshold", *r.Threshold)
		}
		if r.FlameLocal != nil {
			evt = evt.Bool("flame", *r.FlameLocal)
		}
		if r.AlarmActive != nil {
			evt = evt.Bool("alarm", *r.AlarmActive)
		}
	}
	evt.Msg("snapshot")
}

// waitForShutdown blocks until SIGINT/SIGTERM, then disconnects.
func waitForShutdown(cancel context.CancelFunc, b *bridge.Bridge, logger zerolog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down bridge...")

	// stop background goroutines
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := b.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to disconnect cleanly")
	}
}
