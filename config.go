package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/espnode/sensorbridge/history"
	"github.com/espnode/sensorbridge/reading"
)

var (
	// ErrInvalidConfig marks fatal configuration problems. They are reported
	// synchronously from New or Start and never retried.
	ErrInvalidConfig = errors.New("invalid bridge configuration")

	// ErrNotConnected is returned by Publish while the broker connection is
	// down. Commands are fire-and-forget; they are never queued for later.
	ErrNotConnected = errors.New("not connected to broker")
)

// Command vocabulary understood by the node firmware.
const (
	CommandLEDOn  = "LED_ON"
	CommandLEDOff = "LED_OFF"
)

// Reconnection uses a fixed delay between attempts, clamped to these bounds.
const (
	minReconnectDelay     = 1 * time.Second
	maxReconnectDelay     = 10 * time.Second
	defaultReconnectDelay = 3 * time.Second
)

// Bridge configuration.
type Config struct {
	// ServerURL is the MQTT server URL, e.g. "mqtt://host:1883" for a raw
	// socket or "ws://host/mqtt" for a websocket tunnel.
	ServerURL string `env:"SERVER_URL"`
	Username  string `env:"USERNAME"` // MQTT username, empty for anonymous brokers
	Password  string `env:"PASSWORD"` // MQTT password

	KeepAlive uint16 `env:"KEEP_ALIVE,default=60"` // seconds between keepalive packets

	// DataTopic carries the node's JSON sensor payloads.
	DataTopic string `env:"DATA_TOPIC,default=noeud/operateur"`
	// CommandTopic carries operator command tokens back to the node.
	CommandTopic string `env:"COMMAND_TOPIC,default=noeud/operateur/cmd"`

	// ClientIDPrefix is prefixed to a random suffix; brokers require unique
	// client IDs.
	ClientIDPrefix string `env:"CLIENT_ID_PREFIX,default=sensorbridge-"`

	// ReconnectDelay is the fixed wait between connection attempts, clamped
	// to [1s, 10s]. Reconnection never gives up.
	ReconnectDelay time.Duration `env:"RECONNECT_DELAY,default=3s"`

	// HistorySize caps the reading history (FIFO eviction).
	HistorySize int `env:"HISTORY_SIZE,default=120"`

	// FreshnessThreshold is the maximum reading age still considered live.
	FreshnessThreshold time.Duration `env:"FRESHNESS_THRESHOLD,default=8s"`

	// Aliases overrides the wire-key alias table; nil means
	// reading.DefaultAliases.
	Aliases reading.AliasTable

	// OnStateChange, when set, is invoked after every connection state
	// transition. It runs on the transport goroutine; keep it fast.
	OnStateChange func(ConnectionState)
}

// withDefaults fills zero values and clamps the reconnect delay.
func (c Config) withDefaults() Config {
	if c.KeepAlive == 0 {
		c.KeepAlive = 60
	}
	if c.DataTopic == "" {
		c.DataTopic = "noeud/operateur"
	}
	if c.CommandTopic == "" {
		c.CommandTopic = "noeud/operateur/cmd"
	}
	if c.ClientIDPrefix == "" {
		c.ClientIDPrefix = "sensorbridge-"
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.ReconnectDelay < minReconnectDelay {
		c.ReconnectDelay = minReconnectDelay
	}
	if c.ReconnectDelay > maxReconnectDelay {
		c.ReconnectDelay = maxReconnectDelay
	}
	if c.HistorySize == 0 {
		c.HistorySize = history.DefaultCapacity
	}
	if c.FreshnessThreshold == 0 {
		c.FreshnessThreshold = reading.DefaultFreshness
	}
	return c
}

func (c Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("%w: server URL is required", ErrInvalidConfig)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("%w: history size must not be negative", ErrInvalidConfig)
	}
	if c.FreshnessThreshold < 0 {
		return fmt.Errorf("%w: freshness threshold must not be negative", ErrInvalidConfig)
	}
	return nil
}
