// Package bridge owns the MQTT connection to a sensor node: it subscribes
// to the node's data topic, normalizes every JSON payload into a canonical
// Reading, keeps the latest value plus a bounded history, and publishes
// operator commands on the outbound topic.
package bridge

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/espnode/sensorbridge/history"
	"github.com/espnode/sensorbridge/reading"
)

const qos = byte(1) // qos to utilise when publishing and subscribing

// Bridge is the ingest-and-command unit. Construct one per process and
// share it by reference; it lives for the process's duration. All transport
// I/O happens on background goroutines owned by the connection manager;
// Snapshot and Publish never block on the network.
type Bridge struct {
	config Config
	logger zerolog.Logger

	norm  *reading.Normalizer
	store *history.Store

	mu            sync.Mutex
	client        *autopaho.ConnectionManager
	started       bool
	closing       bool
	state         ConnectionState
	lastReason    byte
	lastErr       error
	lastMessageAt time.Time
}

// Snapshot is the pull surface consumed by the presentation layer. It is a
// point-in-time copy; no field references live bridge state. The one
// exception is nested values inside a reading's Raw map, which are shared
// with the store and must be treated as read-only.
type Snapshot struct {
	// Latest is the most recent reading, nil before the first message.
	Latest *reading.Reading
	// History holds past readings in arrival order, oldest first.
	History []reading.Reading
	// Seq increments on every store mutation; pollers can compare it to
	// detect change under any refresh policy.
	Seq uint64
	// Fresh reports whether Latest is recent enough to be considered live.
	Fresh bool
	// Dropped counts payloads discarded as undecodable.
	Dropped uint64

	State ConnectionState
	// LastReasonCode is the most recent CONNACK or DISCONNECT reason code;
	// 0 after a clean connect.
	LastReasonCode byte
	// LastError is the most recent transport error. It is retained after a
	// successful reconnect; check State to see whether it is current.
	LastError     error
	LastMessageAt time.Time
}

// New validates cfg and builds a stopped Bridge. Call Start to connect.
func New(cfg Config, logger zerolog.Logger) (*Bridge, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Bridge{
		config: cfg,
		logger: logger.With().Str("component", "Bridge").Logger(),
		norm:   reading.NewNormalizer(cfg.Aliases, logger),
		store:  history.New(cfg.HistorySize),
		state:  Disconnected,
	}, nil
}

// Start opens the broker connection and subscribes to the data topic.
// Calling Start again while already started is a no-op. A malformed server
// URL is a configuration error reported here, before any connection
// attempt. Runtime connectivity failures are not errors: the connection
// manager retries forever with the configured fixed delay and the outcome
// surfaces through Snapshot's connection state.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}

	serverURL, err := url.Parse(b.config.ServerURL)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: parse server URL %q: %v", ErrInvalidConfig, b.config.ServerURL, err)
	}
	if serverURL.Scheme == "" || serverURL.Host == "" {
		b.mu.Unlock()
		return fmt.Errorf("%w: server URL %q needs a scheme and host", ErrInvalidConfig, b.config.ServerURL)
	}
	b.started = true
	b.closing = false
	b.mu.Unlock()

	b.setState(Connecting, nil)
	client, err := autopaho.NewConnection(ctx, b.clientConfig(serverURL))
	if err != nil {
		b.setState(Disconnected, err)
		b.mu.Lock()
		b.started = false
		b.mu.Unlock()
		return fmt.Errorf("open connection: %w", err)
	}

	b.mu.Lock()
	b.client = client
	b.mu.Unlock()
	b.logger.Info().
		Str("server", b.config.ServerURL).
		Str("topic", b.config.DataTopic).
		Msg("Bridge started")
	return nil
}

// Close disconnects from the broker on a best-effort basis. In-flight
// messages are not drained. The bridge can be started again afterwards.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.started = false
	b.closing = true
	b.mu.Unlock()

	if client == nil {
		return nil
	}
	err := client.Disconnect(ctx)
	b.setState(Disconnected, nil)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to disconnect")
		return err
	}
	b.logger.Info().Msg("Disconnected from broker")
	return nil
}

// Snapshot returns a consistent copy of the store plus the connection
// status. It holds locks only long enough to copy.
func (b *Bridge) Snapshot() Snapshot {
	hs := b.store.Snapshot()

	b.mu.Lock()
	snap := Snapshot{
		Latest:         hs.Latest,
		History:        hs.History,
		Seq:            hs.Seq,
		Dropped:        b.norm.Dropped(),
		State:          b.state,
		LastReasonCode: b.lastReason,
		LastError:      b.lastErr,
		LastMessageAt:  b.lastMessageAt,
	}
	b.mu.Unlock()

	snap.Fresh = reading.IsFresh(time.Now(), snap.Latest, b.config.FreshnessThreshold)
	return snap
}

// State returns the current connection state.
func (b *Bridge) State() ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Clear empties the reading history (operator reset). The latest reading
// and the connection are untouched.
func (b *Bridge) Clear() {
	b.store.Clear()
}

func (b *Bridge) clientConfig(serverURL *url.URL) autopaho.ClientConfig {
	cfg := autopaho.ClientConfig{
		BrokerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     b.config.KeepAlive,
		CleanStartOnInitialConnection: true,
		ConnectRetryDelay:             b.config.ReconnectDelay,
		OnConnectionUp:                b.onConnectionUp,
		OnConnectError:                b.onConnectError,
		ClientConfig: paho.ClientConfig{
			ClientID:           b.config.ClientIDPrefix + uuid.NewString()[:8],
			Router:             paho.NewStandardRouterWithDefault(b.onMessage),
			OnClientError:      b.onClientError,
			OnServerDisconnect: b.onServerDisconnect,
		},
	}
	if b.config.Username != "" {
		cfg.ConnectUsername = b.config.Username
		cfg.ConnectPassword = []byte(b.config.Password)
	}
	return cfg
}

func (b *Bridge) onConnectionUp(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
	b.handleConnack(connAck)
	b.logger.Info().Uint8("reason", connAck.ReasonCode).Msg("MQTT connection up")

	if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: b.config.DataTopic, QoS: qos},
		},
	}); err != nil {
		b.logger.Error().Err(err).Str("topic", b.config.DataTopic).Msg("Failed to subscribe")
		return
	}
	b.logger.Info().Str("topic", b.config.DataTopic).Msg("Subscribed to data topic")
}

// handleConnack records a successful connect.
func (b *Bridge) handleConnack(connAck *paho.Connack) {
	b.mu.Lock()
	b.lastReason = connAck.ReasonCode
	b.mu.Unlock()
	b.setState(Connected, nil)
}

func (b *Bridge) onConnectError(err error) {
	b.logger.Error().Err(err).Msg("Connection attempt failed")
	b.setState(Disconnected, err)
	// the connection manager retries after the configured delay
	b.setState(Connecting, nil)
}

func (b *Bridge) onClientError(err error) {
	b.logger.Error().Err(err).Msg("Client error")
	b.setState(Disconnected, err)
	b.setState(Connecting, nil)
}

func (b *Bridge) onServerDisconnect(d *paho.Disconnect) {
	var reason string
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	b.logger.Error().
		Uint8("code", d.ReasonCode).
		Str("reason", reason).
		Msg("Server requested disconnect")

	b.mu.Lock()
	b.lastReason = d.ReasonCode
	b.mu.Unlock()
	b.setState(Disconnected, fmt.Errorf("server disconnect: reason code %d %s", d.ReasonCode, reason))
	b.setState(Connecting, nil)
}

// setState records a transition and fires the OnStateChange hook outside
// the lock. While the bridge is closing, only Disconnected is accepted so a
// late reconnect callback cannot resurrect the state.
func (b *Bridge) setState(s ConnectionState, err error) {
	b.mu.Lock()
	if b.closing && s != Disconnected {
		b.mu.Unlock()
		return
	}
	b.state = s
	if err != nil {
		b.lastErr = err
	}
	hook := b.config.OnStateChange
	b.mu.Unlock()

	if hook != nil {
		hook(s)
	}
}

// onMessage is the inbound data path. It runs on the transport goroutine,
// serially per message, so readings land in the history in arrival order.
func (b *Bridge) onMessage(msg *paho.Publish) {
	b.mu.Lock()
	b.lastMessageAt = time.Now()
	b.mu.Unlock()

	r, err := b.norm.Normalize(msg.Payload)
	if err != nil {
		b.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("Dropped payload")
		return
	}
	b.store.Apply(r)
	b.logger.Debug().Str("topic", msg.Topic).Msg("Reading applied")
}
