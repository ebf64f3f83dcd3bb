package bridge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T, cfg Config) *Bridge {
	t.Helper()
	if cfg.ServerURL == "" {
		// free to use, see https://test.mosquitto.org/
		cfg.ServerURL = "mqtt://test.mosquitto.org:1883"
	}
	b, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	return b
}

func TestNewRejectsEmptyServerURL(t *testing.T) {
	_, err := New(Config{}, zerolog.Nop())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewAppliesDefaults(t *testing.T) {
	b := fixture(t, Config{})

	assert.Equal(t, "noeud/operateur", b.config.DataTopic)
	assert.Equal(t, "noeud/operateur/cmd", b.config.CommandTopic)
	assert.Equal(t, uint16(60), b.config.KeepAlive)
	assert.Equal(t, 120, b.config.HistorySize)
	assert.Equal(t, 8*time.Second, b.config.FreshnessThreshold)
	assert.Equal(t, 3*time.Second, b.config.ReconnectDelay)
}

func TestNewClampsReconnectDelay(t *testing.T) {
	b := fixture(t, Config{ReconnectDelay: time.Millisecond})
	assert.Equal(t, time.Second, b.config.ReconnectDelay)

	b = fixture(t, Config{ReconnectDelay: time.Minute})
	assert.Equal(t, 10*time.Second, b.config.ReconnectDelay)
}

func TestStartRejectsMalformedServerURL(t *testing.T) {
	cases := []string{
		"://missing-scheme",
		"test.mosquitto.org:1883", // no scheme, port parses as opaque
		"mqtt://",                 // no host
	}

	for _, serverURL := range cases {
		b := fixture(t, Config{ServerURL: serverURL})

		err := b.Start(context.Background())

		require.Error(t, err, serverURL)
		assert.ErrorIs(t, err, ErrInvalidConfig, serverURL)
		assert.Equal(t, Disconnected, b.State(), serverURL)
	}
}

func TestPublishWhileDisconnectedFailsFast(t *testing.T) {
	b := fixture(t, Config{})

	start := time.Now()
	err := b.Publish(context.Background(), "LED_RED_ON")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Less(t, time.Since(start), time.Second, "Publish must not block waiting for a connection")
}

func TestConnectionStateTransitions(t *testing.T) {
	var transitions []ConnectionState
	b := fixture(t, Config{
		OnStateChange: func(s ConnectionState) {
			transitions = append(transitions, s)
		},
	})
	assert.Equal(t, Disconnected, b.State())

	// drive the transport callbacks the way the connection manager does:
	// connect, lose the connection, reconnect
	b.handleConnack(&paho.Connack{ReasonCode: 0})
	assert.Equal(t, Connected, b.State())

	b.onClientError(errors.New("read: connection reset by peer"))
	b.handleConnack(&paho.Connack{ReasonCode: 0})

	assert.Equal(t,
		[]ConnectionState{Connected, Disconnected, Connecting, Connected},
		transitions)

	snap := b.Snapshot()
	assert.Equal(t, byte(0), snap.LastReasonCode)
	require.Error(t, snap.LastError) // last error is retained for diagnostics
}

func TestServerDisconnectRecordsReasonCode(t *testing.T) {
	b := fixture(t, Config{})
	b.handleConnack(&paho.Connack{ReasonCode: 0})

	b.onServerDisconnect(&paho.Disconnect{ReasonCode: 141})

	snap := b.Snapshot()
	assert.Equal(t, Connecting, snap.State) // reconnect attempt is in flight
	assert.Equal(t, byte(141), snap.LastReasonCode)
	require.Error(t, snap.LastError)
}

func TestOnMessageAppliesReading(t *testing.T) {
	b := fixture(t, Config{})

	b.onMessage(&paho.Publish{
		Topic:   b.config.DataTopic,
		Payload: []byte(`{"temperature":23.6,"humidity":41,"seuil":30.9,"flame":0}`),
	})

	snap := b.Snapshot()
	require.NotNil(t, snap.Latest)
	assert.Equal(t, 23.6, *snap.Latest.Temperature)
	assert.Equal(t, 41.0, *snap.Latest.Humidity)
	assert.Equal(t, 30.9, *snap.Latest.Threshold)
	require.NotNil(t, snap.Latest.FlameLocal)
	assert.False(t, *snap.Latest.FlameLocal)
	assert.Nil(t, snap.Latest.FlameRemote)
	assert.Nil(t, snap.Latest.AlarmActive)
	assert.Len(t, snap.History, 1)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.True(t, snap.Fresh)
	assert.False(t, snap.LastMessageAt.IsZero())
}

func TestOnMessageDropsMalformedPayload(t *testing.T) {
	b := fixture(t, Config{})
	b.onMessage(&paho.Publish{Topic: b.config.DataTopic, Payload: []byte(`{"temperature":20}`)})
	before := b.Snapshot()

	b.onMessage(&paho.Publish{Topic: b.config.DataTopic, Payload: []byte("not-json")})

	after := b.Snapshot()
	assert.Equal(t, before.Seq, after.Seq, "latest must be unchanged")
	assert.Equal(t, 20.0, *after.Latest.Temperature)
	assert.Equal(t, before.Dropped+1, after.Dropped)
}

func TestOnMessageNullPayloadLeavesStoreUntouched(t *testing.T) {
	b := fixture(t, Config{})

	b.onMessage(&paho.Publish{Topic: b.config.DataTopic, Payload: []byte("null")})

	snap := b.Snapshot()
	assert.Nil(t, snap.Latest, "a null payload must not become a reading")
	assert.Equal(t, uint64(0), snap.Seq)
	assert.False(t, snap.Fresh)
	assert.Equal(t, uint64(1), snap.Dropped)
}

func TestSnapshotFreshnessDecays(t *testing.T) {
	b := fixture(t, Config{FreshnessThreshold: 50 * time.Millisecond})
	assert.False(t, b.Snapshot().Fresh, "no reading yet")

	b.onMessage(&paho.Publish{Topic: b.config.DataTopic, Payload: []byte(`{"temperature":20}`)})
	assert.True(t, b.Snapshot().Fresh)

	time.Sleep(80 * time.Millisecond)
	assert.False(t, b.Snapshot().Fresh, "reading older than the threshold")
}

func TestClearEmptiesHistoryOnly(t *testing.T) {
	b := fixture(t, Config{})
	for i := 0; i < 3; i++ {
		b.onMessage(&paho.Publish{
			Topic:   b.config.DataTopic,
			Payload: []byte(fmt.Sprintf(`{"temperature":%d}`, 20+i)),
		})
	}

	b.Clear()

	snap := b.Snapshot()
	assert.Empty(t, snap.History)
	require.NotNil(t, snap.Latest)
	assert.Equal(t, 22.0, *snap.Latest.Temperature)
}

func TestCloseWithoutStart(t *testing.T) {
	b := fixture(t, Config{})

	assert.NoError(t, b.Close(context.Background()))
	assert.Equal(t, Disconnected, b.State())
}

// TestBridgeRoundTrip loops a payload through the broker: the command topic
// is pointed at the data topic, so a published token comes straight back
// into the ingest path.
func TestBridgeRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker integration test")
	}

	topic := "sensorbridge/test/" + uuid.NewString()
	b := fixture(t, Config{
		DataTopic:    topic,
		CommandTopic: topic,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, b.Start(ctx))
	assert.NoError(t, b.Start(ctx), "Start must be idempotent")

	require.Eventually(t, func() bool {
		return b.State() == Connected
	}, 15*time.Second, 100*time.Millisecond, "bridge never connected")

	// a JSON command loops back as a sensor payload
	require.NoError(t, b.Publish(ctx, `{"temperature":23.6,"humidite":41}`))
	require.Eventually(t, func() bool {
		return b.Snapshot().Seq >= 1
	}, 10*time.Second, 100*time.Millisecond, "reading never arrived")

	snap := b.Snapshot()
	require.NotNil(t, snap.Latest)
	assert.Equal(t, 23.6, *snap.Latest.Temperature)
	assert.Equal(t, 41.0, *snap.Latest.Humidity)
	assert.True(t, snap.Fresh)

	// a bare token is not JSON and must be counted as dropped
	require.NoError(t, b.Publish(ctx, CommandLEDOn))
	require.Eventually(t, func() bool {
		return b.Snapshot().Dropped >= 1
	}, 10*time.Second, 100*time.Millisecond, "drop counter never moved")

	require.NoError(t, b.Close(ctx))
	assert.Equal(t, Disconnected, b.State())
}
