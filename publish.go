package bridge

import (
	"context"
	"fmt"

	"github.com/eclipse/paho.golang/paho"
)

// Publish sends a command token on the outbound command topic. Delivery is
// at-most-once: if the connection is down the call fails fast with
// ErrNotConnected instead of queueing, and a failed send is reported to the
// caller, never retried internally. Safe for concurrent callers; sends are
// serialized through the single managed connection. ctx bounds the send.
func (b *Bridge) Publish(ctx context.Context, command string) error {
	b.mu.Lock()
	client, state := b.client, b.state
	b.mu.Unlock()

	if client == nil || state != Connected {
		return fmt.Errorf("publish %q: %w", command, ErrNotConnected)
	}

	if _, err := client.Publish(ctx, &paho.Publish{
		QoS:     qos,
		Topic:   b.config.CommandTopic,
		Payload: []byte(command),
	}); err != nil {
		return fmt.Errorf("publish %q: %w", command, err)
	}
	b.logger.Info().
		Str("command", command).
		Str("topic", b.config.CommandTopic).
		Msg("Published command")
	return nil
}
