package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"imcflow/internal/config"
)

// NATS publishes events to a NATS server.
type NATS struct {
	nc     *nats.Conn
	prefix string
}

// Connect dials the server at url. Reconnects are unbounded so a flapping
// server does not end a long dispatch.
func Connect(url, prefix string, timeout time.Duration) (*NATS, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	nc, err := nats.Connect(url,
		nats.Name("imcflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return &NATS{nc: nc, prefix: strings.Trim(prefix, ".")}, nil
}

// New returns a NATS publisher when cfg names a server, otherwise Nop.
func New(cfg config.Events) (Publisher, error) {
	if strings.TrimSpace(cfg.NATSURL) == "" {
		return Nop{}, nil
	}
	return Connect(cfg.NATSURL, cfg.SubjectPrefix, time.Duration(cfg.TimeoutSeconds)*time.Second)
}

// Subject returns the subject an event type is published on.
func Subject(prefix, eventType string) string {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}

// Publish marshals event and publishes it.
func (n *NATS) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(stamp(event))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.nc.Publish(Subject(n.prefix, event.Type), payload); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() {
	if n.nc != nil {
		_ = n.nc.Drain()
	}
}
