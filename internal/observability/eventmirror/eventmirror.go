// Package eventmirror mirrors internal/graphcore bus traffic onto a Redis
// Pub/Sub channel for external observers (dashboards, log aggregators)
// that would rather tail Redis than attach an in-process subscriber.
// It is optional: a daemon with no configured Redis address simply never
// constructs a Mirror.
package eventmirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalkeep/relay/internal/graphcore"
)

// Config configures the Redis connection and the channel bus messages are
// published to.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Channel      string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with the default channel name and
// reasonable timeouts; Addr comes from the caller since there is no sane
// default Redis endpoint to assume.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		Channel:      "relay:events",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
}

// event is the JSON wire shape published to the channel. It mirrors
// graphcore.Message, substituting a string for the error so it survives
// json.Marshal.
type event struct {
	Severity string    `json:"severity"`
	Source   string    `json:"source"`
	Role     string    `json:"role"`
	Error    string    `json:"error,omitempty"`
	Text     string    `json:"text,omitempty"`
	Time     time.Time `json:"time"`
}

// Mirror subscribes to a graphcore.Bus and republishes every message it
// sees onto a Redis channel, best-effort: a publish failure is logged and
// does not stop the mirror loop, since the bus's own subscribers must never
// be slowed or blocked by an external sink's availability.
type Mirror struct {
	client  *redis.Client
	channel string
	log     *slog.Logger

	unsubscribe func()
	done        chan struct{}
}

// New constructs a Mirror and verifies the Redis connection with a PING.
func New(cfg Config, log *slog.Logger) (*Mirror, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("eventmirror: redis addr is required")
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = "relay:events"
	}
	if log == nil {
		log = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("eventmirror: connecting to redis: %w", err)
	}

	return &Mirror{
		client:  client,
		channel: channel,
		log:     log.With("component", "eventmirror"),
		done:    make(chan struct{}),
	}, nil
}

// Start subscribes to the bus and begins mirroring messages in a
// background goroutine.
func (m *Mirror) Start(bus *graphcore.Bus) {
	ch, unsubscribe := bus.Subscribe()
	m.unsubscribe = unsubscribe
	go m.run(ch)
}

func (m *Mirror) run(ch <-chan graphcore.Message) {
	defer close(m.done)
	for msg := range ch {
		m.publish(msg)
	}
}

func (m *Mirror) publish(msg graphcore.Message) {
	evt := event{
		Severity: msg.Severity.String(),
		Source:   msg.Source,
		Role:     string(msg.Role),
		Text:     msg.Text,
		Time:     msg.Time,
	}
	if msg.Err != nil {
		evt.Error = msg.Err.Error()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		m.log.Error("marshal bus event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.client.Publish(ctx, m.channel, payload).Err(); err != nil {
		m.log.Warn("publish bus event", "error", err)
	}
}

// Close unsubscribes from the bus, waits for the mirror loop to drain, and
// closes the Redis client.
func (m *Mirror) Close() error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	<-m.done
	return m.client.Close()
}
