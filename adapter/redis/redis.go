// Package redis publishes session events over Redis pub/sub.
//
// Optionally the latest event of each session is also kept under
// "<channel>:last:<session_id>" so a subscriber that attaches after the
// fact can read the current state with GET.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/nimbus/adapter"
)

const (
	DefaultChannel = "nimbus:session_events"
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 3
)

// Config configures the Redis adapter.
type Config struct {
	// URL is redis://[:password@]host:port[/db]. Required.
	URL     string
	Channel string
	// PerEventChannel publishes on "<channel>:<event_type>" so subscribers
	// can PSUBSCRIBE to a subset.
	PerEventChannel bool
	// SnapshotTTL enables the last-event key when positive.
	SnapshotTTL time.Duration
	Timeout     time.Duration
	Retries     int
}

// Adapter publishes session events with PUBLISH.
type Adapter struct {
	channel     string
	perEvent    bool
	snapshotTTL time.Duration
	timeout     time.Duration
	retries     int
	client      *goredis.Client
}

// New parses cfg.URL and builds an adapter. No connection is made until
// the first Publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	a := &Adapter{
		channel:     cfg.Channel,
		perEvent:    cfg.PerEventChannel,
		snapshotTTL: cfg.SnapshotTTL,
		timeout:     cfg.Timeout,
		retries:     cfg.Retries,
		client:      goredis.NewClient(opts),
	}
	if a.channel == "" {
		a.channel = DefaultChannel
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	return a, nil
}

// ChannelFor returns the channel event is published on.
func (a *Adapter) ChannelFor(event *adapter.SessionEvent) string {
	if a.perEvent && event.EventType != "" {
		return a.channel + ":" + event.EventType
	}
	return a.channel
}

// SnapshotKey returns the key holding the latest event of a session.
func (a *Adapter) SnapshotKey(sessionID string) string {
	return a.channel + ":last:" + sessionID
}

// Publish sends event, retrying transient failures. With snapshots enabled
// the PUBLISH and SET go out in one pipeline.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SessionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal %s: %w", event.EventType, err)
	}
	channel := a.ChannelFor(event)

	attempts, err := adapter.Retry(ctx, a.retries, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		if a.snapshotTTL <= 0 || event.SessionID == "" {
			return a.client.Publish(ctx, channel, payload).Err()
		}
		_, err := a.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
			p.Publish(ctx, channel, payload)
			p.Set(ctx, a.SnapshotKey(event.SessionID), payload, a.snapshotTTL)
			return nil
		})
		return err
	}, func(err error) bool { return errors.Is(err, goredis.ErrClosed) })
	if err != nil {
		return fmt.Errorf("redis: %s failed after %d attempts: %w", event.EventType, attempts, err)
	}
	return nil
}

// Close closes the client pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
