package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/nimbus/log"
	"github.com/pithecene-io/nimbus/types"
)

// DefaultPublishTimeout bounds one asynchronous publish, retries included.
const DefaultPublishTimeout = 30 * time.Second

// Notifier stamps session metadata onto events and publishes them in the
// background. A nil *Notifier is a valid no-op.
type Notifier struct {
	adapter Adapter
	meta    *types.SessionMeta
	logger  *log.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// NewNotifier wraps a. Returns nil when a is nil.
func NewNotifier(a Adapter, meta *types.SessionMeta, logger *log.Logger) *Notifier {
	if a == nil {
		return nil
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{adapter: a, meta: meta, logger: logger, timeout: DefaultPublishTimeout}
}

// Notify fills the envelope fields of ev and publishes it asynchronously.
// Failures are logged, never returned: notifications must not affect the
// session.
func (n *Notifier) Notify(ev SessionEvent) {
	if n == nil {
		return
	}
	now := time.Now().UTC()
	ev.Version = types.Version
	ev.Timestamp = now.Format(time.RFC3339)
	if n.meta != nil {
		ev.SessionID = n.meta.SessionID
		ev.UptimeMs = now.Sub(n.meta.StartedAt).Milliseconds()
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.adapter.Publish(ctx, &ev); err != nil {
			n.logger.Warn("notification publish failed", map[string]any{
				"event_type": ev.EventType,
				"error":      err.Error(),
			})
		}
	}()
}

// Close waits for pending publishes, then closes the adapter.
func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}
	n.wg.Wait()
	return n.adapter.Close()
}
