// Package metrics provides per-session counters.
//
// The Collector accumulates counters for a single session. It is a leaf
// package with no internal dependencies, so string-typed keys are used for
// line sources and readiness signals.
package metrics

import "sync"

// Readiness outcomes recorded by IncReadiness.
const (
	ReadinessMarker  = "marker"
	ReadinessHealth  = "health"
	ReadinessTimeout = "timeout"
	ReadinessFailed  = "failed"
)

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Backend process
	SpawnSuccess  int64
	SpawnFailure  int64
	BackendExits  int64
	LinesBySource map[string]int64

	// Readiness, keyed by outcome (marker, health, timeout, failed)
	Readiness   map[string]int64
	HealthPolls int64

	// Gateway
	GatewayRequests int64
	AuthRejected    int64
	HTTPErrors      int64
	NetworkErrors   int64

	// Transfers
	TransfersStarted   int64
	TransfersCompleted int64
	TransfersFailed    int64
	StatusPollFailures int64
	TransfersStalled   int64

	// Storage
	SaveSuccess int64
	SaveFailure int64

	// Dimensions (informational, set at construction)
	SessionID      string
	StorageBackend string
}

// Collector accumulates metrics during a single session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	spawnSuccess  int64
	spawnFailure  int64
	backendExits  int64
	linesBySource map[string]int64

	readiness   map[string]int64
	healthPolls int64

	gatewayRequests int64
	authRejected    int64
	httpErrors      int64
	networkErrors   int64

	transfersStarted   int64
	transfersCompleted int64
	transfersFailed    int64
	statusPollFailures int64
	transfersStalled   int64

	saveSuccess int64
	saveFailure int64

	sessionID      string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(sessionID, storageBackend string) *Collector {
	return &Collector{
		linesBySource:  make(map[string]int64),
		readiness:      make(map[string]int64),
		sessionID:      sessionID,
		storageBackend: storageBackend,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Backend process ---

// IncSpawnSuccess records a successful backend spawn.
func (c *Collector) IncSpawnSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.spawnSuccess)
}

// IncSpawnFailure records a failed backend spawn.
func (c *Collector) IncSpawnFailure() {
	if c == nil {
		return
	}
	c.inc(&c.spawnFailure)
}

// IncBackendExit records the backend process exiting.
func (c *Collector) IncBackendExit() {
	if c == nil {
		return
	}
	c.inc(&c.backendExits)
}

// IncLine records one output line from the given source.
func (c *Collector) IncLine(source string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.linesBySource[source]++
	c.mu.Unlock()
}

// --- Readiness ---

// IncReadiness records how readiness resolved (marker, health, timeout, failed).
func (c *Collector) IncReadiness(outcome string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.readiness[outcome]++
	c.mu.Unlock()
}

// IncHealthPoll records one readiness health probe.
func (c *Collector) IncHealthPoll() {
	if c == nil {
		return
	}
	c.inc(&c.healthPolls)
}

// --- Gateway ---

// IncGatewayRequest records a request that reached the network.
func (c *Collector) IncGatewayRequest() {
	if c == nil {
		return
	}
	c.inc(&c.gatewayRequests)
}

// IncAuthRejected records a 403 response.
func (c *Collector) IncAuthRejected() {
	if c == nil {
		return
	}
	c.inc(&c.authRejected)
}

// IncHTTPError records a non-2xx, non-403 response.
func (c *Collector) IncHTTPError() {
	if c == nil {
		return
	}
	c.inc(&c.httpErrors)
}

// IncNetworkError records a transport failure.
func (c *Collector) IncNetworkError() {
	if c == nil {
		return
	}
	c.inc(&c.networkErrors)
}

// --- Transfers ---

// IncTransferStarted records a transfer entering the tracker.
func (c *Collector) IncTransferStarted() {
	if c == nil {
		return
	}
	c.inc(&c.transfersStarted)
}

// IncTransferCompleted records a successful transfer.
func (c *Collector) IncTransferCompleted() {
	if c == nil {
		return
	}
	c.inc(&c.transfersCompleted)
}

// IncTransferFailed records a failed transfer.
func (c *Collector) IncTransferFailed() {
	if c == nil {
		return
	}
	c.inc(&c.transfersFailed)
}

// IncStatusPollFailure records a failed progress sample.
func (c *Collector) IncStatusPollFailure() {
	if c == nil {
		return
	}
	c.inc(&c.statusPollFailures)
}

// IncTransferStalled records a transfer being flagged stalled.
func (c *Collector) IncTransferStalled() {
	if c == nil {
		return
	}
	c.inc(&c.transfersStalled)
}

// --- Storage ---

// IncSaveSuccess records a download persisted to the store.
func (c *Collector) IncSaveSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.saveSuccess)
}

// IncSaveFailure records a failed store write.
func (c *Collector) IncSaveFailure() {
	if c == nil {
		return
	}
	c.inc(&c.saveFailure)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		SpawnSuccess:  c.spawnSuccess,
		SpawnFailure:  c.spawnFailure,
		BackendExits:  c.backendExits,
		LinesBySource: copyCounts(c.linesBySource),

		Readiness:   copyCounts(c.readiness),
		HealthPolls: c.healthPolls,

		GatewayRequests: c.gatewayRequests,
		AuthRejected:    c.authRejected,
		HTTPErrors:      c.httpErrors,
		NetworkErrors:   c.networkErrors,

		TransfersStarted:   c.transfersStarted,
		TransfersCompleted: c.transfersCompleted,
		TransfersFailed:    c.transfersFailed,
		StatusPollFailures: c.statusPollFailures,
		TransfersStalled:   c.transfersStalled,

		SaveSuccess: c.saveSuccess,
		SaveFailure: c.saveFailure,

		SessionID:      c.sessionID,
		StorageBackend: c.storageBackend,
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
