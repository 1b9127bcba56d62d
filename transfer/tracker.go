// Package transfer tracks in-flight uploads and downloads.
//
// Each transfer gets an entry in the progress map for exactly as long as
// it runs, plus its own status poller bound to the transfer's lifetime.
// Pollers never abort a transfer: failed samples are skipped, and a run of
// StallAfter consecutive failures only flags the item as stalled.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pithecene-io/nimbus/log"
	"github.com/pithecene-io/nimbus/metrics"
	"github.com/pithecene-io/nimbus/types"
)

// Defaults.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultStallAfter   = 10
	// InitialProgress is shown before the first sample arrives.
	InitialProgress = 0.1
	// FallbackUploadKey keys uploads whose path has no base name.
	FallbackUploadKey = "uploading-file"
)

var (
	// ErrInFlight is returned when a transfer for the same key is running.
	ErrInFlight = errors.New("transfer already in progress")
	// ErrEmptyKey is returned for transfers without a key.
	ErrEmptyKey = errors.New("transfer key is empty")
)

// TransferError reports a failed upload or download.
type TransferError struct {
	Key       string
	Direction types.Direction
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Direction, e.Key, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// StatusSource samples transfer progress. Implemented by *gateway.Client.
type StatusSource interface {
	TransferStatus(ctx context.Context, key string) (*types.ProgressStatus, error)
}

// Backend performs transfers. Implemented by *gateway.Client.
type Backend interface {
	StatusSource
	DownloadFile(ctx context.Context, id string) (*types.DownloadedFile, error)
	UploadFile(ctx context.Context, localPath, name string) (*types.UploadResult, error)
}

// Config configures a Tracker. Zero fields take the defaults.
type Config struct {
	PollInterval time.Duration
	StallAfter   int
}

// Tracker runs and tracks transfers. Safe for concurrent use; transfers
// with distinct keys never touch each other's entries.
type Tracker struct {
	backend   Backend
	cfg       Config
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time

	mu    sync.Mutex
	items map[string]*types.TransferItem
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the structured logger.
func WithLogger(l *log.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(t *Tracker) { t.collector = c }
}

// New creates a tracker.
func New(backend Backend, cfg Config, opts ...Option) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = DefaultStallAfter
	}
	t := &Tracker{
		backend: backend,
		cfg:     cfg,
		logger:  log.Nop(),
		now:     time.Now,
		items:   make(map[string]*types.TransferItem),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Download fetches file id while tracking its progress under id.
func (t *Tracker) Download(ctx context.Context, id string) (*types.DownloadedFile, error) {
	var file *types.DownloadedFile
	err := t.Track(ctx, id, types.DirectionDownload, func(ctx context.Context) error {
		var err error
		file, err = t.backend.DownloadFile(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// Upload sends localPath while tracking its progress under the file's
// base name.
func (t *Tracker) Upload(ctx context.Context, localPath string) (*types.UploadResult, error) {
	key := UploadKey(localPath)
	var res *types.UploadResult
	err := t.Track(ctx, key, types.DirectionUpload, func(ctx context.Context) error {
		var err error
		res, err = t.backend.UploadFile(ctx, localPath, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// UploadKey returns the progress key for an upload of localPath.
func UploadKey(localPath string) string {
	if localPath == "" {
		return FallbackUploadKey
	}
	switch base := filepath.Base(localPath); base {
	case ".", string(filepath.Separator):
		return FallbackUploadKey
	default:
		return base
	}
}

// Track runs fn as the transfer for key. The key is present in the
// progress map from before fn starts until after its poller has stopped,
// on every exit path including panics.
func (t *Tracker) Track(ctx context.Context, key string, dir types.Direction, fn func(ctx context.Context) error) error {
	if key == "" {
		return &TransferError{Key: key, Direction: dir, Err: ErrEmptyKey}
	}
	if err := t.insert(key, dir); err != nil {
		return err
	}
	t.collector.IncTransferStarted()
	t.logger.Info("transfer started", map[string]any{"key": key, "direction": string(dir)})

	pollCtx, cancel := context.WithCancel(ctx)
	polling := make(chan struct{})
	go func() {
		defer close(polling)
		t.poll(pollCtx, key)
	}()

	defer func() {
		cancel()
		<-polling
		t.remove(key)
	}()

	if err := fn(ctx); err != nil {
		t.collector.IncTransferFailed()
		t.logger.Warn("transfer failed", map[string]any{
			"key":       key,
			"direction": string(dir),
			"error":     err.Error(),
		})
		return &TransferError{Key: key, Direction: dir, Err: err}
	}

	t.collector.IncTransferCompleted()
	t.logger.Info("transfer completed", map[string]any{"key": key, "direction": string(dir)})
	return nil
}

// poll samples progress until ctx is cancelled.
func (t *Tracker) poll(ctx context.Context, key string) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := t.backend.TransferStatus(ctx, key)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			t.collector.IncStatusPollFailure()
			if failures == t.cfg.StallAfter {
				t.markStalled(key)
			}
			continue
		}
		failures = 0
		t.set(key, st.Progress)
	}
}

func (t *Tracker) insert(key string, dir types.Direction) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[key]; ok {
		return &TransferError{Key: key, Direction: dir, Err: ErrInFlight}
	}
	now := t.now()
	t.items[key] = &types.TransferItem{
		Key:       key,
		Direction: dir,
		Progress:  InitialProgress,
		StartedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (t *Tracker) remove(key string) {
	t.mu.Lock()
	delete(t.items, key)
	t.mu.Unlock()
}

// set records a sample for key. Keys no longer in flight are ignored.
func (t *Tracker) set(key string, progress float64) {
	progress = min(max(progress, 0), 100)

	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[key]
	if !ok {
		return
	}
	item.Progress = progress
	item.Stalled = false
	item.UpdatedAt = t.now()
}

func (t *Tracker) markStalled(key string) {
	t.mu.Lock()
	item, ok := t.items[key]
	if ok {
		item.Stalled = true
	}
	t.mu.Unlock()

	if ok {
		t.collector.IncTransferStalled()
		t.logger.Warn("transfer stalled", map[string]any{
			"key":      key,
			"failures": t.cfg.StallAfter,
		})
	}
}

// Progress returns the current progress for key.
func (t *Tracker) Progress(key string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[key]
	if !ok {
		return 0, false
	}
	return item.Progress, true
}

// Item returns a copy of the entry for key.
func (t *Tracker) Item(key string) (types.TransferItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[key]
	if !ok {
		return types.TransferItem{}, false
	}
	return *item, true
}

// Len returns the number of in-flight transfers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Snapshot returns copies of all in-flight items, oldest first.
func (t *Tracker) Snapshot() []types.TransferItem {
	t.mu.Lock()
	out := make([]types.TransferItem, 0, len(t.items))
	for _, item := range t.items {
		out = append(out, *item)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out
}
