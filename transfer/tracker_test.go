package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/nimbus/metrics"
	"github.com/pithecene-io/nimbus/types"
)

// fakeBackend serves per-key progress values.
type fakeBackend struct {
	mu       sync.Mutex
	progress map[string]float64
	failing  map[string]bool
	calls    map[string]int

	download func(ctx context.Context, id string) (*types.DownloadedFile, error)
	upload   func(ctx context.Context, path, name string) (*types.UploadResult, error)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		progress: map[string]float64{},
		failing:  map[string]bool{},
		calls:    map[string]int{},
	}
}

func (b *fakeBackend) setProgress(key string, p float64) {
	b.mu.Lock()
	b.progress[key] = p
	b.mu.Unlock()
}

func (b *fakeBackend) setFailing(key string, failing bool) {
	b.mu.Lock()
	b.failing[key] = failing
	b.mu.Unlock()
}

func (b *fakeBackend) callCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[key]
}

func (b *fakeBackend) TransferStatus(_ context.Context, key string) (*types.ProgressStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[key]++
	if b.failing[key] {
		return nil, errors.New("connection refused")
	}
	p, ok := b.progress[key]
	if !ok {
		return nil, errors.New("unknown key")
	}
	return &types.ProgressStatus{Progress: p}, nil
}

func (b *fakeBackend) DownloadFile(ctx context.Context, id string) (*types.DownloadedFile, error) {
	return b.download(ctx, id)
}

func (b *fakeBackend) UploadFile(ctx context.Context, path, name string) (*types.UploadResult, error) {
	return b.upload(ctx, path, name)
}

func fastConfig() Config {
	return Config{PollInterval: 2 * time.Millisecond, StallAfter: 3}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTrack_EntryLifetime(t *testing.T) {
	for _, tc := range []struct {
		name    string
		fnErr   error
		wantErr bool
	}{
		{"success", nil, false},
		{"failure", errors.New("disk full"), true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := New(newFakeBackend(), fastConfig())

			err := tr.Track(t.Context(), "file42", types.DirectionDownload, func(context.Context) error {
				p, ok := tr.Progress("file42")
				if !ok {
					t.Error("key missing while in flight")
				}
				if p != InitialProgress {
					t.Errorf("initial progress = %v, want %v", p, InitialProgress)
				}
				return tc.fnErr
			})

			if tc.wantErr {
				var te *TransferError
				if !errors.As(err, &te) || te.Key != "file42" || !errors.Is(err, tc.fnErr) {
					t.Errorf("err = %v, want TransferError wrapping %v", err, tc.fnErr)
				}
			} else if err != nil {
				t.Errorf("err = %v", err)
			}
			if _, ok := tr.Progress("file42"); ok {
				t.Error("key must be removed after the transfer ends")
			}
			if tr.Len() != 0 {
				t.Errorf("Len = %d, want 0", tr.Len())
			}
		})
	}
}

func TestTrack_RemovedOnPanic(t *testing.T) {
	tr := New(newFakeBackend(), fastConfig())

	func() {
		defer func() { _ = recover() }()
		_ = tr.Track(t.Context(), "boom", types.DirectionUpload, func(context.Context) error {
			panic("transfer exploded")
		})
	}()

	if tr.Len() != 0 {
		t.Errorf("Len = %d after panic, want 0", tr.Len())
	}
}

func TestTrack_DuplicateKeyRejected(t *testing.T) {
	tr := New(newFakeBackend(), fastConfig())
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = tr.Track(context.Background(), "k", types.DirectionDownload, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := tr.Track(t.Context(), "k", types.DirectionDownload, func(context.Context) error {
		t.Error("duplicate transfer must not run")
		return nil
	})
	if !errors.Is(err, ErrInFlight) {
		t.Errorf("err = %v, want ErrInFlight", err)
	}
	close(release)
	eventually(t, "first transfer to finish", func() bool { return tr.Len() == 0 })
}

func TestTrack_EmptyKey(t *testing.T) {
	tr := New(newFakeBackend(), fastConfig())
	err := tr.Track(t.Context(), "", types.DirectionUpload, func(context.Context) error { return nil })
	if !errors.Is(err, ErrEmptyKey) {
		t.Errorf("err = %v, want ErrEmptyKey", err)
	}
}

func TestTrack_ConcurrentKeysIndependent(t *testing.T) {
	b := newFakeBackend()
	b.setProgress("A", 10)
	b.setProgress("B", 25)
	tr := New(b, fastConfig())

	release := make(chan struct{})
	var wg sync.WaitGroup
	for _, key := range []string{"A", "B"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.Track(context.Background(), key, types.DirectionDownload, func(context.Context) error {
				<-release
				return nil
			})
		}()
	}

	eventually(t, "B to reach 25", func() bool { p, _ := tr.Progress("B"); return p == 25 })
	b.setProgress("A", 40)
	eventually(t, "A to reach 40", func() bool { p, _ := tr.Progress("A"); return p == 40 })

	if p, _ := tr.Progress("B"); p != 25 {
		t.Errorf("B progress = %v after updating A, want 25", p)
	}
	if n := len(tr.Snapshot()); n != 2 {
		t.Errorf("Snapshot len = %d, want 2", n)
	}

	close(release)
	wg.Wait()
	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0", tr.Len())
	}
}

func TestTrack_FailedSamplesToleratedThenStall(t *testing.T) {
	b := newFakeBackend()
	b.setProgress("k", 30)
	c := metrics.NewCollector("sess", "fs")
	tr := New(b, fastConfig(), WithCollector(c))

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- tr.Track(context.Background(), "k", types.DirectionUpload, func(context.Context) error {
			<-release
			return nil
		})
	}()

	eventually(t, "first sample", func() bool { p, _ := tr.Progress("k"); return p == 30 })

	b.setFailing("k", true)
	eventually(t, "stall flag", func() bool { item, _ := tr.Item("k"); return item.Stalled })
	if p, ok := tr.Progress("k"); !ok || p != 30 {
		t.Errorf("progress = %v, %v; failed samples must keep last value and entry", p, ok)
	}

	b.setProgress("k", 55)
	b.setFailing("k", false)
	eventually(t, "recovery", func() bool {
		item, _ := tr.Item("k")
		return !item.Stalled && item.Progress == 55
	})

	close(release)
	if err := <-done; err != nil {
		t.Errorf("transfer err = %v; sampling failures must not abort", err)
	}

	s := c.Snapshot()
	if s.StatusPollFailures < 3 {
		t.Errorf("StatusPollFailures = %d, want >= 3", s.StatusPollFailures)
	}
	if s.TransfersStalled < 1 {
		t.Errorf("TransfersStalled = %d, want >= 1", s.TransfersStalled)
	}
	if s.TransfersCompleted != 1 {
		t.Errorf("TransfersCompleted = %d, want 1", s.TransfersCompleted)
	}
}

func TestTrack_PollerStopsWithTransfer(t *testing.T) {
	b := newFakeBackend()
	b.setProgress("k", 1)
	tr := New(b, fastConfig())

	err := tr.Track(t.Context(), "k", types.DirectionDownload, func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	after := b.callCount("k")
	time.Sleep(20 * time.Millisecond)
	if got := b.callCount("k"); got != after {
		t.Errorf("status polled %d more times after transfer ended", got-after)
	}
}

func TestSet_IgnoresUnknownKey(t *testing.T) {
	tr := New(newFakeBackend(), fastConfig())
	tr.set("ghost", 50)
	if _, ok := tr.Progress("ghost"); ok {
		t.Error("set must not create entries")
	}
}

func TestSet_Clamps(t *testing.T) {
	tr := New(newFakeBackend(), fastConfig())
	if err := tr.insert("k", types.DirectionDownload); err != nil {
		t.Fatal(err)
	}
	tr.set("k", 150)
	if p, _ := tr.Progress("k"); p != 100 {
		t.Errorf("progress = %v, want 100", p)
	}
	tr.set("k", -3)
	if p, _ := tr.Progress("k"); p != 0 {
		t.Errorf("progress = %v, want 0", p)
	}
}

func TestDownload(t *testing.T) {
	b := newFakeBackend()
	tr := New(b, fastConfig())
	b.download = func(_ context.Context, id string) (*types.DownloadedFile, error) {
		if _, ok := tr.Progress(id); !ok {
			t.Errorf("download key %q not tracked", id)
		}
		return &types.DownloadedFile{ID: id, Name: "a.pdf", Data: []byte("x")}, nil
	}

	f, err := tr.Download(t.Context(), "file42")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if f.Name != "a.pdf" {
		t.Errorf("Name = %q", f.Name)
	}
	if tr.Len() != 0 {
		t.Error("download entry leaked")
	}
}

func TestUpload(t *testing.T) {
	b := newFakeBackend()
	tr := New(b, fastConfig())
	b.upload = func(_ context.Context, path, name string) (*types.UploadResult, error) {
		if name != "notes.txt" {
			t.Errorf("name = %q, want notes.txt", name)
		}
		if _, ok := tr.Progress("notes.txt"); !ok {
			t.Error("upload not tracked under base name")
		}
		return nil, errors.New("quota exceeded")
	}

	_, err := tr.Upload(t.Context(), "/home/u/notes.txt")
	var te *TransferError
	if !errors.As(err, &te) || te.Direction != types.DirectionUpload {
		t.Errorf("err = %v, want upload TransferError", err)
	}
	if tr.Len() != 0 {
		t.Error("upload entry leaked")
	}
}

func TestUploadKey(t *testing.T) {
	tests := map[string]string{
		"/home/u/notes.txt": "notes.txt",
		"relative/a.bin":    "a.bin",
		"":                  FallbackUploadKey,
		"/":                 FallbackUploadKey,
		".":                 FallbackUploadKey,
	}
	for in, want := range tests {
		if got := UploadKey(in); got != want {
			t.Errorf("UploadKey(%q) = %q, want %q", in, got, want)
		}
	}
}
