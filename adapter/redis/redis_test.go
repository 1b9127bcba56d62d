package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/nimbus/adapter"
)

func transferEvent() *adapter.SessionEvent {
	return &adapter.SessionEvent{
		EventType:   adapter.EventTransferCompleted,
		SessionID:   "5f2c7a10-0000-4000-8000-000000000002",
		Version:     "0.3.0",
		Timestamp:   "2026-10-17T12:00:00Z",
		TransferKey: "report.pdf",
		Direction:   "download",
		StoredAs:    "report (1).pdf",
	}
}

// asyncReceive reads one message in the background. Call before Publish:
// miniredis delivers synchronously.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func waitMessage(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return miniredis.PubsubMessage{}
	}
}

func TestPublish_DefaultChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe(DefaultChannel)
	ch := asyncReceive(sub)

	if err := a.Publish(t.Context(), transferEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg := waitMessage(t, ch)
	if msg.Channel != DefaultChannel {
		t.Errorf("channel = %q", msg.Channel)
	}
	var got adapter.SessionEvent
	if err := json.Unmarshal([]byte(msg.Message), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.StoredAs != "report (1).pdf" || got.Direction != "download" {
		t.Errorf("payload = %+v", got)
	}
}

func TestPublish_PerEventChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr(), Channel: "desk", PerEventChannel: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Close() }()

	want := "desk:" + adapter.EventTransferCompleted
	sub := mr.NewSubscriber()
	sub.Subscribe(want)
	ch := asyncReceive(sub)

	if err := a.Publish(t.Context(), transferEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if msg := waitMessage(t, ch); msg.Channel != want {
		t.Errorf("channel = %q, want %q", msg.Channel, want)
	}
}

func TestPublish_Snapshot(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr(), SnapshotTTL: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe(DefaultChannel)
	ch := asyncReceive(sub)

	ev := transferEvent()
	if err := a.Publish(t.Context(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitMessage(t, ch)

	key := a.SnapshotKey(ev.SessionID)
	if key != DefaultChannel+":last:"+ev.SessionID {
		t.Errorf("SnapshotKey = %q", key)
	}
	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	var got adapter.SessionEvent
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.EventType != adapter.EventTransferCompleted {
		t.Errorf("snapshot event = %q", got.EventType)
	}
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}
}

func TestPublish_NoSnapshotByDefault(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Close() }()

	ev := transferEvent()
	if err := a.Publish(t.Context(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if mr.Exists(a.SnapshotKey(ev.SessionID)) {
		t.Error("snapshot key written without SnapshotTTL")
	}
}

func TestPublish_ExhaustsRetries(t *testing.T) {
	a, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 1, Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Publish(t.Context(), transferEvent()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	a, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 5, Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	if err := a.Publish(ctx, transferEvent()); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing URL")
	}
	if _, err := New(Config{URL: "not a url"}); err == nil {
		t.Error("expected error for invalid URL")
	}
	if _, err := New(Config{URL: "redis://localhost:6379", Retries: -1}); err == nil {
		t.Error("expected error for negative retries")
	}
}

func TestNew_DefaultsApplied(t *testing.T) {
	a, err := New(Config{URL: "redis://localhost:6379"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Close() }()

	if a.channel != DefaultChannel {
		t.Errorf("channel = %q", a.channel)
	}
	if a.timeout != DefaultTimeout {
		t.Errorf("timeout = %v", a.timeout)
	}
	if got := a.ChannelFor(&adapter.SessionEvent{EventType: "x"}); got != DefaultChannel {
		t.Errorf("ChannelFor = %q without PerEventChannel", got)
	}
}

func TestClose_PublishFails(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr(), Retries: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	start := time.Now()
	if err := a.Publish(t.Context(), transferEvent()); err == nil {
		t.Fatal("expected error after close")
	}
	// ErrClosed is permanent; no backoff.
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("closed client was retried (%v)", elapsed)
	}
}
