// Package logbook holds the session's append-only diagnostic log.
//
// Every backend output line and every system message is appended in order
// and retained for the session. Consumers read lazily with cursors (Since,
// Fetch) or follow the log as an ordered channel (Follow).
package logbook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/nimbus/types"
)

// CriticalPrefix tags failure lines in the diagnostic pane.
const CriticalPrefix = "[CRITICAL]"

// ErrClosed is returned by Fetch once the book is closed and the cursor has
// consumed every line.
var ErrClosed = errors.New("logbook closed")

// Sink receives every appended line.
type Sink interface {
	Append(types.LogLine)
}

// Book is an unbounded, ordered log. Safe for concurrent use.
type Book struct {
	mu     sync.Mutex
	cond   *sync.Cond
	lines  []types.LogLine
	sinks  []Sink
	closed bool
	now    func() time.Time
}

// New creates an empty book.
func New() *Book {
	b := &Book{now: time.Now}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// AddSink wires a sink that receives every line appended afterwards.
func (b *Book) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Append adds a line. Appends after Close are still recorded; Close only
// stops waiting readers once they have drained the book.
func (b *Book) Append(src types.LogSource, text string) types.LogLine {
	b.mu.Lock()
	line := types.LogLine{
		Seq:    uint64(len(b.lines)) + 1,
		Source: src,
		Text:   text,
		Time:   b.now().UTC(),
	}
	b.lines = append(b.lines, line)
	sinks := append([]Sink(nil), b.sinks...)
	b.cond.Broadcast()
	b.mu.Unlock()

	for _, sink := range sinks {
		sink.Append(line)
	}
	return line
}

// Systemf appends a formatted [SYS] line.
func (b *Book) Systemf(format string, args ...any) types.LogLine {
	return b.Append(types.LogSourceSystem, types.LogSourceSystem.Prefix()+" "+fmt.Sprintf(format, args...))
}

// Criticalf appends a formatted [CRITICAL] line.
func (b *Book) Criticalf(format string, args ...any) types.LogLine {
	return b.Append(types.LogSourceSystem, CriticalPrefix+" "+fmt.Sprintf(format, args...))
}

// Len returns the number of lines.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Lines returns a copy of every line.
func (b *Book) Lines() []types.LogLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.LogLine(nil), b.lines...)
}

// Since returns up to limit lines with Seq greater than since, and the
// highest sequence assigned so far. A non-positive limit means no limit.
func (b *Book) Since(since uint64, limit int) ([]types.LogLine, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(since, limit)
}

// Fetch is Since, optionally blocking until a line past since exists.
// A waiting Fetch returns ErrClosed when the book is closed and drained,
// or the context error when ctx ends.
func (b *Book) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]types.LogLine, uint64, error) {
	cancelWait := make(chan struct{})
	if wait && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				b.mu.Lock()
				b.cond.Broadcast()
				b.mu.Unlock()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		lines, next := b.snapshotLocked(since, limit)
		if len(lines) > 0 || !wait {
			return lines, next, nil
		}
		if b.closed {
			return nil, next, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, next, err
		}
		b.cond.Wait()
	}
}

// Follow streams every line, starting from the first, in order.
// The channel closes when the book is closed and drained or ctx ends.
func (b *Book) Follow(ctx context.Context) <-chan types.LogLine {
	out := make(chan types.LogLine)
	go func() {
		defer close(out)
		var since uint64
		for {
			lines, _, err := b.Fetch(ctx, since, 256, true)
			for _, line := range lines {
				select {
				case out <- line:
					since = line.Seq
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

// Close marks the end of the log and wakes waiting readers.
func (b *Book) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Closed reports whether Close has been called.
func (b *Book) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Book) snapshotLocked(since uint64, limit int) ([]types.LogLine, uint64) {
	total := uint64(len(b.lines))
	if since >= total {
		return nil, total
	}
	end := total
	if limit > 0 && since+uint64(limit) < end {
		end = since + uint64(limit)
	}
	out := make([]types.LogLine, end-since)
	copy(out, b.lines[since:end])
	return out, total
}
