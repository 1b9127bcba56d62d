package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pithecene-io/nimbus/types"
)

// ErrNoConfig is returned when the host stream ends before a server_config frame.
var ErrNoConfig = errors.New("host closed channel before sending server config")

// HostChannel is the duplex control channel to an embedding host.
// Frames from the host are read from r; frames to the host are written to w.
//
// A single goroutine, started on first use, owns r. ReadConfig and Serve
// take frames from it in order, so a read abandoned on cancellation never
// swallows a frame meant for the next call. Reveal and SendStatus may be
// called from any goroutine.
type HostChannel struct {
	dec *FrameDecoder
	enc *FrameEncoder

	readOnce sync.Once
	frames   chan readResult
	final    error // set before frames is closed
}

// NewHostChannel creates a channel over the given streams.
func NewHostChannel(r io.Reader, w io.Writer) *HostChannel {
	return &HostChannel{
		dec:    NewFrameDecoder(r),
		enc:    NewFrameEncoder(w),
		frames: make(chan readResult),
	}
}

type readResult struct {
	msg any
	err error
}

// readLoop delivers every decoded frame until end of stream or a fatal
// frame error, which is delivered and then kept as the final result.
func (c *HostChannel) readLoop() {
	for {
		msg, err := c.dec.ReadMessage()
		if err != nil && (errors.Is(err, io.EOF) || IsFatalFrameError(err)) {
			c.final = err
			close(c.frames)
			return
		}
		c.frames <- readResult{msg: msg, err: err}
	}
}

// next returns the next frame, or ctx.Err() if ctx ends first. The
// pending frame, if any, stays queued for the next caller.
func (c *HostChannel) next(ctx context.Context) (any, error) {
	c.readOnce.Do(func() { go c.readLoop() })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok := <-c.frames:
		if !ok {
			return nil, c.final
		}
		return res.msg, res.err
	}
}

// ReadConfig blocks until the host sends a server_config frame.
// Frames of other known types received first are skipped; unknown
// types are skipped too so newer hosts remain compatible.
func (c *HostChannel) ReadConfig(ctx context.Context) (types.ServerConfig, error) {
	for {
		msg, err := c.next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return types.ServerConfig{}, ErrNoConfig
			}
			var frameErr *FrameError
			if errors.As(err, &frameErr) && !frameErr.IsFatal() {
				continue
			}
			return types.ServerConfig{}, err
		}
		if cfg, ok := msg.(*ServerConfigMessage); ok {
			return cfg.Config(), nil
		}
	}
}

// Serve reads menu events until the stream ends or ctx is cancelled,
// invoking fn for each one. Returns nil on clean end of stream.
func (c *HostChannel) Serve(ctx context.Context, fn func(event string)) error {
	for {
		msg, err := c.next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if IsFatalFrameError(err) || ctx.Err() != nil {
				return err
			}
			continue
		}
		if ev, ok := msg.(*MenuEventMessage); ok {
			fn(ev.Event)
		}
	}
}

// Reveal tells the host to close its splash screen.
func (c *HostChannel) Reveal() error {
	if err := c.enc.WriteMessage(&CloseSplashscreenMessage{Type: CloseSplashscreenType}); err != nil {
		return fmt.Errorf("send close_splashscreen: %w", err)
	}
	return nil
}

// SendStatus sends a user-facing status line to the host.
func (c *HostChannel) SendStatus(message string) error {
	if err := c.enc.WriteMessage(&StatusMessage{Type: StatusType, Message: message}); err != nil {
		return fmt.Errorf("send status: %w", err)
	}
	return nil
}
