// Package ipc implements the framed control channel between nimbus and an
// embedding host process.
//
// A frame is a big-endian uint32 payload length followed by that many bytes
// of msgpack. Every payload is a map with a "type" key.
package ipc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	LengthPrefixSize = 4
	// MaxFrameSize bounds prefix plus payload. Control messages are a few
	// hundred bytes; a larger length means the stream is corrupt.
	MaxFrameSize   = 1 << 20
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
)

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	FrameErrorPartial     FrameErrorKind = iota // truncated prefix or payload
	FrameErrorTooLarge                          // length above MaxPayloadSize
	FrameErrorDecode                            // payload is not a valid message
	FrameErrorUnknownType                       // valid map, unrecognized "type"
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorPartial:
		return "partial frame"
	case FrameErrorTooLarge:
		return "oversized frame"
	case FrameErrorDecode:
		return "undecodable frame"
	case FrameErrorUnknownType:
		return "unknown message type"
	default:
		return fmt.Sprintf("FrameErrorKind(%d)", int(k))
	}
}

// FrameError is returned for any frame that could not be read or decoded.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *FrameError) Unwrap() error { return e.Err }

// IsFatal reports whether the stream is desynchronized. Decode and
// unknown-type errors consume exactly one frame and reading may continue.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError reports whether err wraps a fatal *FrameError.
func IsFatalFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe) && fe.IsFatal()
}

func oversize(n int) *FrameError {
	return &FrameError{
		Kind: FrameErrorTooLarge,
		Msg:  fmt.Sprintf("payload of %d bytes exceeds %d", n, MaxPayloadSize),
	}
}

// FrameDecoder reads frames from a buffered stream.
type FrameDecoder struct {
	r      *bufio.Reader
	prefix [LengthPrefixSize]byte
}

// NewFrameDecoder wraps r. The decoder buffers; do not read r elsewhere.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{r: bufio.NewReader(r)}
}

// ReadFrame returns the next raw payload. A clean end of stream between
// frames is io.EOF; anything cut short is a fatal FrameErrorPartial.
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "read length prefix", Err: err}
	}

	n := binary.BigEndian.Uint32(d.prefix[:])
	if n > MaxPayloadSize {
		return nil, oversize(int(n))
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  fmt.Sprintf("read %d-byte payload", n),
			Err:  err,
		}
	}
	return payload, nil
}

// ReadMessage reads the next frame and decodes it with DecodeFrame.
func (d *FrameDecoder) ReadMessage() (any, error) {
	payload, err := d.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeFrame(payload)
}

// FrameEncoder writes frames. It is safe for concurrent use and never
// interleaves two frames.
type FrameEncoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameEncoder wraps w.
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{w: w}
}

// WriteMessage msgpack-encodes msg and writes it as one frame.
func (e *FrameEncoder) WriteMessage(msg any) error {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %T: %w", msg, err)
	}
	return e.WriteFrame(payload)
}

// WriteFrame prefixes payload with its length and writes it in a single
// Write call.
func (e *FrameEncoder) WriteFrame(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return oversize(len(payload))
	}
	frame := binary.BigEndian.AppendUint32(make([]byte, 0, LengthPrefixSize+len(payload)), uint32(len(payload)))
	frame = append(frame, payload...)

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.w.Write(frame)
	return err
}
