// Package iox holds small close helpers shared by the HTTP clients and tests.
package iox

import "io"

// drainLimit caps how much of a response body DrainClose reads.
const drainLimit = 64 << 10

// DiscardClose closes c and discards the error.
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// DrainClose reads what is left of a response body (up to 64 KiB) and
// closes it, so the underlying keep-alive connection can be reused by the
// next poll.
//
//	defer iox.DrainClose(resp.Body)
func DrainClose(rc io.ReadCloser) {
	_, _ = io.CopyN(io.Discard, rc, drainLimit)
	_ = rc.Close()
}

// CloseFunc returns a cleanup function that closes c, for t.Cleanup.
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// NopCloser is an io.Closer that does nothing.
type NopCloser struct{}

// Close implements io.Closer.
func (NopCloser) Close() error { return nil }
