// Package iox provides I/O helpers for resource cleanup.
package iox

import "io"

// maxDrain bounds how much of a response body is discarded before close.
const maxDrain = 64 << 10

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(a)
func DiscardClose(c io.Closer) { _ = c.Close() }

// DrainClose reads up to 64 KiB of rc before closing it so an HTTP
// keep-alive connection can be reused.
//
//	defer iox.DrainClose(resp.Body)
func DrainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, maxDrain))
	_ = rc.Close()
}

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(archive))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}
