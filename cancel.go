package ftp

import "sync/atomic"

// CancelHandle lets a caller stop an in-progress Put/Get from another
// goroutine. It is checked at chunk boundaries; on a hit, the transfer
// engine closes the data connection, sends ABOR, drains up to two
// responses, and returns a *CancelledError.
type CancelHandle struct {
	cancelled atomic.Bool
}

// NewCancelHandle returns a handle that has not been cancelled.
func NewCancelHandle() *CancelHandle {
	return &CancelHandle{}
}

// Cancel marks the handle as cancelled. Safe to call from any goroutine,
// any number of times.
func (h *CancelHandle) Cancel() {
	if h == nil {
		return
	}
	h.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (h *CancelHandle) Cancelled() bool {
	return h != nil && h.cancelled.Load()
}
