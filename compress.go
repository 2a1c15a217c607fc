package ftp

import (
	"io"

	"github.com/klauspost/compress/zlib"
)

// enableCompression issues "MODE Z" and, on success, marks the client so
// subsequent transfers wrap their data connection in a raw zlib stream.
// Servers that don't support MODE Z respond 504/502, which is surfaced as
// a *DataCompressionError rather than silently falling back to MODE S.
func (c *Client) enableCompression() error {
	resp, err := c.sendCommand("MODE", "Z")
	if err != nil {
		return &DataCompressionError{Err: err}
	}
	if !resp.Is2xx() {
		return &DataCompressionError{Err: &ProtocolError{Command: "MODE Z", Response: resp.Text, Code: resp.Code}}
	}
	c.compression = CompressionZlib
	return nil
}

// disableCompression issues "MODE S" (stream mode, the FTP default) and
// clears the compression flag.
func (c *Client) disableCompression() error {
	if c.compression == CompressionOff {
		return nil
	}
	resp, err := c.sendCommand("MODE", "S")
	if err != nil {
		return &DataCompressionError{Err: err}
	}
	if !resp.Is2xx() {
		return &DataCompressionError{Err: &ProtocolError{Command: "MODE S", Response: resp.Text, Code: resp.Code}}
	}
	c.compression = CompressionOff
	return nil
}

// compressWriter wraps w in a zlib writer when compression is active, and
// arranges for the caller's close to flush the zlib trailer before the
// underlying data connection is closed.
func compressWriter(w io.Writer, active bool) (io.Writer, func() error) {
	if !active {
		return w, func() error { return nil }
	}
	zw := zlib.NewWriter(w)
	return zw, zw.Close
}

// compressReader wraps r in a zlib reader when compression is active.
func compressReader(r io.Reader, active bool) (io.Reader, func() error, error) {
	if !active {
		return r, func() error { return nil }, nil
	}
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, nil, &DataCompressionError{Err: err}
	}
	return zr, zr.Close, nil
}
