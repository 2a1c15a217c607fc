package ftp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/halvard-io/ftps/internal/ratelimit"
)

// chunkSize bounds how much is copied between progress/cancellation
// checkpoints.
const chunkSize = 32 * 1024

// EnableCompression switches the data channel to MODE Z (zlib) for
// subsequent transfers. Requires the server to advertise support; refusal
// surfaces as a *DataCompressionError.
func (c *Client) EnableCompression() error {
	return c.do(c.enableCompression)
}

// DisableCompression switches back to MODE S (stream mode).
func (c *Client) DisableCompression() error {
	return c.do(c.disableCompression)
}

// Put uploads data from r to remotePath under the given action semantics.
// cancel may be nil; if provided, it is polled at chunk boundaries and a
// cancellation returns a *CancelledError after aborting the transfer.
func (c *Client) Put(remotePath string, r io.Reader, action TransferAction, cancel *CancelHandle) (err error) {
	err = c.do(func() error {
		return c.put(remotePath, r, action, cancel)
	})
	c.emitTransferComplete(remotePath, err)
	return err
}

func (c *Client) put(remotePath string, r io.Reader, action TransferAction, cancel *CancelHandle) error {
	if err := c.setType(TypeBinary); err != nil {
		return err
	}

	var offset int64
	verb := "STOR"

	switch action {
	case ActionCreateNew:
		if _, err := c.size(remotePath); err == nil {
			return &AlreadyExistsError{Path: remotePath}
		}
	case ActionCreateOrAppend:
		verb = "APPE"
	case ActionResume:
		size, err := c.size(remotePath)
		if err != nil {
			return &TransferError{Command: "SIZE", Err: err, Last: responseInfo(c.lastResponse)}
		}
		offset = size
	case ActionResumeOrCreate:
		if size, err := c.size(remotePath); err == nil {
			offset = size
		}
	}

	transferSize := readerSize(r)

	if offset > 0 {
		if err := c.restartAt(offset); err != nil {
			return err
		}
		skipped, err := skipReaderOffset(r, offset)
		if err != nil {
			return &TransferError{Command: "REST", Err: err, Last: responseInfo(c.lastResponse)}
		}
		r = skipped
	}

	dataConn, err := c.cmdDataConnFrom(verb, remotePath)
	if err != nil {
		return err
	}

	reader := r
	if c.limiter != nil {
		reader = ratelimit.NewReader(reader, c.limiter)
	}

	writer, closeCompression := compressWriter(dataConn, c.compression == CompressionZlib)

	copyErr := c.copyWithProgress(writer, reader, offset, transferSize, dataConn, cancel)
	if errors.Is(copyErr, errCancelled) {
		return &CancelledError{}
	}

	compErr := closeCompression()
	finishErr := c.finishDataConn(dataConn)

	if copyErr != nil {
		return &TransferError{Command: verb, Err: copyErr, Last: responseInfo(c.lastResponse)}
	}
	if compErr != nil {
		return &DataCompressionError{Err: compErr}
	}
	return finishErr
}

// PutUnique uploads data using STOU, letting the server choose a unique
// remote filename, which is returned on success.
func (c *Client) PutUnique(r io.Reader, cancel *CancelHandle) (remotePath string, err error) {
	err = c.do(func() error {
		if err := c.setType(TypeBinary); err != nil {
			return err
		}

		transferSize := readerSize(r)

		dataConn, err := c.cmdDataConnFrom("STOU")
		if err != nil {
			return err
		}
		remotePath = parseUniqueName(c.lastResponse)

		reader := io.Reader(r)
		if c.limiter != nil {
			reader = ratelimit.NewReader(reader, c.limiter)
		}
		writer, closeCompression := compressWriter(dataConn, c.compression == CompressionZlib)

		copyErr := c.copyWithProgress(writer, reader, 0, transferSize, dataConn, cancel)
		if errors.Is(copyErr, errCancelled) {
			return &CancelledError{}
		}

		compErr := closeCompression()
		finishErr := c.finishDataConn(dataConn)

		if copyErr != nil {
			return &TransferError{Command: "STOU", Err: copyErr}
		}
		if compErr != nil {
			return &DataCompressionError{Err: compErr}
		}
		return finishErr
	})
	c.emitTransferComplete(remotePath, err)
	return remotePath, err
}

func parseUniqueName(resp *Response) string {
	if resp == nil {
		return ""
	}
	// Typical form: "150 FILE: unique-name.txt" or "150 unique-name.txt"
	text := resp.Text
	if idx := strings.IndexByte(text, ':'); idx >= 0 {
		return strings.TrimSpace(text[idx+1:])
	}
	return strings.TrimSpace(text)
}

// Get downloads remotePath into w, starting at offset (0 for the whole
// file). cancel may be nil.
func (c *Client) Get(remotePath string, w io.Writer, offset int64, cancel *CancelHandle) (err error) {
	err = c.do(func() error {
		return c.get(remotePath, w, offset, cancel)
	})
	c.emitTransferComplete(remotePath, err)
	return err
}

func (c *Client) get(remotePath string, w io.Writer, offset int64, cancel *CancelHandle) error {
	if err := c.setType(TypeBinary); err != nil {
		return err
	}

	transferSize, err := c.size(remotePath)
	if err != nil {
		transferSize = -1
	}

	if offset > 0 {
		if err := c.restartAt(offset); err != nil {
			return err
		}
	}

	dataConn, err := c.cmdDataConnFrom("RETR", remotePath)
	if err != nil {
		return err
	}

	reader, closeCompression, compErr := compressReader(dataConn, c.compression == CompressionZlib)
	if compErr != nil {
		dataConn.Close()
		return compErr
	}

	writer := w
	if c.limiter != nil {
		writer = ratelimit.NewWriter(writer, c.limiter)
	}

	copyErr := c.copyWithProgress(writer, reader, offset, transferSize, dataConn, cancel)
	if errors.Is(copyErr, errCancelled) {
		return &CancelledError{}
	}

	_ = closeCompression()
	finishErr := c.finishDataConn(dataConn)

	if copyErr != nil {
		return &TransferError{Command: "RETR", Err: copyErr, Last: responseInfo(c.lastResponse)}
	}
	return finishErr
}

var errCancelled = errors.New("ftp: transfer cancelled")

// copyWithProgress copies from src to dst in chunkSize increments,
// emitting a TransferProgress event after each chunk and aborting the
// transfer if cancel fires. startOffset lets resumed transfers report a
// correct running total. transferSize is the whole-file size if known
// (negative if unknown), and seeds PercentComplete/BytesRemaining.
func (c *Client) copyWithProgress(dst io.Writer, src io.Reader, startOffset, transferSize int64, dataConn net.Conn, cancel *CancelHandle) error {
	buf := make([]byte, chunkSize)
	total := startOffset
	start := time.Now()

	note := ""
	if c.compression == CompressionZlib {
		note = "percent_complete is computed against the uncompressed size and may drift from wire bytes while MODE Z is active"
	}

	for {
		if cancel.Cancelled() {
			c.abortTransfer(dataConn)
			return errCancelled
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			total += int64(n)

			elapsed := time.Since(start)
			var bps float64
			if elapsed > 0 {
				bps = float64(total-startOffset) / elapsed.Seconds()
			}

			var pct *float64
			if transferSize >= 0 {
				p := float64(total) / float64(transferSize) * 100
				pct = &p
			}

			c.emitTransferProgress(TransferProgress{
				BytesInLastChunk: int64(n),
				TotalBytes:       total,
				TransferSize:     transferSize,
				BytesPerSecond:   bps,
				Elapsed:          elapsed,
				PercentComplete:  pct,
				Note:             note,
			})
		}

		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}

// readerSize returns the total byte length of r if it can be determined
// without consuming it, or -1 if not.
func readerSize(r io.Reader) int64 {
	if f, ok := r.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			return fi.Size()
		}
		return -1
	}

	seeker, ok := r.(io.Seeker)
	if !ok {
		return -1
	}
	cur, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return -1
	}
	end, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return -1
	}
	if _, err := seeker.Seek(cur, io.SeekStart); err != nil {
		return -1
	}
	return end - cur
}

// skipReaderOffset advances r past the first offset bytes, seeking when r
// supports it and discarding by reading otherwise, so a resumed Put starts
// its copy loop at the same byte the server is about to receive at.
func skipReaderOffset(r io.Reader, offset int64) (io.Reader, error) {
	if offset <= 0 {
		return r, nil
	}
	if seeker, ok := r.(io.Seeker); ok {
		if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("ftp: seeking source to resume offset %d: %w", offset, err)
		}
		return r, nil
	}
	if _, err := io.CopyN(io.Discard, r, offset); err != nil {
		return nil, fmt.Errorf("ftp: discarding %d bytes to reach resume offset: %w", offset, err)
	}
	return r, nil
}

// restartAt sends REST offset, arming the next STOR/RETR to resume from
// that byte.
func (c *Client) restartAt(offset int64) error {
	resp, err := c.sendCommand("REST", fmt.Sprintf("%d", offset))
	if err != nil {
		return err
	}
	if resp.Code != 350 {
		return &ProtocolError{Command: "REST", Response: resp.Text, Code: resp.Code}
	}
	return nil
}

func (c *Client) size(path string) (int64, error) {
	resp, err := c.sendCommand("SIZE", path)
	if err != nil {
		return 0, err
	}
	if !resp.Is2xx() {
		return 0, &ProtocolError{Command: "SIZE", Response: resp.Text, Code: resp.Code}
	}
	var size int64
	if _, err := fmt.Sscanf(resp.Text, "%d", &size); err != nil {
		return 0, fmt.Errorf("ftp: invalid SIZE response: %s", resp.Text)
	}
	return size, nil
}

// GetFileSize returns the size of a remote file via SIZE.
func (c *Client) GetFileSize(path string) (int64, error) {
	var size int64
	err := c.do(func() error {
		var err error
		size, err = c.size(path)
		return err
	})
	return size, err
}

// UploadFile opens localPath and streams it to remotePath.
func (c *Client) UploadFile(localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("ftp: opening local file: %w", err)
	}
	defer f.Close()
	return c.Put(remotePath, f, ActionCreate, nil)
}

// DownloadFile streams remotePath into a newly created/truncated local
// file at localPath. The partial file is removed if the transfer fails.
func (c *Client) DownloadFile(remotePath, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("ftp: creating local file: %w", err)
	}
	defer f.Close()

	if err := c.Get(remotePath, f, 0, nil); err != nil {
		_ = os.Remove(localPath)
		return err
	}
	return nil
}
