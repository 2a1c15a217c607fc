package ftp

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ChangeDirectory changes the current working directory via CWD.
func (c *Client) ChangeDirectory(dir string) error {
	return c.do(func() error {
		_, err := c.expect2xx("CWD", dir)
		return err
	})
}

// ChangeDirectoryUp moves to the parent directory via CDUP.
func (c *Client) ChangeDirectoryUp() error {
	return c.do(func() error {
		_, err := c.expect2xx("CDUP")
		return err
	})
}

// ChangeDirectoryMultiPath changes directory one path segment at a time,
// so a single non-existent intermediate segment is reported precisely
// rather than as an opaque failure on the full joined path.
func (c *Client) ChangeDirectoryMultiPath(segments ...string) error {
	return c.do(func() error {
		for _, seg := range segments {
			if _, err := c.expect2xx("CWD", seg); err != nil {
				return fmt.Errorf("ftp: changing into %q: %w", seg, err)
			}
		}
		return nil
	})
}

// GetWorkingDirectory returns the current working directory via PWD.
func (c *Client) GetWorkingDirectory() (string, error) {
	var dir string
	err := c.do(func() error {
		resp, err := c.expect2xx("PWD")
		if err != nil {
			return err
		}
		msg := resp.Text
		start := strings.Index(msg, "\"")
		if start == -1 {
			return fmt.Errorf("ftp: invalid PWD response: %s", msg)
		}
		end := strings.Index(msg[start+1:], "\"")
		if end == -1 {
			return fmt.Errorf("ftp: invalid PWD response: %s", msg)
		}
		dir = msg[start+1 : start+1+end]
		return nil
	})
	return dir, err
}

// MakeDirectory creates a new directory via MKD.
func (c *Client) MakeDirectory(dir string) error {
	return c.do(func() error {
		_, err := c.expect2xx("MKD", dir)
		return err
	})
}

// DeleteDirectory removes a directory via RMD.
func (c *Client) DeleteDirectory(dir string) error {
	return c.do(func() error {
		_, err := c.expect2xx("RMD", dir)
		return err
	})
}

// DeleteFile removes a file via DELE.
func (c *Client) DeleteFile(path string) error {
	return c.do(func() error {
		_, err := c.expect2xx("DELE", path)
		return err
	})
}

// Rename renames a file or directory via RNFR/RNTO.
func (c *Client) Rename(from, to string) error {
	return c.do(func() error {
		resp, err := c.sendCommand("RNFR", from)
		if err != nil {
			return err
		}
		if resp.Code != 350 {
			return &ProtocolError{Command: "RNFR", Response: resp.Text, Code: resp.Code}
		}
		_, err = c.expect2xx("RNTO", to)
		return err
	})
}

// GetFileDateTime returns a file's modification time via MDTM (RFC 3659).
func (c *Client) GetFileDateTime(path string) (time.Time, error) {
	var modTime time.Time
	err := c.do(func() error {
		resp, err := c.expect2xx("MDTM", path)
		if err != nil {
			return err
		}
		timestamp := strings.TrimSpace(resp.Text)
		if len(timestamp) != 14 {
			return fmt.Errorf("ftp: invalid MDTM response format: %s", resp.Text)
		}
		t, err := time.Parse("20060102150405", timestamp)
		if err != nil {
			return fmt.Errorf("ftp: parsing MDTM timestamp: %w", err)
		}
		modTime = t.UTC()
		return nil
	})
	return modTime, err
}

// SetFileDateTime sets a file's modification time via MFMT (draft-somers-ftp-mfxx).
func (c *Client) SetFileDateTime(path string, t time.Time) error {
	return c.do(func() error {
		timestamp := t.UTC().Format("20060102150405")
		_, err := c.expect2xx("MFMT", timestamp, path)
		return err
	})
}

// Chmod changes a file's permissions via SITE CHMOD.
func (c *Client) Chmod(path string, mode os.FileMode) error {
	return c.do(func() error {
		octal := fmt.Sprintf("%04o", mode&os.ModePerm)
		_, err := c.expect2xx("SITE", "CHMOD", octal, path)
		return err
	})
}

// GetDirList lists a directory, parsed by the client's registered
// ListingParser chain (Unix, DOS, MLSx, and any custom parsers added via
// WithCustomListParser). The listing command is chosen automatically:
// MLSD when the server advertises it in FEAT, otherwise "LIST -aL",
// falling back to plain LIST if the server rejects the -aL argument.
func (c *Client) GetDirList(dir string) ([]*DirectoryEntry, error) {
	// Cache FEAT outside the busy-lock: GetFeatures takes it itself, and
	// it is not reentrant.
	c.GetFeatures()

	var entries []*DirectoryEntry
	err := c.do(func() error {
		var dataConn, closeErr = c.openAutoListDataConn(dir)
		if closeErr != nil {
			return closeErr
		}

		scanner := bufio.NewScanner(dataConn)
		for scanner.Scan() {
			if entry := parseListLine(scanner.Text(), c.parsers); entry != nil {
				entries = append(entries, entry)
			}
		}
		if err := scanner.Err(); err != nil {
			dataConn.Close()
			return &DataConnectionError{Op: "read LIST", Err: err}
		}

		return c.finishDataConn(dataConn)
	})
	return entries, err
}

// GetFileInfo runs MLST on a single path and returns its parsed entry,
// when the server advertises MLST support.
func (c *Client) GetFileInfo(path string) (*DirectoryEntry, error) {
	var entry *DirectoryEntry
	err := c.do(func() error {
		resp, err := c.expect2xx("MLST", path)
		if err != nil {
			return err
		}
		for _, line := range resp.Lines {
			trimmed := strings.TrimSpace(line)
			if parsed, ok := parseMlsxLine(trimmed); ok {
				entry = parsed
				return nil
			}
		}
		return fmt.Errorf("ftp: no parseable fact line in MLST response")
	})
	return entry, err
}

// GetNameList lists a directory using NLST, returning bare names.
func (c *Client) GetNameList(dir string) ([]string, error) {
	var names []string
	err := c.do(func() error {
		dataConn, err := c.openListDataConn("NLST", dir)
		if err != nil {
			return err
		}

		scanner := bufio.NewScanner(dataConn)
		for scanner.Scan() {
			if name := strings.TrimSpace(scanner.Text()); name != "" {
				names = append(names, name)
			}
		}
		if err := scanner.Err(); err != nil {
			dataConn.Close()
			return &DataConnectionError{Op: "read NLST", Err: err}
		}

		return c.finishDataConn(dataConn)
	})
	return names, err
}

func (c *Client) openListDataConn(cmd, dir string) (net.Conn, error) {
	if dir == "" {
		return c.cmdDataConnFrom(cmd)
	}
	return c.cmdDataConnFrom(cmd, dir)
}

// openAutoListDataConn implements the Automatic listing-command selection:
// MLSD when advertised, else "LIST -aL", else plain LIST.
func (c *Client) openAutoListDataConn(dir string) (net.Conn, error) {
	if c.features.Has("MLSD") {
		return c.openListDataConn("MLSD", dir)
	}

	args := []string{"-aL"}
	if dir != "" {
		args = append(args, dir)
	}
	dataConn, err := c.cmdDataConnFrom("LIST", args...)
	if err == nil {
		return dataConn, nil
	}

	var dcErr *DataConnectionError
	if !errors.As(err, &dcErr) {
		return nil, err
	}
	return c.openListDataConn("LIST", dir)
}

// WalkFunc is called for each entry visited by Walk.
type WalkFunc func(path string, entry *DirectoryEntry, err error) error

// SkipDir signals Walk to skip the directory's contents.
var SkipDir = filepath.SkipDir

// Walk walks the directory tree rooted at root, calling walkFn for each
// entry including root. Entries are visited in the order GetDirList
// returns them. Walk does not follow symlinks.
func (c *Client) Walk(root string, walkFn WalkFunc) error {
	cleanRoot := path.Clean(root)

	var rootEntry *DirectoryEntry
	if cleanRoot == "." || cleanRoot == "/" {
		rootEntry = &DirectoryEntry{Name: cleanRoot, Kind: KindDir}
	} else {
		parent := path.Dir(cleanRoot)
		if parent == "." && !strings.Contains(cleanRoot, "/") {
			parent = ""
		}
		entries, err := c.GetDirList(parent)
		if err != nil {
			return walkFn(root, nil, err)
		}
		target := path.Base(cleanRoot)
		for _, e := range entries {
			if e.Name == target {
				rootEntry = e
				break
			}
		}
		if rootEntry == nil {
			return walkFn(root, nil, os.ErrNotExist)
		}
	}

	return c.walk(cleanRoot, rootEntry, walkFn)
}

func (c *Client) walk(pathStr string, entry *DirectoryEntry, walkFn WalkFunc) error {
	if err := walkFn(pathStr, entry, nil); err != nil {
		if entry != nil && entry.Kind == KindDir && err == SkipDir {
			return nil
		}
		return err
	}

	if entry == nil || entry.Kind != KindDir {
		return nil
	}

	entries, err := c.GetDirList(pathStr)
	if err != nil {
		return walkFn(pathStr, entry, err)
	}

	for _, child := range entries {
		if child.Name == "." || child.Name == ".." {
			continue
		}
		fullPath := path.Join(pathStr, child.Name)
		if err := c.walk(fullPath, child, walkFn); err != nil {
			if err == SkipDir {
				continue
			}
			return err
		}
	}

	return nil
}
