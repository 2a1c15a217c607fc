package ftp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"
)

var (
	pasvRegex = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)
	epsvRegex = regexp.MustCompile(`\(\|\|\|(\d+)\|\)`)
)

// parsePASV parses "227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)" into a
// dialable "host:port" string.
func parsePASV(response string) (string, error) {
	matches := pasvRegex.FindStringSubmatch(response)
	if len(matches) != 7 {
		return "", fmt.Errorf("ftp: invalid PASV response: %s", response)
	}

	var h [4]int
	for i := range 4 {
		val, err := strconv.Atoi(matches[i+1])
		if err != nil || val < 0 || val > 255 {
			return "", fmt.Errorf("ftp: invalid PASV IP part: %s", matches[i+1])
		}
		h[i] = val
	}
	host := fmt.Sprintf("%d.%d.%d.%d", h[0], h[1], h[2], h[3])
	if ip := net.ParseIP(host); ip == nil || ip.To4() == nil {
		return "", fmt.Errorf("ftp: invalid IPv4 address from PASV: %s", host)
	}

	p1, err1 := strconv.Atoi(matches[5])
	p2, err2 := strconv.Atoi(matches[6])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		return "", fmt.Errorf("ftp: invalid PASV port parts: %s, %s", matches[5], matches[6])
	}

	return net.JoinHostPort(host, strconv.Itoa(p1*256+p2)), nil
}

// parseEPSV parses "229 Entering Extended Passive Mode (|||port|)" and
// returns the port.
func parseEPSV(response string) (string, error) {
	matches := epsvRegex.FindStringSubmatch(response)
	if len(matches) != 2 {
		return "", fmt.Errorf("ftp: invalid EPSV response: %s", response)
	}
	port, err := strconv.Atoi(matches[1])
	if err != nil || port < 0 || port > 65535 {
		return "", fmt.Errorf("ftp: invalid EPSV port: %s", matches[1])
	}
	return matches[1], nil
}

// formatPORT converts "192.168.1.100:50000" into PORT's "h1,h2,h3,h4,p1,p2"
// argument form. Requires an IPv4 address.
func formatPORT(addr string) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("ftp: invalid IP address: %s", host)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return "", fmt.Errorf("ftp: PORT requires an IPv4 address")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("ftp: invalid port: %s", portStr)
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip4[0], ip4[1], ip4[2], ip4[3], port/256, port%256), nil
}

// formatEPRT converts an address into EPRT's "|d|net-prt|net-addr|tcp-port|"
// argument form, supporting both IPv4 and IPv6.
func formatEPRT(addr string) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("ftp: invalid IP address: %s", host)
	}

	var netPrt int
	switch {
	case ip.To4() != nil:
		netPrt = 1
	case ip.To16() != nil:
		netPrt = 2
	default:
		return "", fmt.Errorf("ftp: unknown IP address family: %s", host)
	}

	return fmt.Sprintf("|%d|%s|%s|", netPrt, host, portStr), nil
}

// isPrivateOrUnspecified reports whether host is 0.0.0.0, loopback, or an
// RFC1918 private address — the cases in which a PASV-advertised address
// is untrustworthy and should be rewritten to the control-channel peer
// instead of honored verbatim.
func isPrivateOrUnspecified(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsUnspecified() || ip.IsLoopback() || ip.IsPrivate()
}

// resolveDataAddr rewrites pasvAddr's host to controlHost only when the
// advertised address is unusable from here (0.0.0.0 or private/loopback);
// otherwise the server's advertised address is honored as-is, even if it
// differs from the control connection peer.
func resolveDataAddr(pasvAddr, controlHost string) string {
	host, port, err := net.SplitHostPort(pasvAddr)
	if err != nil {
		return pasvAddr
	}
	if isPrivateOrUnspecified(host) {
		return net.JoinHostPort(controlHost, port)
	}
	return pasvAddr
}

// openDataConn opens a data connection per the client's configured mode,
// trying the preferred command first and falling back through the full
// chain on rejection:
//   - ModeExtendedPassive: EPSV -> PASV -> PORT
//   - ModePassive:         PASV -> PORT
//   - ModeActive:          EPRT -> PORT -> PASV
func (c *Client) openDataConn() (net.Conn, error) {
	switch c.mode {
	case ModeActive:
		return c.openActiveDataConn()
	case ModePassive:
		return c.openPassiveDataConnVia(false)
	default:
		return c.openPassiveDataConnVia(true)
	}
}

// openPassiveDataConnVia tries EPSV (if tryEPSV) then PASV; if both are
// rejected by the server it falls back to the active PORT method, the tail
// of the passive preference chain (EPSV -> PASV -> PORT).
func (c *Client) openPassiveDataConnVia(tryEPSV bool) (net.Conn, error) {
	var addr string

	if tryEPSV {
		if resp, err := c.sendCommand("EPSV"); err == nil {
			if resp.Code == 502 {
				// Not implemented: fall through to PASV below.
			} else if resp.Is2xx() {
				if port, parseErr := parseEPSV(resp.String()); parseErr == nil {
					addr = net.JoinHostPort(c.host, port)
				}
			}
		}
	}

	if addr == "" {
		var ok bool
		var err error
		addr, ok, err = c.tryPASV()
		if err != nil {
			return nil, err
		}
		if !ok {
			// PASV rejected: fall back to the active PORT method.
			return c.openActiveViaPORT()
		}
	}

	return c.dialDataAddr(addr)
}

// tryPASV sends PASV and returns the resolved data address. ok is false
// (with nil err) only when the server rejected the command, signalling
// the caller should try the next method in its fallback chain.
func (c *Client) tryPASV() (addr string, ok bool, err error) {
	resp, err := c.sendCommand("PASV")
	if err != nil {
		return "", false, &DataConnectionError{Op: "PASV", Err: err}
	}
	if !resp.Is2xx() {
		return "", false, nil
	}
	addr, err = parsePASV(resp.String())
	if err != nil {
		return "", false, &DataConnectionError{Op: "PASV", Err: err}
	}
	return resolveDataAddr(addr, c.host), true, nil
}

func (c *Client) dialDataAddr(addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.connectTimeout)
	defer cancel()

	dataConn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, &DataConnectionError{Op: "dial data connection", Err: err}
	}

	return c.finalizeDataConn(dataConn, false)
}

// openPassiveViaPASV is the narrow, non-recursive tail of the active
// fallback chain: PASV only, with no EPSV attempt and no further
// fallback, so the active and passive chains cannot recurse forever.
func (c *Client) openPassiveViaPASV() (net.Conn, error) {
	addr, ok, err := c.tryPASV()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &DataConnectionError{Op: "PASV", Err: errors.New("ftp: PASV rejected after EPRT/PORT fallback")}
	}
	return c.dialDataAddr(addr)
}

// finalizeDataConn wraps a dialed/accepted data connection with TLS (if
// the control channel is protected) and a transfer deadline.
func (c *Client) finalizeDataConn(conn net.Conn, isServerSide bool) (net.Conn, error) {
	if c.tlsConfig != nil {
		var tlsConn *tls.Conn
		if isServerSide {
			tlsConn = tls.Server(conn, c.tlsConfig)
		} else {
			tlsConn = tls.Client(conn, c.tlsConfig)
		}
		if c.connectTimeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(c.connectTimeout))
		}
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, &TlsError{Op: "data connection handshake", Err: err}
		}
		conn = tlsConn
	}

	if c.transferTimeout > 0 {
		return &deadlineConn{Conn: conn, timeout: c.transferTimeout}, nil
	}
	return conn, nil
}

// listenActive opens a local listener on the same address family as the
// control connection, for the server to connect back to.
func (c *Client) listenActive() (net.Listener, error) {
	localAddr := c.conn.LocalAddr().String()
	host, _, err := net.SplitHostPort(localAddr)
	if err != nil {
		host = "127.0.0.1"
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		listener, err = net.Listen("tcp", ":0")
		if err != nil {
			return nil, &DataConnectionError{Op: "listen", Err: err}
		}
	}
	return listener, nil
}

// tryActiveCommand sends EPRT or PORT for listener's address. ok is true
// only on a 2xx response. A non-nil err means a transport-level failure
// that should abort the whole fallback chain; a false ok with nil err
// means the server rejected the command and the caller should try the
// next method.
func (c *Client) tryActiveCommand(cmd string, listener net.Listener) (net.Conn, bool, error) {
	addr := listener.Addr().String()

	var arg string
	var err error
	switch cmd {
	case "EPRT":
		arg, err = formatEPRT(addr)
	case "PORT":
		arg, err = formatPORT(addr)
	default:
		return nil, false, fmt.Errorf("ftp: unknown active command %q", cmd)
	}
	if err != nil {
		return nil, false, &DataConnectionError{Op: cmd, Err: err}
	}

	resp, err := c.sendCommand(cmd, arg)
	if err != nil {
		return nil, false, &DataConnectionError{Op: cmd, Err: err}
	}
	if !resp.Is2xx() {
		return nil, false, nil
	}

	return &activeDataConn{
		listener:  listener,
		tlsConfig: c.tlsConfig,
		timeout:   c.transferTimeout,
	}, true, nil
}

// openActiveDataConn listens locally and tells the server where to
// connect via EPRT, falling back to PORT and then to PASV on rejection
// (EPRT -> PORT -> PASV); the actual accept happens lazily, on first
// Read/Write, via activeDataConn.
func (c *Client) openActiveDataConn() (net.Conn, error) {
	listener, err := c.listenActive()
	if err != nil {
		return nil, err
	}

	if conn, ok, err := c.tryActiveCommand("EPRT", listener); err != nil {
		listener.Close()
		return nil, err
	} else if ok {
		return conn, nil
	}

	if conn, ok, err := c.tryActiveCommand("PORT", listener); err != nil {
		listener.Close()
		return nil, err
	} else if ok {
		return conn, nil
	}

	listener.Close()
	return c.openPassiveViaPASV()
}

// openActiveViaPORT is the narrow, non-recursive tail of the passive
// fallback chain: PORT only, with no further fallback, so the active and
// passive chains cannot recurse into each other indefinitely.
func (c *Client) openActiveViaPORT() (net.Conn, error) {
	listener, err := c.listenActive()
	if err != nil {
		return nil, err
	}

	conn, ok, err := c.tryActiveCommand("PORT", listener)
	if err != nil {
		listener.Close()
		return nil, err
	}
	if !ok {
		listener.Close()
		return nil, &DataConnectionError{Op: "PORT", Err: errors.New("ftp: PORT rejected after PASV fallback")}
	}
	return conn, nil
}

// activeDataConn defers accepting the server's inbound connection until
// the first Read or Write, since the server only connects after the
// transfer command (STOR/RETR/...) has been sent.
type activeDataConn struct {
	listener  net.Listener
	conn      net.Conn
	tlsConfig *tls.Config
	timeout   time.Duration
}

func (a *activeDataConn) accept() error {
	if a.timeout > 0 {
		if l, ok := a.listener.(*net.TCPListener); ok {
			_ = l.SetDeadline(time.Now().Add(a.timeout))
		}
	}
	conn, err := a.listener.Accept()
	if err != nil {
		return err
	}
	a.conn = conn

	if a.tlsConfig != nil {
		tlsConn := tls.Server(a.conn, a.tlsConfig)
		if a.timeout > 0 {
			_ = a.conn.SetDeadline(time.Now().Add(a.timeout))
		}
		if err := tlsConn.Handshake(); err != nil {
			a.conn.Close()
			return err
		}
		a.conn = tlsConn
	}
	return nil
}

func (a *activeDataConn) Read(p []byte) (int, error) {
	if a.conn == nil {
		if err := a.accept(); err != nil {
			return 0, err
		}
	}
	if a.timeout > 0 {
		_ = a.conn.SetReadDeadline(time.Now().Add(a.timeout))
	}
	return a.conn.Read(p)
}

func (a *activeDataConn) Write(p []byte) (int, error) {
	if a.conn == nil {
		if err := a.accept(); err != nil {
			return 0, err
		}
	}
	if a.timeout > 0 {
		_ = a.conn.SetWriteDeadline(time.Now().Add(a.timeout))
	}
	return a.conn.Write(p)
}

func (a *activeDataConn) Close() error {
	var err1, err2 error
	if a.conn != nil {
		err1 = a.conn.Close()
	}
	if a.listener != nil {
		err2 = a.listener.Close()
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (a *activeDataConn) LocalAddr() net.Addr {
	if a.conn != nil {
		return a.conn.LocalAddr()
	}
	return a.listener.Addr()
}

func (a *activeDataConn) RemoteAddr() net.Addr {
	if a.conn != nil {
		return a.conn.RemoteAddr()
	}
	return nil
}

func (a *activeDataConn) SetDeadline(t time.Time) error {
	if a.conn != nil {
		return a.conn.SetDeadline(t)
	}
	return nil
}

func (a *activeDataConn) SetReadDeadline(t time.Time) error {
	if a.conn != nil {
		return a.conn.SetReadDeadline(t)
	}
	return nil
}

func (a *activeDataConn) SetWriteDeadline(t time.Time) error {
	if a.conn != nil {
		return a.conn.SetWriteDeadline(t)
	}
	return nil
}

// cmdDataConnFrom opens a data connection, then sends cmd on the control
// channel. The caller must eventually call finishDataConn.
func (c *Client) cmdDataConnFrom(cmd string, args ...string) (net.Conn, error) {
	dataConn, err := c.openDataConn()
	if err != nil {
		return nil, err
	}

	c.stateMu.Lock()
	c.activeDataConn = dataConn
	c.stateMu.Unlock()

	resp, err := c.sendCommand(cmd, args...)
	if err != nil {
		dataConn.Close()
		c.stateMu.Lock()
		c.activeDataConn = nil
		c.stateMu.Unlock()
		return nil, err
	}

	if resp.Code < 200 || resp.Code >= 400 {
		dataConn.Close()
		c.stateMu.Lock()
		c.activeDataConn = nil
		c.stateMu.Unlock()
		return nil, &DataConnectionError{Op: cmd, Err: &ProtocolError{Command: cmd, Response: resp.Text, Code: resp.Code}}
	}

	return dataConn, nil
}

// finishDataConn closes the data connection and reads the transfer's
// completion response from the control channel.
func (c *Client) finishDataConn(dataConn net.Conn) error {
	closeErr := dataConn.Close()

	c.stateMu.Lock()
	c.activeDataConn = nil
	c.stateMu.Unlock()

	if c.transferTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.transferTimeout)); err != nil {
			return &DataConnectionError{Op: "set read deadline", Err: err}
		}
	}

	resp, err := readResponse(c.reader)
	if err != nil {
		return &DataConnectionError{Op: "read completion response", Err: err}
	}
	c.emitResponseReceived(resp)
	c.lastResponse = resp

	if c.logger != nil {
		c.logger.Debug("ftp: data transfer complete", "code", resp.Code, "text", resp.Text)
	}

	if !resp.Is2xx() {
		return &TransferError{Err: &ProtocolError{Command: "DATA_TRANSFER", Response: resp.Text, Code: resp.Code}, Last: responseInfo(resp)}
	}

	if closeErr != nil {
		return &DataConnectionError{Op: "close data connection", Err: closeErr}
	}

	return nil
}

// abortTransfer implements the cancellation sequence: close the data
// connection, send ABOR, and drain up to two responses (a transient
// "426 aborted" plus the ABOR command's own "226"/"225").
func (c *Client) abortTransfer(dataConn net.Conn) {
	if dataConn != nil {
		dataConn.Close()
	}
	c.stateMu.Lock()
	c.activeDataConn = nil
	c.stateMu.Unlock()

	c.emitRequestSent(Request{Verb: "ABOR"})
	if c.logger != nil {
		c.logger.Debug("ftp command", "verb", "ABOR")
	}
	_, _ = fmt.Fprintf(c.conn, "ABOR\r\n")

	if c.transferTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.transferTimeout))
	}
	for range 2 {
		resp, err := readResponse(c.reader)
		if err != nil {
			return
		}
		c.emitResponseReceived(resp)
		c.lastResponse = resp
		if resp.Is2xx() {
			return
		}
	}
}
