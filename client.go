package ftp

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/halvard-io/ftps/internal/ratelimit"
	"github.com/halvard-io/ftps/proxy"
)

// CertificateValidator is the caller-supplied certificate acceptance hook,
// matching tls.Config.VerifyPeerCertificate's signature so it can be wired
// in directly.
type CertificateValidator func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error

// Dialer abstracts connection establishment so callers can plug in custom
// dial behavior (e.g. connection pooling, instrumentation) without
// satisfying the full proxy.TransportAdapter contract.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client is a connection to a single FTP/FTPS server. A Client is not safe
// for concurrent use: at most one public operation may be in flight at a
// time, and a second caller attempting to start one receives a *BusyError
// immediately rather than blocking.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader

	tlsConfig *tls.Config
	security  SecurityProtocol

	connectTimeout  time.Duration
	commandTimeout  time.Duration
	transferTimeout time.Duration
	idleTimeout     time.Duration

	logger *slog.Logger

	dialer       *net.Dialer
	customDialer Dialer
	transport    proxy.TransportAdapter

	host string
	port string

	features FeatureSet

	mode        TransferMode
	currentType DataType
	typeSet     bool

	parsers []ListingParser

	limiter *ratelimit.Limiter

	// mu enforces the single-in-flight-operation rule (see do). It is held
	// for the duration of an entire public operation, so anything that
	// operation itself needs to touch concurrently — activeDataConn,
	// lastCommand — is guarded by the separate stateMu instead, to avoid
	// relocking a mutex the current goroutine already holds.
	mu      sync.Mutex
	stateMu sync.Mutex

	lastCommand  time.Time
	lastResponse *Response

	quitChan       chan struct{}
	activeDataConn net.Conn

	observers []Observer

	compression CompressionState
}

// Dial connects to an FTP server at the given address ("host:port") and
// waits for the greeting. Use the With* options to configure TLS, proxying,
// timeouts, and transfer mode before any command is sent.
func Dial(addr string, options ...Option) (*Client, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ftp: invalid address %q: %w", addr, err)
	}

	c := &Client{
		host:           host,
		port:           port,
		connectTimeout: 30 * time.Second,
		commandTimeout: 30 * time.Second,
		security:       SecurityNone,
		dialer:         &net.Dialer{},
		mode:           ModeExtendedPassive,
		logger:         slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1})),
		parsers: []ListingParser{
			&mlsxParser{},
			&dosParser{},
			&unixParser{},
		},
	}

	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("ftp: applying option: %w", err)
		}
	}

	c.dialer.Timeout = c.connectTimeout
	if c.transport == nil {
		c.transport = proxy.Direct()
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	c.lastCommand = time.Now()
	c.startKeepAlive()

	return c, nil
}

// startKeepAlive runs a background loop that sends NOOP once the connection
// has been idle for idleTimeout. It never runs while a transfer is active.
func (c *Client) startKeepAlive() {
	if c.idleTimeout == 0 {
		return
	}

	c.quitChan = make(chan struct{})
	ticker := time.NewTicker(c.idleTimeout / 2)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.stateMu.Lock()
				transferring := c.activeDataConn != nil
				last := c.lastCommand
				c.stateMu.Unlock()

				if transferring {
					continue
				}
				if time.Since(last) >= c.idleTimeout {
					if c.logger != nil {
						c.logger.Debug("ftp: sending keep-alive NOOP")
					}
					_ = c.NoOperation()
				}
			case <-c.quitChan:
				return
			}
		}
	}()
}

// Connect parses a connection URL and establishes a logged-in session.
// Supported schemes: "ftp", "ftps" (implicit TLS, default port 990),
// "ftpes" (explicit TLS, default port 21).
func Connect(urlStr string) (*Client, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("ftp: invalid URL: %w", err)
	}

	host := u.Hostname()
	port := u.Port()
	var options []Option

	switch strings.ToLower(u.Scheme) {
	case "ftp":
		if port == "" {
			port = "21"
		}
	case "ftps":
		if port == "" {
			port = "990"
		}
		options = append(options, WithSecurityProtocol(SecurityTls12Implicit, &tls.Config{ServerName: host}))
	case "ftpes":
		if port == "" {
			port = "21"
		}
		options = append(options, WithSecurityProtocol(SecurityTls12Explicit, &tls.Config{ServerName: host}))
	default:
		return nil, fmt.Errorf("ftp: unsupported scheme %q", u.Scheme)
	}

	addr := net.JoinHostPort(host, port)
	c, err := Dial(addr, options...)
	if err != nil {
		return nil, err
	}

	user := u.User.Username()
	pass, hasPass := u.User.Password()
	if user == "" {
		user = "anonymous"
		pass = "anonymous@"
	} else if !hasPass {
		pass = ""
	}

	if err := c.Login(user, pass); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ftp: login failed: %w", err)
	}

	if u.Path != "" && u.Path != "/" {
		if err := c.ChangeDirectory(u.Path); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("ftp: changing to initial directory: %w", err)
		}
	}

	return c, nil
}

// do enforces the single-in-flight-operation rule: a second caller that
// attempts a public operation while one is already running receives a
// *BusyError instead of blocking.
func (c *Client) do(fn func() error) error {
	if !c.mu.TryLock() {
		return &BusyError{}
	}
	defer c.mu.Unlock()
	return fn()
}

func (c *Client) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	if c.customDialer != nil {
		return c.customDialer.DialContext(ctx, network, addr)
	}
	return c.dialer.DialContext(ctx, network, addr)
}

// connect establishes the control connection and performs the greeting
// and, for implicit security protocols, the TLS handshake.
func (c *Client) connect() error {
	addr := net.JoinHostPort(c.host, c.port)
	c.logger.Debug("ftp: connecting", "addr", addr, "security", c.security)

	ctx, cancel := context.WithTimeout(context.Background(), c.connectTimeout)
	defer cancel()

	conn, err := c.transport.Dial(ctx, c.host, c.port)
	if err != nil {
		return &ConnectionError{Op: "dial", Err: err}
	}

	if c.security.IsImplicit() {
		c.logger.Debug("ftp: starting TLS handshake", "mode", "implicit")
		tlsConn := tls.Client(conn, c.tlsConfig)
		if c.connectTimeout > 0 {
			if err := conn.SetDeadline(time.Now().Add(c.connectTimeout)); err != nil {
				conn.Close()
				return &ConnectionError{Op: "set deadline", Err: err}
			}
		}
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return &TlsError{Op: "implicit handshake", Err: err}
		}
		c.logger.Debug("ftp: TLS handshake complete", "mode", "implicit")
		c.conn = tlsConn
	} else {
		c.conn = conn
	}

	c.reader = bufio.NewReader(c.conn)

	if c.connectTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.connectTimeout)); err != nil {
			c.conn.Close()
			return &ConnectionError{Op: "set read deadline", Err: err}
		}
	}

	resp, err := readResponse(c.reader)
	if err != nil {
		c.conn.Close()
		return &ConnectionError{Op: "read greeting", Err: err}
	}
	c.logger.Debug("ftp: greeting", "code", resp.Code, "text", resp.Text)
	c.emitResponseReceived(resp)

	if resp.Code != 220 {
		c.conn.Close()
		return &ProtocolError{Command: "CONNECT", Response: resp.Text, Code: resp.Code}
	}

	if c.security.IsExplicit() {
		if err := c.upgradeToTLS(); err != nil {
			c.conn.Close()
			return err
		}
	}

	return nil
}

// authArgument returns the AUTH command argument for an explicit security
// protocol ("TLS" for the TLS family, "SSL" for the legacy SSL family).
func (s SecurityProtocol) authArgument() string {
	switch s {
	case SecuritySsl2Explicit, SecuritySsl3Explicit:
		return "SSL"
	default:
		return "TLS"
	}
}

// upgradeToTLS performs the explicit-TLS sequence: AUTH, handshake, then
// PBSZ 0 / PROT P so the data channel is protected too.
func (c *Client) upgradeToTLS() error {
	resp, err := c.sendCommand("AUTH", c.security.authArgument())
	if err != nil {
		return &TlsError{Op: "AUTH", Err: err, Last: responseInfo(c.lastResponse)}
	}
	if resp.Code != 234 {
		return &TlsError{Op: "AUTH", Err: &ProtocolError{Command: "AUTH", Response: resp.Text, Code: resp.Code}}
	}

	c.logger.Debug("ftp: starting TLS handshake", "mode", "explicit")
	tlsConn := tls.Client(c.conn, c.tlsConfig)
	if c.connectTimeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.connectTimeout)); err != nil {
			return &ConnectionError{Op: "set deadline", Err: err}
		}
	}
	if err := tlsConn.Handshake(); err != nil {
		return &TlsError{Op: "explicit handshake", Err: err}
	}
	c.logger.Debug("ftp: TLS handshake complete", "mode", "explicit")

	c.conn = tlsConn
	c.reader = bufio.NewReader(c.conn)

	if _, err := c.expectCode(200, "PBSZ", "0"); err != nil {
		return &TlsError{Op: "PBSZ", Err: err}
	}
	if _, err := c.expectCode(200, "PROT", "P"); err != nil {
		return &TlsError{Op: "PROT", Err: err}
	}

	return nil
}

// Login authenticates with USER/PASS. Servers that require an account
// (a 332 response) without one being supplied fail with *AuthError; use
// LoginWithAccount when the server needs one.
func (c *Client) Login(username, password string) error {
	return c.LoginWithAccount(username, password, "")
}

// LoginWithAccount authenticates with USER/PASS/ACCT. ACCT is sent
// whenever the server answers 332 to either USER or PASS, per RFC 959;
// an empty account is still sent through as an empty ACCT argument if
// the server demands one anyway.
func (c *Client) LoginWithAccount(username, password, account string) error {
	return c.do(func() error {
		resp, err := c.sendCommand("USER", username)
		if err != nil {
			return err
		}
		if resp.Code == 332 {
			return c.sendAccount(account)
		}
		if resp.Code == 230 {
			return nil
		}
		if resp.Code != 331 {
			return &AuthError{Last: responseInfo(resp)}
		}

		resp, err = c.sendCommand("PASS", password)
		if err != nil {
			return err
		}
		if resp.Code == 332 {
			return c.sendAccount(account)
		}
		if resp.Code == 230 {
			return nil
		}
		return &AuthError{Last: responseInfo(resp)}
	})
}

func (c *Client) sendAccount(account string) error {
	resp, err := c.sendCommand("ACCT", account)
	if err != nil {
		return err
	}
	if resp.Code != 230 {
		return &AuthError{Last: responseInfo(resp)}
	}
	return nil
}

// Close ends the session: any in-flight transfer is aborted, QUIT is sent
// on a best-effort basis, and the TCP connection is closed.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	if c.quitChan != nil {
		close(c.quitChan)
		c.quitChan = nil
	}

	c.stateMu.Lock()
	if c.activeDataConn != nil {
		c.activeDataConn.Close()
		c.activeDataConn = nil
	}
	c.stateMu.Unlock()

	_, _ = c.sendCommand("QUIT")

	err := c.conn.Close()
	c.emitConnectionClosed(err)
	return err
}

// NoOperation sends NOOP, primarily useful as a manual keep-alive.
func (c *Client) NoOperation() error {
	_, err := c.expect2xx("NOOP")
	return err
}

// Quote sends a raw command and returns the server's response verbatim,
// for commands this client has no typed wrapper for.
func (c *Client) Quote(command string, args ...string) (*Response, error) {
	var resp *Response
	err := c.do(func() error {
		var err error
		resp, err = c.sendCommand(command, args...)
		return err
	})
	return resp, err
}

// GetFeatures queries FEAT once and caches the result for the life of the
// connection.
func (c *Client) GetFeatures() (FeatureSet, error) {
	if c.features != nil {
		return c.features, nil
	}

	var features FeatureSet
	err := c.do(func() error {
		resp, err := c.sendCommand("FEAT")
		if err != nil {
			return err
		}
		if resp.Code != 211 {
			return &ProtocolError{Command: "FEAT", Response: resp.Text, Code: resp.Code}
		}
		c.features = parseFeatureLines(resp.Lines)
		features = c.features
		return nil
	})
	return features, err
}

// HasFeature reports whether the server advertised the named feature.
func (c *Client) HasFeature(feature string) bool {
	feats, err := c.GetFeatures()
	if err != nil {
		return false
	}
	return feats.Has(feature)
}

// GetSystemType returns the server's system type via SYST.
func (c *Client) GetSystemType() (string, error) {
	var text string
	err := c.do(func() error {
		resp, err := c.expect2xx("SYST")
		if err != nil {
			return err
		}
		text = resp.Text
		return nil
	})
	return text, err
}

// SetOptions sends OPTS option value, used for e.g. UTF8 and HASH algorithm
// negotiation.
func (c *Client) SetOptions(option, value string) error {
	return c.do(func() error {
		_, err := c.expect2xx("OPTS", option, value)
		return err
	})
}

// SetUTF8On enables UTF-8 filename encoding via OPTS UTF8 ON, when the
// server advertises the UTF8 feature.
func (c *Client) SetUTF8On() error {
	if !c.HasFeature("UTF8") {
		return &CommandNotSupportedError{Command: "OPTS UTF8"}
	}
	return c.SetOptions("UTF8", "ON")
}

// SetUTF8Off disables UTF-8 filename encoding via OPTS UTF8 OFF.
func (c *Client) SetUTF8Off() error {
	return c.SetOptions("UTF8", "OFF")
}

func (c *Client) setType(t DataType) error {
	if c.typeSet && c.currentType == t {
		return nil
	}
	if _, err := c.expectCode(200, "TYPE", t.wireCode()); err != nil {
		return err
	}
	c.currentType = t
	c.typeSet = true
	return nil
}

// AllocateStorage sends ALLO, hinting the server to reserve n bytes before
// an upload. Many servers treat this as a no-op; failures are non-fatal by
// convention but are still surfaced to the caller to decide.
func (c *Client) AllocateStorage(n int64) error {
	return c.do(func() error {
		_, err := c.expect2xx("ALLO", fmt.Sprintf("%d", n))
		return err
	})
}
