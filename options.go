package ftp

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net"
	"time"

	"github.com/halvard-io/ftps/internal/ratelimit"
	"github.com/halvard-io/ftps/proxy"
)

// Option is a functional option for configuring an FTP client.
type Option func(*Client) error

// WithConnectTimeout bounds TCP dial and the initial TLS handshake (for
// implicit security protocols) and greeting read.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.connectTimeout = timeout
		return nil
	}
}

// WithCommandTimeout bounds how long a single control-channel command may
// take to receive its response.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.commandTimeout = timeout
		return nil
	}
}

// WithTransferTimeout bounds idle time on a data connection during a
// transfer.
func WithTransferTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.transferTimeout = timeout
		return nil
	}
}

// WithIdleTimeout sets the maximum idle time before sending a NOOP
// keep-alive. Set to 0 (the default) to disable automatic keep-alive.
//
// Example:
//
//	client, _ := ftp.Dial("ftp.example.com:21",
//	    ftp.WithIdleTimeout(5*time.Minute),
//	)
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.idleTimeout = timeout
		return nil
	}
}

// WithSecurityProtocol selects the control channel's TLS posture. tlsConfig
// should set ServerName for certificate validation; a ClientSessionCache is
// added automatically if absent, so data-channel handshakes can resume the
// control channel's session.
func WithSecurityProtocol(protocol SecurityProtocol, tlsConfig *tls.Config) Option {
	return func(c *Client) error {
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		}
		if tlsConfig.ClientSessionCache == nil {
			tlsConfig.ClientSessionCache = tls.NewLRUClientSessionCache(0)
		}
		c.security = protocol
		c.tlsConfig = tlsConfig
		return nil
	}
}

// WithCertificateValidator installs a custom peer-certificate acceptance
// hook, wired directly into tls.Config.VerifyPeerCertificate. Use this with
// WithSecurityProtocol when the default certificate verification needs to
// be overridden, e.g. to pin a specific certificate.
func WithCertificateValidator(validate CertificateValidator) Option {
	return func(c *Client) error {
		if c.tlsConfig == nil {
			c.tlsConfig = &tls.Config{}
		}
		c.tlsConfig.InsecureSkipVerify = true
		c.tlsConfig.VerifyPeerCertificate = func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
			return validate(rawCerts, verifiedChains)
		}
		return nil
	}
}

// WithAlwaysAcceptServerCertificate disables server certificate
// verification entirely. Intended for talking to servers with
// self-signed or expired certificates in controlled environments; it
// defeats the purpose of TLS against a man-in-the-middle and should not
// be used against untrusted networks.
func WithAlwaysAcceptServerCertificate() Option {
	return func(c *Client) error {
		if c.tlsConfig == nil {
			c.tlsConfig = &tls.Config{}
		}
		c.tlsConfig.InsecureSkipVerify = true
		return nil
	}
}

// WithLogger enables debug logging using the provided logger. All FTP
// commands and responses are logged at debug level, with PASS arguments
// redacted.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	client, _ := ftp.Dial("ftp.example.com:21", ftp.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithDialer sets a custom net.Dialer for establishing the control
// connection. Ignored when WithCustomDialer or WithTransportAdapter is
// also used, since those take precedence over c.dialer.
func WithDialer(dialer *net.Dialer) Option {
	return func(c *Client) error {
		c.dialer = dialer
		return nil
	}
}

// WithCustomDialer replaces the dialer used for the control connection
// (and, for active-mode listeners, is not consulted — those always bind
// locally) with an arbitrary Dialer implementation, e.g. for connection
// pooling or instrumentation.
func WithCustomDialer(d Dialer) Option {
	return func(c *Client) error {
		c.customDialer = d
		return nil
	}
}

// WithTransportAdapter routes the control connection (and, transitively,
// data connections dialed from the same client) through a proxy, such as
// proxy.SOCKS5, proxy.SOCKS4, or proxy.HTTPConnect.
func WithTransportAdapter(adapter proxy.TransportAdapter) Option {
	return func(c *Client) error {
		c.transport = adapter
		return nil
	}
}

// WithBandwidthLimit caps the combined upload/download rate at
// bytesPerSecond using a token bucket shared across all transfers on this
// client.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(c *Client) error {
		c.limiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}

// WithActiveMode selects active mode (PORT/EPRT): the client opens a
// listening socket and tells the server to connect back to it. Mainly
// useful for servers that sit behind firewalls permitting only outbound
// connections from the server's side.
func WithActiveMode() Option {
	return func(c *Client) error {
		c.mode = ModeActive
		return nil
	}
}

// WithPassiveMode selects passive mode (PASV) without attempting EPSV
// first. Useful for servers that advertise EPSV but handle it
// incorrectly.
func WithPassiveMode() Option {
	return func(c *Client) error {
		c.mode = ModePassive
		return nil
	}
}

// WithExtendedPassiveMode selects extended passive mode (EPSV, falling
// back to PASV on a 5xx refusal). This is the default.
func WithExtendedPassiveMode() Option {
	return func(c *Client) error {
		c.mode = ModeExtendedPassive
		return nil
	}
}

// WithCustomListParser adds a directory listing parser, tried before the
// built-in MLSx, DOS, and Unix parsers. This allows handling non-standard
// LIST formats.
func WithCustomListParser(parser ListingParser) Option {
	return func(c *Client) error {
		c.parsers = append([]ListingParser{parser}, c.parsers...)
		return nil
	}
}
