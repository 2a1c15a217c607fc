package proxy

import (
	"context"
	"fmt"
	"net"

	xproxy "golang.org/x/net/proxy"
)

// socks5 wraps golang.org/x/net/proxy's SOCKS5 dialer. This is the same
// dependency rclone's FTP backend uses for its SOCKS proxy flag.
type socks5 struct {
	proxyAddr string
	auth      *xproxy.Auth
}

// SOCKS5 returns a TransportAdapter that tunnels connections through a
// SOCKS5 proxy at proxyAddr. username/password may be empty for an
// unauthenticated proxy.
func SOCKS5(proxyAddr, username, password string) TransportAdapter {
	s := &socks5{proxyAddr: proxyAddr}
	if username != "" {
		s.auth = &xproxy.Auth{User: username, Password: password}
	}
	return s
}

func (s *socks5) Dial(ctx context.Context, destHost, destPort string) (net.Conn, error) {
	dialer, err := xproxy.SOCKS5("tcp", s.proxyAddr, s.auth, xproxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("proxy: configuring SOCKS5 dialer: %w", err)
	}

	dest := net.JoinHostPort(destHost, destPort)

	if ctxDialer, ok := dialer.(xproxy.ContextDialer); ok {
		return ctxDialer.DialContext(ctx, "tcp", dest)
	}
	return dialer.Dial("tcp", dest)
}
