package proxy

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
)

// socks4 implements the SOCKS4/4a CONNECT handshake. golang.org/x/net/proxy
// only implements SOCKS5, so this adapter is hand-rolled.
type socks4 struct {
	proxyAddr string
	userID    string
	v4a       bool
}

// SOCKS4 returns a TransportAdapter that tunnels through a SOCKS4 proxy.
// The destination must resolve to an IPv4 address.
func SOCKS4(proxyAddr, userID string) TransportAdapter {
	return &socks4{proxyAddr: proxyAddr, userID: userID}
}

// SOCKS4A returns a TransportAdapter that tunnels through a SOCKS4a proxy,
// letting the proxy resolve the destination hostname.
func SOCKS4A(proxyAddr, userID string) TransportAdapter {
	return &socks4{proxyAddr: proxyAddr, userID: userID, v4a: true}
}

func (s *socks4) Dial(ctx context.Context, destHost, destPort string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("proxy: dialing SOCKS4 proxy: %w", err)
	}

	if err := s.handshake(conn, destHost, destPort); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (s *socks4) handshake(conn net.Conn, destHost, destPort string) error {
	port, err := parsePort(destPort)
	if err != nil {
		return err
	}

	var ip net.IP
	var hostBytes []byte
	if s.v4a {
		// SOCKS4a: signal hostname resolution with an invalid IP (0.0.0.x)
		// and append the hostname after the user ID.
		ip = net.IPv4(0, 0, 0, 1)
		hostBytes = []byte(destHost)
	} else {
		parsed := net.ParseIP(destHost)
		if parsed == nil {
			resolved, err := net.ResolveIPAddr("ip4", destHost)
			if err != nil {
				return fmt.Errorf("proxy: resolving %s for SOCKS4: %w", destHost, err)
			}
			parsed = resolved.IP
		}
		ip = parsed.To4()
		if ip == nil {
			return fmt.Errorf("proxy: SOCKS4 requires an IPv4 destination, got %s", destHost)
		}
	}

	req := make([]byte, 0, 9+len(s.userID)+len(hostBytes)+1)
	req = append(req, 0x04, 0x01) // version 4, CONNECT
	req = binary.BigEndian.AppendUint16(req, port)
	req = append(req, ip.To4()...)
	req = append(req, []byte(s.userID)...)
	req = append(req, 0x00)
	if s.v4a {
		req = append(req, hostBytes...)
		req = append(req, 0x00)
	}

	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("proxy: writing SOCKS4 request: %w", err)
	}

	resp := make([]byte, 8)
	if _, err := conn.Read(resp); err != nil {
		return fmt.Errorf("proxy: reading SOCKS4 response: %w", err)
	}

	if resp[1] != 0x5a {
		return fmt.Errorf("proxy: SOCKS4 request rejected, code %#x", resp[1])
	}

	return nil
}

func parsePort(s string) (uint16, error) {
	var p uint16
	_, err := fmt.Sscanf(s, "%d", &p)
	if err != nil {
		return 0, fmt.Errorf("proxy: invalid port %q: %w", s, err)
	}
	return p, nil
}
