package ftp

import (
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"
)

// portHandler builds a mock-server PORT handler that parses the
// h1,h2,h3,h4,p1,p2 argument and dials back to the client's listener, the
// way a real active-mode server would, so tests can exercise PORT without
// a full protocol implementation.
func portHandler(t *testing.T, onConnect func(conn net.Conn)) func(*textproto.Conn, string) {
	return func(c *textproto.Conn, args string) {
		parts := strings.Split(strings.TrimSpace(args), ",")
		if len(parts) != 6 {
			t.Fatalf("bad PORT arg: %q", args)
		}
		nums := make([]int, 6)
		for i, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				t.Fatalf("bad PORT arg %q: %v", args, err)
			}
			nums[i] = n
		}
		host := fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3])
		port := nums[4]*256 + nums[5]

		_ = c.PrintfLine("200 PORT command successful.")

		conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			t.Errorf("failed to dial back PORT address %s:%d: %v", host, port, err)
			return
		}
		onConnect(conn)
	}
}

func TestClient_PassiveMode_PASVRejectedFallsBackToPORT(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)

	ms.handlers["PASV"] = func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("502 Command not implemented.")
	}
	ms.handlers["LIST"] = func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("150 File status okay; about to open data connection.")
		_ = c.PrintfLine("226 Closing data connection.")
	}
	ms.handlers["PORT"] = portHandler(t, func(conn net.Conn) {
		conn.Close()
	})

	ms.start()
	defer ms.stop()

	c, err := Dial(ms.addr, WithCommandTimeout(2*time.Second), WithPassiveMode())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Login("anonymous", "anonymous"); err != nil {
		t.Fatal(err)
	}

	if _, err := c.GetDirList("."); err != nil {
		t.Errorf("GetDirList failed: %v", err)
	}

	var sawPASV, sawPORT bool
	for _, cmd := range ms.receivedCommands {
		switch cmd {
		case "PASV":
			sawPASV = true
		case "PORT":
			sawPORT = true
		}
	}
	if !sawPASV || !sawPORT {
		t.Errorf("expected both PASV and PORT attempts, got %v", ms.receivedCommands)
	}
}

func TestClient_ActiveMode_EPRTAndPORTRejectedFallsBackToPASV(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)

	pasvL, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ms.dataListener = pasvL
	pasvResp := pasvResponseFor(pasvL)

	ms.handlers["EPRT"] = func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("500 Syntax error, command unrecognized.")
	}
	ms.handlers["PORT"] = func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("500 Syntax error, command unrecognized.")
	}
	ms.handlers["PASV"] = func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("%s", pasvResp)
	}
	ms.handlers["LIST"] = func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("150 File status okay.")
		dconn, err := ms.dataListener.Accept()
		if err != nil {
			t.Errorf("mock server failed to accept data conn: %v", err)
			return
		}
		dconn.Close()
		_ = c.PrintfLine("226 Closing data connection.")
	}

	ms.start()
	defer ms.stop()

	c, err := Dial(ms.addr, WithCommandTimeout(2*time.Second), WithActiveMode())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Login("anonymous", "anonymous"); err != nil {
		t.Fatal(err)
	}

	if _, err := c.GetDirList("."); err != nil {
		t.Errorf("GetDirList failed: %v", err)
	}

	var sawEPRT, sawPORT, sawPASV bool
	for _, cmd := range ms.receivedCommands {
		switch cmd {
		case "EPRT":
			sawEPRT = true
		case "PORT":
			sawPORT = true
		case "PASV":
			sawPASV = true
		}
	}
	if !sawEPRT || !sawPORT || !sawPASV {
		t.Errorf("expected EPRT, PORT and PASV attempts, got %v", ms.receivedCommands)
	}
}

func TestResolveDataAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		pasvAddr    string
		controlHost string
		wantAddr    string
	}{
		{
			name:        "normal address",
			pasvAddr:    "192.168.1.5:12345",
			controlHost: "10.0.0.1",
			wantAddr:    "192.168.1.5:12345",
		},
		{
			name:        "zero address",
			pasvAddr:    "0.0.0.0:12345",
			controlHost: "10.0.0.1",
			wantAddr:    "10.0.0.1:12345",
		},
		{
			name:        "invalid address",
			pasvAddr:    "invalid",
			controlHost: "10.0.0.1",
			wantAddr:    "invalid", // Or handle error? The split might fail.
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveDataAddr(tt.pasvAddr, tt.controlHost)
			if got != tt.wantAddr {
				t.Errorf("resolveDataAddr() = %v, want %v", got, tt.wantAddr)
			}
		})
	}
}

func TestFormatEPRT(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		addr    string
		want    string
		wantErr bool
	}{
		{
			name: "IPv4",
			addr: "127.0.0.1:12345",
			want: "|1|127.0.0.1|12345|",
		},
		{
			name: "IPv6",
			addr: "[::1]:12345",
			want: "|2|::1|12345|",
		},
		{
			name:    "Invalid",
			addr:    "invalid",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formatEPRT(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("formatEPRT() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("formatEPRT() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsPrivateOrUnspecified(t *testing.T) {
	t.Parallel()
	tests := []struct {
		host string
		want bool
	}{
		{"0.0.0.0", true},
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"192.168.1.1", true},
		{"172.16.0.1", true},
		{"8.8.8.8", false},
		{"203.0.113.5", false},
		{"not-an-ip", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := isPrivateOrUnspecified(tt.host); got != tt.want {
				t.Errorf("isPrivateOrUnspecified(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}
