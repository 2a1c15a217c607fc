package ftp

import (
	"crypto/tls"
	"crypto/x509"
	"testing"
	"time"
)

func TestWithSecurityProtocol(t *testing.T) {
	t.Parallel()
	c := &Client{}
	opt := WithSecurityProtocol(SecurityTls12Explicit, &tls.Config{ServerName: "ftp.example.com"})
	if err := opt(c); err != nil {
		t.Fatalf("WithSecurityProtocol failed: %v", err)
	}
	if c.security != SecurityTls12Explicit {
		t.Errorf("security = %v, want %v", c.security, SecurityTls12Explicit)
	}
	if c.tlsConfig == nil || c.tlsConfig.ServerName != "ftp.example.com" {
		t.Errorf("tlsConfig not set as expected: %+v", c.tlsConfig)
	}
	if c.tlsConfig.ClientSessionCache == nil {
		t.Error("expected a default ClientSessionCache to be installed")
	}
}

func TestWithSecurityProtocol_NilConfig(t *testing.T) {
	t.Parallel()
	c := &Client{}
	opt := WithSecurityProtocol(SecurityTls12Implicit, nil)
	if err := opt(c); err != nil {
		t.Fatalf("WithSecurityProtocol failed: %v", err)
	}
	if c.tlsConfig == nil {
		t.Fatal("expected a tls.Config to be synthesized")
	}
}

func TestWithIdleTimeout(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		timeout time.Duration
	}{
		{"5 minutes", 5 * time.Minute},
		{"30 seconds", 30 * time.Second},
		{"disabled", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{}
			if err := WithIdleTimeout(tt.timeout)(c); err != nil {
				t.Fatalf("WithIdleTimeout failed: %v", err)
			}
			if c.idleTimeout != tt.timeout {
				t.Errorf("idleTimeout = %v, want %v", c.idleTimeout, tt.timeout)
			}
		})
	}
}

func TestWithConnectCommandTransferTimeout(t *testing.T) {
	t.Parallel()
	c := &Client{}
	if err := WithConnectTimeout(7 * time.Second)(c); err != nil {
		t.Fatal(err)
	}
	if err := WithCommandTimeout(8 * time.Second)(c); err != nil {
		t.Fatal(err)
	}
	if err := WithTransferTimeout(9 * time.Second)(c); err != nil {
		t.Fatal(err)
	}
	if c.connectTimeout != 7*time.Second || c.commandTimeout != 8*time.Second || c.transferTimeout != 9*time.Second {
		t.Errorf("timeouts not set correctly: connect=%v command=%v transfer=%v",
			c.connectTimeout, c.commandTimeout, c.transferTimeout)
	}
}

func TestWithTransferModeOptions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		opt  Option
		want TransferMode
	}{
		{"active", WithActiveMode(), ModeActive},
		{"passive", WithPassiveMode(), ModePassive},
		{"extended passive", WithExtendedPassiveMode(), ModeExtendedPassive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{}
			if err := tt.opt(c); err != nil {
				t.Fatal(err)
			}
			if c.mode != tt.want {
				t.Errorf("mode = %v, want %v", c.mode, tt.want)
			}
		})
	}
}

func TestWithBandwidthLimit(t *testing.T) {
	t.Parallel()
	c := &Client{}
	if err := WithBandwidthLimit(1024)(c); err != nil {
		t.Fatal(err)
	}
	if c.limiter == nil {
		t.Error("expected limiter to be set")
	}
}

func TestWithAlwaysAcceptServerCertificate(t *testing.T) {
	t.Parallel()
	c := &Client{}
	if err := WithAlwaysAcceptServerCertificate()(c); err != nil {
		t.Fatal(err)
	}
	if c.tlsConfig == nil || !c.tlsConfig.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify to be set")
	}
}

func TestWithCertificateValidator(t *testing.T) {
	t.Parallel()
	c := &Client{}
	var called bool

	opt := WithCertificateValidator(func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
		called = true
		return nil
	})
	if err := opt(c); err != nil {
		t.Fatal(err)
	}
	if c.tlsConfig == nil || c.tlsConfig.VerifyPeerCertificate == nil {
		t.Fatal("expected VerifyPeerCertificate to be wired")
	}
	if err := c.tlsConfig.VerifyPeerCertificate(nil, nil); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("custom validator was not invoked")
	}
}
