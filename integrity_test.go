package ftp

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/textproto"
	"testing"
	"time"
)

func featHandlerWith(lines ...string) func(*textproto.Conn, string) {
	return func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("211-Features:")
		for _, l := range lines {
			_ = c.PrintfLine(" %s", l)
		}
		_ = c.PrintfLine("211 End")
	}
}

func TestClient_VerifyHash_GenericHASHCommand(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)

	data := []byte("integrity check payload")
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	ms.handlers["FEAT"] = featHandlerWith("HASH SHA-256;SHA-1;MD5")
	ms.handlers["HASH"] = func(c *textproto.Conn, args string) {
		if args != "report.bin" {
			t.Errorf("HASH arg = %q, want %q", args, "report.bin")
		}
		_ = c.PrintfLine("213 SHA-256 0-%d %s", len(data), digest)
	}

	ms.start()
	defer ms.stop()

	c, err := Dial(ms.addr, WithCommandTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Login("anonymous", "anonymous"); err != nil {
		t.Fatal(err)
	}

	if err := c.VerifyHash("report.bin", data, ""); err != nil {
		t.Errorf("VerifyHash failed: %v", err)
	}
}

func TestClient_VerifyHash_LegacyXSHA256Fallback(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)

	data := []byte("legacy command payload")
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	ms.handlers["FEAT"] = featHandlerWith("XSHA256", "XMD5")
	ms.handlers["XSHA256"] = func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("250 %s", digest)
	}

	ms.start()
	defer ms.stop()

	c, err := Dial(ms.addr, WithCommandTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Login("anonymous", "anonymous"); err != nil {
		t.Fatal(err)
	}

	if err := c.VerifyHash("report.bin", data, HashSHA256); err != nil {
		t.Errorf("VerifyHash failed: %v", err)
	}
}

func TestClient_VerifyHash_MismatchReturnsIntegrityError(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)

	ms.handlers["FEAT"] = featHandlerWith("HASH SHA-256")
	ms.handlers["HASH"] = func(c *textproto.Conn, args string) {
		_ = c.PrintfLine("213 SHA-256 0-4 0000000000000000000000000000000000000000000000000000000000000000")
	}

	ms.start()
	defer ms.stop()

	c, err := Dial(ms.addr, WithCommandTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Login("anonymous", "anonymous"); err != nil {
		t.Fatal(err)
	}

	err = c.VerifyHash("report.bin", []byte("some bytes"), "")
	var integrityErr *IntegrityError
	if !errors.As(err, &integrityErr) {
		t.Fatalf("expected *IntegrityError, got %T: %v", err, err)
	}
}

func TestClient_VerifyHash_NoneAdvertisedReturnsCommandNotSupported(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)

	ms.handlers["FEAT"] = featHandlerWith("SIZE", "MDTM")

	ms.start()
	defer ms.stop()

	c, err := Dial(ms.addr, WithCommandTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Login("anonymous", "anonymous"); err != nil {
		t.Fatal(err)
	}

	err = c.VerifyHash("report.bin", []byte("some bytes"), "")
	var notSupported *CommandNotSupportedError
	if !errors.As(err, &notSupported) {
		t.Fatalf("expected *CommandNotSupportedError, got %T: %v", err, err)
	}
}
