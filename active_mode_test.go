package ftp

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/halvard-io/ftps/internal/ftptest"
)

func TestActiveDataConn_Coverage(t *testing.T) {
	t.Parallel()
	// Setup a dummy listener
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	// We don't defer ln.Close() because adc.Close() closes it

	// Create the activeDataConn
	adc := &activeDataConn{
		listener: ln,
		timeout:  time.Second,
	}

	// Trigger accept by dialing it in a goroutine
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			return
		}
		defer conn.Close()
		// Read to drain "test" write
		buf := make([]byte, 1024)
		_, _ = conn.Read(buf)
	}()

	// 1. Test Write (triggers accept)
	if _, err := adc.Write([]byte("test")); err != nil {
		t.Errorf("Write failed: %v", err)
	}

	// 2. Test LocalAddr/RemoteAddr
	if adc.LocalAddr() == nil {
		t.Error("LocalAddr is nil")
	}
	if adc.RemoteAddr() == nil {
		t.Error("RemoteAddr is nil")
	}

	// 3. Test SetDeadline methods
	if err := adc.SetDeadline(time.Now().Add(time.Hour)); err != nil {
		t.Errorf("SetDeadline failed: %v", err)
	}
	if err := adc.SetReadDeadline(time.Now().Add(time.Hour)); err != nil {
		t.Errorf("SetReadDeadline failed: %v", err)
	}
	if err := adc.SetWriteDeadline(time.Now().Add(time.Hour)); err != nil {
		t.Errorf("SetWriteDeadline failed: %v", err)
	}

	// Close adc (closes listener and conn)
	if err := adc.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	<-done
}

func TestActiveMode_EndToEnd(t *testing.T) {
	srv, err := ftptest.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	c, err := Dial(srv.Addr, WithActiveMode())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Login("anonymous", "ftp"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	content := []byte("active mode payload")
	if err := c.Put("active.txt", bytes.NewReader(content), ActionCreate, nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var buf bytes.Buffer
	if err := c.Get("active.txt", &buf, 0, nil); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if buf.String() != string(content) {
		t.Errorf("got %q, want %q", buf.String(), content)
	}
}
