// Package ftptest implements a minimal in-process FTP server used as a
// test fixture for the client package. It is not a production server: it
// supports just enough of the protocol (login, navigation, LIST/MLSD,
// STOR/RETR/APPE/STOU, PASV/EPSV/PORT/EPRT, REST/ABOR, MODE Z, and AUTH
// TLS) to exercise the client end to end.
package ftptest

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"
)

// Server is a throwaway FTP server rooted at a temp directory.
type Server struct {
	Root string
	Addr string

	ln        net.Listener
	tlsConfig *tls.Config

	mu       sync.Mutex
	closed   bool
	sessions sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithTLSConfig enables AUTH TLS support using the given server config.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = cfg }
}

// New starts a server rooted at a fresh temp directory and begins
// accepting connections in the background. Call Close to shut it down.
func New(root string, opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{Root: root, Addr: ln.Addr().String(), ln: ln}
	for _, opt := range opts {
		opt(s)
	}

	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			newSession(s, conn).run()
		}()
	}
}

// Close stops accepting new connections and waits for in-flight sessions
// to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.ln.Close()
	s.sessions.Wait()
	return err
}

type session struct {
	srv  *Server
	conn net.Conn
	r    *bufio.Reader

	cwd         string
	typeBinary  bool
	compression bool
	renameFrom  string
	restOffset  int64

	pasvLn net.Listener
	port   string // "host:port" for active mode
	eprt   bool

	authenticated bool
	stouCounter   int
}

func newSession(s *Server, conn net.Conn) *session {
	return &session{
		srv:  s,
		conn: conn,
		r:    bufio.NewReader(conn),
		cwd:  "/",
	}
}

func (sess *session) writeLine(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(sess.conn, "%s\r\n", msg)
}

func (sess *session) run() {
	defer sess.conn.Close()
	sess.writeLine("220 ftptest ready")

	for {
		line, err := sess.r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		verb, arg, _ := strings.Cut(line, " ")
		verb = strings.ToUpper(verb)

		if sess.dispatch(verb, arg) {
			return
		}
	}
}

// dispatch handles one command. Returns true if the session should end.
func (sess *session) dispatch(verb, arg string) bool {
	switch verb {
	case "USER":
		sess.writeLine("331 password please")
	case "PASS":
		sess.authenticated = true
		sess.writeLine("230 logged in")
	case "AUTH":
		if sess.srv.tlsConfig == nil {
			sess.writeLine("502 AUTH not supported")
			return false
		}
		sess.writeLine("234 AUTH %s ok", arg)
		tlsConn := tls.Server(sess.conn, sess.srv.tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			return true
		}
		sess.conn = tlsConn
		sess.r = bufio.NewReader(tlsConn)
	case "PBSZ":
		sess.writeLine("200 PBSZ=0")
	case "PROT":
		sess.writeLine("200 PROT %s ok", arg)
	case "FEAT":
		fmt.Fprintf(sess.conn, "211-Features:\r\n SIZE\r\n MDTM\r\n UTF8\r\n MLST type*;size*;modify*;\r\n MODE Z\r\n REST STREAM\r\n HASH SHA-256;SHA-1;MD5\r\n211 End\r\n")
	case "OPTS":
		sess.writeLine("200 OPTS %s ok", arg)
	case "SYST":
		sess.writeLine("215 UNIX Type: L8")
	case "PWD", "XPWD":
		sess.writeLine("257 \"%s\"", sess.cwd)
	case "CWD":
		target := sess.resolve(arg)
		if fi, err := os.Stat(sess.realPath(target)); err == nil && fi.IsDir() {
			sess.cwd = target
			sess.writeLine("250 directory changed")
		} else {
			sess.writeLine("550 no such directory")
		}
	case "CDUP":
		sess.cwd = sess.resolve("..")
		sess.writeLine("250 directory changed")
	case "MKD":
		target := sess.resolve(arg)
		if err := os.Mkdir(sess.realPath(target), 0o755); err != nil {
			sess.writeLine("550 %v", err)
		} else {
			sess.writeLine("257 \"%s\" created", target)
		}
	case "RMD":
		target := sess.resolve(arg)
		if err := os.Remove(sess.realPath(target)); err != nil {
			sess.writeLine("550 %v", err)
		} else {
			sess.writeLine("250 removed")
		}
	case "DELE":
		target := sess.resolve(arg)
		if err := os.Remove(sess.realPath(target)); err != nil {
			sess.writeLine("550 %v", err)
		} else {
			sess.writeLine("250 deleted")
		}
	case "RNFR":
		sess.renameFrom = sess.resolve(arg)
		sess.writeLine("350 ready for RNTO")
	case "RNTO":
		if sess.renameFrom == "" {
			sess.writeLine("503 RNFR required first")
			return false
		}
		target := sess.resolve(arg)
		if err := os.Rename(sess.realPath(sess.renameFrom), sess.realPath(target)); err != nil {
			sess.writeLine("550 %v", err)
		} else {
			sess.writeLine("250 renamed")
		}
		sess.renameFrom = ""
	case "SIZE":
		target := sess.resolve(arg)
		fi, err := os.Stat(sess.realPath(target))
		if err != nil || fi.IsDir() {
			sess.writeLine("550 no such file")
		} else {
			sess.writeLine("213 %d", fi.Size())
		}
	case "MDTM":
		target := sess.resolve(arg)
		fi, err := os.Stat(sess.realPath(target))
		if err != nil {
			sess.writeLine("550 no such file")
		} else {
			sess.writeLine("213 %s", fi.ModTime().UTC().Format("20060102150405"))
		}
	case "MFMT":
		// arg = "timestamp path"
		ts, p, ok := strings.Cut(arg, " ")
		if !ok {
			sess.writeLine("501 syntax error")
			return false
		}
		t, err := time.Parse("20060102150405", ts)
		if err != nil {
			sess.writeLine("501 bad timestamp")
			return false
		}
		target := sess.resolve(p)
		if err := os.Chtimes(sess.realPath(target), t, t); err != nil {
			sess.writeLine("550 %v", err)
		} else {
			sess.writeLine("213 modify=%s; %s", ts, p)
		}
	case "TYPE":
		sess.typeBinary = strings.HasPrefix(strings.ToUpper(arg), "I")
		sess.writeLine("200 type set to %s", arg)
	case "MODE":
		if strings.EqualFold(arg, "Z") {
			sess.compression = true
			sess.writeLine("200 MODE Z ok")
		} else {
			sess.compression = false
			sess.writeLine("200 MODE S ok")
		}
	case "REST":
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			sess.writeLine("501 bad offset")
			return false
		}
		sess.restOffset = n
		sess.writeLine("350 restart position accepted")
	case "PASV":
		return sess.handlePASV(false)
	case "EPSV":
		return sess.handlePASV(true)
	case "PORT":
		return sess.handlePORT(arg)
	case "EPRT":
		return sess.handleEPRT(arg)
	case "LIST", "NLST", "MLSD":
		sess.handleList(verb, arg)
	case "MLST":
		sess.handleMLST(arg)
	case "STOR":
		sess.handleStore(arg, false)
	case "APPE":
		sess.handleStore(arg, true)
	case "STOU":
		sess.stouCounter++
		name := fmt.Sprintf("unique-%d.dat", sess.stouCounter)
		sess.writeLine("150 FILE: %s", name)
		sess.transferIn(sess.resolve(name))
	case "RETR":
		sess.handleRetrieve(arg)
	case "ALLO":
		sess.writeLine("200 ALLO ok")
	case "ABOR":
		sess.writeLine("226 abor ok")
	case "NOOP":
		sess.writeLine("200 NOOP ok")
	case "QUIT":
		sess.writeLine("221 bye")
		return true
	default:
		sess.writeLine("500 unknown command %s", verb)
	}
	return false
}

func (sess *session) resolve(arg string) string {
	if arg == "" {
		return sess.cwd
	}
	if strings.HasPrefix(arg, "/") {
		return path.Clean(arg)
	}
	return path.Clean(path.Join(sess.cwd, arg))
}

func (sess *session) realPath(ftpPath string) string {
	return filepath.Join(sess.srv.Root, filepath.FromSlash(strings.TrimPrefix(ftpPath, "/")))
}

func (sess *session) handlePASV(extended bool) bool {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		sess.writeLine("425 cannot open data connection")
		return false
	}
	sess.pasvLn = ln
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	if extended {
		sess.writeLine("229 Entering Extended Passive Mode (|||%d|)", port)
	} else {
		sess.writeLine("227 Entering Passive Mode (127,0,0,1,%d,%d)", port/256, port%256)
	}
	return false
}

func (sess *session) handlePORT(arg string) bool {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		sess.writeLine("501 bad PORT argument")
		return false
	}
	host := strings.Join(parts[:4], ".")
	p1, _ := strconv.Atoi(parts[4])
	p2, _ := strconv.Atoi(parts[5])
	sess.port = net.JoinHostPort(host, strconv.Itoa(p1*256+p2))
	sess.eprt = false
	sess.writeLine("200 PORT ok")
	return false
}

func (sess *session) handleEPRT(arg string) bool {
	fields := strings.Split(strings.Trim(arg, "|"), "|")
	if len(fields) != 3 {
		sess.writeLine("501 bad EPRT argument")
		return false
	}
	sess.port = net.JoinHostPort(fields[1], fields[2])
	sess.eprt = true
	sess.writeLine("200 EPRT ok")
	return false
}

// dataConn opens the data connection implied by the last PASV/EPSV/PORT/EPRT.
func (sess *session) dataConn() (net.Conn, error) {
	if sess.pasvLn != nil {
		ln := sess.pasvLn
		sess.pasvLn = nil
		conn, err := ln.Accept()
		ln.Close()
		return conn, err
	}
	if sess.port != "" {
		return net.Dial("tcp", sess.port)
	}
	return nil, fmt.Errorf("no data channel negotiated")
}

func (sess *session) handleList(verb, arg string) {
	dirPath := sess.resolve(arg)
	entries, err := os.ReadDir(sess.realPath(dirPath))
	if err != nil {
		sess.writeLine("550 %v", err)
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	sess.writeLine("150 opening data connection")
	conn, err := sess.dataConn()
	if err != nil {
		sess.writeLine("425 %v", err)
		return
	}

	var w io.Writer = conn
	var zw *zlib.Writer
	if sess.compression {
		zw = zlib.NewWriter(conn)
		w = zw
	}

	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		switch verb {
		case "NLST":
			fmt.Fprintf(w, "%s\r\n", e.Name())
		case "MLSD":
			fmt.Fprintf(w, "%s\r\n", mlsxLine(e.Name(), info))
		default:
			fmt.Fprintf(w, "%s\r\n", unixLine(e.Name(), info))
		}
	}

	if zw != nil {
		zw.Close()
	}
	conn.Close()
	sess.writeLine("226 transfer complete")
}

func (sess *session) handleMLST(arg string) {
	target := sess.resolve(arg)
	fi, err := os.Stat(sess.realPath(target))
	if err != nil {
		sess.writeLine("550 %v", err)
		return
	}
	fmt.Fprintf(sess.conn, "250-Listing %s\r\n", arg)
	fmt.Fprintf(sess.conn, " %s\r\n", mlsxLine(path.Base(target), fi))
	sess.writeLine("250 end")
}

func (sess *session) handleStore(arg string, appendMode bool) {
	target := sess.resolve(arg)
	sess.writeLine("150 opening data connection")
	sess.transferInTo(sess.realPath(target), appendMode)
}

func (sess *session) transferIn(ftpPath string) {
	sess.transferInTo(sess.realPath(ftpPath), false)
}

func (sess *session) transferInTo(realPath string, appendMode bool) {
	conn, err := sess.dataConn()
	if err != nil {
		sess.writeLine("425 %v", err)
		return
	}
	defer conn.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else if sess.restOffset > 0 {
		flags |= os.O_WRONLY
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(realPath, flags, 0o644)
	if err != nil {
		sess.writeLine("550 %v", err)
		return
	}
	defer f.Close()

	if sess.restOffset > 0 && !appendMode {
		f.Seek(sess.restOffset, io.SeekStart)
		sess.restOffset = 0
	}

	var r io.Reader = conn
	if sess.compression {
		zr, err := zlib.NewReader(conn)
		if err != nil {
			sess.writeLine("550 bad compression stream")
			return
		}
		defer zr.Close()
		r = zr
	}

	if _, err := io.Copy(f, r); err != nil {
		sess.writeLine("550 %v", err)
		return
	}
	sess.writeLine("226 transfer complete")
}

func (sess *session) handleRetrieve(arg string) {
	target := sess.realPath(sess.resolve(arg))
	f, err := os.Open(target)
	if err != nil {
		sess.writeLine("550 %v", err)
		return
	}
	defer f.Close()

	if sess.restOffset > 0 {
		f.Seek(sess.restOffset, io.SeekStart)
		sess.restOffset = 0
	}

	sess.writeLine("150 opening data connection")
	conn, err := sess.dataConn()
	if err != nil {
		sess.writeLine("425 %v", err)
		return
	}
	defer conn.Close()

	var w io.Writer = conn
	var zw *zlib.Writer
	if sess.compression {
		zw = zlib.NewWriter(conn)
		w = zw
	}

	if _, err := io.Copy(w, f); err != nil {
		sess.writeLine("550 %v", err)
		return
	}
	if zw != nil {
		zw.Close()
	}
	sess.writeLine("226 transfer complete")
}

func unixLine(name string, info os.FileInfo) string {
	perm := "-rw-r--r--"
	if info.IsDir() {
		perm = "drwxr-xr-x"
	}
	return fmt.Sprintf("%s   1 owner   group %10d %s %s", perm, info.Size(),
		info.ModTime().Format("Jan _2 15:04"), name)
}

func mlsxLine(name string, info os.FileInfo) string {
	kind := "file"
	if info.IsDir() {
		kind = "dir"
	}
	return fmt.Sprintf("type=%s;size=%d;modify=%s; %s", kind, info.Size(),
		info.ModTime().UTC().Format("20060102150405"), name)
}
