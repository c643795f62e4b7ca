// Package health implements a UNIX-domain-socket status endpoint that
// answers each accepted connection with a single JSON document describing
// the engine's current stage, snapshot progress, and GTID lag.
package health

import (
	"encoding/json"
	"net"
	"os"
	"sync"
	"time"

	"github.com/siddontang/loggers"
)

// Stage mirrors the engine's lifecycle stage for reporting purposes.
type Stage string

const (
	StageInit     Stage = "INIT"
	StageSnapshot Stage = "SNAPSHOT"
	StageStream   Stage = "STREAM"
)

// Status is the JSON document served on every accepted connection.
type Status struct {
	Status             string  `json:"status"`
	Stage              Stage   `json:"stage"`
	SnapshotRowsTotal  int64   `json:"snapshot_rows_total"`
	SnapshotRowsParsed int64   `json:"snapshot_rows_parsed"`
	ServerGTID         *string `json:"server_gtid"`
	ConsumerGTID       *string `json:"consumer_gtid"`
	GTIDDiff           uint64  `json:"gtid_diff"`
	Error              *string `json:"error"`
}

// StatusProvider is supplied by the engine; it is queried fresh on every
// accepted connection so the socket always answers with current state.
type StatusProvider func() Status

// Server listens on a UNIX-domain socket and answers each connection with
// one JSON document, then closes it. Acceptance has a 1-second timeout so
// Serve's loop notices a closed stop channel promptly.
type Server struct {
	path     string
	provider StatusProvider
	log      loggers.Advanced

	mu       sync.Mutex
	listener *net.UnixListener
}

// NewServer returns a Server bound to path, unlinking any stale socket
// file left by a previous process so a crashed run doesn't block the
// next one from binding.
func NewServer(path string, provider StatusProvider, log loggers.Advanced) (*Server, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}
	return &Server{path: path, provider: provider, log: log, listener: listener}, nil
}

// Serve accepts connections until stop is closed. Each connection is
// handled synchronously and briefly: one write, then close.
func (s *Server) Serve(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := s.listener.SetDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.log.Errorf("health: setting accept deadline: %v", err)
			return
		}
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-stop:
				return
			default:
				s.log.Errorf("health: accept: %v", err)
				continue
			}
		}
		s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	status := s.provider()
	data, err := json.Marshal(status)
	if err != nil {
		s.log.Errorf("health: marshaling status: %v", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		s.log.Errorf("health: writing status: %v", err)
	}
}

// Close closes the listener and unlinks the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}
