package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pairvote/pairvote/internal/model"
)

const (
	// scannerInitBufSize is the initial buffer size for the per-connection scanner (1 MB).
	scannerInitBufSize = 1024 * 1024
	// scannerMaxTokenSize is the maximum token size the scanner will accept (10 MB).
	scannerMaxTokenSize = 10 * 1024 * 1024
)

// Backend is the daemon surface exposed over the socket.
type Backend interface {
	model.StatsQuerier
	StackSnapshot() model.StackSnapshot
	GatewayStats() []model.GatewayStat
	Reset() error
}

// Server exposes a Backend over a Unix domain socket using JSON-RPC 2.0.
type Server struct {
	socketPath string
	backend    Backend
	listener   net.Listener
	wg         sync.WaitGroup
	quit       chan struct{}
}

// NewServer creates a new socket RPC server.
func NewServer(socketPath string, backend Backend) *Server {
	return &Server{
		socketPath: socketPath,
		backend:    backend,
		quit:       make(chan struct{}),
	}
}

// Start begins listening on the Unix socket and accepting connections.
func (s *Server) Start() error {
	// Ensure the parent directory exists.
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}

	// Remove stale socket if it exists.
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			// Socket file exists but nobody is listening — stale.
			os.Remove(s.socketPath)
		} else {
			conn.Close()
			return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	log.Printf("socketrpc: listening on %s", s.socketPath)
	return nil
}

// Stop closes the listener, waits for connections to drain, and removes the socket file.
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				log.Printf("socketrpc: accept error: %v", err)
				// Continue on transient errors (e.g., fd limit) instead of
				// killing the entire accept loop.
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		select {
		case <-s.quit:
			return
		default:
		}

		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp := Response{JSONRPC: "2.0", ID: 0, Error: &RPCError{Code: -32700, Message: "parse error"}}
			encoder.Encode(resp)
			continue
		}

		resp := s.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	marshalResult := func(v interface{}, err error) Response {
		if err != nil {
			resp.Error = &RPCError{Code: -32000, Message: err.Error()}
			return resp
		}
		data, merr := json.Marshal(v)
		if merr != nil {
			resp.Error = &RPCError{Code: -32603, Message: merr.Error()}
			return resp
		}
		resp.Result = data
		return resp
	}

	invalidParams := func(err error) Response {
		resp.Error = &RPCError{Code: -32602, Message: fmt.Sprintf("invalid params: %v", err)}
		return resp
	}

	switch req.Method {
	case "StackSnapshot":
		return marshalResult(s.backend.StackSnapshot(), nil)

	case "GatewayStats":
		return marshalResult(s.backend.GatewayStats(), nil)

	case "VoteTotals":
		return marshalResult(s.backend.VoteTotals())

	case "DiscardCount":
		return marshalResult(s.backend.DiscardCount())

	case "CatalogCount":
		var p struct{ Opts model.QueryOpts }
		if err := json.Unmarshal(req.Params, &p); err != nil && len(req.Params) > 0 {
			return invalidParams(err)
		}
		return marshalResult(s.backend.CatalogCount(p.Opts))

	case "RecentVotes":
		var p struct{ Limit int }
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		return marshalResult(s.backend.RecentVotes(p.Limit))

	case "ListCollections":
		return marshalResult(s.backend.ListCollections())

	case "TopNFTs":
		var p struct {
			Limit int
			Opts  model.QueryOpts
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		return marshalResult(s.backend.TopNFTs(p.Limit, p.Opts))

	case "Reset":
		if err := s.backend.Reset(); err != nil {
			resp.Error = &RPCError{Code: -32000, Message: err.Error()}
			return resp
		}
		return marshalResult(true, nil)

	default:
		resp.Error = &RPCError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
}
