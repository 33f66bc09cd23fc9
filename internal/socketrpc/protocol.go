package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes the daemon's status surface over a Unix
// domain socket for the dashboard client.
//
//   Method             Params                              Result
//   ───────────────    ─────────────────────────────────   ─────────────────────
//   StackSnapshot      (none)                              model.StackSnapshot
//   GatewayStats       (none)                              []model.GatewayStat
//   VoteTotals         (none)                              model.VoteTotals
//   DiscardCount       (none)                              int64
//   CatalogCount       {Opts: QueryOpts}                   int64
//   RecentVotes        {Limit: int}                        []model.VoteRecord
//   ListCollections    (none)                              []string
//   TopNFTs            {Limit: int, Opts: QueryOpts}       []model.NFT
//   Reset              (none)                              bool
//
// QueryOpts: {Collection: string} — empty string means all collections.
// Methods with optional params (CatalogCount) accept empty or null params
// gracefully.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error (query failure)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/pairvote/pairvote.sock, falling back to
// ~/.local/state/pairvote/pairvote.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "pairvote", "pairvote.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/pairvote.sock"
	}
	return filepath.Join(home, ".local", "state", "pairvote", "pairvote.sock")
}
